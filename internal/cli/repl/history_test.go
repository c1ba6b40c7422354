package repl

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHistory_Add(t *testing.T) {
	h := NewHistory("", 3)
	for _, line := range []string{"GET a", "GET a", "AUTH secret", "auth x", "SET b 1", "DEL b", "PING"} {
		h.Add(line)
	}
	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	want := []string{"PING", "DEL b", "SET b 1"}
	for i, w := range want {
		if got := h.Get(i); got != w {
			t.Errorf("Get(%d) = %q, want %q", i, got, w)
		}
	}
	if h.Get(3) != "" || h.Get(-1) != "" {
		t.Error("out of range Get should return empty string")
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history")
	h := NewHistory(path, 10)
	h.Add("SET k v")
	h.Add("GET k")
	if err := h.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded := NewHistory(path, 1)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 1 || loaded.Get(0) != "GET k" {
		t.Errorf("Load() kept %d entries, latest %q", loaded.Len(), loaded.Get(0))
	}
}

func TestHistory_LoadMissing(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "none"), 0)
	if err := h.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d", h.Len())
	}
}
