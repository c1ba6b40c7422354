package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
)

func fillTable(t *testing.T, n int) *memory.Table {
	t.Helper()
	tbl := memory.New(8)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		tbl.Load(key, domain.Entry{
			Value:     []byte("value-" + key),
			Flags:     uint32(i),
			ExpiresAt: int64(i) * 1000,
			Version:   uint64(i + 1),
			Seq:       uint64(i + 10),
		})
	}
	return tbl
}

func collect(m *Manager, path string) (map[string]domain.Entry, *Info, error) {
	got := make(map[string]domain.Entry)
	info, err := m.Load(path, func(key string, e domain.Entry) error {
		got[key] = e
		return nil
	})
	return got, info, err
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(0xA0 + i)
	}
	return key
}

func TestManager_CreateLoad(t *testing.T) {
	for _, compression := range []string{CompressionZstd, CompressionNone} {
		t.Run(compression, func(t *testing.T) {
			dir := t.TempDir()
			m, err := NewManager(Config{Dir: dir, Compression: compression})
			if err != nil {
				t.Fatalf("NewManager: %v", err)
			}

			info, err := m.Create(fillTable(t, 100), Mark{LastSeq: 42, Segment: 3})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if info.EntryCount != 100 || info.LastSeq != 42 || info.WALSegment != 3 {
				t.Fatalf("Info = %+v", info)
			}

			got, loaded, err := collect(m, info.Path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.ID != info.ID || loaded.LastSeq != 42 || loaded.Compression != compression {
				t.Fatalf("loaded Info = %+v", loaded)
			}
			if len(got) != 100 {
				t.Fatalf("loaded %d entries, want 100", len(got))
			}
			e := got["key-007"]
			if string(e.Value) != "value-key-007" || e.Flags != 7 || e.ExpiresAt != 7000 || e.Version != 8 || e.Seq != 17 {
				t.Errorf("entry = %+v", e)
			}
		})
	}
}

func TestManager_EmptyValue(t *testing.T) {
	m, _ := NewManager(DefaultConfig(t.TempDir()))
	tbl := memory.New(2)
	tbl.Load("empty", domain.Entry{Value: []byte{}, Version: 1})

	info, err := m.Create(tbl, Mark{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _, err := collect(m, info.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e, ok := got["empty"]; !ok || e.Value == nil || len(e.Value) != 0 {
		t.Fatalf("empty value not preserved: %+v %v", e, ok)
	}
}

func TestManager_Encrypted(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCipher(testKey(), "")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	m, err := NewManager(Config{Dir: dir, Cipher: c})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	info, err := m.Create(fillTable(t, 10), Mark{LastSeq: 5})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !info.Encrypted {
		t.Fatal("Info.Encrypted = false")
	}

	got, _, err := collect(m, info.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("decrypted %d entries, want 10", len(got))
	}

	plain, _ := NewManager(Config{Dir: dir})
	if _, _, err := collect(plain, info.Path); !errors.Is(err, ErrEncrypted) {
		t.Errorf("load without key err = %v, want ErrEncrypted", err)
	}

	other := testKey()
	other[0] ^= 0xFF
	wrong, _ := NewCipher(other, "")
	mw, _ := NewManager(Config{Dir: dir, Cipher: wrong})
	if _, _, err := collect(mw, info.Path); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("load with wrong key err = %v, want ErrDecryptionFailed", err)
	}
}

func TestManager_LoadLatestFallsBack(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(DefaultConfig(dir))

	first, err := m.Create(fillTable(t, 3), Mark{LastSeq: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := m.Create(fillTable(t, 5), Mark{LastSeq: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	info, err := m.LoadLatest(func(string, domain.Entry) error { return nil })
	if err != nil || info.ID != second.ID {
		t.Fatalf("LoadLatest = %+v, %v; want %s", info, err, second.ID)
	}

	data, _ := os.ReadFile(second.Path)
	data[len(magicBytes)+10] ^= 0xFF
	if err := os.WriteFile(second.Path, data, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	n := 0
	info, err = m.LoadLatest(func(string, domain.Entry) error { n++; return nil })
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if info.ID != first.ID || n != 3 {
		t.Fatalf("LoadLatest fell back to %s with %d entries, want %s with 3", info.ID, n, first.ID)
	}
}

func TestManager_NoSnapshots(t *testing.T) {
	m, _ := NewManager(DefaultConfig(t.TempDir()))
	if _, err := m.LoadLatest(nil); !errors.Is(err, ErrNoSnapshots) {
		t.Errorf("LoadLatest err = %v, want ErrNoSnapshots", err)
	}
	if _, err := m.Latest(); !errors.Is(err, ErrNoSnapshots) {
		t.Errorf("Latest err = %v, want ErrNoSnapshots", err)
	}
}

func TestManager_ListAndPrune(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, Retention: 2})
	tbl := fillTable(t, 2)

	var ids []string
	for i := 0; i < 4; i++ {
		info, err := m.Create(tbl, Mark{LastSeq: uint64(i)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, info.ID)
	}
	stale := filepath.Join(dir, filePrefix+"leftover"+tempExtension)
	if err := os.WriteFile(stale, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	list, err := m.List()
	if err != nil || len(list) != 4 {
		t.Fatalf("List = %d, %v; want 4", len(list), err)
	}
	for i, info := range list {
		if info.ID != ids[i] {
			t.Fatalf("List[%d] = %s, want %s (oldest first)", i, info.ID, ids[i])
		}
	}

	removed, err := m.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune removed %d files, want 3", removed)
	}
	list, _ = m.List()
	if len(list) != 2 || list[0].ID != ids[2] || list[1].ID != ids[3] {
		t.Fatalf("after Prune List = %+v", list)
	}

	latest, err := m.Latest()
	if err != nil || latest.LastSeq != 3 {
		t.Fatalf("Latest = %+v, %v", latest, err)
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("NewManager without dir succeeded")
	}
	if _, err := NewManager(Config{Dir: t.TempDir(), Compression: "lz4"}); err == nil {
		t.Error("NewManager with unknown compression succeeded")
	}
}
