package memcached

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"user:1", true},
		{strings.Repeat("k", MaxKeyLen), true},
		{strings.Repeat("k", MaxKeyLen+1), false},
		{"", false},
		{"has space", false},
		{"tab\tkey", false},
		{"del\x7f", false},
	}
	for _, tt := range tests {
		if got := validKey([]byte(tt.key)); got != tt.want {
			t.Errorf("validKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestExpiry(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	tests := []struct {
		name    string
		exptime int64
		hasTTL  bool
		ttl     time.Duration
	}{
		{"none", 0, false, 0},
		{"relative", 60, true, time.Minute},
		{"thirty days is relative", relativeExptimeLimit, true, relativeExptimeLimit * time.Second},
		{"negative expires", -1, true, -1},
		{"absolute future", now.Unix() + 90, true, 90 * time.Second},
		{"absolute past", now.Unix() - 90, true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasTTL, ttl := expiry(tt.exptime, now)
			if hasTTL != tt.hasTTL || ttl != tt.ttl {
				t.Fatalf("expiry(%d) = (%v, %v), want (%v, %v)", tt.exptime, hasTTL, ttl, tt.hasTTL, tt.ttl)
			}
		})
	}
}

func TestParseStorage(t *testing.T) {
	split := func(s string) [][]byte {
		var out [][]byte
		for _, f := range strings.Fields(s) {
			out = append(out, []byte(f))
		}
		return out
	}

	req, err := parseStorage(split("k 42 100 5"), false)
	if err != nil {
		t.Fatalf("parseStorage() error = %v", err)
	}
	if req.key != "k" || req.flags != 42 || req.exptime != 100 || req.bytes != 5 || req.noreply {
		t.Fatalf("parseStorage() = %+v", req)
	}

	req, err = parseStorage(split("k 0 0 1 77 noreply"), true)
	if err != nil {
		t.Fatalf("parseStorage(cas) error = %v", err)
	}
	if req.cas != 77 || !req.noreply {
		t.Fatalf("parseStorage(cas) = %+v", req)
	}

	bad := []string{
		"k 0 0",
		"k x 0 1",
		"k 0 x 1",
		"k 0 0 -1",
		"k 4294967296 0 1",
		"k 0 0 1 extra",
	}
	for _, line := range bad {
		if _, err := parseStorage(split(line), false); err == nil {
			t.Errorf("parseStorage(%q) succeeded", line)
		}
	}
	if _, err := parseStorage(split("k 0 0 1"), true); err == nil {
		t.Error("cas without unique succeeded")
	}
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("get a\r\nversion\n"+strings.Repeat("x", MaxLineLen+1)+"\r\n"), 16)

	line, err := readLine(r)
	if err != nil || string(line) != "get a" {
		t.Fatalf("readLine() = %q, %v", line, err)
	}
	line, err = readLine(r)
	if err != nil || string(line) != "version" {
		t.Fatalf("readLine() bare LF = %q, %v", line, err)
	}
	if _, err := readLine(r); err != errLineTooLong {
		t.Fatalf("readLine() long line error = %v, want errLineTooLong", err)
	}
}

func TestReadData(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hello\r\nworldXX"))
	data, err := readData(r, 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("readData() = %q, %v", data, err)
	}
	if _, err := readData(r, 5); err != errBadChunk {
		t.Fatalf("readData() error = %v, want errBadChunk", err)
	}
}
