package ratelimit

import (
	"net"
	"testing"
	"time"
)

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestNew_Disabled(t *testing.T) {
	r := New(0)
	if r != nil {
		t.Fatal("New(0) should return nil")
	}
	for i := 0; i < 100; i++ {
		if !r.Allow(tcpAddr("10.0.0.1", 1)) {
			t.Fatal("nil registry rejected a command")
		}
	}
	if r.Len() != 0 || r.Prune(time.Second) != 0 {
		t.Error("nil registry tracks clients")
	}
}

func TestRegistry_PerHostBuckets(t *testing.T) {
	r := New(5)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !r.Allow(tcpAddr("10.0.0.1", 1000+i)) {
			t.Fatalf("command %d rejected within burst", i)
		}
	}
	if r.Allow(tcpAddr("10.0.0.1", 2000)) {
		t.Fatal("command beyond burst allowed; ports of one host must share a bucket")
	}
	if !r.Allow(tcpAddr("10.0.0.2", 1)) {
		t.Fatal("other host rejected")
	}

	now = now.Add(time.Second)
	if !r.Allow(tcpAddr("10.0.0.1", 1)) {
		t.Fatal("bucket did not refill")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestRegistry_Prune(t *testing.T) {
	r := New(10)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.Allow(tcpAddr("10.0.0.1", 1))
	now = now.Add(time.Minute)
	r.Allow(tcpAddr("10.0.0.2", 1))

	if n := r.Prune(30 * time.Second); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{tcpAddr("192.168.1.5", 6379), "192.168.1.5"},
		{tcpAddr("::1", 6379), "::1"},
		{&net.UnixAddr{Name: "/tmp/wdb.sock", Net: "unix"}, "/tmp/wdb.sock"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := HostOf(tt.addr); got != tt.want {
			t.Errorf("HostOf(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestRegistry_AllowHostSharesBucket(t *testing.T) {
	r := New(2)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	if !r.AllowHost("10.0.0.9") || !r.Allow(tcpAddr("10.0.0.9", 4000)) {
		t.Fatal("commands within burst rejected")
	}
	if r.AllowHost("10.0.0.9") {
		t.Fatal("AllowHost and Allow must share the per-host bucket")
	}
}
