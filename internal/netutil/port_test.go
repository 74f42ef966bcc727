package netutil

import (
	"net"
	"testing"
)

// freeAddr reserves a loopback port and releases it so the test can hand a
// known-free address to SelectBindAddr.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// busyAddr opens a listener held for the duration of the test.
func busyAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestSelectBindAddr(t *testing.T) {
	t.Run("preferred_when_free", func(t *testing.T) {
		addr := freeAddr(t)
		got, err := SelectBindAddr(addr, nil, false)
		if err != nil {
			t.Fatalf("SelectBindAddr() error: %v", err)
		}
		if got != addr {
			t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
		}
	})

	t.Run("falls_back_past_busy_candidates", func(t *testing.T) {
		busy := busyAddr(t)
		free := freeAddr(t)

		got, err := SelectBindAddr(busy, []string{busy, free}, true)
		if err != nil {
			t.Fatalf("SelectBindAddr() error: %v", err)
		}
		if got != free {
			t.Fatalf("SelectBindAddr() = %q, want %q", got, free)
		}
	})

	t.Run("busy_without_fallback_fails", func(t *testing.T) {
		busy := busyAddr(t)
		if _, err := SelectBindAddr(busy, []string{freeAddr(t)}, false); err == nil {
			t.Fatalf("SelectBindAddr() succeeded on a busy address with fallback off")
		}
	})

	t.Run("all_busy_fails", func(t *testing.T) {
		busy := busyAddr(t)
		if _, err := SelectBindAddr(busy, []string{busy}, true); err == nil {
			t.Fatalf("SelectBindAddr() succeeded with every address busy")
		}
	})
}
