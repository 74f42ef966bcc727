// Package netutil probes local bind addresses so the server can start on the
// first free port of a configured candidate list.
package netutil

import (
	"fmt"
	"log/slog"
	"net"
)

// SelectBindAddr returns the preferred address when it is free, otherwise the
// first free candidate if autoFallback allows it. Candidates equal to the
// preferred address are probed only once.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		if addrFree(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("bind address %s is in use and fallback is disabled", preferred)
		}
		slog.Warn("preferred bind address in use, trying candidates", "addr", preferred)
	}

	for _, addr := range candidates {
		if addr == preferred || addr == "" {
			continue
		}
		if addrFree(addr) {
			return addr, nil
		}
		slog.Debug("candidate bind address in use", "addr", addr)
	}

	return "", fmt.Errorf("no free bind address among %d candidates", len(candidates))
}

// addrFree reports whether addr can be listened on right now. The listener
// is opened and closed immediately; the caller binds for real afterwards.
func addrFree(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
