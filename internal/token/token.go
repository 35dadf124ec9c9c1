package token

import (
	"strings"
	"sync"
)

// Provider supplies the bearer token. Changes delivers every new distinct
// value, the current one first; consumers reconnect and rebuild per-identity
// state when it fires.
type Provider interface {
	Token() string
	Changes() <-chan string
	// Unauthorized reports that the server refused the current token.
	Unauthorized()
}

type Logger interface {
	Printf(format string, args ...any)
}

// Static is a fixed token, typically from a flag or the environment.
type Static struct {
	token          string
	changes        chan string
	onUnauthorized func()

	mu       sync.Mutex
	rejected int
}

func NewStatic(token string, onUnauthorized func()) *Static {
	token = strings.TrimSpace(token)
	s := &Static{token: token, changes: make(chan string, 1), onUnauthorized: onUnauthorized}
	if token != "" {
		s.changes <- token
	}
	return s
}

func (s *Static) Token() string { return s.token }

func (s *Static) Changes() <-chan string { return s.changes }

func (s *Static) Unauthorized() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
	if s.onUnauthorized != nil {
		s.onUnauthorized()
	}
}

// Rejections counts Unauthorized calls.
func (s *Static) Rejections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// offer replaces any pending value so a slow consumer only sees the latest.
func offer(ch chan string, value string) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
