package server

import (
	"sync"
	"time"

	"github.com/padloc/padloc-sub004/internal/srp"
)

// pendingAuth is a started SRP handshake waiting for the client's
// proof. Fake is set for unknown emails, where the handshake runs
// against a throwaway verifier so the flow is indistinguishable from a
// real one until it fails.
type pendingAuth struct {
	email   string
	account string
	server  *srp.Server
	fake    bool
	created time.Time
}

// pendingAuthStore holds handshakes keyed by email, dropping entries
// after a TTL so abandoned handshakes cannot pile up.
type pendingAuthStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*pendingAuth
}

func newPendingAuthStore(ttl time.Duration) *pendingAuthStore {
	return &pendingAuthStore{ttl: ttl, entries: make(map[string]*pendingAuth)}
}

func (s *pendingAuthStore) put(p *pendingAuth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.created = time.Now()
	s.entries[p.email] = p
	for k, v := range s.entries {
		if time.Since(v.created) > s.ttl {
			delete(s.entries, k)
		}
	}
}

// take removes and returns the handshake for email. A handshake can
// only be consumed once.
func (s *pendingAuthStore) take(email string) (*pendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[email]
	if !ok {
		return nil, false
	}
	delete(s.entries, email)
	if time.Since(p.created) > s.ttl {
		return nil, false
	}
	return p, true
}

// keyedLocks serializes writes per aggregate (an account, org or
// vault) without one global lock.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
