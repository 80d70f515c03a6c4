package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/padloc/padloc-sub004/internal/transport"
)

func testSession() *Session {
	return &Session{
		ID:      "sess-1",
		Account: "acc-1",
		Key:     []byte("0123456789abcdef0123456789abcdef"),
		Created: time.Now(),
	}
}

func TestAuthenticateAndVerify(t *testing.T) {
	s := testSession()
	req := &transport.Request{Method: "getAccount", Params: json.RawMessage(`{"id":"acc-1"}`)}

	if err := s.Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if req.Auth == nil {
		t.Fatalf("no auth attached")
	}
	if !s.Verify(req) {
		t.Fatalf("signature did not verify")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	s := testSession()
	req := &transport.Request{Method: "updateVault", Params: json.RawMessage(`{"rev":"1"}`)}
	if err := s.Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	req.Params = json.RawMessage(`{"rev":"2"}`)
	if s.Verify(req) {
		t.Fatalf("tampered body verified")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s := testSession()
	req := &transport.Request{Method: "getAccount"}
	if err := s.Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	other := testSession()
	other.Key = []byte("ffffffffffffffffffffffffffffffff")
	if other.Verify(req) {
		t.Fatalf("signature verified under wrong key")
	}
}

func TestVerifyRejectsStaleRequest(t *testing.T) {
	s := testSession()
	s.MaxAge = time.Millisecond
	req := &transport.Request{Method: "getAccount"}
	if err := s.Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if s.Verify(req) {
		t.Fatalf("stale request verified")
	}
}

func TestInfoStripsKey(t *testing.T) {
	s := testSession()
	info := s.Info()
	if info.Key != nil {
		t.Fatalf("info leaks session key")
	}
	if info.ID != s.ID || info.Account != s.Account {
		t.Fatalf("info lost identifying fields")
	}
}

func TestExpired(t *testing.T) {
	s := testSession()
	if s.Expired() {
		t.Fatalf("session with no expiry reported expired")
	}
	s.Expires = time.Now().Add(-time.Minute)
	if !s.Expired() {
		t.Fatalf("past expiry not detected")
	}
}
