// Package session holds authenticated sessions and the request signing
// scheme built on the key negotiated during login.
package session

import (
	"time"

	"github.com/padloc/padloc-sub004/internal/crypto"
	"github.com/padloc/padloc-sub004/internal/transport"
)

// DefaultMaxAge bounds how old a signed message may be before it is
// rejected as a potential replay.
const DefaultMaxAge = time.Hour

// Session is the server-side record of an authenticated login. Key is
// the shared secret negotiated via SRP and never leaves the two parties
// that derived it.
type Session struct {
	ID       string                `json:"id"`
	Account  string                `json:"account"`
	Key      []byte                `json:"key,omitempty"`
	Created  time.Time             `json:"created"`
	Updated  time.Time             `json:"updated"`
	LastUsed time.Time             `json:"lastUsed"`
	Expires  time.Time             `json:"expires,omitempty"`
	Device   *transport.DeviceInfo `json:"device,omitempty"`

	// MaxAge overrides DefaultMaxAge when non-zero.
	MaxAge time.Duration `json:"-"`
}

func (s *Session) Kind() string { return "session" }

func (s *Session) StorageID() string { return s.ID }

// Info returns a copy safe to hand to clients, with the key stripped.
func (s *Session) Info() Session {
	info := *s
	info.Key = nil
	return info
}

// Expired reports whether the session has passed its expiry time.
func (s *Session) Expired() bool {
	return !s.Expires.IsZero() && time.Now().After(s.Expires)
}

// Authenticate signs a request in place: the signature covers the
// session id, the current time and the request params.
func (s *Session) Authenticate(req *transport.Request) error {
	return s.sign(&req.Auth, req.Params)
}

// AuthenticateResponse signs a response over its result body.
func (s *Session) AuthenticateResponse(res *transport.Response) error {
	return s.sign(&res.Auth, res.Result)
}

// Verify checks a request's signature and rejects messages older than
// the max age.
func (s *Session) Verify(req *transport.Request) bool {
	return s.verify(req.Auth, req.Params)
}

// VerifyResponse checks a response's signature over its result body.
func (s *Session) VerifyResponse(res *transport.Response) bool {
	return s.verify(res.Auth, res.Result)
}

func (s *Session) sign(dst **transport.Auth, body []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	sig, err := crypto.Std.SignHMAC(s.Key, s.message(now, body), crypto.DefaultHMACParams())
	if err != nil {
		return err
	}
	*dst = &transport.Auth{Session: s.ID, Time: now, Signature: sig}
	return nil
}

func (s *Session) verify(auth *transport.Auth, body []byte) bool {
	if auth == nil || auth.Session != s.ID {
		return false
	}
	signed, err := time.Parse(time.RFC3339Nano, auth.Time)
	if err != nil {
		return false
	}
	maxAge := s.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if time.Since(signed) > maxAge {
		return false
	}
	ok, err := crypto.Std.VerifyHMAC(s.Key, auth.Signature, s.message(auth.Time, body), crypto.DefaultHMACParams())
	return err == nil && ok
}

func (s *Session) message(time string, body []byte) []byte {
	msg := make([]byte, 0, len(s.ID)+len(time)+len(body)+2)
	msg = append(msg, s.ID...)
	msg = append(msg, '_')
	msg = append(msg, time...)
	msg = append(msg, '_')
	msg = append(msg, body...)
	return msg
}
