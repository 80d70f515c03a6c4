// Package srp implements version 6a of the Secure Remote Password
// protocol over the RFC 5054 prime groups.
//
// The usual flow:
//
//	Signup: the client derives x from the master password, computes the
//	verifier v = g^x mod N and sends v (plus the derivation salt and
//	iteration count) to the server. The password never leaves the client.
//
//	Login: the server initializes with v and sends its public value B.
//	The client re-derives x, sends its public value A plus the proof M1.
//	Both sides arrive at the session key K independently; the server
//	accepts when the client's M1 matches its own.
//
// Values are hashed as minimal-length big-endian byte strings with no
// leading zero octets, matching what existing verifiers were computed
// with.
package srp

import (
	"crypto/sha256"
	"crypto/subtle"
	"math/big"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

const secretSize = 32

func i2b(i *big.Int) []byte {
	if i.Sign() == 0 {
		return []byte{0}
	}
	return i.Bytes()
}

func b2i(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// core evaluates the SRP-6a formulas for one group.
type core struct {
	grp group
}

func newCore(length GroupLength) (core, error) {
	grp, ok := getGroup(length)
	if !ok {
		return core{}, apperr.New(apperr.InvalidKeyParams, "unsupported srp group length")
	}
	return core{grp}, nil
}

// hash returns H(a | b | ...) over the minimal encodings.
func (c core) hash(vals ...*big.Int) *big.Int {
	h := sha256.New()
	for _, v := range vals {
		h.Write(i2b(v))
	}
	return b2i(h.Sum(nil))
}

// k = H(N | g), the SRP-6a multiplier.
func (c core) k() *big.Int {
	return c.hash(c.grp.n, c.grp.g)
}

// v = g^x mod N
func (c core) v(x *big.Int) *big.Int {
	return new(big.Int).Exp(c.grp.g, x, c.grp.n)
}

// A = g^a mod N
func (c core) bigA(a *big.Int) *big.Int {
	return new(big.Int).Exp(c.grp.g, a, c.grp.n)
}

// B = (k*v + g^b) mod N
func (c core) bigB(v, b *big.Int) *big.Int {
	gb := new(big.Int).Exp(c.grp.g, b, c.grp.n)
	kv := new(big.Int).Mul(c.k(), v)
	return kv.Add(kv, gb).Mod(kv, c.grp.n)
}

// u = H(A | B)
func (c core) u(A, B *big.Int) *big.Int {
	return c.hash(A, B)
}

// clientS = (B - k * g^x) ^ (a + u*x) mod N
func (c core) clientS(B, x, a, u *big.Int) *big.Int {
	gx := new(big.Int).Exp(c.grp.g, x, c.grp.n)
	base := new(big.Int).Sub(B, new(big.Int).Mul(c.k(), gx))
	base.Mod(base, c.grp.n)
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	return base.Exp(base, exp, c.grp.n)
}

// serverS = (A * v^u) ^ b mod N
func (c core) serverS(A, v, u, b *big.Int) *big.Int {
	vu := new(big.Int).Exp(v, u, c.grp.n)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, c.grp.n)
	return base.Exp(base, b, c.grp.n)
}

func (c core) isZeroModN(n *big.Int) bool {
	return new(big.Int).Mod(n, c.grp.n).Sign() == 0
}

// Client is the client side of the exchange. Initialize with the secret
// x, then apply the server's B value to obtain K, M1 and M2.
type Client struct {
	core core
	x    *big.Int
	v    *big.Int
	a    *big.Int
	A    *big.Int
	K    *big.Int
	M1   *big.Int
	M2   *big.Int
}

func NewClient(length GroupLength) (*Client, error) {
	c, err := newCore(length)
	if err != nil {
		return nil, err
	}
	return &Client{core: c}, nil
}

// Initialize computes the verifier and the client public value from the
// password-derived secret x.
func (c *Client) Initialize(x []byte) error {
	secret, err := crypto.Std.RandomBytes(secretSize)
	if err != nil {
		return err
	}
	c.x = b2i(x)
	c.v = c.core.v(c.x)
	c.a = b2i(secret)
	c.A = c.core.bigA(c.a)
	return nil
}

// Verifier returns v, to be registered with the server at signup.
func (c *Client) Verifier() []byte {
	if c.v == nil {
		return nil
	}
	return i2b(c.v)
}

// PublicValue returns A.
func (c *Client) PublicValue() []byte {
	if c.A == nil {
		return nil
	}
	return i2b(c.A)
}

// SetB applies the server's public value, deriving the session key and
// both proofs. A value that is zero mod N is rejected.
func (c *Client) SetB(bigB []byte) error {
	if c.x == nil || c.a == nil {
		return apperr.New(apperr.ClientError, "srp client not initialized")
	}
	B := b2i(bigB)
	if c.core.isZeroModN(B) {
		return apperr.New(apperr.AuthenticationFailed, "invalid B value")
	}
	u := c.core.u(c.A, B)
	S := c.core.clientS(B, c.x, c.a, u)
	c.K = c.core.hash(S)
	c.M1 = c.core.hash(c.A, B, c.K)
	c.M2 = c.core.hash(c.A, c.M1, c.K)
	return nil
}

// SessionKey returns K, available after SetB.
func (c *Client) SessionKey() []byte {
	if c.K == nil {
		return nil
	}
	return i2b(c.K)
}

// Proof returns M1, sent to the server to prove knowledge of x.
func (c *Client) Proof() []byte {
	if c.M1 == nil {
		return nil
	}
	return i2b(c.M1)
}

// VerifyServer checks the server's counter proof M2.
func (c *Client) VerifyServer(m2 []byte) bool {
	return c.M2 != nil && subtle.ConstantTimeCompare(i2b(c.M2), m2) == 1
}

// Server is the server side of the exchange. Initialize with the
// stored verifier, then apply the client's A value.
type Server struct {
	core core
	v    *big.Int
	b    *big.Int
	B    *big.Int
	K    *big.Int
	M1   *big.Int
	M2   *big.Int
}

func NewServer(length GroupLength) (*Server, error) {
	c, err := newCore(length)
	if err != nil {
		return nil, err
	}
	return &Server{core: c}, nil
}

// Initialize computes the server public value B from the verifier.
func (s *Server) Initialize(verifier []byte) error {
	secret, err := crypto.Std.RandomBytes(secretSize)
	if err != nil {
		return err
	}
	s.v = b2i(verifier)
	s.b = b2i(secret)
	s.B = s.core.bigB(s.v, s.b)
	return nil
}

// PublicValue returns B.
func (s *Server) PublicValue() []byte {
	if s.B == nil {
		return nil
	}
	return i2b(s.B)
}

// SetA applies the client's public value, deriving the session key and
// both proofs. A value that is zero mod N is rejected.
func (s *Server) SetA(bigA []byte) error {
	if s.v == nil || s.b == nil {
		return apperr.New(apperr.ServerError, "srp server not initialized")
	}
	A := b2i(bigA)
	if s.core.isZeroModN(A) {
		return apperr.New(apperr.AuthenticationFailed, "invalid A value")
	}
	u := s.core.u(A, s.B)
	S := s.core.serverS(A, s.v, u, s.b)
	s.K = s.core.hash(S)
	s.M1 = s.core.hash(A, s.B, s.K)
	s.M2 = s.core.hash(A, s.M1, s.K)
	return nil
}

// SessionKey returns K, available after SetA.
func (s *Server) SessionKey() []byte {
	if s.K == nil {
		return nil
	}
	return i2b(s.K)
}

// VerifyClient checks the client's proof M1 in constant time.
func (s *Server) VerifyClient(m1 []byte) bool {
	return s.M1 != nil && subtle.ConstantTimeCompare(i2b(s.M1), m1) == 1
}

// Proof returns the server's counter proof M2.
func (s *Server) Proof() []byte {
	if s.M2 == nil {
		return nil
	}
	return i2b(s.M2)
}
