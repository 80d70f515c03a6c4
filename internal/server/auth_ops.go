package server

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/audit"
	"github.com/padloc/padloc-sub004/internal/crypto"
	"github.com/padloc/padloc-sub004/internal/messenger"
	"github.com/padloc/padloc-sub004/internal/mfa"
	"github.com/padloc/padloc-sub004/internal/session"
	"github.com/padloc/padloc-sub004/internal/srp"
	"github.com/padloc/padloc-sub004/internal/storage"
	"github.com/padloc/padloc-sub004/internal/transport"
	"github.com/padloc/padloc-sub004/internal/vault"
)

// RequestEmailVerification mails a verification code to the address.
func (c *Controller) RequestEmailVerification(ctx context.Context, email string) error {
	if !c.rlEmail.allow("verify:" + email) {
		return c.fail("requestEmailVerification", apperr.New(apperr.RateLimitExceeded))
	}
	v, err := mfa.NewEmailVerification(email)
	if err != nil {
		return c.fail("requestEmailVerification", err)
	}
	if err := c.storage.Save(ctx, v); err != nil {
		return c.fail("requestEmailVerification", err)
	}
	if err := c.messenger.Send(email, messenger.EmailVerification(v.Code, v.Expires())); err != nil {
		return c.fail("requestEmailVerification", err)
	}
	return nil
}

// CompleteEmailVerification redeems a code for a single-use token.
func (c *Controller) CompleteEmailVerification(ctx context.Context, email, code string) (string, error) {
	v := &mfa.EmailVerification{Email: email}
	if err := c.storage.Get(ctx, v); err != nil {
		if err == storage.ErrNotFound {
			return "", c.fail("completeEmailVerification", apperr.New(apperr.MFAFailed, "no pending verification"))
		}
		return "", c.fail("completeEmailVerification", err)
	}
	token, err := v.Submit(code)
	// Persist the consumed try even on failure.
	if serr := c.storage.Save(ctx, v); serr != nil {
		return "", c.fail("completeEmailVerification", serr)
	}
	if err != nil {
		return "", c.fail("completeEmailVerification", err)
	}
	return token, nil
}

func (c *Controller) redeemVerificationToken(ctx context.Context, email, token string) error {
	v := &mfa.EmailVerification{Email: email}
	if err := c.storage.Get(ctx, v); err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.MFARequired, "email verification required")
		}
		return err
	}
	if err := v.RedeemToken(token); err != nil {
		return err
	}
	return c.storage.Delete(ctx, v)
}

// CreateAccountParams carries a new account, its authentication record
// and proof of email ownership.
type CreateAccountParams struct {
	Account           *account.Account `json:"account"`
	Auth              *account.Auth    `json:"auth"`
	VerificationToken string           `json:"verificationToken"`
}

// CreateAccount registers a new account together with its main vault.
func (c *Controller) CreateAccount(ctx context.Context, p CreateAccountParams) (*account.Account, error) {
	acc, auth := p.Account, p.Auth
	if acc == nil || auth == nil || acc.Email == "" || acc.Email != auth.Email {
		return nil, c.fail("createAccount", apperr.New(apperr.BadRequest, "malformed account parameters"))
	}
	if err := c.redeemVerificationToken(ctx, acc.Email, p.VerificationToken); err != nil {
		return nil, c.fail("createAccount", err)
	}

	unlock := c.locks.lock("auth:" + auth.Email)
	defer unlock()

	existing := &account.Auth{Email: auth.Email}
	if err := c.storage.Get(ctx, existing); err == nil {
		return nil, c.fail("createAccount", apperr.New(apperr.AccountExists))
	} else if err != storage.ErrNotFound {
		return nil, c.fail("createAccount", err)
	}

	now := time.Now().UTC()
	acc.ID = uuid.NewString()
	acc.Revision = uuid.NewString()
	acc.Created = now
	acc.Updated = now
	acc.Quota = c.cfg.AccountQuota

	main := vault.New(uuid.NewString(), "My Vault")
	main.Owner = acc.ID
	main.Revision = uuid.NewString()
	main.Created = now
	main.Updated = now
	acc.MainVault = main.ID

	auth.Account = acc.ID
	if err := c.storage.Save(ctx, main); err != nil {
		return nil, c.fail("createAccount", err)
	}
	if err := c.storage.Save(ctx, acc); err != nil {
		return nil, c.fail("createAccount", err)
	}
	if err := c.storage.Save(ctx, auth); err != nil {
		return nil, c.fail("createAccount", err)
	}
	c.audit.Record(audit.EventAccountCreated, acc.ID, "")
	c.logger.Printf("account created id=%s", acc.ID)
	return acc, nil
}

// InitAuthResponse starts the SRP handshake: the derivation parameters
// for the secret x and the server's public value B.
type InitAuthResponse struct {
	Account   string              `json:"account,omitempty"`
	KeyParams crypto.PBKDF2Params `json:"keyParams"`
	B         []byte              `json:"B"`
}

// InitAuth begins a login. Unknown emails get deterministic fake
// parameters and a handshake doomed to fail, so responses do not reveal
// whether an account exists.
func (c *Controller) InitAuth(ctx context.Context, email string, device *transport.DeviceInfo) (*InitAuthResponse, error) {
	if !c.rlEmail.allow("auth:"+email) || (device != nil && !c.rlDevice.allow("auth:"+device.ID)) {
		return nil, c.fail("initAuth", apperr.New(apperr.RateLimitExceeded))
	}

	auth := &account.Auth{Email: email}
	err := c.storage.Get(ctx, auth)
	switch {
	case err == storage.ErrNotFound:
		return c.initFakeAuth(email)
	case err != nil:
		return nil, c.fail("initAuth", err)
	}

	srv, err := srp.NewServer(srp.DefaultGroup)
	if err != nil {
		return nil, c.fail("initAuth", err)
	}
	if err := srv.Initialize(auth.Verifier); err != nil {
		return nil, c.fail("initAuth", err)
	}
	c.pending.put(&pendingAuth{email: email, account: auth.Account, server: srv})

	return &InitAuthResponse{
		Account:   auth.Account,
		KeyParams: auth.KeyParams,
		B:         srv.PublicValue(),
	}, nil
}

// initFakeAuth fabricates a handshake for an unknown email. Salt and
// account id are derived from the address so repeated requests are
// consistent and the response is indistinguishable from a real one.
func (c *Controller) initFakeAuth(email string) (*InitAuthResponse, error) {
	salt := sha256.Sum256([]byte("auth-salt:" + email))
	params := crypto.DefaultPBKDF2Params()
	params.Salt = salt[:16]

	verifier, err := crypto.Std.RandomBytes(32)
	if err != nil {
		return nil, c.fail("initAuth", err)
	}
	srv, err := srp.NewServer(srp.DefaultGroup)
	if err != nil {
		return nil, c.fail("initAuth", err)
	}
	if err := srv.Initialize(verifier); err != nil {
		return nil, c.fail("initAuth", err)
	}
	c.pending.put(&pendingAuth{email: email, server: srv, fake: true})

	return &InitAuthResponse{
		Account:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("auth-account:"+email)).String(),
		KeyParams: params,
		B:         srv.PublicValue(),
	}, nil
}

// CreateSessionParams completes the SRP handshake.
type CreateSessionParams struct {
	Email  string                `json:"email"`
	A      []byte                `json:"A"`
	M1     []byte                `json:"M1"`
	Device *transport.DeviceInfo `json:"device,omitempty"`
}

// CreateSessionResponse returns the new session (without its key, which
// both sides derived independently) and the server proof M2.
type CreateSessionResponse struct {
	Session session.Session `json:"session"`
	M2      []byte          `json:"M2"`
}

// CreateSession verifies the client's SRP proof and mints a session
// keyed with the negotiated secret.
func (c *Controller) CreateSession(ctx context.Context, p CreateSessionParams) (*CreateSessionResponse, error) {
	pending, ok := c.pending.take(p.Email)
	if !ok {
		return nil, c.fail("createSession", apperr.New(apperr.InvalidCredentials))
	}
	if err := pending.server.SetA(p.A); err != nil {
		return nil, c.fail("createSession", apperr.New(apperr.InvalidCredentials))
	}
	if pending.fake || !pending.server.VerifyClient(p.M1) {
		c.audit.Record(audit.EventAuthFailed, "", p.Email)
		return nil, c.fail("createSession", apperr.New(apperr.InvalidCredentials))
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:       uuid.NewString(),
		Account:  pending.account,
		Key:      pending.server.SessionKey(),
		Created:  now,
		Updated:  now,
		LastUsed: now,
		Expires:  now.Add(c.cfg.SessionTTL),
		Device:   p.Device,
		MaxAge:   c.cfg.MaxRequestAge,
	}
	if err := c.storage.Save(ctx, sess); err != nil {
		return nil, c.fail("createSession", err)
	}
	c.audit.Record(audit.EventSessionCreated, pending.account, sess.ID)

	return &CreateSessionResponse{Session: sess.Info(), M2: pending.server.Proof()}, nil
}

// RevokeSession deletes one of the caller's sessions.
func (c *Controller) RevokeSession(ctx context.Context, auth Context, id string) error {
	if err := c.requireAuth(auth); err != nil {
		return c.fail("revokeSession", err)
	}
	sess := &session.Session{ID: id}
	if err := c.storage.Get(ctx, sess); err != nil {
		if err == storage.ErrNotFound {
			return c.fail("revokeSession", apperr.New(apperr.NotFound, "no such session"))
		}
		return c.fail("revokeSession", err)
	}
	if sess.Account != auth.Account.ID {
		return c.fail("revokeSession", apperr.New(apperr.InsufficientPermissions))
	}
	if err := c.storage.Delete(ctx, sess); err != nil {
		return c.fail("revokeSession", err)
	}
	c.audit.Record(audit.EventSessionRevoked, auth.Account.ID, id)
	return nil
}
