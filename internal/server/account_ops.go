package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/audit"
	"github.com/padloc/padloc-sub004/internal/org"
	"github.com/padloc/padloc-sub004/internal/session"
	"github.com/padloc/padloc-sub004/internal/storage"
)

// GetAccount returns the caller's own account record.
func (c *Controller) GetAccount(ctx context.Context, auth Context) (*account.Account, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("getAccount", err)
	}
	return auth.Account, nil
}

// UpdateAccount applies client-side changes to the caller's account.
// The submitted revision must match the stored one; identity and quota
// fields are server-owned and never taken from the client.
func (c *Controller) UpdateAccount(ctx context.Context, auth Context, upd *account.Account) (*account.Account, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("updateAccount", err)
	}
	unlock := c.locks.lock("account:" + auth.Account.ID)
	defer unlock()

	acc, err := c.loadAccount(ctx, auth.Account.ID)
	if err != nil {
		return nil, c.fail("updateAccount", err)
	}
	if upd.Revision != acc.Revision {
		return nil, c.fail("updateAccount", apperr.New(apperr.OutdatedRevision))
	}

	acc.Name = upd.Name
	acc.PublicKey = upd.PublicKey
	acc.KeyParams = upd.KeyParams
	acc.EncryptionParams = upd.EncryptionParams
	acc.EncryptedData = upd.EncryptedData
	acc.Revision = uuid.NewString()
	acc.Updated = time.Now().UTC()

	if err := c.storage.Save(ctx, acc); err != nil {
		return nil, c.fail("updateAccount", err)
	}
	return acc, nil
}

// RecoverAccountParams replaces an account's password-derived secrets
// after the password is lost. Proof of email ownership stands in for
// the old password.
type RecoverAccountParams struct {
	Account           *account.Account `json:"account"`
	Auth              *account.Auth    `json:"auth"`
	VerificationToken string           `json:"verificationToken"`
}

// RecoverAccount resets an account's authentication and sealed secrets.
// All sessions are revoked and org memberships are suspended, since the
// old key pair is gone and signatures over it no longer vouch for
// anything.
func (c *Controller) RecoverAccount(ctx context.Context, p RecoverAccountParams) (*account.Account, error) {
	if p.Account == nil || p.Auth == nil || p.Auth.Email == "" {
		return nil, c.fail("recoverAccount", apperr.New(apperr.BadRequest, "malformed recovery parameters"))
	}
	if err := c.redeemVerificationToken(ctx, p.Auth.Email, p.VerificationToken); err != nil {
		return nil, c.fail("recoverAccount", err)
	}

	unlock := c.locks.lock("auth:" + p.Auth.Email)
	defer unlock()

	auth := &account.Auth{Email: p.Auth.Email}
	if err := c.storage.Get(ctx, auth); err != nil {
		if err == storage.ErrNotFound {
			return nil, c.fail("recoverAccount", apperr.New(apperr.NotFound, "no such account"))
		}
		return nil, c.fail("recoverAccount", err)
	}
	acc, err := c.loadAccount(ctx, auth.Account)
	if err != nil {
		return nil, c.fail("recoverAccount", err)
	}

	acc.Name = p.Account.Name
	acc.PublicKey = p.Account.PublicKey
	acc.KeyParams = p.Account.KeyParams
	acc.EncryptionParams = p.Account.EncryptionParams
	acc.EncryptedData = p.Account.EncryptedData
	acc.Revision = uuid.NewString()
	acc.Updated = time.Now().UTC()

	auth.Verifier = p.Auth.Verifier
	auth.KeyParams = p.Auth.KeyParams

	if err := c.storage.Save(ctx, acc); err != nil {
		return nil, c.fail("recoverAccount", err)
	}
	if err := c.storage.Save(ctx, auth); err != nil {
		return nil, c.fail("recoverAccount", err)
	}
	if err := c.revokeAccountSessions(ctx, acc.ID); err != nil {
		return nil, c.fail("recoverAccount", err)
	}
	if err := c.suspendMemberships(ctx, acc); err != nil {
		return nil, c.fail("recoverAccount", err)
	}
	c.logger.Printf("account recovered id=%s", acc.ID)
	return acc, nil
}

func (c *Controller) revokeAccountSessions(ctx context.Context, accountID string) error {
	raws, err := c.storage.List(ctx, "session")
	if err != nil {
		return err
	}
	for _, raw := range raws {
		sess := &session.Session{}
		if err := json.Unmarshal(raw, sess); err != nil {
			continue
		}
		if sess.Account != accountID {
			continue
		}
		if err := c.storage.Delete(ctx, sess); err != nil {
			return err
		}
		c.audit.Record(audit.EventSessionRevoked, accountID, sess.ID)
	}
	return nil
}

// suspendMemberships marks the account's memberships suspended. The
// member entries keep their old signatures, which no longer verify
// against the replaced key pair, so an owner has to re-sign before the
// account regains access.
func (c *Controller) suspendMemberships(ctx context.Context, acc *account.Account) error {
	for _, orgID := range acc.Orgs {
		o := &org.Org{}
		o.ID = orgID
		if err := c.storage.Get(ctx, o); err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return err
		}
		m, ok := o.Member(acc.ID)
		if !ok {
			continue
		}
		if o.Owner == acc.ID {
			// The sole authority over the org keys is gone.
			o.Frozen = true
		} else {
			m.Role = org.RoleSuspended
		}
		o.Revision = uuid.NewString()
		if err := c.storage.Save(ctx, o); err != nil {
			return err
		}
	}
	return nil
}
