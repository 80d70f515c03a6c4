// Package app is the client-side orchestrator: it owns the logged-in
// account, the session, and the unlocked vaults, and keeps them
// consolidated with the server.
package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/container"
	"github.com/padloc/padloc-sub004/internal/crypto"
	"github.com/padloc/padloc-sub004/internal/item"
	"github.com/padloc/padloc-sub004/internal/server"
	"github.com/padloc/padloc-sub004/internal/srp"
	"github.com/padloc/padloc-sub004/internal/transport"
	"github.com/padloc/padloc-sub004/internal/vault"
)

// syncAttempts bounds how often a sync retries after a revision
// conflict before giving up.
const syncAttempts = 3

type App struct {
	client *Client
	logger *log.Logger

	mu      sync.Mutex
	account *account.Account
	vaults  map[string]*vault.Vault

	queue *syncQueue
}

func New(sender transport.Sender, device *transport.DeviceInfo, logger *log.Logger) *App {
	return &App{
		client: NewClient(sender, device),
		logger: logger,
		vaults: make(map[string]*vault.Vault),
		queue:  newSyncQueue(),
	}
}

// Client exposes the raw API client, for operations the app does not
// wrap.
func (a *App) Client() *Client { return a.client }

// Account returns the logged-in account, nil before login.
func (a *App) Account() *account.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account
}

// LoggedIn reports whether a session is attached.
func (a *App) LoggedIn() bool { return a.client.Session() != nil }

// Locked reports whether the account secrets are currently accessible.
func (a *App) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account == nil || a.account.Locked()
}

func (a *App) RequestEmailVerification(ctx context.Context, email string) error {
	return a.client.RequestEmailVerification(ctx, email)
}

func (a *App) CompleteEmailVerification(ctx context.Context, email, code string) (string, error) {
	return a.client.CompleteEmailVerification(ctx, email, code)
}

// Signup registers a new account and logs in. The verification token
// comes from the email verification flow.
func (a *App) Signup(ctx context.Context, email, password, name, verificationToken string) error {
	acc := &account.Account{Email: email, Name: name}
	if err := acc.Initialize(password); err != nil {
		return err
	}
	auth := account.NewAuth(email)
	x, err := auth.GetAuthKey(password)
	if err != nil {
		return err
	}
	defer crypto.Zero(x)
	client, err := srp.NewClient(srp.DefaultGroup)
	if err != nil {
		return err
	}
	if err := client.Initialize(x); err != nil {
		return err
	}
	auth.Verifier = client.Verifier()

	if _, err := a.client.CreateAccount(ctx, server.CreateAccountParams{
		Account:           acc,
		Auth:              auth,
		VerificationToken: verificationToken,
	}); err != nil {
		return err
	}
	return a.Login(ctx, email, password)
}

// Login runs the SRP handshake, attaches the resulting session and
// unlocks the account.
func (a *App) Login(ctx context.Context, email, password string) error {
	init, err := a.client.InitAuth(ctx, email)
	if err != nil {
		return err
	}
	x, err := crypto.Std.DeriveKey([]byte(password), init.KeyParams)
	if err != nil {
		return err
	}
	defer crypto.Zero(x)
	client, err := srp.NewClient(srp.DefaultGroup)
	if err != nil {
		return err
	}
	if err := client.Initialize(x); err != nil {
		return err
	}
	if err := client.SetB(init.B); err != nil {
		return err
	}
	res, err := a.client.CreateSession(ctx, server.CreateSessionParams{
		Email: email,
		A:     client.PublicValue(),
		M1:    client.Proof(),
	})
	if err != nil {
		return err
	}
	if !client.VerifyServer(res.M2) {
		return apperr.New(apperr.AuthenticationFailed, "server proof did not verify")
	}
	sess := res.Session
	sess.Key = client.SessionKey()
	a.client.SetSession(&sess)

	acc, err := a.client.GetAccount(ctx)
	if err != nil {
		a.client.SetSession(nil)
		return err
	}
	if err := acc.Unlock(password); err != nil {
		a.client.SetSession(nil)
		return err
	}

	a.mu.Lock()
	a.account = acc
	a.vaults = make(map[string]*vault.Vault)
	a.mu.Unlock()
	return a.SyncVault(ctx, acc.MainVault)
}

// Logout revokes the session and drops all local state.
func (a *App) Logout(ctx context.Context) error {
	sess := a.client.Session()
	if sess != nil {
		if err := a.client.RevokeSession(ctx, sess.ID); err != nil {
			a.logger.Printf("[app] session revocation failed: %v", err)
		}
	}
	a.client.SetSession(nil)
	a.Lock()
	a.mu.Lock()
	a.account = nil
	a.mu.Unlock()
	return nil
}

// Lock wipes the account secrets and every unlocked vault from memory.
// The session stays attached.
func (a *App) Lock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.account != nil {
		a.account.Lock()
	}
	for _, v := range a.vaults {
		v.Lock()
	}
	a.vaults = make(map[string]*vault.Vault)
}

// Unlock re-derives the account secrets from the password and reopens
// the main vault.
func (a *App) Unlock(ctx context.Context, password string) error {
	a.mu.Lock()
	acc := a.account
	a.mu.Unlock()
	if acc == nil {
		return apperr.New(apperr.ClientError, "not logged in")
	}
	if err := acc.Unlock(password); err != nil {
		return err
	}
	return a.SyncVault(ctx, acc.MainVault)
}

// Vault returns an unlocked vault by id.
func (a *App) Vault(id string) (*vault.Vault, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vaults[id]
	return v, ok
}

// MainVault returns the account's personal vault.
func (a *App) MainVault() (*vault.Vault, bool) {
	a.mu.Lock()
	acc := a.account
	a.mu.Unlock()
	if acc == nil {
		return nil, false
	}
	return a.Vault(acc.MainVault)
}

func (a *App) access() (container.Access, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.account == nil || a.account.Locked() {
		return container.Access{}, apperr.New(apperr.MissingAccess, "app is locked")
	}
	return container.Access{ID: a.account.ID, PrivateKey: a.account.PrivateKey()}, nil
}

// CreateItem adds an item to a vault and syncs. The account's item
// quota applies to the main vault; the server cannot count items inside
// the ciphertext, so the check lives here.
func (a *App) CreateItem(ctx context.Context, vaultID, name string, fields []item.Field, tags []string) (item.Item, error) {
	it := item.Item{
		ID:     uuid.NewString(),
		Name:   name,
		Fields: fields,
		Tags:   tags,
	}
	if acc := a.Account(); acc != nil {
		it.UpdatedBy = acc.ID
	}
	if err := a.checkItemQuota(ctx, vaultID); err != nil {
		return item.Item{}, err
	}
	if err := a.mutateVault(ctx, vaultID, func(v *vault.Vault) {
		v.Items.Update(it)
	}); err != nil {
		return item.Item{}, err
	}
	return it, nil
}

func (a *App) checkItemQuota(ctx context.Context, vaultID string) error {
	acc := a.Account()
	if acc == nil || vaultID != acc.MainVault || acc.Quota.Items < 0 {
		return nil
	}
	v, ok := a.Vault(vaultID)
	if !ok {
		if err := a.SyncVault(ctx, vaultID); err != nil {
			return err
		}
		if v, ok = a.Vault(vaultID); !ok {
			return apperr.New(apperr.NotFound, "no such vault")
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v.Items.Size() >= acc.Quota.Items {
		return apperr.New(apperr.ItemQuotaExceeded)
	}
	return nil
}

// UpdateItem stores a modified item and syncs.
func (a *App) UpdateItem(ctx context.Context, vaultID string, it item.Item) error {
	if acc := a.Account(); acc != nil {
		it.UpdatedBy = acc.ID
	}
	return a.mutateVault(ctx, vaultID, func(v *vault.Vault) {
		v.Items.Update(it)
	})
}

// DeleteItem removes an item and syncs.
func (a *App) DeleteItem(ctx context.Context, vaultID, itemID string) error {
	return a.mutateVault(ctx, vaultID, func(v *vault.Vault) {
		if it, ok := v.Items.Get(itemID); ok {
			v.Items.Remove(it)
		}
	})
}

func (a *App) mutateVault(ctx context.Context, vaultID string, mutate func(*vault.Vault)) error {
	v, ok := a.Vault(vaultID)
	if !ok {
		if err := a.SyncVault(ctx, vaultID); err != nil {
			return err
		}
		v, ok = a.Vault(vaultID)
		if !ok {
			return apperr.New(apperr.NotFound, "no such vault")
		}
	}
	a.mu.Lock()
	mutate(v)
	a.mu.Unlock()
	return a.SyncVault(ctx, vaultID)
}

// SyncVault consolidates one vault with the server. Concurrent calls
// for the same vault coalesce: one active run, at most one queued.
func (a *App) SyncVault(ctx context.Context, id string) error {
	return a.queue.Do(id, func() error {
		return a.syncVaultOnce(ctx, id)
	})
}

// syncVaultOnce fetches, merges and pushes. On a revision conflict the
// cycle repeats with the fresh server copy, up to syncAttempts times.
func (a *App) syncVaultOnce(ctx context.Context, id string) error {
	access, err := a.access()
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < syncAttempts; attempt++ {
		remote, err := a.client.GetVault(ctx, id)
		if err != nil {
			return err
		}
		if err := remote.Unlock(access); err != nil {
			return err
		}

		a.mu.Lock()
		local := a.vaults[id]
		if local == nil {
			local = remote
			a.vaults[id] = local
		} else if err := local.Merge(remote); err != nil {
			a.mu.Unlock()
			return err
		}
		// Changes made after this point are not part of the pushed
		// snapshot and keep their marks for the next sync.
		snapshot := time.Now()
		if err := local.Commit(); err != nil {
			a.mu.Unlock()
			return err
		}
		a.mu.Unlock()

		pushed, err := a.client.UpdateVault(ctx, local)
		if err == nil {
			a.mu.Lock()
			local.Revision = pushed.Revision
			local.Items.ClearChanges(snapshot)
			a.mu.Unlock()
			return nil
		}
		if !apperr.Is(err, apperr.OutdatedRevision) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// Synchronize refreshes the account and consolidates every known
// vault.
func (a *App) Synchronize(ctx context.Context) error {
	acc, err := a.client.GetAccount(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.account != nil {
		// Keep the unlocked secrets; adopt the server-side fields.
		a.account.Orgs = acc.Orgs
		a.account.Revision = acc.Revision
		a.account.Quota = acc.Quota
		a.account.UsedStorage = acc.UsedStorage
	}
	ids := make([]string, 0, len(a.vaults)+1)
	if a.account != nil {
		ids = append(ids, a.account.MainVault)
	}
	for id := range a.vaults {
		if a.account == nil || id != a.account.MainVault {
			ids = append(ids, id)
		}
	}
	a.mu.Unlock()

	for _, id := range ids {
		if err := a.SyncVault(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
