package server

import (
	"bytes"
	"context"
	"io"
	"log"
	"testing"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/attachment"
	"github.com/padloc/padloc-sub004/internal/crypto"
	"github.com/padloc/padloc-sub004/internal/messenger"
	"github.com/padloc/padloc-sub004/internal/mfa"
	"github.com/padloc/padloc-sub004/internal/org"
	"github.com/padloc/padloc-sub004/internal/session"
	"github.com/padloc/padloc-sub004/internal/srp"
	"github.com/padloc/padloc-sub004/internal/storage"
	"github.com/padloc/padloc-sub004/internal/vault"
)

type testEnv struct {
	ctrl  *Controller
	store *storage.Memory
	mail  *messenger.Memory
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	mail := messenger.NewMemory()
	logger := log.New(io.Discard, "", 0)
	return &testEnv{
		ctrl:  New(cfg, store, storage.NewMemoryBlobStore(), mail, logger, nil),
		store: store,
		mail:  mail,
	}
}

// verificationToken runs the email verification loop, reading the code
// straight out of storage.
func (e *testEnv) verificationToken(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()
	if err := e.ctrl.RequestEmailVerification(ctx, email); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if _, ok := e.mail.LastSent(email); !ok {
		t.Fatalf("no verification mail sent to %s", email)
	}
	v := &mfa.EmailVerification{Email: email}
	if err := e.store.Get(ctx, v); err != nil {
		t.Fatalf("load verification: %v", err)
	}
	token, err := e.ctrl.CompleteEmailVerification(ctx, email, v.Code)
	if err != nil {
		t.Fatalf("CompleteEmailVerification: %v", err)
	}
	return token
}

// signup registers an account the way a client would and returns the
// unlocked account.
func (e *testEnv) signup(t *testing.T, email, password string) *account.Account {
	t.Helper()
	token := e.verificationToken(t, email)

	acc := &account.Account{Email: email, Name: "Test User"}
	if err := acc.Initialize(password); err != nil {
		t.Fatalf("initialize account: %v", err)
	}
	auth := account.NewAuth(email)
	x, err := auth.GetAuthKey(password)
	if err != nil {
		t.Fatalf("derive auth key: %v", err)
	}
	client, err := srp.NewClient(srp.DefaultGroup)
	if err != nil {
		t.Fatalf("new srp client: %v", err)
	}
	if err := client.Initialize(x); err != nil {
		t.Fatalf("initialize srp client: %v", err)
	}
	auth.Verifier = client.Verifier()

	created, err := e.ctrl.CreateAccount(context.Background(), CreateAccountParams{
		Account:           acc,
		Auth:              auth,
		VerificationToken: token,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	// Carry the server-assigned identity back into the unlocked copy.
	acc.ID = created.ID
	acc.Revision = created.Revision
	acc.MainVault = created.MainVault
	acc.Quota = created.Quota
	return acc
}

// login performs the SRP exchange and returns an authenticated request
// context with the full session record.
func (e *testEnv) login(t *testing.T, email, password string) Context {
	t.Helper()
	ctx := context.Background()
	init, err := e.ctrl.InitAuth(ctx, email, nil)
	if err != nil {
		t.Fatalf("InitAuth: %v", err)
	}
	x, err := crypto.Std.DeriveKey([]byte(password), init.KeyParams)
	if err != nil {
		t.Fatalf("derive auth key: %v", err)
	}
	client, err := srp.NewClient(srp.DefaultGroup)
	if err != nil {
		t.Fatalf("new srp client: %v", err)
	}
	if err := client.Initialize(x); err != nil {
		t.Fatalf("initialize srp client: %v", err)
	}
	if err := client.SetB(init.B); err != nil {
		t.Fatalf("apply server value: %v", err)
	}
	res, err := e.ctrl.CreateSession(ctx, CreateSessionParams{
		Email: email,
		A:     client.PublicValue(),
		M1:    client.Proof(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !client.VerifyServer(res.M2) {
		t.Fatalf("server proof did not verify")
	}
	sess := &session.Session{ID: res.Session.ID}
	if err := e.store.Get(ctx, sess); err != nil {
		t.Fatalf("load session: %v", err)
	}
	if !bytes.Equal(sess.Key, client.SessionKey()) {
		t.Fatalf("session keys diverged")
	}
	acc, err := e.ctrl.loadAccount(ctx, sess.Account)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	return Context{Session: sess, Account: acc}
}

func TestSignupAndLogin(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.signup(t, "alice@example.com", "correct horse")
	auth := e.login(t, "alice@example.com", "correct horse")
	if auth.Account.Email != "alice@example.com" {
		t.Fatalf("logged into wrong account: %s", auth.Account.Email)
	}
	if auth.Account.MainVault == "" {
		t.Fatalf("no main vault assigned")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.signup(t, "alice@example.com", "correct horse")
	ctx := context.Background()

	init, err := e.ctrl.InitAuth(ctx, "alice@example.com", nil)
	if err != nil {
		t.Fatalf("InitAuth: %v", err)
	}
	x, _ := crypto.Std.DeriveKey([]byte("wrong horse"), init.KeyParams)
	client, _ := srp.NewClient(srp.DefaultGroup)
	if err := client.Initialize(x); err != nil {
		t.Fatalf("initialize srp client: %v", err)
	}
	if err := client.SetB(init.B); err != nil {
		t.Fatalf("apply server value: %v", err)
	}
	_, err = e.ctrl.CreateSession(ctx, CreateSessionParams{
		Email: "alice@example.com",
		A:     client.PublicValue(),
		M1:    client.Proof(),
	})
	if !apperr.Is(err, apperr.InvalidCredentials) {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}

func TestInitAuthUnknownEmailNoOracle(t *testing.T) {
	e := newTestEnv(t, Config{})
	ctx := context.Background()

	first, err := e.ctrl.InitAuth(ctx, "nobody@example.com", nil)
	if err != nil {
		t.Fatalf("InitAuth for unknown email should not fail, got %v", err)
	}
	if len(first.B) == 0 || len(first.KeyParams.Salt) == 0 {
		t.Fatalf("fake handshake is missing parameters")
	}
	if first.Account == "" {
		t.Fatalf("fake handshake must carry an account id like a real one")
	}
	second, err := e.ctrl.InitAuth(ctx, "nobody@example.com", nil)
	if err != nil {
		t.Fatalf("InitAuth: %v", err)
	}
	if !bytes.Equal(first.KeyParams.Salt, second.KeyParams.Salt) {
		t.Fatalf("fake salt must be stable across requests")
	}
	if first.Account != second.Account {
		t.Fatalf("fake account id must be stable across requests")
	}

	x, _ := crypto.Std.DeriveKey([]byte("whatever"), second.KeyParams)
	client, _ := srp.NewClient(srp.DefaultGroup)
	if err := client.Initialize(x); err != nil {
		t.Fatalf("initialize srp client: %v", err)
	}
	if err := client.SetB(second.B); err != nil {
		t.Fatalf("apply server value: %v", err)
	}
	_, err = e.ctrl.CreateSession(ctx, CreateSessionParams{
		Email: "nobody@example.com",
		A:     client.PublicValue(),
		M1:    client.Proof(),
	})
	if !apperr.Is(err, apperr.InvalidCredentials) {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}

func TestPendingAuthConsumedOnce(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.signup(t, "alice@example.com", "pw")
	e.login(t, "alice@example.com", "pw")

	// The handshake was consumed by the login; replaying the proof
	// must fail.
	_, err := e.ctrl.CreateSession(context.Background(), CreateSessionParams{Email: "alice@example.com"})
	if !apperr.Is(err, apperr.InvalidCredentials) {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}

func TestEmailVerificationRateLimit(t *testing.T) {
	e := newTestEnv(t, Config{})
	ctx := context.Background()
	var err error
	for i := 0; i < 6; i++ {
		err = e.ctrl.RequestEmailVerification(ctx, "burst@example.com")
	}
	if !apperr.Is(err, apperr.RateLimitExceeded) {
		t.Fatalf("expected rate_limit_exceeded, got %v", err)
	}
}

func TestUpdateAccountRevisionConflict(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.signup(t, "alice@example.com", "pw")
	auth := e.login(t, "alice@example.com", "pw")
	ctx := context.Background()

	upd := *auth.Account
	upd.Name = "Alice"
	if _, err := e.ctrl.UpdateAccount(ctx, auth, &upd); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}

	// Second write against the old revision must conflict.
	stale := *auth.Account
	stale.Name = "Mallory"
	_, err := e.ctrl.UpdateAccount(ctx, auth, &stale)
	if !apperr.Is(err, apperr.OutdatedRevision) {
		t.Fatalf("expected outdated_revision, got %v", err)
	}
}

// createOrg runs the two-step org creation: the server assigns the id,
// then the owner initializes keys and membership against it.
func (e *testEnv) createOrg(t *testing.T, auth Context, acc *account.Account, name string) *org.Org {
	t.Helper()
	ctx := context.Background()
	o, err := e.ctrl.CreateOrg(ctx, auth, &org.Org{Name: name})
	if err != nil {
		t.Fatalf("CreateOrg: %v", err)
	}
	if err := o.Initialize(acc); err != nil {
		t.Fatalf("initialize org: %v", err)
	}
	o, err = e.ctrl.UpdateOrg(ctx, auth, o)
	if err != nil {
		t.Fatalf("UpdateOrg: %v", err)
	}
	return o
}

func TestOrgLifecycle(t *testing.T) {
	e := newTestEnv(t, Config{})
	alice := e.signup(t, "alice@example.com", "pw")
	aliceCtx := e.login(t, "alice@example.com", "pw")
	bob := e.signup(t, "bob@example.com", "pw")
	bobCtx := e.login(t, "bob@example.com", "pw")
	ctx := context.Background()

	o := e.createOrg(t, aliceCtx, alice, "Acme")
	if !o.IsOwner(alice.ID) {
		t.Fatalf("owner not installed as member")
	}

	if _, err := e.ctrl.GetOrg(ctx, bobCtx, o.ID); !apperr.Is(err, apperr.InsufficientPermissions) {
		t.Fatalf("non-member read should be rejected, got no rejection")
	}

	// Admins add members; the new member gets notified.
	if err := o.Unlock(alice); err != nil {
		t.Fatalf("unlock org: %v", err)
	}
	if err := o.AddOrUpdateMember(org.Member{
		ID:        bob.ID,
		Email:     bob.Email,
		PublicKey: bob.PublicKey,
		Role:      org.RoleMember,
	}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	o, err := e.ctrl.UpdateOrg(ctx, aliceCtx, o)
	if err != nil {
		t.Fatalf("UpdateOrg: %v", err)
	}
	if _, ok := e.mail.LastSent(bob.Email); !ok {
		t.Fatalf("added member was not notified")
	}

	// A plain member must not push structural changes.
	hijack := *o
	hijack.Name = "Bobs Org"
	if _, err := e.ctrl.UpdateOrg(ctx, bobCtx, &hijack); !apperr.Is(err, apperr.InsufficientPermissions) {
		t.Fatalf("expected insufficient_permissions, got %v", err)
	}
}

func TestFrozenOrgRejectsWrites(t *testing.T) {
	e := newTestEnv(t, Config{})
	alice := e.signup(t, "alice@example.com", "pw")
	aliceCtx := e.login(t, "alice@example.com", "pw")
	ctx := context.Background()

	o := e.createOrg(t, aliceCtx, alice, "Acme")

	stored, err := e.ctrl.loadOrg(ctx, o.ID)
	if err != nil {
		t.Fatalf("load org: %v", err)
	}
	stored.Frozen = true
	if err := e.store.Save(ctx, stored); err != nil {
		t.Fatalf("save org: %v", err)
	}

	upd := *stored
	upd.Name = "Renamed"
	if _, err := e.ctrl.UpdateOrg(ctx, aliceCtx, &upd); !apperr.Is(err, apperr.OrgFrozen) {
		t.Fatalf("expected org_frozen, got %v", err)
	}
}

func TestOrgQuotaPerAccount(t *testing.T) {
	e := newTestEnv(t, Config{MaxOrgsPerAccount: 1})
	alice := e.signup(t, "alice@example.com", "pw")
	aliceCtx := e.login(t, "alice@example.com", "pw")
	ctx := context.Background()

	e.createOrg(t, aliceCtx, alice, "First")
	_, err := e.ctrl.CreateOrg(ctx, aliceCtx, &org.Org{Name: "Second"})
	if !apperr.Is(err, apperr.OrgQuotaExceeded) {
		t.Fatalf("expected org_quota_exceeded, got %v", err)
	}
}

func TestVaultFlow(t *testing.T) {
	e := newTestEnv(t, Config{})
	alice := e.signup(t, "alice@example.com", "pw")
	aliceCtx := e.login(t, "alice@example.com", "pw")
	bobCtx := func() Context {
		e.signup(t, "bob@example.com", "pw")
		return e.login(t, "bob@example.com", "pw")
	}()
	ctx := context.Background()

	o := e.createOrg(t, aliceCtx, alice, "Acme")
	v, err := e.ctrl.CreateVault(ctx, aliceCtx, &vault.Vault{Org: o.ID, Name: "Shared"})
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	if _, err := e.ctrl.GetVault(ctx, bobCtx, v.ID); !apperr.Is(err, apperr.InsufficientPermissions) {
		t.Fatalf("non-member vault read should be rejected, got %v", err)
	}

	got, err := e.ctrl.GetVault(ctx, aliceCtx, v.ID)
	if err != nil {
		t.Fatalf("GetVault: %v", err)
	}
	stale := *got
	if _, err := e.ctrl.UpdateVault(ctx, aliceCtx, got); err != nil {
		t.Fatalf("UpdateVault: %v", err)
	}

	// The first update advanced the revision.
	if _, err := e.ctrl.UpdateVault(ctx, aliceCtx, &stale); !apperr.Is(err, apperr.OutdatedRevision) {
		t.Fatalf("expected outdated_revision, got %v", err)
	}

	if err := e.ctrl.DeleteVault(ctx, aliceCtx, v.ID); err != nil {
		t.Fatalf("DeleteVault: %v", err)
	}
	if _, err := e.ctrl.GetVault(ctx, aliceCtx, v.ID); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not_found after delete, got %v", err)
	}
}

func TestMainVaultAccess(t *testing.T) {
	e := newTestEnv(t, Config{})
	alice := e.signup(t, "alice@example.com", "pw")
	aliceCtx := e.login(t, "alice@example.com", "pw")
	e.signup(t, "bob@example.com", "pw")
	bobCtx := e.login(t, "bob@example.com", "pw")
	ctx := context.Background()

	if _, err := e.ctrl.GetVault(ctx, aliceCtx, alice.MainVault); err != nil {
		t.Fatalf("owner cannot read main vault: %v", err)
	}
	if _, err := e.ctrl.GetVault(ctx, bobCtx, alice.MainVault); !apperr.Is(err, apperr.InsufficientPermissions) {
		t.Fatalf("foreign main vault read should be rejected, got %v", err)
	}
	if err := e.ctrl.DeleteVault(ctx, aliceCtx, alice.MainVault); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("main vault delete should be rejected, got %v", err)
	}
}

func TestAttachmentStorageQuota(t *testing.T) {
	e := newTestEnv(t, Config{AccountQuota: account.Quota{Items: 50, Storage: 64}})
	alice := e.signup(t, "alice@example.com", "pw")
	aliceCtx := e.login(t, "alice@example.com", "pw")
	ctx := context.Background()

	small, _, err := attachment.New(alice.MainVault, "note.txt", "text/plain", []byte("hello"))
	if err != nil {
		t.Fatalf("new attachment: %v", err)
	}
	if _, err := e.ctrl.CreateAttachment(ctx, aliceCtx, small); err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}

	big, _, err := attachment.New(alice.MainVault, "blob.bin", "application/octet-stream", make([]byte, 256))
	if err != nil {
		t.Fatalf("new attachment: %v", err)
	}
	if _, err := e.ctrl.CreateAttachment(ctx, aliceCtx, big); !apperr.Is(err, apperr.StorageQuotaExceeded) {
		t.Fatalf("expected storage_quota_exceeded, got %v", err)
	}

	acc, err := e.ctrl.loadAccount(ctx, alice.ID)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if acc.UsedStorage == 0 {
		t.Fatalf("used storage not tracked")
	}

	if err := e.ctrl.DeleteAttachment(ctx, aliceCtx, small.Vault, small.ID); err != nil {
		t.Fatalf("DeleteAttachment: %v", err)
	}
}

func TestRecoverAccountSuspendsAndRevokes(t *testing.T) {
	e := newTestEnv(t, Config{})
	alice := e.signup(t, "alice@example.com", "old pw")
	aliceCtx := e.login(t, "alice@example.com", "old pw")
	e.createOrg(t, aliceCtx, alice, "Acme")
	ctx := context.Background()

	token := e.verificationToken(t, "alice@example.com")

	fresh := &account.Account{Email: alice.Email, Name: alice.Name}
	if err := fresh.Initialize("new pw"); err != nil {
		t.Fatalf("initialize account: %v", err)
	}
	newAuth := account.NewAuth(alice.Email)
	x, err := newAuth.GetAuthKey("new pw")
	if err != nil {
		t.Fatalf("derive auth key: %v", err)
	}
	client, _ := srp.NewClient(srp.DefaultGroup)
	if err := client.Initialize(x); err != nil {
		t.Fatalf("initialize srp client: %v", err)
	}
	newAuth.Verifier = client.Verifier()

	if _, err := e.ctrl.RecoverAccount(ctx, RecoverAccountParams{
		Account:           fresh,
		Auth:              newAuth,
		VerificationToken: token,
	}); err != nil {
		t.Fatalf("RecoverAccount: %v", err)
	}

	// Old session is gone.
	sess := &session.Session{ID: aliceCtx.Session.ID}
	if err := e.store.Get(ctx, sess); err != storage.ErrNotFound {
		t.Fatalf("expected session to be revoked, got %v", err)
	}

	// Owned org froze because the org keys are unrecoverable.
	acc, err := e.ctrl.loadAccount(ctx, alice.ID)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	for _, orgID := range acc.Orgs {
		o, err := e.ctrl.loadOrg(ctx, orgID)
		if err != nil {
			t.Fatalf("load org: %v", err)
		}
		if !o.Frozen {
			t.Fatalf("owned org should be frozen after recovery")
		}
	}

	// The new password logs in.
	e.login(t, "alice@example.com", "new pw")
}

func TestAuditTrail(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.signup(t, "alice@example.com", "pw")
	e.login(t, "alice@example.com", "pw")

	if err := e.ctrl.Audit().Verify(); err != nil {
		t.Fatalf("audit chain broken: %v", err)
	}
	events := make(map[string]bool)
	for _, entry := range e.ctrl.Audit().Entries() {
		events[string(entry.Event)] = true
	}
	for _, want := range []string{"account.created", "session.created"} {
		if !events[want] {
			t.Fatalf("missing audit event %s", want)
		}
	}
}
