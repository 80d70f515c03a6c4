package org

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
)

func newAccount(t *testing.T, id, email string) *account.Account {
	t.Helper()
	acc := &account.Account{ID: id, Email: email, Name: email}
	if err := acc.Initialize("password-" + id); err != nil {
		t.Fatalf("initialize account %s: %v", id, err)
	}
	return acc
}

func newOrg(t *testing.T, owner *account.Account) *Org {
	t.Helper()
	o := &Org{ID: "org-1", Name: "Acme"}
	if err := o.Initialize(owner); err != nil {
		t.Fatalf("initialize org: %v", err)
	}
	return o
}

func TestInitializeSignsOwner(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)

	if !o.IsOwner(owner.ID) {
		t.Fatalf("creator is not owner")
	}
	m, ok := o.Member(owner.ID)
	if !ok {
		t.Fatalf("owner has no member entry")
	}
	if err := o.VerifyMember(m); err != nil {
		t.Fatalf("owner entry does not verify: %v", err)
	}
	if err := owner.VerifyOrg(o.ID, o.PublicKey, m.OrgSignature); err != nil {
		t.Fatalf("owner counter signature invalid: %v", err)
	}
}

func TestUnlockRequiresAccessor(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)
	o.Lock()

	if err := o.Unlock(owner); err != nil {
		t.Fatalf("owner cannot unlock own org: %v", err)
	}
	o.Lock()

	outsider := newAccount(t, "acc-out", "out@example.com")
	if err := o.Unlock(outsider); !apperr.Is(err, apperr.MissingAccess) {
		t.Fatalf("outsider unlock: got %v, want missing access", err)
	}
}

// Initialize must generate the container key before sealing the org
// secrets; a serialized copy has to unlock and expose them.
func TestInitializeSealsSecrets(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)

	raw, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal org: %v", err)
	}
	restored := &Org{}
	if err := json.Unmarshal(raw, restored); err != nil {
		t.Fatalf("unmarshal org: %v", err)
	}
	if err := restored.Unlock(owner); err != nil {
		t.Fatalf("restored org does not unlock: %v", err)
	}
	if len(restored.privateKey) == 0 || len(restored.invitesKey) == 0 {
		t.Fatalf("org secrets missing after round trip")
	}
}

func TestTamperedMemberFailsVerification(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)

	member := newAccount(t, "acc-m", "m@example.com")
	if err := o.AddOrUpdateMember(Member{
		ID:        member.ID,
		Email:     member.Email,
		PublicKey: member.PublicKey,
		Role:      RoleMember,
	}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	m, _ := o.Member(member.ID)
	if err := o.VerifyMember(m); err != nil {
		t.Fatalf("fresh member does not verify: %v", err)
	}

	m.Role = RoleOwner
	if err := o.VerifyMember(m); !apperr.Is(err, apperr.VerificationError) {
		t.Fatalf("role escalation passed verification: %v", err)
	}
}

func TestRemoveMemberInvalidatesStaleEntries(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)

	member := newAccount(t, "acc-m", "m@example.com")
	_ = o.AddOrUpdateMember(Member{ID: member.ID, Email: member.Email, PublicKey: member.PublicKey, Role: RoleMember})
	stale := *mustMember(t, o, member.ID)

	if err := o.RemoveMember(member.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if _, ok := o.Member(member.ID); ok {
		t.Fatalf("member still present after removal")
	}

	// The old signed entry must not verify against the new cutoff.
	if err := o.VerifyMember(&stale); !apperr.Is(err, apperr.VerificationError) {
		t.Fatalf("stale entry still verifies: %v", err)
	}

	// Remaining members need fresh signatures.
	if err := o.ResignMembers(); err != nil {
		t.Fatalf("resign members: %v", err)
	}
	if err := o.VerifyAll(); err != nil {
		t.Fatalf("verify after resign: %v", err)
	}
}

func mustMember(t *testing.T, o *Org, id string) *Member {
	t.Helper()
	m, ok := o.Member(id)
	if !ok {
		t.Fatalf("member %s not found", id)
	}
	return m
}

func TestMinMemberUpdatedOnlyMovesForward(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)
	now := time.Now().UTC()
	if err := o.SetMinMemberUpdated(now); err != nil {
		t.Fatalf("set cutoff: %v", err)
	}
	if err := o.SetMinMemberUpdated(now.Add(-time.Hour)); err == nil {
		t.Fatalf("cutoff moved backwards")
	}
}

func TestVaultGrantsDirectAndViaGroup(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)
	o.AddVault(VaultInfo{ID: "v1", Name: "Engineering"})
	o.AddVault(VaultInfo{ID: "v2", Name: "Finance"})

	direct := newAccount(t, "acc-d", "d@example.com")
	grouped := newAccount(t, "acc-g", "g@example.com")
	suspended := newAccount(t, "acc-s", "s@example.com")

	_ = o.AddOrUpdateMember(Member{
		ID: direct.ID, Email: direct.Email, PublicKey: direct.PublicKey,
		Role: RoleMember, Vaults: []VaultGrant{{ID: "v1", ReadOnly: true}},
	})
	_ = o.AddOrUpdateMember(Member{ID: grouped.ID, Email: grouped.Email, PublicKey: grouped.PublicKey, Role: RoleMember})
	_ = o.AddOrUpdateMember(Member{
		ID: suspended.ID, Email: suspended.Email, PublicKey: suspended.PublicKey,
		Role: RoleSuspended, Vaults: []VaultGrant{{ID: "v1"}},
	})

	g, err := o.CreateGroup("devs")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	g.Members = append(g.Members, grouped.ID)
	g.Vaults = append(g.Vaults, VaultGrant{ID: "v2"})

	if !o.CanRead("v1", direct.ID) || o.CanWrite("v1", direct.ID) {
		t.Fatalf("read-only direct grant broken")
	}
	if !o.CanWrite("v2", grouped.ID) {
		t.Fatalf("group grant not resolved")
	}
	if o.CanRead("v1", grouped.ID) {
		t.Fatalf("access without grant")
	}
	if o.CanRead("v1", suspended.ID) {
		t.Fatalf("suspended member retains access")
	}
	if !o.CanWrite("v1", owner.ID) {
		t.Fatalf("owner lacks implicit access")
	}
}

func TestRemoveVaultScrubsGrants(t *testing.T) {
	owner := newAccount(t, "acc-owner", "owner@example.com")
	o := newOrg(t, owner)
	o.AddVault(VaultInfo{ID: "v1"})

	member := newAccount(t, "acc-m", "m@example.com")
	_ = o.AddOrUpdateMember(Member{
		ID: member.ID, Email: member.Email, PublicKey: member.PublicKey,
		Role: RoleMember, Vaults: []VaultGrant{{ID: "v1"}},
	})

	o.RemoveVault("v1")
	if len(o.Vaults) != 0 {
		t.Fatalf("vault still listed")
	}
	if o.CanRead("v1", member.ID) {
		t.Fatalf("grant survived vault removal")
	}
}

func TestRoleOrdering(t *testing.T) {
	if !RoleOwner.AtLeast(RoleAdmin) {
		t.Fatalf("owner should satisfy admin checks")
	}
	if RoleMember.AtLeast(RoleAdmin) {
		t.Fatalf("member passes admin check")
	}
	if RoleSuspended.AtLeast(RoleSuspended) {
		t.Fatalf("suspended should never pass")
	}
}
