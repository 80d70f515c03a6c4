// Package org implements shared organizations: signed membership, role
// based access, groups and the bookkeeping for shared vaults.
//
// Trust does not come from the server. The org holds its own RSA key
// pair; every member entry is signed with the org private key, and the
// org public key itself is signed by each member's account signing key.
// A server that tampers with the member list produces entries that fail
// verification on the next client.
package org

import (
	"encoding/json"
	"time"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/container"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

// Role orders member privileges. Lower values carry more privilege.
type Role int

const (
	RoleOwner Role = iota
	RoleAdmin
	RoleMember
	RoleSuspended
)

// AtLeast reports whether the role carries at least the privileges of
// min. Suspended members never pass.
func (r Role) AtLeast(min Role) bool {
	return r != RoleSuspended && r <= min
}

// VaultGrant gives a member or group access to one vault.
type VaultGrant struct {
	ID       string `json:"id"`
	ReadOnly bool   `json:"readonly"`
}

// Member is one account's membership entry. Signature covers the
// identifying fields and is created with the org private key.
type Member struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	PublicKey []byte       `json:"publicKey"`
	Role      Role         `json:"role"`
	Updated   time.Time    `json:"updated"`
	Signature []byte       `json:"signature"`
	Vaults    []VaultGrant `json:"vaults"`

	// OrgSignature is the member's counter signature over the org
	// identity, created with their account signing key.
	OrgSignature []byte `json:"orgSignature,omitempty"`
}

// Group names a set of members and carries its own vault grants.
type Group struct {
	Name    string       `json:"name"`
	Members []string     `json:"members"`
	Vaults  []VaultGrant `json:"vaults"`
}

// VaultInfo is the org's record of one shared vault.
type VaultInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Quota caps per-org resources. A negative value means unlimited.
type Quota struct {
	Members int   `json:"members"`
	Groups  int   `json:"groups"`
	Vaults  int   `json:"vaults"`
	Storage int64 `json:"storage"`
}

// orgSecrets is the plaintext sealed in the org container, accessible
// to owners and admins.
type orgSecrets struct {
	PrivateKey []byte `json:"privateKey"`
	InvitesKey []byte `json:"invitesKey"`
}

// Org is a shared organization. The embedded container seals the org
// private key and invites key for owner and admin accessors.
type Org struct {
	container.Shared

	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Owner   string    `json:"owner"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	PublicKey     []byte                  `json:"publicKey"`
	SigningParams crypto.RSASigningParams `json:"signingParams"`

	// MinMemberUpdated invalidates member signatures older than this
	// time. Bumped when a member is removed so stale entries cannot be
	// replayed.
	MinMemberUpdated time.Time `json:"minMemberUpdated"`

	Members []Member    `json:"members"`
	Groups  []Group     `json:"groups"`
	Vaults  []VaultInfo `json:"vaults"`
	Invites []*Invite   `json:"invites"`

	Revision    string `json:"revision"`
	Quota       Quota  `json:"quota"`
	Frozen      bool   `json:"frozen"`
	UsedStorage int64  `json:"usedStorage"`

	privateKey []byte
	invitesKey []byte
}

func (o *Org) Kind() string      { return "org" }
func (o *Org) StorageID() string { return o.ID }

// Initialize creates the org key material and installs the creating
// account as sole owner. The account must be unlocked.
func (o *Org) Initialize(acc *account.Account) error {
	if acc.Locked() {
		return apperr.New(apperr.MissingAccess, "account is locked")
	}
	pair, err := crypto.Std.GenerateKeyPair()
	if err != nil {
		return err
	}
	invitesKey, err := crypto.Std.GenerateHMACKey(256)
	if err != nil {
		return err
	}
	o.Shared = *container.NewShared()
	o.Owner = acc.ID
	o.PublicKey = pair.Public
	o.SigningParams = crypto.DefaultRSASigningParams()
	o.privateKey = pair.Private
	o.invitesKey = invitesKey

	// UpdateAccessors generates the container key; only then can the
	// secrets be sealed.
	if err := o.UpdateAccessors([]container.Subject{{ID: acc.ID, PublicKey: acc.PublicKey}}); err != nil {
		return err
	}
	if err := o.commitSecrets(); err != nil {
		return err
	}

	owner := Member{
		ID:        acc.ID,
		Email:     acc.Email,
		Name:      acc.Name,
		PublicKey: acc.PublicKey,
		Role:      RoleOwner,
	}
	if err := o.signMember(&owner); err != nil {
		return err
	}
	owner.OrgSignature, err = acc.SignOrg(o.ID, o.PublicKey)
	if err != nil {
		return err
	}
	o.Members = []Member{owner}
	return nil
}

func (o *Org) commitSecrets() error {
	raw, err := json.Marshal(orgSecrets{PrivateKey: o.privateKey, InvitesKey: o.invitesKey})
	if err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	defer crypto.Zero(raw)
	return o.SetData(raw)
}

// Unlock recovers the org secrets using the account's private key. Only
// accounts listed as accessors (owners and admins) can unlock.
func (o *Org) Unlock(acc *account.Account) error {
	if acc.Locked() {
		return apperr.New(apperr.MissingAccess, "account is locked")
	}
	if err := o.Shared.Unlock(container.Access{ID: acc.ID, PrivateKey: acc.PrivateKey()}); err != nil {
		return err
	}
	raw, err := o.GetData()
	if err != nil {
		return err
	}
	defer crypto.Zero(raw)
	var s orgSecrets
	if err := json.Unmarshal(raw, &s); err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	o.privateKey = s.PrivateKey
	o.invitesKey = s.InvitesKey
	return nil
}

// Lock drops the decrypted org secrets.
func (o *Org) Lock() {
	o.Shared.Lock()
	crypto.Zero(o.privateKey)
	crypto.Zero(o.invitesKey)
	o.privateKey = nil
	o.invitesKey = nil
}

func (o *Org) Unlocked() bool { return o.privateKey != nil }

func memberMessage(m *Member) []byte {
	msg := make([]byte, 0, 128)
	msg = append(msg, m.ID...)
	msg = append(msg, 0)
	msg = append(msg, m.Email...)
	msg = append(msg, 0)
	msg = append(msg, byte(m.Role))
	msg = append(msg, 0)
	msg = append(msg, m.PublicKey...)
	msg = append(msg, 0)
	msg = append(msg, m.Updated.UTC().Format(time.RFC3339Nano)...)
	return msg
}

func (o *Org) signMember(m *Member) error {
	if o.privateKey == nil {
		return apperr.New(apperr.MissingAccess, "org is locked")
	}
	m.Updated = time.Now().UTC()
	sig, err := crypto.Std.SignRSA(o.privateKey, memberMessage(m), o.SigningParams)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// VerifyMember checks a member entry's signature against the org public
// key and rejects entries older than MinMemberUpdated.
func (o *Org) VerifyMember(m *Member) error {
	if m.Updated.Before(o.MinMemberUpdated) {
		return apperr.New(apperr.VerificationError, "member entry is stale")
	}
	ok, err := crypto.Std.VerifyRSA(o.PublicKey, m.Signature, memberMessage(m), o.SigningParams)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.VerificationError, "invalid member signature")
	}
	return nil
}

// VerifyAll verifies every member entry.
func (o *Org) VerifyAll() error {
	for i := range o.Members {
		if err := o.VerifyMember(&o.Members[i]); err != nil {
			return err
		}
	}
	return nil
}

// Member returns the entry for the given account id.
func (o *Org) Member(accountID string) (*Member, bool) {
	for i := range o.Members {
		if o.Members[i].ID == accountID {
			return &o.Members[i], true
		}
	}
	return nil, false
}

// Role returns the member's role, or RoleSuspended for non-members.
func (o *Org) RoleOf(accountID string) Role {
	if m, ok := o.Member(accountID); ok {
		return m.Role
	}
	return RoleSuspended
}

func (o *Org) IsOwner(accountID string) bool {
	return o.RoleOf(accountID) == RoleOwner
}

func (o *Org) IsAdmin(accountID string) bool {
	return o.RoleOf(accountID).AtLeast(RoleAdmin)
}

// AddOrUpdateMember signs and inserts or replaces a member entry. The
// org must be unlocked.
func (o *Org) AddOrUpdateMember(m Member) error {
	if err := o.signMember(&m); err != nil {
		return err
	}
	for i := range o.Members {
		if o.Members[i].ID == m.ID {
			o.Members[i] = m
			return nil
		}
	}
	o.Members = append(o.Members, m)
	return nil
}

// RemoveMember drops a member, scrubs them from every group and bumps
// MinMemberUpdated so their old signed entry can no longer be replayed.
// Remaining members must be re-signed by the caller, and vault keys
// rotated, before the change is committed.
func (o *Org) RemoveMember(accountID string) error {
	idx := -1
	for i := range o.Members {
		if o.Members[i].ID == accountID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperr.New(apperr.NotFound, "no such member")
	}
	o.Members = append(o.Members[:idx], o.Members[idx+1:]...)
	for gi := range o.Groups {
		g := &o.Groups[gi]
		for mi, id := range g.Members {
			if id == accountID {
				g.Members = append(g.Members[:mi], g.Members[mi+1:]...)
				break
			}
		}
	}
	o.MinMemberUpdated = time.Now().UTC()
	return nil
}

// ResignMembers refreshes every member signature, required after
// MinMemberUpdated moved forward.
func (o *Org) ResignMembers() error {
	for i := range o.Members {
		if err := o.signMember(&o.Members[i]); err != nil {
			return err
		}
	}
	return nil
}

// Group returns the group with the given name.
func (o *Org) Group(name string) (*Group, bool) {
	for i := range o.Groups {
		if o.Groups[i].Name == name {
			return &o.Groups[i], true
		}
	}
	return nil, false
}

// CreateGroup adds a new, empty group.
func (o *Org) CreateGroup(name string) (*Group, error) {
	if _, exists := o.Group(name); exists {
		return nil, apperr.New(apperr.BadRequest, "group already exists")
	}
	o.Groups = append(o.Groups, Group{Name: name})
	return &o.Groups[len(o.Groups)-1], nil
}

// AddVault records a new shared vault in the org's bookkeeping.
func (o *Org) AddVault(info VaultInfo) {
	o.Vaults = append(o.Vaults, info)
}

// RemoveVault drops a vault from the bookkeeping and from every grant.
func (o *Org) RemoveVault(id string) {
	for i, v := range o.Vaults {
		if v.ID == id {
			o.Vaults = append(o.Vaults[:i], o.Vaults[i+1:]...)
			break
		}
	}
	for i := range o.Members {
		o.Members[i].Vaults = removeGrant(o.Members[i].Vaults, id)
	}
	for i := range o.Groups {
		o.Groups[i].Vaults = removeGrant(o.Groups[i].Vaults, id)
	}
}

func removeGrant(grants []VaultGrant, id string) []VaultGrant {
	for i, g := range grants {
		if g.ID == id {
			return append(grants[:i], grants[i+1:]...)
		}
	}
	return grants
}

// grantsFor collects a member's vault grants, direct and via groups.
func (o *Org) grantsFor(accountID string) []VaultGrant {
	m, ok := o.Member(accountID)
	if !ok || m.Role == RoleSuspended {
		return nil
	}
	grants := append([]VaultGrant(nil), m.Vaults...)
	for _, g := range o.Groups {
		for _, id := range g.Members {
			if id == accountID {
				grants = append(grants, g.Vaults...)
				break
			}
		}
	}
	return grants
}

// CanRead reports whether the account can read the given vault, either
// through a direct grant or through one of its groups. Owners and
// admins can read every org vault.
func (o *Org) CanRead(vaultID, accountID string) bool {
	if o.RoleOf(accountID).AtLeast(RoleAdmin) {
		return true
	}
	for _, g := range o.grantsFor(accountID) {
		if g.ID == vaultID {
			return true
		}
	}
	return false
}

// CanWrite reports whether the account can write the given vault.
func (o *Org) CanWrite(vaultID, accountID string) bool {
	if o.RoleOf(accountID).AtLeast(RoleAdmin) {
		return true
	}
	for _, g := range o.grantsFor(accountID) {
		if g.ID == vaultID && !g.ReadOnly {
			return true
		}
	}
	return false
}

// SetMinMemberUpdated moves the staleness cutoff forward. Moving it
// backwards is refused.
func (o *Org) SetMinMemberUpdated(t time.Time) error {
	if t.Before(o.MinMemberUpdated) {
		return apperr.New(apperr.BadRequest, "cutoff may only move forward")
	}
	o.MinMemberUpdated = t
	return nil
}

// Admins returns the subjects the org container key must be wrapped
// for: every member with at least admin privileges.
func (o *Org) Admins() []container.Subject {
	var subs []container.Subject
	for _, m := range o.Members {
		if m.Role.AtLeast(RoleAdmin) {
			subs = append(subs, container.Subject{ID: m.ID, PublicKey: m.PublicKey})
		}
	}
	return subs
}
