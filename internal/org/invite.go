package org

import (
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/container"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

// InviteDuration is how long an invite stays valid.
const InviteDuration = 12 * time.Hour

// InvitePurpose distinguishes joining invites from membership
// confirmations after an account recovery.
type InvitePurpose string

const (
	PurposeJoinOrg       InvitePurpose = "join_org"
	PurposeConfirmMember InvitePurpose = "confirm_membership"
)

// inviteClaims is the payload of both handshake proofs. PublicKey binds
// the proof to a key pair so neither side can be impersonated by the
// server.
type inviteClaims struct {
	PublicKey []byte        `json:"publicKey"`
	Purpose   InvitePurpose `json:"purpose"`
	jwt.RegisteredClaims
}

// InviteParty is one side of the invite handshake. Proof is a JWT
// signed with the key derived from the shared secret.
type InviteParty struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	PublicKey []byte `json:"publicKey"`
	Proof     string `json:"proof,omitempty"`
}

// Invite is the handshake through which a new member joins an org. A
// random secret is exchanged out of band; both sides prove knowledge of
// it by signing their identity with a key derived from it. The secret
// itself is stored encrypted under the org invites key so org admins
// can read it back.
type Invite struct {
	container.Simple

	ID        string              `json:"id"`
	Email     string              `json:"email"`
	Purpose   InvitePurpose       `json:"purpose"`
	Created   time.Time           `json:"created"`
	Expires   time.Time           `json:"expires"`
	KeyParams crypto.PBKDF2Params `json:"keyParams"`
	OrgID     string              `json:"org"`

	Org       InviteParty   `json:"orgParty"`
	Invitee   *InviteParty  `json:"invitee,omitempty"`
	InvitedBy *account.Info `json:"invitedBy,omitempty"`

	// Accepted is set once the invitee has added their proof.
	Accepted bool `json:"accepted"`
}

// CreateInvite starts the handshake. The org must be unlocked. The
// returned secret must reach the invitee out of band and is never
// stored in plaintext.
func (o *Org) CreateInvite(email string, purpose InvitePurpose, invitedBy *account.Account) (*Invite, string, error) {
	if !o.Unlocked() {
		return nil, "", apperr.New(apperr.MissingAccess, "org is locked")
	}
	rawSecret, err := crypto.Std.RandomBytes(4)
	if err != nil {
		return nil, "", err
	}
	secret := hex.EncodeToString(rawSecret)

	id, err := crypto.Std.RandomBytes(16)
	if err != nil {
		return nil, "", err
	}
	salt, err := crypto.Std.RandomBytes(16)
	if err != nil {
		return nil, "", err
	}
	params := crypto.DefaultPBKDF2Params()
	params.Salt = salt

	now := time.Now().UTC()
	inv := &Invite{
		Simple:    *container.NewSimple(),
		ID:        hex.EncodeToString(id),
		Email:     email,
		Purpose:   purpose,
		Created:   now,
		Expires:   now.Add(InviteDuration),
		KeyParams: params,
		OrgID:     o.ID,
		Org:       InviteParty{ID: o.ID, Name: o.Name, PublicKey: o.PublicKey},
	}
	if invitedBy != nil {
		info := invitedBy.Info()
		inv.InvitedBy = &info
	}

	// Seal the secret for org admins.
	if err := inv.Simple.Unlock(o.invitesKey); err != nil {
		return nil, "", err
	}
	if err := inv.SetData([]byte(secret)); err != nil {
		return nil, "", err
	}
	inv.Simple.Lock()

	proof, err := inv.proof(secret, o.ID, o.PublicKey)
	if err != nil {
		return nil, "", err
	}
	inv.Org.Proof = proof

	o.Invites = append(o.Invites, inv)
	return inv, secret, nil
}

// Invite returns the pending invite with the given id.
func (o *Org) Invite(id string) (*Invite, bool) {
	for _, inv := range o.Invites {
		if inv.ID == id {
			return inv, true
		}
	}
	return nil, false
}

// RemoveInvite drops a pending invite.
func (o *Org) RemoveInvite(id string) {
	for i, inv := range o.Invites {
		if inv.ID == id {
			o.Invites = append(o.Invites[:i], o.Invites[i+1:]...)
			return
		}
	}
}

// Expired reports whether the invite has passed its expiry time.
func (inv *Invite) Expired() bool {
	return time.Now().After(inv.Expires)
}

func (inv *Invite) signingKey(secret string) ([]byte, error) {
	return crypto.Std.DeriveKey([]byte(secret), inv.KeyParams)
}

func (inv *Invite) proof(secret, subject string, publicKey []byte) (string, error) {
	key, err := inv.signingKey(secret)
	if err != nil {
		return "", err
	}
	defer crypto.Zero(key)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, inviteClaims{
		PublicKey: publicKey,
		Purpose:   inv.Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(inv.Created),
			ExpiresAt: jwt.NewNumericDate(inv.Expires),
		},
	})
	return token.SignedString(key)
}

func (inv *Invite) verifyProof(secret, proof, subject string, publicKey []byte) error {
	key, err := inv.signingKey(secret)
	if err != nil {
		return err
	}
	defer crypto.Zero(key)
	var claims inviteClaims
	_, err = jwt.ParseWithClaims(proof, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return apperr.Wrap(apperr.VerificationError, err)
	}
	if claims.Subject != subject || string(claims.PublicKey) != string(publicKey) || claims.Purpose != inv.Purpose {
		return apperr.New(apperr.VerificationError, "proof does not match identity")
	}
	return nil
}

// Accept is called by the invitee. It verifies the org's proof with
// the secret received out of band, then attaches the invitee's own
// proof. Fails with VERIFICATION_ERROR on a wrong secret.
func (inv *Invite) Accept(acc *account.Account, secret string) error {
	if inv.Expired() {
		return apperr.New(apperr.VerificationError, "invite has expired")
	}
	if err := inv.verifyProof(secret, inv.Org.Proof, inv.Org.ID, inv.Org.PublicKey); err != nil {
		return err
	}
	proof, err := inv.proof(secret, acc.ID, acc.PublicKey)
	if err != nil {
		return err
	}
	info := acc.Info()
	inv.Invitee = &InviteParty{
		ID:        info.ID,
		Name:      info.Name,
		Email:     info.Email,
		PublicKey: info.PublicKey,
		Proof:     proof,
	}
	inv.Accepted = true
	return nil
}

// VerifyInvitee is called by an org admin before adding the member. The
// secret is recovered from the invite's sealed copy using the org
// invites key.
func (o *Org) VerifyInvitee(inv *Invite) error {
	if !o.Unlocked() {
		return apperr.New(apperr.MissingAccess, "org is locked")
	}
	if inv.Invitee == nil {
		return apperr.New(apperr.VerificationError, "invite not accepted yet")
	}
	if err := inv.Simple.Unlock(o.invitesKey); err != nil {
		return err
	}
	raw, err := inv.GetData()
	if err != nil {
		return err
	}
	defer crypto.Zero(raw)
	return inv.verifyProof(string(raw), inv.Invitee.Proof, inv.Invitee.ID, inv.Invitee.PublicKey)
}
