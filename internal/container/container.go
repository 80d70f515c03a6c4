// Package container implements the encrypted-blob holders everything
// else is built from: a key supplied directly (Simple), derived from a
// password (PBES2), or wrapped per recipient with RSA (Shared). The
// three schemes share one base holder by composition.
package container

import (
	"encoding/json"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

const (
	gcmIVSize = 12
	aadSize   = 16
	saltSize  = 16
)

// Accessor records that a party can unwrap this container's symmetric
// key: the key, encrypted for that party's public key.
type Accessor struct {
	ID           string `json:"id"`
	PublicKey    []byte `json:"publicKey,omitempty"`
	EncryptedKey []byte `json:"encryptedKey"`
}

// Access is the credential used to unlock a Shared container.
type Access struct {
	ID         string
	PrivateKey []byte
}

// Subject is a party a Shared container's key gets wrapped for.
type Subject struct {
	ID        string
	PublicKey []byte
}

// Base holds encryption params and ciphertext. The symmetric key is
// runtime state only and never serialized.
type Base struct {
	EncryptionParams crypto.AESParams `json:"encryptionParams"`
	EncryptedData    []byte           `json:"encryptedData,omitempty"`

	key []byte
}

// SetData encrypts plaintext under the current key with a fresh IV and
// AAD. An IV is never reused for a given key.
func (b *Base) SetData(plaintext []byte) error {
	if b.key == nil {
		return apperr.New(apperr.MissingAccess)
	}
	iv, err := crypto.Std.RandomBytes(gcmIVSize)
	if err != nil {
		return err
	}
	aad, err := crypto.Std.RandomBytes(aadSize)
	if err != nil {
		return err
	}
	b.EncryptionParams.IV = iv
	b.EncryptionParams.AdditionalData = aad
	ct, err := crypto.Std.Encrypt(b.key, plaintext, b.EncryptionParams)
	if err != nil {
		return apperr.Wrap(apperr.EncryptionFailed, err)
	}
	b.EncryptedData = ct
	return nil
}

// GetData decrypts and returns the held plaintext.
func (b *Base) GetData() ([]byte, error) {
	if b.key == nil {
		return nil, apperr.New(apperr.MissingAccess)
	}
	if b.EncryptedData == nil {
		return nil, apperr.New(apperr.NotFound, "container holds no data")
	}
	return crypto.Std.Decrypt(b.key, b.EncryptedData, b.EncryptionParams)
}

// Unlocked reports whether the symmetric key is currently available.
func (b *Base) Unlocked() bool { return b.key != nil }

// Lock zeroes and drops the symmetric key.
func (b *Base) Lock() {
	crypto.Zero(b.key)
	b.key = nil
}

// Validate rejects malformed shapes before deserialized data is trusted.
func (b *Base) Validate() error {
	return crypto.ValidateAESParams(b.EncryptionParams)
}

// Simple is a container whose key is supplied directly by the caller,
// e.g. for attachments where the key travels inside the owning item.
type Simple struct {
	Base
}

func NewSimple() *Simple {
	return &Simple{Base{EncryptionParams: crypto.DefaultAESParams()}}
}

func (s *Simple) Unlock(key []byte) error {
	if len(key) != s.EncryptionParams.KeySize/8 {
		return apperr.New(apperr.InvalidKeyParams, "wrong key length")
	}
	s.key = append([]byte(nil), key...)
	return nil
}

// PBES2 derives its key from a password via PBKDF2. The salt is
// generated once and persisted so re-derivation is deterministic.
type PBES2 struct {
	Base
	KeyParams crypto.PBKDF2Params `json:"keyParams"`
}

func NewPBES2() *PBES2 {
	return &PBES2{
		Base:      Base{EncryptionParams: crypto.DefaultAESParams()},
		KeyParams: crypto.DefaultPBKDF2Params(),
	}
}

func (p *PBES2) Unlock(password string) error {
	if len(p.KeyParams.Salt) == 0 {
		salt, err := crypto.Std.RandomBytes(saltSize)
		if err != nil {
			return err
		}
		p.KeyParams.Salt = salt
	}
	key, err := crypto.Std.DeriveKey([]byte(password), p.KeyParams)
	if err != nil {
		return err
	}
	p.key = key
	return nil
}

// UnlockWithKey supplies the derived key directly, bypassing derivation.
func (p *PBES2) UnlockWithKey(key []byte) error {
	if len(key) != p.KeyParams.KeySize/8 {
		return apperr.New(apperr.InvalidKeyParams, "wrong key length")
	}
	p.key = append([]byte(nil), key...)
	return nil
}

// Key returns the currently held symmetric key, or nil when locked.
func (p *PBES2) Key() []byte { return p.key }

func (p *PBES2) Validate() error {
	if err := p.Base.Validate(); err != nil {
		return err
	}
	return crypto.ValidatePBKDF2Params(p.KeyParams)
}

// Shared is a container whose symmetric key is wrapped individually for
// every accessor's public key.
type Shared struct {
	Base
	KeyParams crypto.RSAEncryptionParams `json:"keyParams"`
	Accessors []Accessor                 `json:"accessors"`
}

func NewShared() *Shared {
	return &Shared{
		Base:      Base{EncryptionParams: crypto.DefaultAESParams()},
		KeyParams: crypto.DefaultRSAEncryptionParams(),
	}
}

// Accessor returns the accessor entry for id, if any.
func (s *Shared) Accessor(id string) (Accessor, bool) {
	for _, a := range s.Accessors {
		if a.ID == id {
			return a, true
		}
	}
	return Accessor{}, false
}

// Unlock recovers the symmetric key by unwrapping this party's accessor
// entry. A no-op if the container is already unlocked.
func (s *Shared) Unlock(access Access) error {
	if s.key != nil {
		return nil
	}
	a, ok := s.Accessor(access.ID)
	if !ok || len(a.EncryptedKey) == 0 {
		return apperr.New(apperr.MissingAccess)
	}
	key, err := crypto.Std.UnwrapKey(access.PrivateKey, a.EncryptedKey, s.KeyParams)
	if err != nil {
		return err
	}
	s.key = key
	return nil
}

// UpdateAccessors is the key rotation primitive. Existing data is
// decrypted with the old key, a fresh key is generated, the data is
// re-encrypted, and the new key is wrapped for every subject. A party
// omitted here cannot derive the new key from anything it retains.
func (s *Shared) UpdateAccessors(subjects []Subject) error {
	var plaintext []byte
	if s.EncryptedData != nil {
		var err error
		if plaintext, err = s.GetData(); err != nil {
			return err
		}
	}

	newKey, err := crypto.Std.GenerateAESKey(s.EncryptionParams.KeySize)
	if err != nil {
		return err
	}
	crypto.Zero(s.key)
	s.key = newKey

	if plaintext != nil {
		if err := s.SetData(plaintext); err != nil {
			return err
		}
		crypto.Zero(plaintext)
	}

	accessors := make([]Accessor, 0, len(subjects))
	for _, sub := range subjects {
		wrapped, err := crypto.Std.WrapKey(sub.PublicKey, s.key, s.KeyParams)
		if err != nil {
			return err
		}
		accessors = append(accessors, Accessor{
			ID:           sub.ID,
			PublicKey:    sub.PublicKey,
			EncryptedKey: wrapped,
		})
	}
	s.Accessors = accessors
	return nil
}

func (s *Shared) Validate() error {
	if err := s.Base.Validate(); err != nil {
		return err
	}
	if s.KeyParams.Algorithm != crypto.AlgorithmRSAOAEP {
		return apperr.New(apperr.InvalidEncryptionParams, "unknown key wrap algorithm")
	}
	for _, a := range s.Accessors {
		if a.ID == "" {
			return apperr.New(apperr.EncodingError, "accessor without id")
		}
	}
	return nil
}

// Unmarshal decodes raw JSON into dst and validates the result, so that
// malformed input is rejected at the boundary.
func Unmarshal(raw []byte, dst interface {
	Validate() error
}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	return dst.Validate()
}
