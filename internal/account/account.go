// Package account implements user identities. An account's private key
// and org signing key are sealed in a password-derived container, so
// the server only ever sees them encrypted.
package account

import (
	"encoding/json"
	"time"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/container"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

// Quota caps per-account resources. A negative value means unlimited.
type Quota struct {
	Items   int   `json:"items"`
	Storage int64 `json:"storage"`
}

// secrets is the plaintext sealed inside the account container.
type secrets struct {
	PrivateKey []byte   `json:"privateKey"`
	SigningKey []byte   `json:"signingKey"`
	Favorites  []string `json:"favorites,omitempty"`
}

// Account is a registered user. PublicKey is world readable; the
// matching private key and the org signing key only exist in memory
// while the account is unlocked.
type Account struct {
	container.PBES2

	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	PublicKey   []byte    `json:"publicKey"`
	MainVault   string    `json:"mainVault"`
	Orgs        []string  `json:"orgs"`
	Revision    string    `json:"revision"`
	Quota       Quota     `json:"quota"`
	UsedStorage int64     `json:"usedStorage"`

	privateKey []byte
	signingKey []byte
	favorites  []string
}

func (a *Account) Kind() string      { return "account" }
func (a *Account) StorageID() string { return a.ID }

// Initialize generates the account's key pair and signing key and seals
// them under the given password.
func (a *Account) Initialize(password string) error {
	pair, err := crypto.Std.GenerateKeyPair()
	if err != nil {
		return err
	}
	signingKey, err := crypto.Std.GenerateHMACKey(256)
	if err != nil {
		return err
	}
	a.PublicKey = pair.Public
	a.privateKey = pair.Private
	a.signingKey = signingKey
	a.PBES2 = *container.NewPBES2()
	return a.commitSecrets(password)
}

// SetPassword re-seals the secrets under a new password. The account
// must be unlocked.
func (a *Account) SetPassword(password string) error {
	if a.Locked() {
		return apperr.New(apperr.MissingAccess, "account is locked")
	}
	a.PBES2 = *container.NewPBES2()
	return a.commitSecrets(password)
}

func (a *Account) commitSecrets(password string) error {
	if err := a.PBES2.Unlock(password); err != nil {
		return err
	}
	raw, err := json.Marshal(secrets{
		PrivateKey: a.privateKey,
		SigningKey: a.signingKey,
		Favorites:  a.favorites,
	})
	if err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	defer crypto.Zero(raw)
	return a.SetData(raw)
}

// Unlock decrypts the account secrets with the master password.
func (a *Account) Unlock(password string) error {
	if err := a.PBES2.Unlock(password); err != nil {
		return err
	}
	return a.loadSecrets()
}

// UnlockWithMasterKey decrypts the secrets with the already derived
// master key, used when the key is cached across app restarts.
func (a *Account) UnlockWithMasterKey(key []byte) error {
	if err := a.UnlockWithKey(key); err != nil {
		return err
	}
	return a.loadSecrets()
}

func (a *Account) loadSecrets() error {
	raw, err := a.GetData()
	if err != nil {
		return err
	}
	defer crypto.Zero(raw)
	var s secrets
	if err := json.Unmarshal(raw, &s); err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	a.privateKey = s.PrivateKey
	a.signingKey = s.SigningKey
	a.favorites = s.Favorites
	return nil
}

// Lock zeroes the decrypted secrets and the derived key.
func (a *Account) Lock() {
	a.PBES2.Lock()
	crypto.Zero(a.privateKey)
	crypto.Zero(a.signingKey)
	a.privateKey = nil
	a.signingKey = nil
	a.favorites = nil
}

// Locked reports whether the secrets are currently inaccessible.
func (a *Account) Locked() bool { return a.privateKey == nil }

// PrivateKey returns the decrypted private key, or nil when locked.
func (a *Account) PrivateKey() []byte { return a.privateKey }

// Favorites returns the ids of items marked as favorites.
func (a *Account) Favorites() []string { return a.favorites }

// ToggleFavorite adds or removes an item id from the favorites list.
func (a *Account) ToggleFavorite(id string, favorite bool) {
	for i, f := range a.favorites {
		if f == id {
			if !favorite {
				a.favorites = append(a.favorites[:i], a.favorites[i+1:]...)
			}
			return
		}
	}
	if favorite {
		a.favorites = append(a.favorites, id)
	}
}

// SignOrg signs an org's identity with the account's secret signing
// key, binding the org id to its public key. Verifying the signature
// later detects a server that swapped the org key pair.
func (a *Account) SignOrg(id string, publicKey []byte) ([]byte, error) {
	if a.Locked() {
		return nil, apperr.New(apperr.MissingAccess, "account is locked")
	}
	return crypto.Std.SignHMAC(a.signingKey, orgMessage(id, publicKey), crypto.DefaultHMACParams())
}

// VerifyOrg checks a signature produced by SignOrg.
func (a *Account) VerifyOrg(id string, publicKey, signature []byte) error {
	if a.Locked() {
		return apperr.New(apperr.MissingAccess, "account is locked")
	}
	ok, err := crypto.Std.VerifyHMAC(a.signingKey, signature, orgMessage(id, publicKey), crypto.DefaultHMACParams())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.VerificationError, "org signature does not match")
	}
	return nil
}

func orgMessage(id string, publicKey []byte) []byte {
	msg := make([]byte, 0, len(id)+1+len(publicKey))
	msg = append(msg, id...)
	msg = append(msg, 0)
	msg = append(msg, publicKey...)
	return msg
}

// Info returns a copy without container data, for embedding in member
// listings and session info.
type Info struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	PublicKey []byte `json:"publicKey"`
}

func (a *Account) Info() Info {
	return Info{ID: a.ID, Email: a.Email, Name: a.Name, PublicKey: a.PublicKey}
}
