package account

import (
	"github.com/padloc/padloc-sub004/internal/crypto"
)

// Auth is the per-email authentication record kept by the server: the
// SRP verifier and the parameters the client needs to re-derive the
// authentication secret. The verifier cannot be used to log in.
type Auth struct {
	Email     string              `json:"email"`
	Account   string              `json:"account"`
	Verifier  []byte              `json:"verifier"`
	KeyParams crypto.PBKDF2Params `json:"keyParams"`
}

func NewAuth(email string) *Auth {
	return &Auth{Email: email, KeyParams: crypto.DefaultPBKDF2Params()}
}

func (a *Auth) Kind() string      { return "auth" }
func (a *Auth) StorageID() string { return a.Email }

// GetAuthKey derives the SRP secret x from the password. The salt is
// generated on first use and persisted with the record.
func (a *Auth) GetAuthKey(password string) ([]byte, error) {
	if len(a.KeyParams.Salt) == 0 {
		salt, err := crypto.Std.RandomBytes(16)
		if err != nil {
			return nil, err
		}
		a.KeyParams.Salt = salt
	}
	return crypto.Std.DeriveKey([]byte(password), a.KeyParams)
}
