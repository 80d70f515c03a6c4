// Package mfa implements second factors: email verification codes and
// time-based one-time passwords.
package mfa

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

const (
	// CodeTries is how often a wrong code may be submitted before the
	// request burns.
	CodeTries = 3

	// CodeTTL is how long a verification code stays usable.
	CodeTTL = time.Hour
)

// EmailVerification is a pending proof of address ownership. The code
// goes out by mail; echoing it back yields a single-use token that
// authorizes account creation for that address.
type EmailVerification struct {
	Email   string    `json:"email"`
	Code    string    `json:"code"`
	Token   string    `json:"token"`
	Created time.Time `json:"created"`
	Tries   int       `json:"tries"`
}

func (v *EmailVerification) Kind() string      { return "emailverification" }
func (v *EmailVerification) StorageID() string { return v.Email }

// NewEmailVerification creates a pending verification with a fresh
// 6-digit code.
func NewEmailVerification(email string) (*EmailVerification, error) {
	raw, err := crypto.Std.RandomBytes(4)
	if err != nil {
		return nil, err
	}
	n := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	code := fmt.Sprintf("%06d", n%1000000)

	token, err := crypto.Std.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	return &EmailVerification{
		Email:   email,
		Code:    code,
		Token:   base64.RawURLEncoding.EncodeToString(token),
		Created: time.Now().UTC(),
	}, nil
}

// Expires returns when the code stops being usable.
func (v *EmailVerification) Expires() time.Time {
	return v.Created.Add(CodeTTL)
}

// Submit checks a code attempt. On success the token is returned; each
// failure consumes a try, and a burnt or expired request fails with
// MFA_TRIES_EXCEEDED / MFA_FAILED respectively.
func (v *EmailVerification) Submit(code string) (string, error) {
	if time.Now().After(v.Expires()) {
		return "", apperr.New(apperr.MFAFailed, "verification code expired")
	}
	if v.Tries >= CodeTries {
		return "", apperr.New(apperr.MFATriesExceeded)
	}
	if subtle.ConstantTimeCompare([]byte(v.Code), []byte(code)) != 1 {
		v.Tries++
		if v.Tries >= CodeTries {
			return "", apperr.New(apperr.MFATriesExceeded)
		}
		return "", apperr.New(apperr.MFAFailed, "incorrect verification code")
	}
	return v.Token, nil
}

// RedeemToken checks a previously issued token.
func (v *EmailVerification) RedeemToken(token string) error {
	if time.Now().After(v.Expires()) {
		return apperr.New(apperr.MFAFailed, "verification expired")
	}
	if subtle.ConstantTimeCompare([]byte(v.Token), []byte(token)) != 1 {
		return apperr.New(apperr.MFAFailed, "invalid verification token")
	}
	return nil
}

// NewRequestID returns a random identifier for MFA flows.
func NewRequestID() (string, error) {
	raw, err := crypto.Std.RandomBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
