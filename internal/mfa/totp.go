package mfa

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/padloc/padloc-sub004/internal/crypto"
)

const (
	totpStep   = 30 * time.Second
	totpDigits = 6
	// 160-bit secret
	totpSecretSize = 20
)

// GenerateTOTPSecret returns a fresh base32 encoded shared secret.
func GenerateTOTPSecret() (string, error) {
	secret, err := crypto.Std.RandomBytes(totpSecretSize)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// VerifyTOTP checks a code against the secret, allowing one time step
// of clock skew in either direction.
func VerifyTOTP(code, secret string, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false
	}
	secretBytes, err := decodeTOTPSecret(secret)
	if err != nil {
		return false
	}
	defer crypto.Zero(secretBytes)

	counter := when.Unix() / int64(totpStep/time.Second)
	for i := int64(-1); i <= 1; i++ {
		cur := counter + i
		if cur < 0 {
			continue
		}
		if totpCode(secretBytes, uint64(cur)) == code {
			return true
		}
	}
	return false
}

// TOTPProvisionURI renders the otpauth URI encoded in enrollment QR
// codes.
func TOTPProvisionURI(account, issuer, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		url.PathEscape(issuer), url.PathEscape(account), secret, url.QueryEscape(issuer),
		totpDigits, int(totpStep/time.Second))
}

func totpCode(secret []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", totpDigits, trunc%1000000)
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
}
