package container

import (
	"encoding/base64"
	"encoding/json"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

// legacyContainer is the 1.x/2.x on-disk shape: AES-CCM with a
// PBKDF2-derived key, all binary fields base64 encoded (url-safe
// variants included, so decoding is lenient).
type legacyContainer struct {
	Version *int   `json:"version,omitempty"`
	Cipher  string `json:"cipher"`
	Mode    string `json:"mode"`
	IV      string `json:"iv"`
	Adata   string `json:"adata"`
	TS      int    `json:"ts"`
	KeySize int    `json:"keySize"`
	Salt    string `json:"salt"`
	Iter    int    `json:"iter"`
	CT      string `json:"ct"`
}

func (l *legacyContainer) validate() error {
	if l.Version != nil && *l.Version != 1 {
		return apperr.New(apperr.EncodingError, "unsupported legacy container version")
	}
	switch l.KeySize {
	case 128, 192, 256:
	default:
		return apperr.New(apperr.EncodingError, "invalid legacy key size")
	}
	if l.Iter < 1 || l.Iter > crypto.PBKDF2IterMax {
		return apperr.New(apperr.InvalidKeyParams, "legacy iteration count out of range")
	}
	if l.Cipher != "aes" || l.Mode != "ccm" {
		return apperr.New(apperr.EncodingError, "unsupported legacy cipher")
	}
	switch l.TS {
	case 64, 96, 128:
	default:
		return apperr.New(apperr.EncodingError, "invalid legacy tag size")
	}
	return nil
}

// ParseLegacy converts a legacy container blob into a PBES2 container
// that decrypts with the same password.
//
// Version-less containers carry a historical bug: the base64 encoded
// additional data was fed to the cipher as a raw string rather than
// decoded first. To decrypt those, the ASCII bytes of the base64 text
// are used as the AAD verbatim.
func ParseLegacy(raw []byte) (*PBES2, error) {
	var l legacyContainer
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, apperr.Wrap(apperr.EncodingError, err)
	}
	if err := l.validate(); err != nil {
		return nil, err
	}

	iv, err := legacyB64(l.IV)
	if err != nil {
		return nil, err
	}
	ct, err := legacyB64(l.CT)
	if err != nil {
		return nil, err
	}
	salt, err := legacyB64(l.Salt)
	if err != nil {
		return nil, err
	}

	var aad []byte
	if l.Version == nil {
		aad = []byte(l.Adata)
	} else {
		if aad, err = legacyB64(l.Adata); err != nil {
			return nil, err
		}
	}

	return &PBES2{
		Base: Base{
			EncryptionParams: crypto.AESParams{
				Algorithm:      crypto.AlgorithmAESCCM,
				TagSize:        l.TS,
				KeySize:        l.KeySize,
				IV:             iv,
				AdditionalData: aad,
			},
			EncryptedData: ct,
		},
		KeyParams: crypto.PBKDF2Params{
			Algorithm:  crypto.AlgorithmPBKDF2,
			Hash:       crypto.HashSHA256,
			KeySize:    l.KeySize,
			Iterations: l.Iter,
			Salt:       salt,
		},
	}, nil
}

func legacyB64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, apperr.New(apperr.EncodingError, "invalid base64 value")
}
