// Package crypto defines the capability interface through which the rest
// of the engine consumes cryptographic primitives, along with the
// parameter types that travel inside persisted containers. The provider
// implementation lives in stdprovider.go; nothing outside this package
// touches a primitive directly.
package crypto

import (
	"github.com/padloc/padloc-sub004/internal/apperr"
)

const (
	// Default number of PBKDF2 iterations for newly derived keys.
	PBKDF2IterDefault = 100_000
	// Upper bound for iteration counts accepted from deserialized
	// params. Anything above this is treated as malicious or garbage.
	PBKDF2IterMax = 10_000_000
)

const (
	AlgorithmAESGCM  = "AES-GCM"
	AlgorithmAESCCM  = "AES-CCM"
	AlgorithmPBKDF2  = "PBKDF2"
	AlgorithmRSAOAEP = "RSA-OAEP"
	AlgorithmRSAPSS  = "RSA-PSS"
	AlgorithmHMAC    = "HMAC"
	HashSHA256       = "SHA-256"
	HashSHA1         = "SHA-1"
)

// AESParams describes an authenticated symmetric encryption operation.
// Sizes are in bits to match the persisted container format.
type AESParams struct {
	Algorithm      string `json:"algorithm"`
	TagSize        int    `json:"tagSize"`
	KeySize        int    `json:"keySize"`
	IV             []byte `json:"iv"`
	AdditionalData []byte `json:"additionalData"`
}

// PBKDF2Params describes a password-based key derivation.
type PBKDF2Params struct {
	Algorithm  string `json:"algorithm"`
	Hash       string `json:"hash"`
	KeySize    int    `json:"keySize"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
}

// RSAEncryptionParams describes asymmetric key wrapping.
type RSAEncryptionParams struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

// RSASigningParams describes asymmetric signing. SaltLength is in bytes.
type RSASigningParams struct {
	Algorithm  string `json:"algorithm"`
	Hash       string `json:"hash"`
	SaltLength int    `json:"saltLength"`
}

// HMACParams describes symmetric signing.
type HMACParams struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
	KeySize   int    `json:"keySize"`
}

// HashParams selects a digest algorithm.
type HashParams struct {
	Algorithm string `json:"algorithm"`
}

// KeyPair holds a DER-encoded RSA key pair (PKIX public, PKCS#8 private).
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Provider is the primitive-operation capability the engine depends on.
// Implementations may be hardware backed; callers treat every operation
// as fallible and never cache derived material beyond the lifetime of
// the owning object.
type Provider interface {
	RandomBytes(n int) ([]byte, error)
	Hash(data []byte, params HashParams) ([]byte, error)

	GenerateAESKey(keySize int) ([]byte, error)
	GenerateHMACKey(keySize int) ([]byte, error)
	GenerateKeyPair() (KeyPair, error)

	DeriveKey(password []byte, params PBKDF2Params) ([]byte, error)

	Encrypt(key, plaintext []byte, params AESParams) ([]byte, error)
	Decrypt(key, ciphertext []byte, params AESParams) ([]byte, error)

	WrapKey(publicKey, key []byte, params RSAEncryptionParams) ([]byte, error)
	UnwrapKey(privateKey, wrapped []byte, params RSAEncryptionParams) ([]byte, error)

	SignHMAC(key, data []byte, params HMACParams) ([]byte, error)
	VerifyHMAC(key, signature, data []byte, params HMACParams) (bool, error)
	SignRSA(privateKey, data []byte, params RSASigningParams) ([]byte, error)
	VerifyRSA(publicKey, signature, data []byte, params RSASigningParams) (bool, error)

	Fingerprint(publicKey []byte) ([]byte, error)
}

// Std is the provider used throughout the engine. Tests may swap it for a
// deterministic implementation.
var Std Provider = StdProvider{}

func DefaultAESParams() AESParams {
	return AESParams{
		Algorithm: AlgorithmAESGCM,
		TagSize:   128,
		KeySize:   256,
	}
}

func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Algorithm:  AlgorithmPBKDF2,
		Hash:       HashSHA256,
		KeySize:    256,
		Iterations: PBKDF2IterDefault,
	}
}

func DefaultRSAEncryptionParams() RSAEncryptionParams {
	return RSAEncryptionParams{Algorithm: AlgorithmRSAOAEP, Hash: HashSHA256}
}

func DefaultRSASigningParams() RSASigningParams {
	return RSASigningParams{Algorithm: AlgorithmRSAPSS, Hash: HashSHA256, SaltLength: 32}
}

func DefaultHMACParams() HMACParams {
	return HMACParams{Algorithm: AlgorithmHMAC, Hash: HashSHA256, KeySize: 256}
}

// ValidateAESParams rejects malformed encryption params before any
// deserialized container is trusted.
func ValidateAESParams(p AESParams) error {
	if p.Algorithm != AlgorithmAESGCM && p.Algorithm != AlgorithmAESCCM {
		return apperr.New(apperr.InvalidEncryptionParams, "unknown cipher algorithm")
	}
	switch p.TagSize {
	case 64, 96, 128:
	default:
		return apperr.New(apperr.InvalidEncryptionParams, "invalid tag size")
	}
	switch p.KeySize {
	case 128, 192, 256:
	default:
		return apperr.New(apperr.InvalidEncryptionParams, "invalid key size")
	}
	return nil
}

// ValidatePBKDF2Params rejects malformed or hostile key derivation
// params, in particular absurd iteration counts.
func ValidatePBKDF2Params(p PBKDF2Params) error {
	if p.Algorithm != AlgorithmPBKDF2 {
		return apperr.New(apperr.InvalidKeyParams, "unknown key derivation algorithm")
	}
	if p.Hash != HashSHA256 && p.Hash != "SHA-512" {
		return apperr.New(apperr.InvalidKeyParams, "unknown key derivation hash")
	}
	if p.Iterations < 1 || p.Iterations > PBKDF2IterMax {
		return apperr.New(apperr.InvalidKeyParams, "iteration count out of range")
	}
	switch p.KeySize {
	case 128, 192, 256, 512:
	default:
		return apperr.New(apperr.InvalidKeyParams, "invalid derived key size")
	}
	if len(p.Salt) == 0 {
		return apperr.New(apperr.InvalidKeyParams, "missing salt")
	}
	return nil
}
