package crypto

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"hash"

	"golang.org/x/crypto/pbkdf2"

	"github.com/padloc/padloc-sub004/internal/apperr"
)

const rsaModulusBits = 2048

// StdProvider implements Provider on the Go standard library plus
// x/crypto. It is stateless and safe for concurrent use.
type StdProvider struct{}

func (StdProvider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, apperr.Wrap(apperr.ServerError, err)
	}
	return b, nil
}

func (StdProvider) Hash(data []byte, params HashParams) ([]byte, error) {
	switch params.Algorithm {
	case HashSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case HashSHA1:
		sum := sha1.Sum(data)
		return sum[:], nil
	default:
		return nil, apperr.New(apperr.NotSupported, "unsupported hash algorithm")
	}
}

func (p StdProvider) GenerateAESKey(keySize int) ([]byte, error) {
	switch keySize {
	case 128, 192, 256:
	default:
		return nil, apperr.New(apperr.InvalidKeyParams, "invalid AES key size")
	}
	return p.RandomBytes(keySize / 8)
}

func (p StdProvider) GenerateHMACKey(keySize int) ([]byte, error) {
	if keySize < 128 {
		return nil, apperr.New(apperr.InvalidKeyParams, "HMAC key too short")
	}
	return p.RandomBytes(keySize / 8)
}

func (StdProvider) GenerateKeyPair() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaModulusBits)
	if err != nil {
		return KeyPair{}, apperr.Wrap(apperr.ServerError, err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, apperr.Wrap(apperr.EncodingError, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, apperr.Wrap(apperr.EncodingError, err)
	}
	return KeyPair{Public: pubDER, Private: privDER}, nil
}

func (StdProvider) DeriveKey(password []byte, params PBKDF2Params) ([]byte, error) {
	if err := ValidatePBKDF2Params(params); err != nil {
		return nil, err
	}
	var h func() hash.Hash
	switch params.Hash {
	case HashSHA256:
		h = sha256.New
	case "SHA-512":
		h = sha512.New
	default:
		return nil, apperr.New(apperr.InvalidKeyParams, "unknown key derivation hash")
	}
	return pbkdf2.Key(password, params.Salt, params.Iterations, params.KeySize/8, h), nil
}

func (StdProvider) Encrypt(key, plaintext []byte, params AESParams) ([]byte, error) {
	if err := ValidateAESParams(params); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, err)
	}
	switch params.Algorithm {
	case AlgorithmAESGCM:
		aead, err := newGCM(block, params)
		if err != nil {
			return nil, err
		}
		return aead.Seal(nil, params.IV, plaintext, params.AdditionalData), nil
	case AlgorithmAESCCM:
		return ccmSeal(block, params.IV, plaintext, params.AdditionalData, params.TagSize/8)
	default:
		return nil, apperr.New(apperr.NotSupported, "unsupported cipher")
	}
}

func (StdProvider) Decrypt(key, ciphertext []byte, params AESParams) ([]byte, error) {
	if err := ValidateAESParams(params); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.DecryptionFailed, err)
	}
	switch params.Algorithm {
	case AlgorithmAESGCM:
		aead, err := newGCM(block, params)
		if err != nil {
			return nil, err
		}
		pt, err := aead.Open(nil, params.IV, ciphertext, params.AdditionalData)
		if err != nil {
			// No primitive detail crosses this boundary.
			return nil, apperr.New(apperr.DecryptionFailed)
		}
		return pt, nil
	case AlgorithmAESCCM:
		pt, err := ccmOpen(block, params.IV, ciphertext, params.AdditionalData, params.TagSize/8)
		if err != nil {
			return nil, apperr.New(apperr.DecryptionFailed)
		}
		return pt, nil
	default:
		return nil, apperr.New(apperr.NotSupported, "unsupported cipher")
	}
}

// newGCM builds an AEAD honoring the persisted tag size. GCM does not
// support 64 bit tags; those only occur in legacy CCM containers.
func newGCM(block cipher.Block, params AESParams) (cipher.AEAD, error) {
	if params.TagSize < 96 {
		return nil, apperr.New(apperr.InvalidEncryptionParams, "tag too short for GCM")
	}
	if len(params.IV) != 12 {
		return nil, apperr.New(apperr.InvalidEncryptionParams, "invalid GCM nonce length")
	}
	aead, err := cipher.NewGCMWithTagSize(block, params.TagSize/8)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidEncryptionParams, err)
	}
	return aead, nil
}

func (StdProvider) WrapKey(publicKey, key []byte, params RSAEncryptionParams) ([]byte, error) {
	if params.Algorithm != AlgorithmRSAOAEP {
		return nil, apperr.New(apperr.NotSupported, "unsupported key wrap algorithm")
	}
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, err)
	}
	return ct, nil
}

func (StdProvider) UnwrapKey(privateKey, wrapped []byte, params RSAEncryptionParams) ([]byte, error) {
	if params.Algorithm != AlgorithmRSAOAEP {
		return nil, apperr.New(apperr.NotSupported, "unsupported key wrap algorithm")
	}
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, apperr.New(apperr.DecryptionFailed)
	}
	return pt, nil
}

func (StdProvider) SignHMAC(key, data []byte, params HMACParams) ([]byte, error) {
	if params.Hash != HashSHA256 {
		return nil, apperr.New(apperr.NotSupported, "unsupported HMAC hash")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (p StdProvider) VerifyHMAC(key, signature, data []byte, params HMACParams) (bool, error) {
	expected, err := p.SignHMAC(key, data, params)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, signature), nil
}

func (StdProvider) SignRSA(privateKey, data []byte, params RSASigningParams) ([]byte, error) {
	if params.Algorithm != AlgorithmRSAPSS || params.Hash != HashSHA256 {
		return nil, apperr.New(apperr.NotSupported, "unsupported signing algorithm")
	}
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, priv, stdcrypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: params.SaltLength,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, err)
	}
	return sig, nil
}

func (StdProvider) VerifyRSA(publicKey, signature, data []byte, params RSASigningParams) (bool, error) {
	if params.Algorithm != AlgorithmRSAPSS || params.Hash != HashSHA256 {
		return false, apperr.New(apperr.NotSupported, "unsupported signing algorithm")
	}
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(data)
	err = rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], signature, &rsa.PSSOptions{
		SaltLength: params.SaltLength,
	})
	return err == nil, nil
}

func (StdProvider) Fingerprint(publicKey []byte) ([]byte, error) {
	sum := sha256.Sum256(publicKey)
	return sum[:], nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncodingError, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, apperr.New(apperr.EncodingError, "not an RSA public key")
	}
	return pub, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncodingError, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, apperr.New(apperr.EncodingError, "not an RSA private key")
	}
	return priv, nil
}
