package container

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/crypto"
)

// buildLegacyBlob produces a 1.x style container by encrypting with the
// same primitives the old clients used.
func buildLegacyBlob(t *testing.T, password, plaintext string, keySize int, versioned bool) []byte {
	t.Helper()
	salt := []byte("0123456789abcdef")
	iv := []byte("ccmnonce1234")
	iter := 1000

	params := crypto.PBKDF2Params{
		Algorithm:  crypto.AlgorithmPBKDF2,
		Hash:       crypto.HashSHA256,
		KeySize:    keySize,
		Iterations: iter,
		Salt:       salt,
	}
	key, err := crypto.Std.DeriveKey([]byte(password), params)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	adata := base64.StdEncoding.EncodeToString([]byte("legacy-adata"))
	enc := crypto.AESParams{
		Algorithm: crypto.AlgorithmAESCCM,
		TagSize:   64,
		KeySize:   keySize,
		IV:        iv,
	}
	if versioned {
		enc.AdditionalData = []byte("legacy-adata")
	} else {
		// The version-less format fed the base64 text to the cipher.
		enc.AdditionalData = []byte(adata)
	}
	ct, err := crypto.Std.Encrypt(key, []byte(plaintext), enc)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	l := legacyContainer{
		Cipher:  "aes",
		Mode:    "ccm",
		IV:      base64.StdEncoding.EncodeToString(iv),
		Adata:   adata,
		TS:      64,
		KeySize: keySize,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Iter:    iter,
		CT:      base64.StdEncoding.EncodeToString(ct),
	}
	if versioned {
		v := 1
		l.Version = &v
	}
	raw, err := json.Marshal(&l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestParseLegacyVersionless(t *testing.T) {
	raw := buildLegacyBlob(t, "old password", "imported secret", 256, false)
	c, err := ParseLegacy(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.Unlock("old password"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	got, err := c.GetData()
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if string(got) != "imported secret" {
		t.Fatalf("decrypted wrong data: %q", got)
	}
}

func TestParseLegacyVersioned(t *testing.T) {
	raw := buildLegacyBlob(t, "old password", "imported secret", 256, true)
	c, err := ParseLegacy(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.Unlock("old password"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got, _ := c.GetData(); string(got) != "imported secret" {
		t.Fatalf("decrypted wrong data: %q", got)
	}
}

func TestParseLegacyRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"bad cipher":     `{"cipher":"des","mode":"ccm","ts":64,"keySize":256,"iter":1000,"iv":"","adata":"","salt":"","ct":""}`,
		"bad iterations": `{"cipher":"aes","mode":"ccm","ts":64,"keySize":256,"iter":0,"iv":"","adata":"","salt":"","ct":""}`,
		"bad tag size":   `{"cipher":"aes","mode":"ccm","ts":60,"keySize":256,"iter":1000,"iv":"","adata":"","salt":"","ct":""}`,
	}
	for name, raw := range cases {
		if _, err := ParseLegacy([]byte(raw)); err == nil {
			t.Fatalf("%s: hostile container accepted", name)
		}
	}
}

// Old exports commonly used 128 bit keys; the import path must accept
// them end to end.
func TestParseLegacyKeySize128(t *testing.T) {
	raw := buildLegacyBlob(t, "old password", "small key secret", 128, false)
	c, err := ParseLegacy(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.Unlock("old password"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got, _ := c.GetData(); string(got) != "small key secret" {
		t.Fatalf("decrypted wrong data: %q", got)
	}
}

func TestParseLegacyMigration(t *testing.T) {
	raw := buildLegacyBlob(t, "old password", "migrate me", 256, false)
	c, err := ParseLegacy(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.Unlock("old password"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	data, err := c.GetData()
	if err != nil {
		t.Fatalf("get data: %v", err)
	}

	// Re-seal in the current format under a new password.
	fresh := NewPBES2()
	fresh.KeyParams.Iterations = 1000
	if err := fresh.Unlock("new password"); err != nil {
		t.Fatalf("unlock fresh: %v", err)
	}
	if err := fresh.SetData(data); err != nil {
		t.Fatalf("set data: %v", err)
	}

	reread := &PBES2{}
	out, _ := json.Marshal(fresh)
	if err := Unmarshal(out, reread); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := reread.Unlock("new password"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got, _ := reread.GetData(); string(got) != "migrate me" {
		t.Fatalf("migration lost data: %q", got)
	}
}

func TestLegacyB64Variants(t *testing.T) {
	for _, s := range []string{
		base64.StdEncoding.EncodeToString([]byte{0xfb, 0xff, 0x01}),
		base64.RawURLEncoding.EncodeToString([]byte{0xfb, 0xff, 0x01}),
	} {
		if _, err := legacyB64(s); err != nil {
			t.Fatalf("valid base64 rejected: %q", s)
		}
	}
	if _, err := legacyB64("!!!not base64!!!"); !apperr.Is(err, apperr.EncodingError) {
		t.Fatalf("garbage accepted")
	}
}
