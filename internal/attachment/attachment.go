// Package attachment implements encrypted file attachments. The
// attachment key is random per attachment and travels inside the owning
// item's envelope, so vault access implies attachment access and key
// rotation of the vault covers attachments for free.
package attachment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/container"
	"github.com/padloc/padloc-sub004/internal/crypto"
	"github.com/padloc/padloc-sub004/internal/item"
	"github.com/padloc/padloc-sub004/internal/storage"
)

// Attachment is one encrypted file. Vault and ID locate the ciphertext
// in the blob store; the metadata rides in the object store.
type Attachment struct {
	container.Simple

	ID      string    `json:"id"`
	Vault   string    `json:"vault"`
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

func (a *Attachment) Kind() string      { return "attachment" }
func (a *Attachment) StorageID() string { return a.Vault + "_" + a.ID }

// New creates an attachment with a fresh random key and encrypts the
// given content. The returned info, including the key, belongs in the
// owning item.
func New(vaultID, name, mediaType string, content []byte) (*Attachment, item.AttachmentInfo, error) {
	a := &Attachment{
		Simple:  *container.NewSimple(),
		ID:      uuid.NewString(),
		Vault:   vaultID,
		Name:    name,
		Type:    mediaType,
		Size:    int64(len(content)),
		Created: time.Now().UTC(),
	}
	key, err := crypto.Std.GenerateAESKey(a.EncryptionParams.KeySize)
	if err != nil {
		return nil, item.AttachmentInfo{}, err
	}
	if err := a.Unlock(key); err != nil {
		return nil, item.AttachmentInfo{}, err
	}
	if err := a.SetData(content); err != nil {
		return nil, item.AttachmentInfo{}, err
	}
	info := item.AttachmentInfo{
		ID:   a.ID,
		Name: name,
		Type: mediaType,
		Size: a.Size,
		Key:  key,
	}
	return a, info, nil
}

// Open decrypts the attachment with the key from the owning item.
func (a *Attachment) Open(info item.AttachmentInfo) ([]byte, error) {
	if info.ID != a.ID {
		return nil, apperr.New(apperr.BadRequest, "key belongs to a different attachment")
	}
	if err := a.Unlock(info.Key); err != nil {
		return nil, err
	}
	return a.GetData()
}

// Store holds attachment metadata in the object store and ciphertext
// in the blob store, and tracks used bytes per vault for quota
// accounting.
type Store struct {
	Objects storage.Storage
	Blobs   storage.BlobStore
}

func (s *Store) Put(ctx context.Context, a *Attachment) error {
	meta := *a
	body := a.EncryptedData
	// The blob is stored out of band, not duplicated in the metadata.
	meta.EncryptedData = nil
	if err := s.Objects.Save(ctx, &meta); err != nil {
		return err
	}
	return s.Blobs.Put(ctx, a.StorageID(), body)
}

func (s *Store) Get(ctx context.Context, vaultID, id string) (*Attachment, error) {
	a := &Attachment{ID: id, Vault: vaultID}
	if err := s.Objects.Get(ctx, a); err != nil {
		if err == storage.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "no such attachment")
		}
		return nil, err
	}
	body, err := s.Blobs.Get(ctx, a.StorageID())
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "attachment body missing")
		}
		return nil, err
	}
	a.EncryptedData = body
	return a, nil
}

func (s *Store) Delete(ctx context.Context, vaultID, id string) error {
	a := &Attachment{ID: id, Vault: vaultID}
	if err := s.Objects.Delete(ctx, a); err != nil {
		return err
	}
	return s.Blobs.Delete(ctx, a.StorageID())
}

// DeleteAll removes every attachment belonging to a vault, used when
// the vault itself goes away.
func (s *Store) DeleteAll(ctx context.Context, vaultID string) error {
	raws, err := s.Objects.List(ctx, "attachment")
	if err != nil {
		return err
	}
	for _, raw := range raws {
		var a Attachment
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		if a.Vault != vaultID {
			continue
		}
		if err := s.Delete(ctx, vaultID, a.ID); err != nil && err != storage.ErrNotFound {
			return err
		}
	}
	return nil
}

// UsedStorage sums the sizes of all attachments in the given vaults.
func (s *Store) UsedStorage(ctx context.Context, vaultIDs ...string) (int64, error) {
	raws, err := s.Objects.List(ctx, "attachment")
	if err != nil {
		return 0, err
	}
	vaults := make(map[string]bool, len(vaultIDs))
	for _, id := range vaultIDs {
		vaults[id] = true
	}
	var total int64
	for _, raw := range raws {
		var a Attachment
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		if vaults[a.Vault] {
			total += a.Size
		}
	}
	return total, nil
}
