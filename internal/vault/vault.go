// Package vault implements encrypted item collections. A vault is a
// shared container whose plaintext is the serialized collection, so the
// server stores and syncs vaults without ever seeing an item.
package vault

import (
	"time"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/container"
	"github.com/padloc/padloc-sub004/internal/crypto"
	"github.com/padloc/padloc-sub004/internal/item"
)

// Vault is one encrypted item collection. Org is empty for an
// account's main vault; Owner is set instead. Revision changes on every
// server-side write and drives conflict detection.
type Vault struct {
	container.Shared

	ID       string    `json:"id"`
	Org      string    `json:"org,omitempty"`
	Owner    string    `json:"owner,omitempty"`
	Name     string    `json:"name"`
	Revision string    `json:"revision"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`

	// Items is populated after Unlock and flushed back into the
	// container by Commit. Never serialized in plaintext.
	Items *item.Collection `json:"-"`
}

func New(id, name string) *Vault {
	return &Vault{
		Shared: *container.NewShared(),
		ID:     id,
		Name:   name,
		Items:  item.NewCollection(),
	}
}

func (v *Vault) Kind() string      { return "vault" }
func (v *Vault) StorageID() string { return v.ID }

// Label identifies the vault in log output.
func (v *Vault) Label() string {
	if v.Org != "" {
		return v.Org + "/" + v.Name
	}
	return v.Name
}

// Unlock recovers the vault key and loads the item collection. A vault
// that has never been committed starts out empty.
func (v *Vault) Unlock(access container.Access) error {
	if err := v.Shared.Unlock(access); err != nil {
		return err
	}
	if v.EncryptedData == nil {
		v.Items = item.NewCollection()
		return nil
	}
	raw, err := v.GetData()
	if err != nil {
		return err
	}
	defer crypto.Zero(raw)
	items := item.NewCollection()
	if err := items.UnmarshalJSON(raw); err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	v.Items = items
	return nil
}

// Commit serializes the item collection back into the container. Must
// be called before the vault is saved or synced.
func (v *Vault) Commit() error {
	if v.Items == nil {
		return apperr.New(apperr.MissingAccess, "vault is locked")
	}
	raw, err := v.Items.MarshalJSON()
	if err != nil {
		return apperr.Wrap(apperr.EncodingError, err)
	}
	defer crypto.Zero(raw)
	if err := v.SetData(raw); err != nil {
		return err
	}
	v.Updated = time.Now().UTC()
	return nil
}

// Merge consolidates a remote copy of the same vault into this one and
// adopts the remote revision. Both copies must be unlocked.
func (v *Vault) Merge(remote *Vault) error {
	if v.Items == nil || remote.Items == nil {
		return apperr.New(apperr.MissingAccess, "vault is locked")
	}
	if remote.ID != v.ID {
		return apperr.New(apperr.BadRequest, "cannot merge different vaults")
	}
	v.Items.Merge(remote.Items)
	v.Revision = remote.Revision
	v.Name = remote.Name
	return nil
}

// Lock drops the key and the decrypted items.
func (v *Vault) Lock() {
	v.Shared.Lock()
	v.Items = nil
}
