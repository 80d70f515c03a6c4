package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/attachment"
	"github.com/padloc/padloc-sub004/internal/vault"
)

// CreateAttachment stores an encrypted attachment. The caller needs
// write access to the owning vault and the owner's storage quota must
// cover the new blob.
func (c *Controller) CreateAttachment(ctx context.Context, auth Context, att *attachment.Attachment) (*attachment.Attachment, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("createAttachment", err)
	}
	if att == nil || att.Vault == "" || len(att.EncryptedData) == 0 {
		return nil, c.fail("createAttachment", apperr.New(apperr.BadRequest, "vault and content required"))
	}
	v, err := c.loadVault(ctx, att.Vault)
	if err != nil {
		return nil, c.fail("createAttachment", err)
	}
	if err := c.checkVaultAccess(ctx, auth, v, true); err != nil {
		return nil, c.fail("createAttachment", err)
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	att.Size = int64(len(att.EncryptedData))

	if err := c.checkStorageQuota(ctx, v, att.Size); err != nil {
		return nil, c.fail("createAttachment", err)
	}
	if err := c.attachments.Put(ctx, att); err != nil {
		return nil, c.fail("createAttachment", err)
	}
	if err := c.updateUsedStorage(ctx, v); err != nil {
		return nil, c.fail("createAttachment", err)
	}
	return att, nil
}

// GetAttachment returns an attachment to a caller with read access to
// its vault.
func (c *Controller) GetAttachment(ctx context.Context, auth Context, vaultID, id string) (*attachment.Attachment, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("getAttachment", err)
	}
	v, err := c.loadVault(ctx, vaultID)
	if err != nil {
		return nil, c.fail("getAttachment", err)
	}
	if err := c.checkVaultAccess(ctx, auth, v, false); err != nil {
		return nil, c.fail("getAttachment", err)
	}
	att, err := c.attachments.Get(ctx, vaultID, id)
	if err != nil {
		return nil, c.fail("getAttachment", err)
	}
	return att, nil
}

// DeleteAttachment removes an attachment. Requires write access to the
// vault.
func (c *Controller) DeleteAttachment(ctx context.Context, auth Context, vaultID, id string) error {
	if err := c.requireAuth(auth); err != nil {
		return c.fail("deleteAttachment", err)
	}
	v, err := c.loadVault(ctx, vaultID)
	if err != nil {
		return c.fail("deleteAttachment", err)
	}
	if err := c.checkVaultAccess(ctx, auth, v, true); err != nil {
		return c.fail("deleteAttachment", err)
	}
	if err := c.attachments.Delete(ctx, vaultID, id); err != nil {
		return c.fail("deleteAttachment", err)
	}
	if err := c.updateUsedStorage(ctx, v); err != nil {
		return c.fail("deleteAttachment", err)
	}
	return nil
}

// quotaVaults returns every vault id counted against the quota of the
// vault's owner, be that an account or an org.
func (c *Controller) quotaVaults(ctx context.Context, v *vault.Vault) ([]string, int64, error) {
	if v.Org == "" {
		acc, err := c.loadAccount(ctx, v.Owner)
		if err != nil {
			return nil, 0, err
		}
		return []string{v.ID}, acc.Quota.Storage, nil
	}
	o, err := c.loadOrg(ctx, v.Org)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(o.Vaults))
	for _, info := range o.Vaults {
		ids = append(ids, info.ID)
	}
	return ids, o.Quota.Storage, nil
}

func (c *Controller) checkStorageQuota(ctx context.Context, v *vault.Vault, added int64) error {
	ids, limit, err := c.quotaVaults(ctx, v)
	if err != nil {
		return err
	}
	if limit < 0 {
		return nil
	}
	used, err := c.attachments.UsedStorage(ctx, ids...)
	if err != nil {
		return err
	}
	if used+added > limit {
		return apperr.New(apperr.StorageQuotaExceeded)
	}
	return nil
}

// updateUsedStorage refreshes the owner's usage counter after a blob
// was added or removed.
func (c *Controller) updateUsedStorage(ctx context.Context, v *vault.Vault) error {
	ids, _, err := c.quotaVaults(ctx, v)
	if err != nil {
		return err
	}
	used, err := c.attachments.UsedStorage(ctx, ids...)
	if err != nil {
		return err
	}
	if v.Org == "" {
		unlock := c.locks.lock("account:" + v.Owner)
		defer unlock()
		acc, err := c.loadAccount(ctx, v.Owner)
		if err != nil {
			return err
		}
		acc.UsedStorage = used
		return c.storage.Save(ctx, acc)
	}
	unlock := c.locks.lock("org:" + v.Org)
	defer unlock()
	o, err := c.loadOrg(ctx, v.Org)
	if err != nil {
		return err
	}
	o.UsedStorage = used
	return c.storage.Save(ctx, o)
}
