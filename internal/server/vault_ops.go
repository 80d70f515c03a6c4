package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/audit"
	"github.com/padloc/padloc-sub004/internal/org"
	"github.com/padloc/padloc-sub004/internal/storage"
	"github.com/padloc/padloc-sub004/internal/vault"
)

// CreateVault adds a shared vault to an org. Requires admin privileges.
func (c *Controller) CreateVault(ctx context.Context, auth Context, v *vault.Vault) (*vault.Vault, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("createVault", err)
	}
	if v == nil || v.Org == "" || v.Name == "" {
		return nil, c.fail("createVault", apperr.New(apperr.BadRequest, "org and name required"))
	}
	unlock := c.locks.lock("org:" + v.Org)
	defer unlock()

	o, err := c.loadOrg(ctx, v.Org)
	if err != nil {
		return nil, c.fail("createVault", err)
	}
	if o.Owner != auth.Account.ID && !o.IsAdmin(auth.Account.ID) {
		return nil, c.fail("createVault", apperr.New(apperr.InsufficientPermissions))
	}
	if o.Frozen {
		c.audit.Record(audit.EventFrozenWrite, auth.Account.ID, o.ID)
		return nil, c.fail("createVault", apperr.New(apperr.OrgFrozen))
	}
	if o.Quota.Vaults >= 0 && len(o.Vaults) >= o.Quota.Vaults {
		return nil, c.fail("createVault", apperr.New(apperr.VaultQuotaExceeded))
	}

	now := time.Now().UTC()
	v.ID = uuid.NewString()
	v.Owner = ""
	v.Revision = uuid.NewString()
	v.Created = now
	v.Updated = now

	if err := c.storage.Save(ctx, v); err != nil {
		return nil, c.fail("createVault", err)
	}
	o.AddVault(org.VaultInfo{ID: v.ID, Name: v.Name})
	o.Revision = uuid.NewString()
	o.Updated = now
	if err := c.storage.Save(ctx, o); err != nil {
		return nil, c.fail("createVault", err)
	}
	c.audit.Record(audit.EventVaultCreated, auth.Account.ID, v.ID)
	c.logger.Printf("vault created id=%s org=%s", v.ID, o.ID)
	return v, nil
}

// GetVault returns a vault the caller may read: their own main vault or
// an org vault they have a read grant for.
func (c *Controller) GetVault(ctx context.Context, auth Context, id string) (*vault.Vault, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("getVault", err)
	}
	v, err := c.loadVault(ctx, id)
	if err != nil {
		return nil, c.fail("getVault", err)
	}
	if err := c.checkVaultAccess(ctx, auth, v, false); err != nil {
		return nil, c.fail("getVault", err)
	}
	return v, nil
}

// UpdateVault replaces a vault's encrypted contents. The submitted
// revision must match the stored one; the caller needs write access.
func (c *Controller) UpdateVault(ctx context.Context, auth Context, upd *vault.Vault) (*vault.Vault, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("updateVault", err)
	}
	unlock := c.locks.lock("vault:" + upd.ID)
	defer unlock()

	stored, err := c.loadVault(ctx, upd.ID)
	if err != nil {
		return nil, c.fail("updateVault", err)
	}
	if err := c.checkVaultAccess(ctx, auth, stored, true); err != nil {
		return nil, c.fail("updateVault", err)
	}
	if upd.Revision != stored.Revision {
		return nil, c.fail("updateVault", apperr.New(apperr.OutdatedRevision))
	}

	upd.Org = stored.Org
	upd.Owner = stored.Owner
	upd.Created = stored.Created
	upd.Revision = uuid.NewString()
	upd.Updated = time.Now().UTC()

	if err := c.storage.Save(ctx, upd); err != nil {
		return nil, c.fail("updateVault", err)
	}
	return upd, nil
}

// DeleteVault removes an org vault and its attachments. Main vaults
// cannot be deleted. Requires admin privileges.
func (c *Controller) DeleteVault(ctx context.Context, auth Context, id string) error {
	if err := c.requireAuth(auth); err != nil {
		return c.fail("deleteVault", err)
	}
	v, err := c.loadVault(ctx, id)
	if err != nil {
		return c.fail("deleteVault", err)
	}
	if v.Org == "" {
		return c.fail("deleteVault", apperr.New(apperr.BadRequest, "main vaults cannot be deleted"))
	}
	unlock := c.locks.lock("org:" + v.Org)
	defer unlock()

	o, err := c.loadOrg(ctx, v.Org)
	if err != nil {
		return c.fail("deleteVault", err)
	}
	if o.Owner != auth.Account.ID && !o.IsAdmin(auth.Account.ID) {
		return c.fail("deleteVault", apperr.New(apperr.InsufficientPermissions))
	}
	if err := c.deleteVaultRecord(ctx, id); err != nil {
		return c.fail("deleteVault", err)
	}
	o.RemoveVault(id)
	o.Revision = uuid.NewString()
	o.Updated = time.Now().UTC()
	if err := c.storage.Save(ctx, o); err != nil {
		return c.fail("deleteVault", err)
	}
	c.audit.Record(audit.EventVaultDeleted, auth.Account.ID, id)
	return nil
}

// deleteVaultRecord drops a vault object together with its attachments.
func (c *Controller) deleteVaultRecord(ctx context.Context, id string) error {
	if err := c.attachments.DeleteAll(ctx, id); err != nil {
		return err
	}
	v := &vault.Vault{ID: id}
	if err := c.storage.Delete(ctx, v); err != nil && err != storage.ErrNotFound {
		return err
	}
	return nil
}

func (c *Controller) loadVault(ctx context.Context, id string) (*vault.Vault, error) {
	v := &vault.Vault{ID: id}
	if err := c.storage.Get(ctx, v); err != nil {
		if err == storage.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "no such vault")
		}
		return nil, err
	}
	return v, nil
}

// checkVaultAccess decides whether the caller may read or write the
// vault. Main vaults belong to exactly one account; org vaults follow
// the org's grants.
func (c *Controller) checkVaultAccess(ctx context.Context, auth Context, v *vault.Vault, write bool) error {
	if v.Org == "" {
		if v.Owner != auth.Account.ID {
			return apperr.New(apperr.InsufficientPermissions)
		}
		return nil
	}
	o, err := c.loadOrg(ctx, v.Org)
	if err != nil {
		return err
	}
	if o.Owner == auth.Account.ID {
		if write && o.Frozen {
			c.audit.Record(audit.EventFrozenWrite, auth.Account.ID, o.ID)
			return apperr.New(apperr.OrgFrozen)
		}
		return nil
	}
	if write {
		if o.Frozen {
			c.audit.Record(audit.EventFrozenWrite, auth.Account.ID, o.ID)
			return apperr.New(apperr.OrgFrozen)
		}
		if !o.CanWrite(v.ID, auth.Account.ID) {
			return apperr.New(apperr.InsufficientPermissions)
		}
		return nil
	}
	if !o.CanRead(v.ID, auth.Account.ID) {
		return apperr.New(apperr.InsufficientPermissions)
	}
	return nil
}
