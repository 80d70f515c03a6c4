package server

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/audit"
	"github.com/padloc/padloc-sub004/internal/messenger"
	"github.com/padloc/padloc-sub004/internal/org"
	"github.com/padloc/padloc-sub004/internal/storage"
)

// CreateOrg registers a new organization owned by the caller. The org
// arrives fully initialized client side; the server only assigns
// identity, quota and bookkeeping.
func (c *Controller) CreateOrg(ctx context.Context, auth Context, o *org.Org) (*org.Org, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("createOrg", err)
	}
	if o == nil || o.Name == "" {
		return nil, c.fail("createOrg", apperr.New(apperr.BadRequest, "org name required"))
	}

	unlock := c.locks.lock("account:" + auth.Account.ID)
	defer unlock()

	acc, err := c.loadAccount(ctx, auth.Account.ID)
	if err != nil {
		return nil, c.fail("createOrg", err)
	}
	if len(acc.Orgs) >= c.cfg.MaxOrgsPerAccount {
		return nil, c.fail("createOrg", apperr.New(apperr.OrgQuotaExceeded))
	}

	now := time.Now().UTC()
	o.ID = uuid.NewString()
	o.Owner = acc.ID
	o.Created = now
	o.Updated = now
	o.Revision = uuid.NewString()
	o.Quota = c.cfg.OrgQuota
	o.Frozen = false
	o.UsedStorage = 0

	if err := c.storage.Save(ctx, o); err != nil {
		return nil, c.fail("createOrg", err)
	}
	acc.Orgs = append(acc.Orgs, o.ID)
	acc.Revision = uuid.NewString()
	acc.Updated = now
	if err := c.storage.Save(ctx, acc); err != nil {
		return nil, c.fail("createOrg", err)
	}
	c.audit.Record(audit.EventOrgCreated, acc.ID, o.ID)
	c.logger.Printf("org created id=%s owner=%s", o.ID, acc.ID)
	return o, nil
}

// GetOrg returns an org to one of its members.
func (c *Controller) GetOrg(ctx context.Context, auth Context, id string) (*org.Org, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("getOrg", err)
	}
	o, err := c.loadOrg(ctx, id)
	if err != nil {
		return nil, c.fail("getOrg", err)
	}
	if _, ok := o.Member(auth.Account.ID); !ok {
		return nil, c.fail("getOrg", apperr.New(apperr.InsufficientPermissions))
	}
	return o, nil
}

// UpdateOrg applies a client-side change to an org. Admins may change
// anything except server-owned fields; regular members are limited to
// responding to their own invites. Membership changes fan out
// notifications and audit events.
func (c *Controller) UpdateOrg(ctx context.Context, auth Context, upd *org.Org) (*org.Org, error) {
	if err := c.requireAuth(auth); err != nil {
		return nil, c.fail("updateOrg", err)
	}
	unlock := c.locks.lock("org:" + upd.ID)
	defer unlock()

	stored, err := c.loadOrg(ctx, upd.ID)
	if err != nil {
		return nil, c.fail("updateOrg", err)
	}
	if upd.Revision != stored.Revision {
		return nil, c.fail("updateOrg", apperr.New(apperr.OutdatedRevision))
	}
	if stored.Frozen {
		c.audit.Record(audit.EventFrozenWrite, auth.Account.ID, stored.ID)
		return nil, c.fail("updateOrg", apperr.New(apperr.OrgFrozen))
	}

	// The owner passes before the first membership update lands, when
	// the member list is still empty.
	accID := auth.Account.ID
	if accID != stored.Owner && !stored.IsAdmin(accID) {
		if err := verifyInviteOnlyChange(stored, upd, auth); err != nil {
			return nil, c.fail("updateOrg", err)
		}
	} else {
		// Negative quota values mean unlimited.
		if q := stored.Quota.Members; q >= 0 && len(upd.Members) > q {
			return nil, c.fail("updateOrg", apperr.New(apperr.MemberQuotaExceeded))
		}
		if q := stored.Quota.Groups; q >= 0 && len(upd.Groups) > q {
			return nil, c.fail("updateOrg", apperr.New(apperr.GroupQuotaExceeded))
		}
		if q := stored.Quota.Vaults; q >= 0 && len(upd.Vaults) > q {
			return nil, c.fail("updateOrg", apperr.New(apperr.VaultQuotaExceeded))
		}
	}

	// Server-owned fields are never taken from the client.
	upd.Owner = stored.Owner
	upd.Created = stored.Created
	upd.Quota = stored.Quota
	upd.Frozen = stored.Frozen
	upd.UsedStorage = stored.UsedStorage
	upd.Revision = uuid.NewString()
	upd.Updated = time.Now().UTC()

	if err := c.storage.Save(ctx, upd); err != nil {
		return nil, c.fail("updateOrg", err)
	}
	c.notifyOrgChanges(stored, upd, accID)
	return upd, nil
}

// DeleteOrg removes an org and all of its vaults. Owner only.
func (c *Controller) DeleteOrg(ctx context.Context, auth Context, id string) error {
	if err := c.requireAuth(auth); err != nil {
		return c.fail("deleteOrg", err)
	}
	unlock := c.locks.lock("org:" + id)
	defer unlock()

	o, err := c.loadOrg(ctx, id)
	if err != nil {
		return c.fail("deleteOrg", err)
	}
	if o.Owner != auth.Account.ID {
		return c.fail("deleteOrg", apperr.New(apperr.InsufficientPermissions))
	}
	for _, v := range o.Vaults {
		if err := c.deleteVaultRecord(ctx, v.ID); err != nil {
			return c.fail("deleteOrg", err)
		}
	}
	if err := c.storage.Delete(ctx, o); err != nil {
		return c.fail("deleteOrg", err)
	}
	c.logger.Printf("org deleted id=%s", id)
	return nil
}

func (c *Controller) loadOrg(ctx context.Context, id string) (*org.Org, error) {
	o := &org.Org{ID: id}
	if err := c.storage.Get(ctx, o); err != nil {
		if err == storage.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "no such org")
		}
		return nil, err
	}
	return o, nil
}

// verifyInviteOnlyChange checks that a non-admin update touches nothing
// but invites addressed to the caller.
func verifyInviteOnlyChange(stored, upd *org.Org, auth Context) error {
	a, err := orgWithoutInvites(stored)
	if err != nil {
		return err
	}
	b, err := orgWithoutInvites(upd)
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return apperr.New(apperr.InsufficientPermissions)
	}
	if len(upd.Invites) != len(stored.Invites) {
		return apperr.New(apperr.InsufficientPermissions)
	}
	for i, inv := range upd.Invites {
		before, err := json.Marshal(stored.Invites[i])
		if err != nil {
			return err
		}
		after, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		if bytes.Equal(before, after) {
			continue
		}
		if inv.Email != auth.Account.Email {
			return apperr.New(apperr.InsufficientPermissions)
		}
	}
	return nil
}

func orgWithoutInvites(o *org.Org) ([]byte, error) {
	clone := *o
	clone.Invites = nil
	clone.Revision = ""
	clone.Updated = time.Time{}
	return json.Marshal(&clone)
}

// notifyOrgChanges compares membership before and after an update and
// sends the appropriate mail and audit events. Delivery failures are
// logged, never fatal.
func (c *Controller) notifyOrgChanges(before, after *org.Org, actor string) {
	prevMembers := make(map[string]bool, len(before.Members))
	for _, m := range before.Members {
		prevMembers[m.ID] = true
	}
	nextMembers := make(map[string]bool, len(after.Members))
	for _, m := range after.Members {
		nextMembers[m.ID] = true
		if prevMembers[m.ID] {
			continue
		}
		c.audit.Record(audit.EventMemberAdded, actor, after.ID+":"+m.ID)
		if err := c.messenger.Send(m.Email, messenger.MemberAdded(after.Name)); err != nil {
			c.logger.Printf("member notification failed org=%s: %v", after.ID, err)
		}
	}
	for _, m := range before.Members {
		if !nextMembers[m.ID] {
			c.audit.Record(audit.EventMemberRemoved, actor, after.ID+":"+m.ID)
		}
	}

	prevInvites := make(map[string]*org.Invite, len(before.Invites))
	for _, inv := range before.Invites {
		prevInvites[inv.ID] = inv
	}
	for _, inv := range after.Invites {
		old, existed := prevInvites[inv.ID]
		if !existed {
			c.audit.Record(audit.EventInviteCreated, actor, after.ID+":"+inv.ID)
			invitedBy := after.Name
			if inv.InvitedBy != nil {
				invitedBy = inv.InvitedBy.Name
			}
			if err := c.messenger.Send(inv.Email, messenger.InviteCreated(after.Name, invitedBy)); err != nil {
				c.logger.Printf("invite notification failed org=%s: %v", after.ID, err)
			}
			continue
		}
		if inv.Accepted && !old.Accepted {
			c.audit.Record(audit.EventInviteConfirmed, actor, after.ID+":"+inv.ID)
			if inv.InvitedBy != nil && inv.InvitedBy.Email != "" {
				if err := c.messenger.Send(inv.InvitedBy.Email, messenger.InviteAccepted(after.Name, inv.Email)); err != nil {
					c.logger.Printf("invite notification failed org=%s: %v", after.ID, err)
				}
			}
		}
	}
}
