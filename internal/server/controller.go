// Package server implements the authorization and persistence side of
// the platform. All content reaching it is end-to-end encrypted; the
// controller's job is deciding who may read and write which objects,
// never touching plaintext.
package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/attachment"
	"github.com/padloc/padloc-sub004/internal/audit"
	"github.com/padloc/padloc-sub004/internal/messenger"
	"github.com/padloc/padloc-sub004/internal/session"
	"github.com/padloc/padloc-sub004/internal/storage"
	"github.com/padloc/padloc-sub004/internal/transport"
)

// Context identifies the authenticated caller of one request. Zero
// value means unauthenticated.
type Context struct {
	Session *session.Session
	Account *account.Account
	Device  *transport.DeviceInfo
}

// Controller implements every server-side operation. It is stateless
// per request; shared state lives in the stores and the handshake and
// lock tables.
type Controller struct {
	cfg         Config
	logger      *log.Logger
	storage     storage.Storage
	attachments *attachment.Store
	messenger   messenger.Messenger
	audit       *audit.Log
	metrics     *metrics
	pending     *pendingAuthStore
	locks       *keyedLocks

	rlEmail  *multiLimiter
	rlDevice *multiLimiter

	methods map[string]handler
}

func New(cfg Config, store storage.Storage, blobs storage.BlobStore, msgr messenger.Messenger, logger *log.Logger, reg prometheus.Registerer) *Controller {
	cfg.setDefaults()
	c := &Controller{
		cfg:         cfg,
		logger:      logger,
		storage:     store,
		attachments: &attachment.Store{Objects: store, Blobs: blobs},
		messenger:   msgr,
		audit:       audit.New(),
		metrics:     newMetrics(reg),
		pending:     newPendingAuthStore(cfg.PendingAuthTTL),
		locks:       newKeyedLocks(),
		rlEmail:     newMultiLimiter(perWindow(5, time.Minute), 5, time.Hour),
		rlDevice:    newMultiLimiter(perWindow(10, time.Minute), 10, time.Hour),
	}
	c.methods = c.handlers()
	return c
}

// Audit exposes the event log, mainly for operational tooling.
func (c *Controller) Audit() *audit.Log { return c.audit }

// fail normalizes an operation error: expected application errors pass
// through, anything else is logged, reported to the operator and
// returned as a generic server error.
func (c *Controller) fail(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.metrics.errors.WithLabelValues(string(appErr.Code)).Inc()
		return err
	}
	c.metrics.errors.WithLabelValues(string(apperr.ServerError)).Inc()
	c.logger.Printf("op=%s unexpected error: %v", op, err)
	if c.cfg.OperatorEmail != "" {
		go func() {
			if serr := c.messenger.Send(c.cfg.OperatorEmail, messenger.ErrorReport(op, err)); serr != nil {
				c.logger.Printf("op=%s error report delivery failed: %v", op, serr)
			}
		}()
	}
	return apperr.Wrap(apperr.ServerError, err)
}

func (c *Controller) requireAuth(auth Context) error {
	if auth.Session == nil || auth.Account == nil {
		return apperr.New(apperr.InvalidSession)
	}
	if auth.Session.Expired() {
		return apperr.New(apperr.SessionExpired)
	}
	return nil
}

func (c *Controller) loadAccount(ctx context.Context, id string) (*account.Account, error) {
	acc := &account.Account{ID: id}
	if err := c.storage.Get(ctx, acc); err != nil {
		if err == storage.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "no such account")
		}
		return nil, err
	}
	return acc, nil
}
