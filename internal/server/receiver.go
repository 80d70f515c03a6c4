package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/attachment"
	"github.com/padloc/padloc-sub004/internal/org"
	"github.com/padloc/padloc-sub004/internal/session"
	"github.com/padloc/padloc-sub004/internal/storage"
	"github.com/padloc/padloc-sub004/internal/transport"
	"github.com/padloc/padloc-sub004/internal/vault"
)

// handler executes one method. Params arrive as raw JSON; the result is
// marshaled into the response.
type handler struct {
	authenticated bool
	fn            func(ctx context.Context, auth Context, params json.RawMessage) (interface{}, error)
}

type emailParams struct {
	Email string `json:"email"`
}

type emailCodeParams struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type idParams struct {
	ID string `json:"id"`
}

type attachmentRefParams struct {
	Vault string `json:"vault"`
	ID    string `json:"id"`
}

func (c *Controller) handlers() map[string]handler {
	return map[string]handler{
		"requestEmailVerification": {fn: func(ctx context.Context, _ Context, raw json.RawMessage) (interface{}, error) {
			var p emailParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return nil, c.RequestEmailVerification(ctx, p.Email)
		}},
		"completeEmailVerification": {fn: func(ctx context.Context, _ Context, raw json.RawMessage) (interface{}, error) {
			var p emailCodeParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.CompleteEmailVerification(ctx, p.Email, p.Code)
		}},
		"createAccount": {fn: func(ctx context.Context, _ Context, raw json.RawMessage) (interface{}, error) {
			var p CreateAccountParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.CreateAccount(ctx, p)
		}},
		"recoverAccount": {fn: func(ctx context.Context, _ Context, raw json.RawMessage) (interface{}, error) {
			var p RecoverAccountParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.RecoverAccount(ctx, p)
		}},
		"initAuth": {fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p emailParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.InitAuth(ctx, p.Email, auth.Device)
		}},
		"createSession": {fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p CreateSessionParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			if p.Device == nil {
				p.Device = auth.Device
			}
			return c.CreateSession(ctx, p)
		}},

		"revokeSession": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p idParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return nil, c.RevokeSession(ctx, auth, p.ID)
		}},
		"getAccount": {authenticated: true, fn: func(ctx context.Context, auth Context, _ json.RawMessage) (interface{}, error) {
			return c.GetAccount(ctx, auth)
		}},
		"updateAccount": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var acc account.Account
			if err := json.Unmarshal(raw, &acc); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.UpdateAccount(ctx, auth, &acc)
		}},
		"createOrg": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var o org.Org
			if err := json.Unmarshal(raw, &o); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.CreateOrg(ctx, auth, &o)
		}},
		"getOrg": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p idParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.GetOrg(ctx, auth, p.ID)
		}},
		"updateOrg": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var o org.Org
			if err := json.Unmarshal(raw, &o); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.UpdateOrg(ctx, auth, &o)
		}},
		"deleteOrg": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p idParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return nil, c.DeleteOrg(ctx, auth, p.ID)
		}},
		"createVault": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var v vault.Vault
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.CreateVault(ctx, auth, &v)
		}},
		"getVault": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p idParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.GetVault(ctx, auth, p.ID)
		}},
		"updateVault": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var v vault.Vault
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.UpdateVault(ctx, auth, &v)
		}},
		"deleteVault": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p idParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return nil, c.DeleteVault(ctx, auth, p.ID)
		}},
		"createAttachment": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var a attachment.Attachment
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.CreateAttachment(ctx, auth, &a)
		}},
		"getAttachment": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p attachmentRefParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return c.GetAttachment(ctx, auth, p.Vault, p.ID)
		}},
		"deleteAttachment": {authenticated: true, fn: func(ctx context.Context, auth Context, raw json.RawMessage) (interface{}, error) {
			var p attachmentRefParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, err)
			}
			return nil, c.DeleteAttachment(ctx, auth, p.Vault, p.ID)
		}},
	}
}

// Receive dispatches one request. Authenticated methods require a valid
// signature; the response is signed with the same session so clients
// can verify it came from the holder of the session key.
func (c *Controller) Receive(ctx context.Context, req *transport.Request) *transport.Response {
	start := time.Now()
	defer func() {
		c.metrics.requests.WithLabelValues(req.Method).Inc()
		c.metrics.durations.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}()

	h, ok := c.methods[req.Method]
	if !ok {
		return errResponse(apperr.New(apperr.InvalidRequest, "unknown method: "+req.Method))
	}

	auth := Context{Device: req.Device}
	if h.authenticated {
		sess, err := c.verifyRequest(ctx, req)
		if err != nil {
			c.metrics.errors.WithLabelValues(string(apperr.CodeOf(err))).Inc()
			return errResponse(err)
		}
		acc, err := c.loadAccount(ctx, sess.Account)
		if err != nil {
			return errResponse(c.fail(req.Method, err))
		}
		auth.Session = sess
		auth.Account = acc

		sess.LastUsed = time.Now().UTC()
		if err := c.storage.Save(ctx, sess); err != nil {
			return errResponse(c.fail(req.Method, err))
		}
	}

	result, err := h.fn(ctx, auth, req.Params)
	if err != nil {
		return errResponse(err)
	}
	res := &transport.Response{}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return errResponse(c.fail(req.Method, err))
		}
		res.Result = raw
	}
	if auth.Session != nil {
		if err := auth.Session.AuthenticateResponse(res); err != nil {
			return errResponse(c.fail(req.Method, err))
		}
	}
	return res
}

// verifyRequest resolves the request's session and checks freshness and
// signature. A stale timestamp and a bad signature are reported as
// distinct errors so clients can retry the former.
func (c *Controller) verifyRequest(ctx context.Context, req *transport.Request) (*session.Session, error) {
	if req.Auth == nil {
		return nil, apperr.New(apperr.InvalidSession)
	}
	sess := &session.Session{ID: req.Auth.Session}
	if err := c.storage.Get(ctx, sess); err != nil {
		if err == storage.ErrNotFound {
			return nil, apperr.New(apperr.InvalidSession)
		}
		return nil, err
	}
	if sess.Expired() {
		return nil, apperr.New(apperr.SessionExpired)
	}
	signed, err := time.Parse(time.RFC3339Nano, req.Auth.Time)
	if err != nil {
		return nil, apperr.New(apperr.InvalidSession)
	}
	if time.Since(signed) > c.cfg.MaxRequestAge {
		return nil, apperr.New(apperr.MaxRequestAgeExceeded, "request timestamp too old")
	}
	sess.MaxAge = c.cfg.MaxRequestAge
	if !sess.Verify(req) {
		return nil, apperr.New(apperr.InvalidSession)
	}
	return sess, nil
}

func errResponse(err error) *transport.Response {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.New(apperr.ServerError)
	}
	return &transport.Response{Error: &transport.Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}}
}
