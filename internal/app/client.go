package app

import (
	"context"
	"encoding/json"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/apperr"
	"github.com/padloc/padloc-sub004/internal/attachment"
	"github.com/padloc/padloc-sub004/internal/org"
	"github.com/padloc/padloc-sub004/internal/server"
	"github.com/padloc/padloc-sub004/internal/session"
	"github.com/padloc/padloc-sub004/internal/transport"
	"github.com/padloc/padloc-sub004/internal/vault"
)

// Client is the typed API surface over a transport.Sender. Once a
// session is attached, every request is signed and every response
// signature verified.
type Client struct {
	sender  transport.Sender
	device  *transport.DeviceInfo
	session *session.Session
}

func NewClient(sender transport.Sender, device *transport.DeviceInfo) *Client {
	return &Client{sender: sender, device: device}
}

// Session returns the attached session, if any.
func (c *Client) Session() *session.Session { return c.session }

// SetSession attaches or detaches the session used to sign requests.
func (c *Client) SetSession(s *session.Session) { c.session = s }

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	req := &transport.Request{Method: method, Device: c.device}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return apperr.Wrap(apperr.EncodingError, err)
		}
		req.Params = raw
	}
	if c.session != nil {
		if err := c.session.Authenticate(req); err != nil {
			return err
		}
	}
	res, err := c.sender.Send(ctx, req)
	if err != nil {
		return apperr.Wrap(apperr.ClientError, err)
	}
	if res.Error != nil {
		return apperr.New(apperr.Code(res.Error.Code), res.Error.Message)
	}
	if c.session != nil && !c.session.VerifyResponse(res) {
		return apperr.New(apperr.ClientError, "response signature did not verify")
	}
	if result != nil && res.Result != nil {
		if err := json.Unmarshal(res.Result, result); err != nil {
			return apperr.Wrap(apperr.EncodingError, err)
		}
	}
	return nil
}

func (c *Client) RequestEmailVerification(ctx context.Context, email string) error {
	return c.call(ctx, "requestEmailVerification", map[string]string{"email": email}, nil)
}

func (c *Client) CompleteEmailVerification(ctx context.Context, email, code string) (string, error) {
	var token string
	err := c.call(ctx, "completeEmailVerification", map[string]string{"email": email, "code": code}, &token)
	return token, err
}

func (c *Client) CreateAccount(ctx context.Context, p server.CreateAccountParams) (*account.Account, error) {
	acc := &account.Account{}
	if err := c.call(ctx, "createAccount", p, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (c *Client) RecoverAccount(ctx context.Context, p server.RecoverAccountParams) (*account.Account, error) {
	acc := &account.Account{}
	if err := c.call(ctx, "recoverAccount", p, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (c *Client) InitAuth(ctx context.Context, email string) (*server.InitAuthResponse, error) {
	res := &server.InitAuthResponse{}
	if err := c.call(ctx, "initAuth", map[string]string{"email": email}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) CreateSession(ctx context.Context, p server.CreateSessionParams) (*server.CreateSessionResponse, error) {
	res := &server.CreateSessionResponse{}
	if err := c.call(ctx, "createSession", p, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) RevokeSession(ctx context.Context, id string) error {
	return c.call(ctx, "revokeSession", map[string]string{"id": id}, nil)
}

func (c *Client) GetAccount(ctx context.Context) (*account.Account, error) {
	acc := &account.Account{}
	if err := c.call(ctx, "getAccount", nil, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (c *Client) UpdateAccount(ctx context.Context, acc *account.Account) (*account.Account, error) {
	upd := &account.Account{}
	if err := c.call(ctx, "updateAccount", acc, upd); err != nil {
		return nil, err
	}
	return upd, nil
}

func (c *Client) CreateOrg(ctx context.Context, o *org.Org) (*org.Org, error) {
	res := &org.Org{}
	if err := c.call(ctx, "createOrg", o, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetOrg(ctx context.Context, id string) (*org.Org, error) {
	res := &org.Org{}
	if err := c.call(ctx, "getOrg", map[string]string{"id": id}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) UpdateOrg(ctx context.Context, o *org.Org) (*org.Org, error) {
	res := &org.Org{}
	if err := c.call(ctx, "updateOrg", o, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) DeleteOrg(ctx context.Context, id string) error {
	return c.call(ctx, "deleteOrg", map[string]string{"id": id}, nil)
}

func (c *Client) CreateVault(ctx context.Context, v *vault.Vault) (*vault.Vault, error) {
	res := &vault.Vault{}
	if err := c.call(ctx, "createVault", v, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetVault(ctx context.Context, id string) (*vault.Vault, error) {
	res := &vault.Vault{}
	if err := c.call(ctx, "getVault", map[string]string{"id": id}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) UpdateVault(ctx context.Context, v *vault.Vault) (*vault.Vault, error) {
	res := &vault.Vault{}
	if err := c.call(ctx, "updateVault", v, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) DeleteVault(ctx context.Context, id string) error {
	return c.call(ctx, "deleteVault", map[string]string{"id": id}, nil)
}

func (c *Client) CreateAttachment(ctx context.Context, a *attachment.Attachment) (*attachment.Attachment, error) {
	res := &attachment.Attachment{}
	if err := c.call(ctx, "createAttachment", a, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetAttachment(ctx context.Context, vaultID, id string) (*attachment.Attachment, error) {
	res := &attachment.Attachment{}
	if err := c.call(ctx, "getAttachment", map[string]string{"vault": vaultID, "id": id}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) DeleteAttachment(ctx context.Context, vaultID, id string) error {
	return c.call(ctx, "deleteAttachment", map[string]string{"vault": vaultID, "id": id}, nil)
}
