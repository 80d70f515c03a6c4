// Package transport defines the request/response envelope exchanged
// between client and server, independent of any concrete wire protocol.
package transport

import (
	"context"
	"encoding/json"
)

// DeviceInfo describes the client device a request originates from.
// It rides along on every request and is recorded against sessions.
type DeviceInfo struct {
	ID          string `json:"id"`
	Platform    string `json:"platform,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Description string `json:"description,omitempty"`
}

// Auth carries session authentication on a request or response: the
// session id, the time the message was signed, and the HMAC over
// id, time and body.
type Auth struct {
	Session   string `json:"session"`
	Time      string `json:"time"`
	Signature []byte `json:"signature"`
}

// Request is a single method invocation.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Auth   *Auth           `json:"auth,omitempty"`
	Device *DeviceInfo     `json:"device,omitempty"`
}

// Error is the serialized form of an application error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Response carries either a result or an error, never both.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Auth   *Auth           `json:"auth,omitempty"`
}

// Sender delivers a request to a server and returns its response.
// Transport failures surface as errors; application failures travel
// inside Response.Error.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Receiver handles a request on the server side.
type Receiver interface {
	Receive(ctx context.Context, req *Request) *Response
}

// DirectSender invokes a Receiver in-process. Used in tests and when
// client and server run in the same binary.
type DirectSender struct {
	Receiver Receiver
}

func (d *DirectSender) Send(ctx context.Context, req *Request) (*Response, error) {
	return d.Receiver.Receive(ctx, req), nil
}
