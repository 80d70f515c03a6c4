// Package apperr defines the coded error taxonomy shared between the
// client, the server controller and the wire protocol. Codes are stable
// strings; messages attached to credential and crypto errors are
// deliberately uniform so that responses leak nothing about which half of
// a check failed.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	// Credential / identity
	InvalidCredentials   Code = "invalid_credentials"
	AuthenticationFailed Code = "authentication_failed"
	AccountExists        Code = "account_exists"
	MFARequired          Code = "mfa_required"
	MFAFailed            Code = "mfa_failed"
	MFATriesExceeded     Code = "mfa_tries_exceeded"

	// Session
	InvalidSession        Code = "invalid_session"
	SessionExpired        Code = "session_expired"
	MaxRequestAgeExceeded Code = "max_request_age_exceeded"

	// Concurrency / state
	OutdatedRevision Code = "outdated_revision"
	OrgFrozen        Code = "org_frozen"

	// Authorization
	InsufficientPermissions Code = "insufficient_permissions"
	VerificationError       Code = "verification_error"

	// Resource limits
	ItemQuotaExceeded    Code = "item_quota_exceeded"
	StorageQuotaExceeded Code = "storage_quota_exceeded"
	MemberQuotaExceeded  Code = "member_quota_exceeded"
	GroupQuotaExceeded   Code = "group_quota_exceeded"
	VaultQuotaExceeded   Code = "vault_quota_exceeded"
	OrgQuotaExceeded     Code = "org_quota_exceeded"
	RateLimitExceeded    Code = "rate_limit_exceeded"

	// Data integrity
	EncryptionFailed        Code = "encryption_failed"
	DecryptionFailed        Code = "decryption_failed"
	EncodingError           Code = "encoding_error"
	InvalidEncryptionParams Code = "invalid_encryption_params"
	InvalidKeyParams        Code = "invalid_key_params"
	MissingAccess           Code = "missing_access"
	NotFound                Code = "not_found"

	// Generic
	NotSupported   Code = "not_supported"
	BadRequest     Code = "bad_request"
	InvalidRequest Code = "invalid_request"
	ServerError    Code = "server_error"
	ClientError    Code = "client_error"
)

// Default client-visible messages. Anything not listed falls back to the
// code itself so callers never accidentally ship internal detail.
var messages = map[Code]string{
	InvalidCredentials: "username or password incorrect",
	AccountExists:      "an account with this email address already exists",
	DecryptionFailed:   "decryption failed",
	EncryptionFailed:   "encryption failed",
	OutdatedRevision:   "object has been changed by someone else, please merge and retry",
	OrgFrozen:          "this organization is currently frozen",
	ServerError:        "something went wrong while processing your request",
}

type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the default message for code, or msg if given.
func New(code Code, msg ...string) *Error {
	m := messages[code]
	if len(msg) > 0 {
		m = msg[0]
	}
	return &Error{Code: code, Message: m}
}

// Wrap attaches code to an underlying error. The cause is preserved for
// server-side logging but is not part of the client-visible message.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: messages[code], cause: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the error code from err, defaulting to ServerError for
// errors that did not originate from this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ServerError
}
