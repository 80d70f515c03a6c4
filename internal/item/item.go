// Package item holds vault items and the revisioned collection used to
// consolidate edits made independently on multiple devices.
package item

import (
	"time"
)

type FieldType string

const (
	FieldUsername FieldType = "username"
	FieldPassword FieldType = "password"
	FieldURL      FieldType = "url"
	FieldEmail    FieldType = "email"
	FieldDate     FieldType = "date"
	FieldMonth    FieldType = "month"
	FieldCredit   FieldType = "credit"
	FieldPhone    FieldType = "phone"
	FieldTOTP     FieldType = "totp"
	FieldNote     FieldType = "note"
	FieldText     FieldType = "text"
)

// Field is a single named value of an item, e.g. a password or URL.
type Field struct {
	Name  string    `json:"name"`
	Value string    `json:"value"`
	Type  FieldType `json:"type"`
}

// AttachmentInfo references an attachment body stored separately. The
// attachment encryption key travels here, inside the item envelope.
type AttachmentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Key  []byte `json:"key"`
}

// Item is a single vault entry.
type Item struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Fields      []Field          `json:"fields"`
	Tags        []string         `json:"tags"`
	Updated     time.Time        `json:"updated"`
	UpdatedBy   string           `json:"updatedBy"`
	LastUsed    time.Time        `json:"lastUsed,omitempty"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}
