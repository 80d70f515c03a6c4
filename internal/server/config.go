package server

import (
	"time"

	"github.com/padloc/padloc-sub004/internal/account"
	"github.com/padloc/padloc-sub004/internal/messenger"
	"github.com/padloc/padloc-sub004/internal/org"
)

// Config carries everything the controller needs to run. Zero values
// are filled in by setDefaults.
type Config struct {
	// OperatorEmail receives reports about unexpected server errors.
	// Empty disables reports.
	OperatorEmail string

	MongoURI    string
	MongoDB     string
	Collection  string
	PostgresDSN string
	BlobDir     string

	SMTP messenger.SMTPConfig

	// MaxRequestAge bounds how old a signed request may be.
	MaxRequestAge time.Duration

	// PendingAuthTTL bounds how long a started SRP handshake may take.
	PendingAuthTTL time.Duration

	// SessionTTL is how long a session stays valid without use.
	SessionTTL time.Duration

	AccountQuota account.Quota
	OrgQuota     org.Quota

	// MaxOrgsPerAccount caps how many orgs one account may own.
	MaxOrgsPerAccount int
}

func (c *Config) setDefaults() {
	if c.Collection == "" {
		c.Collection = "objects"
	}
	if c.MaxRequestAge <= 0 {
		c.MaxRequestAge = time.Hour
	}
	if c.PendingAuthTTL <= 0 {
		c.PendingAuthTTL = 5 * time.Minute
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * 24 * time.Hour
	}
	if c.AccountQuota == (account.Quota{}) {
		c.AccountQuota = account.Quota{Items: 50, Storage: 1 << 20}
	}
	if c.OrgQuota == (org.Quota{}) {
		c.OrgQuota = org.Quota{Members: 20, Groups: 10, Vaults: 20, Storage: 5 << 20}
	}
	if c.MaxOrgsPerAccount <= 0 {
		c.MaxOrgsPerAccount = 5
	}
	if c.SMTP.Security == "" {
		c.SMTP.Security = "starttls"
	}
}
