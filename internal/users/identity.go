package users

import (
	"strings"
	"time"
)

// Identity maps a login email to the canonical owner id that partitions
// all bookmark rows and the change feed.
type Identity struct {
	Email      string    `gorm:"column:email;primaryKey;size:320;not null"`
	OwnerID    string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
}

// TableName exposes the table backing owner identities.
func (Identity) TableName() string {
	return "owner_identities"
}

// normalizeEmail lowercases and trims a login email so the same mailbox
// always resolves to the same identity row.
func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
