package models

import (
	"time"

	"github.com/lib/pq"
)

// ContentItem is the engine's view of a piece of content awaiting
// publication: the attributes workflow scope filters match against, plus the
// denormalized approval status mirror the transition engine keeps current.
type ContentItem struct {
	ID             string         `json:"id" db:"id"`
	OwnerID        string         `json:"owner_id" db:"owner_id"`
	Platforms      pq.StringArray `json:"platforms" db:"platforms"`
	Tags           pq.StringArray `json:"tags" db:"tags"`
	ApprovalStatus string         `json:"approval_status" db:"approval_status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}
