package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification kind constants — one per lifecycle transition that notifies.
const (
	NotifySubmission   = "submission"
	NotifyApproval     = "approval"
	NotifyRejection    = "rejection"
	NotifyCancellation = "cancellation"
)

// Notification records the outcome of a single delivery attempt. One row per
// dispatcher invocation — failures are recorded, never retried here.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Recipient string    `gorm:"type:varchar(255);not null" json:"recipient"`
	Kind      string    `gorm:"type:varchar(20);not null;index" json:"kind"`
	Delivered bool      `gorm:"not null" json:"delivered"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
