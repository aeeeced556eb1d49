package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TravelRequest status enum constants
const (
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// ValidStatus reports whether s is one of the five defined statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatus reports whether s permits no further transitions.
func TerminalStatus(s string) bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// TravelRequest represents a travel request moving through the approval workflow.
// Only drafts are field-mutable; pending requests await a decision by the
// assigned approver; approved/rejected/cancelled are terminal.
type TravelRequest struct {
	ID                   uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequesterID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester            *User           `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	ApproverID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"approver_id"`
	Approver             *User           `gorm:"foreignKey:ApproverID" json:"approver,omitempty"`
	Destination          string          `gorm:"type:varchar(255);not null" json:"destination"`
	DepartureDate        time.Time       `gorm:"type:date;not null" json:"departure_date"`
	ReturnDate           time.Time       `gorm:"type:date;not null" json:"return_date"`
	Purpose              string          `gorm:"type:text;not null" json:"purpose"`
	EstimatedBudget      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"estimated_budget"`
	TransportationMode   string          `gorm:"type:varchar(100)" json:"transportation_mode,omitempty"`
	AccommodationDetails string          `gorm:"type:text" json:"accommodation_details,omitempty"`
	AdditionalNotes      string          `gorm:"type:text" json:"additional_notes,omitempty"`
	Status               string          `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	ApprovalComments     string          `gorm:"type:text" json:"approval_comments,omitempty"`
	SubmittedAt          *time.Time      `json:"submitted_at,omitempty"`
	DecidedAt            *time.Time      `json:"decided_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
