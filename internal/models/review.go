package models

import "time"

// ReviewModule identifies which portal module owns a review request.
type ReviewModule string

const (
	ReviewModuleHR        ReviewModule = "hr"
	ReviewModuleTransport ReviewModule = "transport"
)

// Valid reports whether the module is a defined enumerator.
func (m ReviewModule) Valid() bool {
	return m == ReviewModuleHR || m == ReviewModuleTransport
}

// ReviewStatus captures the simpler three-state machine used by HR and
// transport requests: pending, optionally in_progress, then approved or
// rejected (both terminal).
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusInProgress ReviewStatus = "in_progress"
	ReviewStatusApproved   ReviewStatus = "approved"
	ReviewStatusRejected   ReviewStatus = "rejected"
)

// Terminal reports whether the review status admits no further transitions.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusApproved || s == ReviewStatusRejected
}

// ReviewRequest stores an HR or transport request awaiting review.
type ReviewRequest struct {
	ID          string       `db:"id" json:"id"`
	Module      ReviewModule `db:"module" json:"module"`
	Type        string       `db:"type" json:"type"`
	Subject     string       `db:"subject" json:"subject"`
	Description string       `db:"description" json:"description"`
	RequesterID string       `db:"requester_id" json:"requester_id"`
	Status      ReviewStatus `db:"status" json:"status"`
	ReviewedBy  *string      `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Note        *string      `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// ReviewFilter constrains review listing queries.
type ReviewFilter struct {
	Module      ReviewModule
	Status      []ReviewStatus
	RequesterID string
	Limit       int
	Offset      int
}
