package models

import "time"

// Default history comments written by lifecycle operations.
const (
	HistoryCommentCreated         = "Solicitação criada"
	HistoryCommentForwardedPrefix = "Encaminhado para "
)

// StatusHistoryEntry is an append-only audit record of a request's status
// changes. Entries are immutable once written and are never updated or
// deleted.
type StatusHistoryEntry struct {
	ID             string        `db:"id" json:"id"`
	RequestID      string        `db:"request_id" json:"request_id"`
	PreviousStatus RequestStatus `db:"previous_status" json:"previous_status"`
	NewStatus      RequestStatus `db:"new_status" json:"new_status"`
	ChangedBy      string        `db:"changed_by" json:"changed_by"`
	Comment        *string       `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}
