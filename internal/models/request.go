package models

import "time"

// RequestStatus enumerates the unified request lifecycle states.
type RequestStatus string

const (
	RequestStatusOpen       RequestStatus = "open"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusForwarded  RequestStatus = "forwarded"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// Valid reports whether the status is a defined enumerator.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusOpen, RequestStatusInProgress, RequestStatusForwarded, RequestStatusCompleted, RequestStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

// requestTransitions declares the allowed destination states per origin.
// Forwarding a request that is already forwarded is allowed (re-forward to
// another department, or a no-op forward re-confirming ownership).
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusOpen:       {RequestStatusInProgress, RequestStatusForwarded, RequestStatusCancelled},
	RequestStatusInProgress: {RequestStatusForwarded, RequestStatusCompleted, RequestStatusCancelled},
	RequestStatusForwarded:  {RequestStatusInProgress, RequestStatusForwarded, RequestStatusCompleted, RequestStatusCancelled},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to RequestStatus) bool {
	for _, allowed := range requestTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RequestPriority enumerates request urgency levels.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityNormal RequestPriority = "normal"
	PriorityHigh   RequestPriority = "high"
	PriorityUrgent RequestPriority = "urgent"
)

// Valid reports whether the priority is a defined enumerator.
func (p RequestPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// RequesterType identifies the origin of a request.
type RequesterType string

const (
	RequesterCitizen     RequesterType = "citizen"
	RequesterDepartment  RequesterType = "department-staff"
	RequesterMayorOffice RequesterType = "mayor-office"
)

// Valid reports whether the requester type is a defined enumerator.
func (t RequesterType) Valid() bool {
	switch t {
	case RequesterCitizen, RequesterDepartment, RequesterMayorOffice:
		return true
	}
	return false
}

// ReadFailurePolicy names how list reads behave when the store errors.
type ReadFailurePolicy string

const (
	// FailOpen converts read errors into an empty result plus a log line.
	FailOpen ReadFailurePolicy = "fail_open"
	// FailClosed surfaces read errors to the caller.
	FailClosed ReadFailurePolicy = "fail_closed"
)

// Request represents one unit of work routed through the organization.
// Requests are never hard-deleted; closing or completing is a status change.
type Request struct {
	ID                 string          `db:"id" json:"id"`
	Protocol           string          `db:"protocol" json:"protocol"`
	Title              string          `db:"title" json:"title"`
	Description        string          `db:"description" json:"description"`
	RequesterType      RequesterType   `db:"requester_type" json:"requester_type"`
	RequesterID        string          `db:"requester_id" json:"requester_id"`
	TargetDepartment   string          `db:"target_department" json:"target_department"`
	PreviousDepartment *string         `db:"previous_department" json:"previous_department,omitempty"`
	Status             RequestStatus   `db:"status" json:"status"`
	Priority           RequestPriority `db:"priority" json:"priority"`
	DueDate            *time.Time      `db:"due_date" json:"due_date,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// RequestDetail bundles a request with its child collections.
type RequestDetail struct {
	Request
	Comments    []Comment            `json:"comments"`
	Attachments []Attachment         `json:"attachments"`
	History     []StatusHistoryEntry `json:"status_history"`
}

// RequestFilter captures listing criteria for requests.
type RequestFilter struct {
	Department    string
	Status        []RequestStatus
	RequesterType RequesterType
	RequesterID   string
	Search        string
	Page          int
	PageSize      int
}
