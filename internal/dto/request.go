package dto

import "github.com/prefeitura-digital/portal-api/internal/models"

// CreateRequestRequest defines the payload for opening a new request.
type CreateRequestRequest struct {
	Title            string  `json:"title" validate:"required,min=3,max=200"`
	Description      string  `json:"description" validate:"required"`
	TargetDepartment string  `json:"target_department" validate:"required"`
	Priority         string  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	DueDate          *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateStatusRequest defines the payload for a status transition.
type UpdateStatusRequest struct {
	Status  string  `json:"status" validate:"required,oneof=open in_progress forwarded completed cancelled"`
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

// ForwardRequest defines the payload for routing a request to another
// department.
type ForwardRequest struct {
	TargetDepartment string  `json:"target_department" validate:"required"`
	Comment          *string `json:"comment" validate:"omitempty,max=2000"`
}

// CommentRequest defines the payload for adding a comment to a request.
type CommentRequest struct {
	Text     string `json:"text" validate:"required,max=5000"`
	Internal bool   `json:"internal"`
}

// RequestQuery captures listing query parameters before they are converted
// into a models.RequestFilter.
type RequestQuery struct {
	Department    string `form:"department"`
	Status        string `form:"status"`
	RequesterType string `form:"requester_type"`
	Search        string `form:"search"`
	Page          int    `form:"page"`
	PageSize      int    `form:"page_size"`
}

// Filter converts the query into a repository filter, applying pagination
// defaults. Unknown status values are dropped rather than rejected.
func (q RequestQuery) Filter() models.RequestFilter {
	f := models.RequestFilter{
		Department: q.Department,
		Search:     q.Search,
		Page:       q.Page,
		PageSize:   q.PageSize,
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
	for _, raw := range splitCSV(q.Status) {
		if s := models.RequestStatus(raw); s.Valid() {
			f.Status = append(f.Status, s)
		}
	}
	if rt := models.RequesterType(q.RequesterType); rt.Valid() {
		f.RequesterType = rt
	}
	return f
}
