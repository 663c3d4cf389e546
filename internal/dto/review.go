package dto

import "github.com/prefeitura-digital/portal-api/internal/models"

// CreateReviewRequest defines the payload for submitting an HR or transport
// request.
type CreateReviewRequest struct {
	Type        string `json:"type" validate:"required,max=100"`
	Subject     string `json:"subject" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"required"`
}

// ReviewDecisionRequest defines the payload for approving or rejecting a
// pending review request.
type ReviewDecisionRequest struct {
	Decision string  `json:"decision" validate:"required,oneof=approved rejected"`
	Note     *string `json:"note" validate:"omitempty,max=2000"`
}

// ReviewQuery captures listing query parameters for review requests.
type ReviewQuery struct {
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// Filter converts the query into a repository filter for the given module.
func (q ReviewQuery) Filter(module models.ReviewModule) models.ReviewFilter {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 || size > 100 {
		size = 20
	}
	f := models.ReviewFilter{
		Module: module,
		Limit:  size,
		Offset: (page - 1) * size,
	}
	for _, raw := range splitCSV(q.Status) {
		switch s := models.ReviewStatus(raw); s {
		case models.ReviewStatusPending, models.ReviewStatusInProgress, models.ReviewStatusApproved, models.ReviewStatusRejected:
			f.Status = append(f.Status, s)
		}
	}
	return f
}
