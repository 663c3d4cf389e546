package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
	"github.com/prefeitura-digital/portal-api/pkg/response"
)

type reviewService interface {
	Create(ctx context.Context, module models.ReviewModule, req dto.CreateReviewRequest, actor *models.JWTClaims) (*models.ReviewRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ReviewRequest, error)
	List(ctx context.Context, filter models.ReviewFilter, actor *models.JWTClaims) ([]models.ReviewRequest, int, error)
	Claim(ctx context.Context, id string, actor *models.JWTClaims) (*models.ReviewRequest, error)
	Decide(ctx context.Context, id string, req dto.ReviewDecisionRequest, actor *models.JWTClaims) (*models.ReviewRequest, error)
}

// ReviewHandler exposes the HR and transport review endpoints. The module is
// fixed per registered route group.
type ReviewHandler struct {
	service reviewService
	module  models.ReviewModule
}

// NewReviewHandler builds a handler bound to one review module.
func NewReviewHandler(service reviewService, module models.ReviewModule) *ReviewHandler {
	return &ReviewHandler{service: service, module: module}
}

// Create godoc
// @Summary Submit a review request
// @Tags Reviews
// @Accept json
// @Produce json
// @Param payload body dto.CreateReviewRequest true "Review payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /hr/requests [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	var req dto.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	review, err := h.service.Create(c.Request.Context(), h.module, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// List godoc
// @Summary List review requests
// @Tags Reviews
// @Produce json
// @Param status query string false "Comma separated status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hr/requests [get]
func (h *ReviewHandler) List(c *gin.Context) {
	var query dto.ReviewQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	filter := query.Filter(h.module)
	reviews, total, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	page := 1
	if filter.Limit > 0 {
		page = filter.Offset/filter.Limit + 1
	}
	response.JSON(c, http.StatusOK, reviews, &models.Pagination{
		Page:       page,
		PageSize:   filter.Limit,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get a review request
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hr/requests/{id} [get]
func (h *ReviewHandler) Get(c *gin.Context) {
	review, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Claim godoc
// @Summary Move a pending review into in_progress
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hr/requests/{id}/claim [post]
func (h *ReviewHandler) Claim(c *gin.Context) {
	review, err := h.service.Claim(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Decide godoc
// @Summary Approve or reject a review request
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Param payload body dto.ReviewDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hr/requests/{id}/decision [put]
func (h *ReviewHandler) Decide(c *gin.Context) {
	var req dto.ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	review, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}
