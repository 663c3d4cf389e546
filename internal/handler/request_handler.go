package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	"github.com/prefeitura-digital/portal-api/internal/service"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
	"github.com/prefeitura-digital/portal-api/pkg/response"
)

type requestService interface {
	Create(ctx context.Context, req dto.CreateRequestRequest, actor *models.JWTClaims) (*models.Request, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.RequestDetail, error)
	GetByProtocol(ctx context.Context, protocol string, actor *models.JWTClaims) (*models.RequestDetail, error)
	List(ctx context.Context, filter models.RequestFilter, actor *models.JWTClaims) ([]models.Request, *models.Pagination, error)
	UpdateStatus(ctx context.Context, id string, req dto.UpdateStatusRequest, actor *models.JWTClaims) (*models.Request, error)
	Forward(ctx context.Context, id string, req dto.ForwardRequest, actor *models.JWTClaims) (*models.Request, error)
	History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.StatusHistoryEntry, error)
}

type threadService interface {
	AddComment(ctx context.Context, requestID string, req dto.CommentRequest, actor *models.JWTClaims) (*models.Comment, error)
	ListComments(ctx context.Context, requestID string, actor *models.JWTClaims) ([]models.Comment, error)
	AddAttachment(ctx context.Context, requestID string, upload service.AttachmentUpload, actor *models.JWTClaims) (*models.Attachment, error)
	DownloadURL(ctx context.Context, requestID, attachmentID string, actor *models.JWTClaims) (string, time.Time, error)
	OpenByToken(ctx context.Context, token string) (*models.Attachment, io.ReadCloser, error)
}

// RequestHandler exposes the unified request lifecycle endpoints.
type RequestHandler struct {
	requests requestService
	threads  threadService
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(requests requestService, threads threadService) *RequestHandler {
	return &RequestHandler{requests: requests, threads: threads}
}

// Create godoc
// @Summary Open a new request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	created, err := h.requests.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List requests
// @Tags Requests
// @Produce json
// @Param department query string false "Department filter"
// @Param status query string false "Comma separated status filter"
// @Param requester_type query string false "Requester type filter"
// @Param search query string false "Search on title, description or protocol"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var query dto.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.requests.List(c.Request.Context(), query.Filter(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a request with comments, attachments and history
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	detail, err := h.requests.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// GetByProtocol godoc
// @Summary Track a request by its protocol number
// @Tags Requests
// @Produce json
// @Param protocol path string true "Protocol number"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/protocol/{protocol} [get]
func (h *RequestHandler) GetByProtocol(c *gin.Context) {
	detail, err := h.requests.GetByProtocol(c.Request.Context(), c.Param("protocol"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// UpdateStatus godoc
// @Summary Apply a lifecycle status transition
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.UpdateStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/status [put]
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	updated, err := h.requests.UpdateStatus(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Forward godoc
// @Summary Forward a request to another department
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ForwardRequest true "Forward payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/forward [post]
func (h *RequestHandler) Forward(c *gin.Context) {
	var req dto.ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid forward payload"))
		return
	}
	updated, err := h.requests.Forward(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// History godoc
// @Summary List the status history of a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(c *gin.Context) {
	entries, err := h.requests.History(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// AddComment godoc
// @Summary Add a comment to a request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.CommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/comments [post]
func (h *RequestHandler) AddComment(c *gin.Context) {
	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.threads.AddComment(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// ListComments godoc
// @Summary List the comment thread of a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/comments [get]
func (h *RequestHandler) ListComments(c *gin.Context) {
	comments, err := h.threads.ListComments(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// AddAttachment godoc
// @Summary Upload an attachment to a request
// @Tags Requests
// @Accept mpfd
// @Produce json
// @Param id path string true "Request ID"
// @Param file formData file true "Attachment file"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/attachments [post]
func (h *RequestHandler) AddAttachment(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "attachment file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read uploaded file"))
		return
	}
	defer file.Close()

	upload := service.AttachmentUpload{
		FileName: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Size:     fileHeader.Size,
		Body:     file,
	}
	attachment, err := h.threads.AddAttachment(c.Request.Context(), c.Param("id"), upload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attachment)
}

// AttachmentURL godoc
// @Summary Issue a signed download token for an attachment
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Param attachmentId path string true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/attachments/{attachmentId}/url [get]
func (h *RequestHandler) AttachmentURL(c *gin.Context) {
	token, expiresAt, err := h.threads.DownloadURL(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        "/api/v1/attachments/download?token=" + token,
		"expires_at": expiresAt.UTC(),
	}, nil)
}

// Download godoc
// @Summary Stream an attachment using a signed token
// @Tags Requests
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /attachments/download [get]
func (h *RequestHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	attachment, reader, err := h.threads.OpenByToken(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", `attachment; filename="`+attachment.FileName+`"`)
	contentType := attachment.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, attachment.SizeBytes, contentType, reader, nil)
}
