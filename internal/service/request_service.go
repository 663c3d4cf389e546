package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

const requestResource = "request"

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestStore interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	FindByID(ctx context.Context, id string) (*models.Request, error)
	FindByProtocol(ctx context.Context, protocol string) (*models.Request, error)
	Create(ctx context.Context, req *models.Request) error
	UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus, changedBy string, comment *string) error
	Forward(ctx context.Context, id string, from models.RequestStatus, currentDept, targetDept, changedBy string, comment *string) error
	ListHistory(ctx context.Context, requestID string) ([]models.StatusHistoryEntry, error)
}

type requestCommentReader interface {
	ListByRequest(ctx context.Context, requestID string, includeInternal bool) ([]models.Comment, error)
}

type requestAttachmentReader interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error)
}

// RequestServiceConfig tunes request lifecycle behaviour.
type RequestServiceConfig struct {
	ReadFailurePolicy models.ReadFailurePolicy
}

// RequestService orchestrates the unified request lifecycle.
type RequestService struct {
	repo        requestStore
	comments    requestCommentReader
	attachments requestAttachmentReader
	cache       *CacheService
	audit       auditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         RequestServiceConfig
}

// NewRequestService builds a RequestService with sane defaults.
func NewRequestService(
	repo requestStore,
	comments requestCommentReader,
	attachments requestAttachmentReader,
	cache *CacheService,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg RequestServiceConfig,
) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadFailurePolicy != models.FailClosed {
		cfg.ReadFailurePolicy = models.FailOpen
	}
	return &RequestService{
		repo:        repo,
		comments:    comments,
		attachments: attachments,
		cache:       cache,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Create opens a new request for the authenticated actor. The protocol
// number and the initial history entry are assigned atomically by the store.
func (s *RequestService) Create(ctx context.Context, req dto.CreateRequestRequest, actor *models.JWTClaims) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	priority := models.RequestPriority(req.Priority)
	if req.Priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid priority")
	}

	var dueDate *time.Time
	if req.DueDate != nil && *req.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid due date")
		}
		dueDate = &parsed
	}

	request := &models.Request{
		Title:            req.Title,
		Description:      req.Description,
		RequesterType:    requesterTypeFor(actor),
		RequesterID:      actor.UserID,
		TargetDepartment: req.TargetDepartment,
		Priority:         priority,
		DueDate:          dueDate,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.invalidateDashboard(ctx)
	s.emitAudit(ctx, actor, models.AuditActionRequestCreate, request.ID, nil, request)
	return request, nil
}

// Get returns a request with its comments, attachments and history. Internal
// comments are only included for back-office roles.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.RequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(request, actor) {
		return nil, appErrors.ErrForbidden
	}

	detail := &models.RequestDetail{Request: *request}
	includeInternal := actor.Role != models.RoleCitizen

	if detail.Comments, err = s.comments.ListByRequest(ctx, id, includeInternal); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}
	if detail.Attachments, err = s.attachments.ListByRequest(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachments")
	}
	if detail.History, err = s.repo.ListHistory(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history")
	}
	return detail, nil
}

// GetByProtocol resolves a request by its protocol number and returns the
// same detail view as Get. Citizens use this to track a request they filed.
func (s *RequestService) GetByProtocol(ctx context.Context, protocol string, actor *models.JWTClaims) (*models.RequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if protocol == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "protocol is required")
	}
	request, err := s.repo.FindByProtocol(ctx, protocol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return s.Get(ctx, request.ID, actor)
}

// List returns requests visible to the actor. Citizens only ever see their
// own requests regardless of the provided filter. Read errors follow the
// configured failure policy: fail_open degrades to an empty page, fail_closed
// surfaces the error.
func (s *RequestService) List(ctx context.Context, filter models.RequestFilter, actor *models.JWTClaims) ([]models.Request, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleCitizen {
		filter.RequesterID = actor.UserID
		filter.RequesterType = ""
	}
	if actor.Role == models.RoleAdmin && actor.Department != nil && filter.Department == "" {
		filter.Department = *actor.Department
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		if s.cfg.ReadFailurePolicy == models.FailClosed {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
		}
		s.logger.Error("request list degraded to empty result", zap.Error(err))
		items, total = []models.Request{}, 0
	}

	pagination := &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	}
	if pagination.Page < 1 {
		pagination.Page = 1
	}
	if pagination.PageSize < 1 {
		pagination.PageSize = 20
	}
	return items, pagination, nil
}

// UpdateStatus applies a lifecycle transition. Transitions out of terminal
// states and any move not present in the transition table are rejected.
func (s *RequestService) UpdateStatus(ctx context.Context, id string, req dto.UpdateStatusRequest, actor *models.JWTClaims) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	target := models.RequestStatus(req.Status)
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if target == models.RequestStatusForwarded {
		return nil, appErrors.Clone(appErrors.ErrValidation, "use the forward operation to route a request")
	}
	if !models.CanTransition(request.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move request from "+string(request.Status)+" to "+string(target))
	}

	if err := s.repo.UpdateStatus(ctx, id, request.Status, target, actor.UserID, req.Comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request status")
	}

	updated, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	s.invalidateDashboard(ctx)
	s.emitAudit(ctx, actor, models.AuditActionRequestStatus, id, request, updated)
	return updated, nil
}

// Forward routes a request to another department. The previous owner is
// recorded and a history entry with the default forwarding comment is
// written when the caller provides none.
func (s *RequestService) Forward(ctx context.Context, id string, req dto.ForwardRequest, actor *models.JWTClaims) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forward payload")
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(request.Status, models.RequestStatusForwarded) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot forward request from "+string(request.Status))
	}

	comment := req.Comment
	if comment == nil || *comment == "" {
		generated := models.HistoryCommentForwardedPrefix + req.TargetDepartment
		comment = &generated
	}

	if err := s.repo.Forward(ctx, id, request.Status, request.TargetDepartment, req.TargetDepartment, actor.UserID, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to forward request")
	}

	updated, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	s.invalidateDashboard(ctx)
	s.emitAudit(ctx, actor, models.AuditActionRequestForward, id, request, updated)
	return updated, nil
}

// History returns the status history of a request, oldest first.
func (s *RequestService) History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.StatusHistoryEntry, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	entries, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history")
	}
	return entries, nil
}

func (s *RequestService) loadRequest(ctx context.Context, id string) (*models.Request, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

func (s *RequestService) invalidateDashboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "dash:*"); err != nil {
		s.logger.Warn("dashboard cache invalidation failed", zap.Error(err))
	}
}

func (s *RequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, requestID string, before, after *models.Request) {
	if s.audit == nil {
		return
	}
	var oldValues, newValues []byte
	if before != nil {
		oldValues, _ = json.Marshal(before)
	}
	if after != nil {
		newValues, _ = json.Marshal(after)
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   requestResource,
		ResourceID: &requestID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record request audit", zap.Error(err))
	}
}

// requesterTypeFor maps the actor's role to a requester type. Unknown roles
// fall back to citizen.
func requesterTypeFor(actor *models.JWTClaims) models.RequesterType {
	switch actor.Role {
	case models.RoleMayor:
		return models.RequesterMayorOffice
	case models.RoleAdmin, models.RoleSuperAdmin:
		return models.RequesterDepartment
	default:
		return models.RequesterCitizen
	}
}

// canViewRequest restricts citizens to their own requests. Back-office roles
// see everything.
func canViewRequest(request *models.Request, actor *models.JWTClaims) bool {
	if actor.Role != models.RoleCitizen {
		return true
	}
	return request.RequesterID == actor.UserID
}
