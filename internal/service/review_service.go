package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

const reviewResource = "review_request"

type reviewStore interface {
	Create(ctx context.Context, review *models.ReviewRequest) error
	FindByID(ctx context.Context, id string) (*models.ReviewRequest, error)
	List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewRequest, int, error)
	MarkInProgress(ctx context.Context, id string) (bool, error)
	Decide(ctx context.Context, id string, decision models.ReviewStatus, reviewerID string, note *string) (bool, error)
}

// ReviewService handles the pending/approved/rejected machine shared by the
// HR and transport modules.
type ReviewService struct {
	repo      reviewStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReviewService builds a ReviewService with sane defaults.
func NewReviewService(repo reviewStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// Create submits a new review request for the given module. New requests
// always start pending.
func (s *ReviewService) Create(ctx context.Context, module models.ReviewModule, req dto.CreateReviewRequest, actor *models.JWTClaims) (*models.ReviewRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !module.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown review module")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	review := &models.ReviewRequest{
		Module:      module,
		Type:        req.Type,
		Subject:     req.Subject,
		Description: req.Description,
		RequesterID: actor.UserID,
	}
	if err := s.repo.Create(ctx, review); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create review request")
	}

	s.emitAudit(ctx, actor, models.AuditActionReviewCreate, review.ID, nil, review)
	return review, nil
}

// Get returns a single review request. Citizens only see their own.
func (s *ReviewService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ReviewRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	review, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleCitizen && review.RequesterID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return review, nil
}

// List returns review requests visible to the actor. Citizens are scoped to
// their own submissions.
func (s *ReviewService) List(ctx context.Context, filter models.ReviewFilter, actor *models.JWTClaims) ([]models.ReviewRequest, int, error) {
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleCitizen {
		filter.RequesterID = actor.UserID
	}
	reviews, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list review requests")
	}
	return reviews, total, nil
}

// Claim moves a pending review into in_progress for the reviewing actor.
// Claiming an already-claimed or decided review is rejected.
func (s *ReviewService) Claim(ctx context.Context, id string, actor *models.JWTClaims) (*models.ReviewRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	review, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.Status != models.ReviewStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "review is not pending")
	}

	claimed, err := s.repo.MarkInProgress(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim review request")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "review was claimed concurrently")
	}
	return s.load(ctx, id)
}

// Decide records the terminal approve/reject decision. A review that already
// reached a terminal state cannot be decided again.
func (s *ReviewService) Decide(ctx context.Context, id string, req dto.ReviewDecisionRequest, actor *models.JWTClaims) (*models.ReviewRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	review, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "review already decided")
	}

	decision := models.ReviewStatus(req.Decision)
	decided, err := s.repo.Decide(ctx, id, decision, actor.UserID, req.Note)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide review request")
	}
	if !decided {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "review was decided concurrently")
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor, models.AuditActionReviewDecide, id, review, updated)
	return updated, nil
}

func (s *ReviewService) load(ctx context.Context, id string) (*models.ReviewRequest, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "review id is required")
	}
	review, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review request")
	}
	return review, nil
}

func (s *ReviewService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, reviewID string, before, after *models.ReviewRequest) {
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
		Resource:   reviewResource,
		ResourceID: &reviewID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "review-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record review audit", zap.Error(err))
	}
}
