package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
	"github.com/prefeitura-digital/portal-api/pkg/jobs"
	"github.com/prefeitura-digital/portal-api/pkg/storage"
)

// JobTypeAttachmentCleanup identifies queued orphan object deletions.
const JobTypeAttachmentCleanup = "attachment_cleanup"

type commentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	ListByRequest(ctx context.Context, requestID string, includeInternal bool) ([]models.Comment, error)
}

type attachmentStore interface {
	Create(ctx context.Context, att *models.Attachment) error
	FindByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error)
}

type threadRequestReader interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
}

type cleanupEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// AttachmentUpload carries an incoming file stream plus its metadata.
type AttachmentUpload struct {
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}

// ThreadServiceConfig tunes comment and attachment behaviour.
type ThreadServiceConfig struct {
	MaxFileSizeBytes int64
}

// ThreadService manages the comment and attachment threads of a request.
type ThreadService struct {
	comments    commentStore
	attachments attachmentStore
	requests    threadRequestReader
	objects     storage.ObjectStorage
	signer      *storage.SignedURLSigner
	cleanup     cleanupEnqueuer
	audit       auditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ThreadServiceConfig
}

// NewThreadService builds a ThreadService with sane defaults.
func NewThreadService(
	comments commentStore,
	attachments attachmentStore,
	requests threadRequestReader,
	objects storage.ObjectStorage,
	signer *storage.SignedURLSigner,
	cleanup cleanupEnqueuer,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ThreadServiceConfig,
) *ThreadService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 10 << 20
	}
	return &ThreadService{
		comments:    comments,
		attachments: attachments,
		requests:    requests,
		objects:     objects,
		signer:      signer,
		cleanup:     cleanup,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// AddComment appends a comment to a request thread. The author type is
// derived from the actor's role; citizens cannot post internal comments.
func (s *ThreadService) AddComment(ctx context.Context, requestID string, req dto.CommentRequest, actor *models.JWTClaims) (*models.Comment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	if actor.Role == models.RoleCitizen && req.Internal {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "citizens cannot post internal comments")
	}

	comment := &models.Comment{
		RequestID:  requestID,
		AuthorID:   actor.UserID,
		AuthorType: authorTypeFor(actor),
		Text:       req.Text,
		Internal:   req.Internal,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}

	s.emitAudit(ctx, actor, models.AuditActionCommentCreate, requestID, comment.ID)
	return comment, nil
}

// ListComments returns a request's comment thread, oldest first.
func (s *ThreadService) ListComments(ctx context.Context, requestID string, actor *models.JWTClaims) ([]models.Comment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	comments, err := s.comments.ListByRequest(ctx, requestID, actor.Role != models.RoleCitizen)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

// AddAttachment stores the uploaded object first and the metadata row second.
// When the metadata insert fails the stored object is deleted immediately;
// if that best-effort delete also fails, a cleanup job is queued so the
// orphan is removed eventually.
func (s *ThreadService) AddAttachment(ctx context.Context, requestID string, upload AttachmentUpload, actor *models.JWTClaims) (*models.Attachment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if upload.FileName == "" || upload.Body == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment file is required")
	}
	if upload.Size <= 0 || upload.Size > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attachment size must be between 1 and %d bytes", s.cfg.MaxFileSizeBytes))
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(request, actor) {
		return nil, appErrors.ErrForbidden
	}

	attachmentID := uuid.NewString()
	objectPath := buildObjectPath(requestID, upload.FileName, time.Now().UTC())

	storedPath, err := s.objects.Save(ctx, objectPath, upload.Body, upload.Size, upload.MimeType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	attachment := &models.Attachment{
		ID:          attachmentID,
		RequestID:   requestID,
		FileName:    upload.FileName,
		StoragePath: storedPath,
		MimeType:    upload.MimeType,
		SizeBytes:   upload.Size,
		UploadedBy:  actor.UserID,
	}
	if err := s.attachments.Create(ctx, attachment); err != nil {
		s.compensateOrphan(ctx, storedPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attachment")
	}

	s.emitAudit(ctx, actor, models.AuditActionAttachmentAdd, requestID, attachment.ID)
	return attachment, nil
}

// DownloadURL issues a short-lived signed token for fetching an attachment.
func (s *ThreadService) DownloadURL(ctx context.Context, requestID, attachmentID string, actor *models.JWTClaims) (string, time.Time, error) {
	if actor == nil {
		return "", time.Time{}, appErrors.ErrUnauthorized
	}
	attachment, err := s.loadAttachment(ctx, requestID, attachmentID, actor)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.signer.Generate(attachment.ID, attachment.StoragePath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return token, expiresAt, nil
}

// OpenByToken validates a signed token and opens the referenced object.
func (s *ThreadService) OpenByToken(ctx context.Context, token string) (*models.Attachment, io.ReadCloser, error) {
	attachmentID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	attachment, err := s.attachments.FindByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	if attachment.StoragePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "token does not match attachment")
	}
	reader, err := s.objects.Open(ctx, attachment.StoragePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return attachment, reader, nil
}

// DeleteOrphan removes a stored object that has no metadata row. It backs
// the cleanup queue handler.
func (s *ThreadService) DeleteOrphan(ctx context.Context, storagePath string) error {
	if storagePath == "" {
		return nil
	}
	return s.objects.Delete(ctx, storagePath)
}

func (s *ThreadService) loadAttachment(ctx context.Context, requestID, attachmentID string, actor *models.JWTClaims) (*models.Attachment, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	attachment, err := s.attachments.FindByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	if attachment.RequestID != requestID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	return attachment, nil
}

func (s *ThreadService) loadRequest(ctx context.Context, id string) (*models.Request, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

func (s *ThreadService) compensateOrphan(ctx context.Context, storagePath string) {
	if err := s.objects.Delete(ctx, storagePath); err == nil {
		return
	} else {
		s.logger.Warn("immediate orphan delete failed, queueing cleanup", zap.String("path", storagePath), zap.Error(err))
	}
	if s.cleanup == nil {
		return
	}
	if err := s.cleanup.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeAttachmentCleanup,
		Payload: storagePath,
	}); err != nil {
		s.logger.Error("failed to queue attachment cleanup", zap.String("path", storagePath), zap.Error(err))
	}
}

func (s *ThreadService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, requestID, resourceID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   requestResource,
		ResourceID: &resourceID,
		NewValues:  []byte(fmt.Sprintf(`{"request_id":%q}`, requestID)),
		IPAddress:  "system",
		UserAgent:  "thread-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record thread audit", zap.Error(err))
	}
}

// authorTypeFor derives the comment author type from the actor's role.
// Unknown roles degrade to citizen.
func authorTypeFor(actor *models.JWTClaims) models.CommentAuthorType {
	switch actor.Role {
	case models.RoleMayor:
		return models.AuthorMayor
	case models.RoleAdmin, models.RoleSuperAdmin:
		return models.AuthorDepartment
	default:
		return models.AuthorCitizen
	}
}

// buildObjectPath namespaces objects per request and prefixes the original
// filename with the upload timestamp: requests/{id}/{unix-ts}_{filename}.
func buildObjectPath(requestID, fileName string, now time.Time) string {
	name := filepath.Base(strings.TrimSpace(fileName))
	name = strings.ReplaceAll(name, " ", "_")
	return fmt.Sprintf("requests/%s/%d_%s", requestID, now.Unix(), name)
}
