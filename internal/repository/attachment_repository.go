package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/prefeitura-digital/portal-api/internal/models"
)

// AttachmentRepository provides database access for attachment metadata.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository creates a new instance of AttachmentRepository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts attachment metadata. The storage object must already exist;
// callers are responsible for removing it when this insert fails.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_attachments (id, request_id, file_name, storage_path, mime_type, size_bytes, uploaded_by, created_at)
VALUES (:id, :request_id, :file_name, :storage_path, :mime_type, :size_bytes, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, att); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// FindByID returns one attachment by identifier.
func (r *AttachmentRepository) FindByID(ctx context.Context, id string) (*models.Attachment, error) {
	const query = `SELECT id, request_id, file_name, storage_path, mime_type, size_bytes, uploaded_by, created_at FROM request_attachments WHERE id = $1 LIMIT 1`
	var att models.Attachment
	if err := r.db.GetContext(ctx, &att, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attachment by id: %w", err)
	}
	return &att, nil
}

// ListByRequest returns all attachments of a request, oldest first.
func (r *AttachmentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	const query = `SELECT id, request_id, file_name, storage_path, mime_type, size_bytes, uploaded_by, created_at FROM request_attachments WHERE request_id = $1 ORDER BY created_at ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, requestID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}
