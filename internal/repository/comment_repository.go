package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/prefeitura-digital/portal-api/internal/models"
)

// CommentRepository provides database access for request comments.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository creates a new instance of CommentRepository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a new comment. Comments are immutable after this point.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_comments (id, request_id, author_id, author_type, text, internal, created_at)
VALUES (:id, :request_id, :author_id, :author_type, :text, :internal, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// ListByRequest returns comments for a request, oldest first. Internal
// comments are omitted unless includeInternal is set.
func (r *CommentRepository) ListByRequest(ctx context.Context, requestID string, includeInternal bool) ([]models.Comment, error) {
	query := `SELECT id, request_id, author_id, author_type, text, internal, created_at FROM request_comments WHERE request_id = $1`
	if !includeInternal {
		query += ` AND internal = FALSE`
	}
	query += ` ORDER BY created_at ASC`

	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, requestID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
