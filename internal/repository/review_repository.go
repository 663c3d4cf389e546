package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/prefeitura-digital/portal-api/internal/models"
)

const reviewColumns = `id, module, type, subject, description, requester_id, status, reviewed_by, reviewed_at, note, created_at, updated_at`

// ReviewRepository provides database access for HR and transport review
// requests.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository creates a new instance of ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a new review request in pending state.
func (r *ReviewRepository) Create(ctx context.Context, review *models.ReviewRequest) error {
	now := time.Now().UTC()
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	review.Status = models.ReviewStatusPending
	review.CreatedAt = now
	review.UpdatedAt = now

	const query = `INSERT INTO review_requests (id, module, type, subject, description, requester_id, status, reviewed_by, reviewed_at, note, created_at, updated_at)
VALUES (:id, :module, :type, :subject, :description, :requester_id, :status, :reviewed_by, :reviewed_at, :note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, review); err != nil {
		return fmt.Errorf("create review request: %w", err)
	}
	return nil
}

// FindByID returns one review request by identifier.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.ReviewRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM review_requests WHERE id = $1 LIMIT 1", reviewColumns)
	var review models.ReviewRequest
	if err := r.db.GetContext(ctx, &review, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find review request by id: %w", err)
	}
	return &review, nil
}

// List returns review requests matching the filter with the total count.
func (r *ReviewRepository) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewRequest, int, error) {
	baseQuery := `FROM review_requests WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Module != "" {
		conditions = append(conditions, fmt.Sprintf("module = $%d", len(args)+1))
		args = append(args, filter.Module)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statuses))
	}
	if filter.RequesterID != "" {
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)+1))
		args = append(args, filter.RequesterID)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", reviewColumns, baseQuery, limit, offset)

	var reviews []models.ReviewRequest
	if err := r.db.SelectContext(ctx, &reviews, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list review requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count review requests: %w", err)
	}

	return reviews, total, nil
}

// MarkInProgress moves a pending review into in_progress. The status guard
// in the WHERE clause makes the claim idempotent under races; the affected
// row count tells the caller whether the claim won.
func (r *ReviewRepository) MarkInProgress(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE review_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.ReviewStatusInProgress, time.Now().UTC(), models.ReviewStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark review in progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark review in progress rows: %w", err)
	}
	return affected > 0, nil
}

// Decide records the terminal approve or reject decision. The WHERE guard
// only matches non-terminal rows so a second decision never overwrites the
// first.
func (r *ReviewRepository) Decide(ctx context.Context, id string, decision models.ReviewStatus, reviewerID string, note *string) (bool, error) {
	now := time.Now().UTC()
	const query = `UPDATE review_requests SET status = $2, reviewed_by = $3, reviewed_at = $4, note = $5, updated_at = $4
WHERE id = $1 AND status IN ($6, $7)`
	res, err := r.db.ExecContext(ctx, query, id, decision, reviewerID, now, note, models.ReviewStatusPending, models.ReviewStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("decide review request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide review request rows: %w", err)
	}
	return affected > 0, nil
}
