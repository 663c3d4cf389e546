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

const requestColumns = `id, protocol, title, description, requester_type, requester_id, target_department, previous_department, status, priority, due_date, created_at, updated_at, completed_at`

// RequestRepository provides database access for the unified request store.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new instance of RequestRepository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// List returns requests matching the filter along with the total count.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	baseQuery := `FROM requests WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("target_department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statuses))
	}
	if filter.RequesterType != "" {
		conditions = append(conditions, fmt.Sprintf("requester_type = $%d", len(args)+1))
		args = append(args, filter.RequesterType)
	}
	if filter.RequesterID != "" {
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)+1))
		args = append(args, filter.RequesterID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d OR LOWER(protocol) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", requestColumns, baseQuery, pageSize, offset)

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	return requests, total, nil
}

// FindByID returns a single request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	query := fmt.Sprintf("SELECT %s FROM requests WHERE id = $1 LIMIT 1", requestColumns)
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find request by id: %w", err)
	}
	return &req, nil
}

// FindByProtocol returns a single request by its protocol number.
func (r *RequestRepository) FindByProtocol(ctx context.Context, protocol string) (*models.Request, error) {
	query := fmt.Sprintf("SELECT %s FROM requests WHERE protocol = $1 LIMIT 1", requestColumns)
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, protocol); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find request by protocol: %w", err)
	}
	return &req, nil
}

// Create inserts a new request together with its initial history entry in a
// single transaction. The protocol number is assigned from the per-day
// sequence inside the same transaction so concurrent creates never collide.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create request transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = models.RequestStatusOpen
	req.CreatedAt = now
	req.UpdatedAt = now

	req.Protocol, err = nextProtocol(ctx, tx, now)
	if err != nil {
		return err
	}

	const insertQuery = `INSERT INTO requests (id, protocol, title, description, requester_type, requester_id, target_department, previous_department, status, priority, due_date, created_at, updated_at, completed_at)
VALUES (:id, :protocol, :title, :description, :requester_type, :requester_id, :target_department, :previous_department, :status, :priority, :due_date, :created_at, :updated_at, :completed_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, req); err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	comment := models.HistoryCommentCreated
	entry := models.StatusHistoryEntry{
		ID:             uuid.NewString(),
		RequestID:      req.ID,
		PreviousStatus: models.RequestStatusOpen,
		NewStatus:      models.RequestStatusOpen,
		ChangedBy:      req.RequesterID,
		Comment:        &comment,
		CreatedAt:      now,
	}
	if err = insertHistory(ctx, tx, &entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create request: %w", err)
	}
	return nil
}

// nextProtocol increments and returns the per-day protocol sequence. The
// generated value looks like 20260831-000042.
func nextProtocol(ctx context.Context, tx *sqlx.Tx, now time.Time) (string, error) {
	day := now.Format("20060102")
	const seqQuery = `INSERT INTO protocol_sequences (day, counter) VALUES ($1, 1)
ON CONFLICT (day) DO UPDATE SET counter = protocol_sequences.counter + 1
RETURNING counter`
	var counter int
	if err := tx.GetContext(ctx, &counter, seqQuery, day); err != nil {
		return "", fmt.Errorf("next protocol sequence: %w", err)
	}
	return fmt.Sprintf("%s-%06d", day, counter), nil
}

// UpdateStatus persists a status transition and appends the matching history
// entry in one transaction. CompletedAt is stamped when entering completed
// and cleared when leaving it.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus, changedBy string, comment *string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var completedAt *time.Time
	if to == models.RequestStatusCompleted {
		completedAt = &now
	}

	const updateQuery = `UPDATE requests SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, id, to, completedAt, now); err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	entry := models.StatusHistoryEntry{
		ID:             uuid.NewString(),
		RequestID:      id,
		PreviousStatus: from,
		NewStatus:      to,
		ChangedBy:      changedBy,
		Comment:        comment,
		CreatedAt:      now,
	}
	if err = insertHistory(ctx, tx, &entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit status transaction: %w", err)
	}
	return nil
}

// Forward moves a request to another department, recording the previous
// owner and the forwarding history entry in one transaction.
func (r *RequestRepository) Forward(ctx context.Context, id string, from models.RequestStatus, currentDept, targetDept, changedBy string, comment *string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin forward transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const updateQuery = `UPDATE requests SET status = $2, previous_department = $3, target_department = $4, completed_at = NULL, updated_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, id, models.RequestStatusForwarded, currentDept, targetDept, now); err != nil {
		return fmt.Errorf("forward request: %w", err)
	}

	entry := models.StatusHistoryEntry{
		ID:             uuid.NewString(),
		RequestID:      id,
		PreviousStatus: from,
		NewStatus:      models.RequestStatusForwarded,
		ChangedBy:      changedBy,
		Comment:        comment,
		CreatedAt:      now,
	}
	if err = insertHistory(ctx, tx, &entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit forward transaction: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.StatusHistoryEntry) error {
	const query = `INSERT INTO request_status_history (id, request_id, previous_status, new_status, changed_by, comment, created_at)
VALUES (:id, :request_id, :previous_status, :new_status, :changed_by, :comment, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// ListHistory returns the status history of a request, oldest first.
func (r *RequestRepository) ListHistory(ctx context.Context, requestID string) ([]models.StatusHistoryEntry, error) {
	const query = `SELECT id, request_id, previous_status, new_status, changed_by, comment, created_at FROM request_status_history WHERE request_id = $1 ORDER BY created_at ASC`
	var entries []models.StatusHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return entries, nil
}

// CountByStatus aggregates requests grouped by lifecycle status.
func (r *RequestRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM requests GROUP BY status ORDER BY count DESC`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	return counts, nil
}

// CountByDepartment aggregates requests grouped by owning department.
func (r *RequestRepository) CountByDepartment(ctx context.Context) ([]models.DepartmentCount, error) {
	const query = `SELECT target_department, COUNT(*) AS count FROM requests GROUP BY target_department ORDER BY count DESC`
	var counts []models.DepartmentCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count requests by department: %w", err)
	}
	return counts, nil
}

// CountByPriority aggregates requests grouped by priority.
func (r *RequestRepository) CountByPriority(ctx context.Context) ([]models.PriorityCount, error) {
	const query = `SELECT priority, COUNT(*) AS count FROM requests GROUP BY priority ORDER BY count DESC`
	var counts []models.PriorityCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count requests by priority: %w", err)
	}
	return counts, nil
}

// CountOverdue counts non-terminal requests whose due date has passed.
func (r *RequestRepository) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM requests WHERE due_date IS NOT NULL AND due_date < $1 AND status NOT IN ('completed', 'cancelled')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, now); err != nil {
		return 0, fmt.Errorf("count overdue requests: %w", err)
	}
	return count, nil
}

// ListForExport returns all requests matching the filter without pagination,
// ordered by protocol.
func (r *RequestRepository) ListForExport(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	baseQuery := `FROM requests WHERE 1=1`
	var args []interface{}

	if filter.Department != "" {
		args = append(args, filter.Department)
		baseQuery += fmt.Sprintf(" AND target_department = $%d", len(args))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		baseQuery += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY protocol ASC", requestColumns, baseQuery)
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list requests for export: %w", err)
	}
	return requests, nil
}
