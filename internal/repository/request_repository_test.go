package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/prefeitura-digital/portal-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func requestRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "protocol", "title", "description", "requester_type", "requester_id", "target_department", "previous_department", "status", "priority", "due_date", "created_at", "updated_at", "completed_at"})
	for i, id := range ids {
		rows.AddRow(id, "20260831-00000"+id, "Poda de árvore", "Árvore na calçada", "citizen", "user-1", "obras", nil, "open", "normal", nil, time.Now().Add(time.Duration(-i)*time.Hour), time.Now(), nil)
	}
	return rows
}

func TestRequestRepositoryCreateAssignsProtocolAndHistory(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO protocol_sequences")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	req := &models.Request{
		Title:            "Poda de árvore",
		Description:      "Árvore na calçada",
		RequesterType:    models.RequesterCitizen,
		RequesterID:      "user-1",
		TargetDepartment: "obras",
		Priority:         models.PriorityNormal,
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.Regexp(t, `^\d{8}-000007$`, req.Protocol)
	require.Equal(t, models.RequestStatusOpen, req.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateRollsBackOnHistoryFailure(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO protocol_sequences")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_status_history")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	req := &models.Request{
		Title:            "Tapa-buraco",
		Description:      "Buraco na rua",
		RequesterType:    models.RequesterCitizen,
		RequesterID:      "user-1",
		TargetDepartment: "obras",
		Priority:         models.PriorityHigh,
	}
	require.Error(t, repo.Create(context.Background(), req))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFiltersAndCounts(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery("SELECT id, protocol,.+FROM requests WHERE 1=1 AND target_department = \\$1 AND status = ANY\\(\\$2\\) AND \\(LOWER\\(title\\) LIKE \\$3 OR LOWER\\(description\\) LIKE \\$3 OR LOWER\\(protocol\\) LIKE \\$3\\)").
		WithArgs("obras", sqlmock.AnyArg(), "%buraco%").
		WillReturnRows(requestRows("1", "2"))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM requests WHERE 1=1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	items, total, err := repo.List(context.Background(), models.RequestFilter{
		Department: "obras",
		Status:     []models.RequestStatus{models.RequestStatusOpen, models.RequestStatusInProgress},
		Search:     "Buraco",
		Page:       1,
		PageSize:   20,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 2, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateStatusStampsCompletedAt(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("req-1", models.RequestStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "req-1", models.RequestStatusInProgress, models.RequestStatusCompleted, "admin-1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryForwardRecordsPreviousDepartment(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	comment := "Encaminhado para saude"
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $2, previous_department = $3, target_department = $4, completed_at = NULL, updated_at = $5 WHERE id = $1")).
		WithArgs("req-1", models.RequestStatusForwarded, "obras", "saude", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Forward(context.Background(), "req-1", models.RequestStatusOpen, "obras", "saude", "admin-1", &comment)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCountOverdue(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE due_date IS NOT NULL AND due_date < $1 AND status NOT IN ('completed', 'cancelled')")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountOverdue(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
