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

func newReviewRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestReviewRepositoryCreateStartsPending(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	review := &models.ReviewRequest{
		Module:      models.ReviewModuleHR,
		Type:        "ferias",
		Subject:     "Férias de setembro",
		Description: "Solicito 15 dias",
		RequesterID: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), review))
	require.NotEmpty(t, review.ID)
	require.Equal(t, models.ReviewStatusPending, review.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryDecideSkipsTerminalRows(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE review_requests SET status = $2, reviewed_by = $3, reviewed_at = $4, note = $5, updated_at = $4")).
		WithArgs("rev-1", models.ReviewStatusApproved, "admin-1", sqlmock.AnyArg(), nil, models.ReviewStatusPending, models.ReviewStatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))

	decided, err := repo.Decide(context.Background(), "rev-1", models.ReviewStatusApproved, "admin-1", nil)
	require.NoError(t, err)
	require.False(t, decided)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryMarkInProgressClaims(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE review_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs("rev-1", models.ReviewStatusInProgress, sqlmock.AnyArg(), models.ReviewStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.MarkInProgress(context.Background(), "rev-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryListByModuleAndStatus(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	rows := sqlmock.NewRows([]string{"id", "module", "type", "subject", "description", "requester_id", "status", "reviewed_by", "reviewed_at", "note", "created_at", "updated_at"}).
		AddRow("rev-1", "transport", "rota", "Nova rota escolar", "Bairro sem linha", "user-2", "pending", nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, module,.+FROM review_requests WHERE 1=1 AND module = \\$1 AND status = ANY\\(\\$2\\)").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM review_requests WHERE 1=1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	reviews, total, err := repo.List(context.Background(), models.ReviewFilter{
		Module: models.ReviewModuleTransport,
		Status: []models.ReviewStatus{models.ReviewStatusPending},
		Limit:  20,
	})
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
