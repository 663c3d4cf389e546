package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

type reviewStoreStub struct {
	reviews map[string]*models.ReviewRequest

	claimResult  bool
	decideResult bool
	lastFilter   models.ReviewFilter
}

func (s *reviewStoreStub) Create(ctx context.Context, review *models.ReviewRequest) error {
	review.ID = "rev-new"
	review.Status = models.ReviewStatusPending
	review.CreatedAt = time.Now().UTC()
	if s.reviews == nil {
		s.reviews = map[string]*models.ReviewRequest{}
	}
	s.reviews[review.ID] = review
	return nil
}

func (s *reviewStoreStub) FindByID(ctx context.Context, id string) (*models.ReviewRequest, error) {
	if review, ok := s.reviews[id]; ok {
		copied := *review
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *reviewStoreStub) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewRequest, int, error) {
	s.lastFilter = filter
	var out []models.ReviewRequest
	for _, review := range s.reviews {
		out = append(out, *review)
	}
	return out, len(out), nil
}

func (s *reviewStoreStub) MarkInProgress(ctx context.Context, id string) (bool, error) {
	if s.claimResult {
		s.reviews[id].Status = models.ReviewStatusInProgress
	}
	return s.claimResult, nil
}

func (s *reviewStoreStub) Decide(ctx context.Context, id string, decision models.ReviewStatus, reviewerID string, note *string) (bool, error) {
	if s.decideResult {
		review := s.reviews[id]
		review.Status = decision
		review.ReviewedBy = &reviewerID
		review.Note = note
	}
	return s.decideResult, nil
}

func newReviewService(store *reviewStoreStub) (*ReviewService, *auditRecorderStub) {
	audit := &auditRecorderStub{}
	return NewReviewService(store, audit, nil, nil), audit
}

func TestReviewServiceCreateStartsPending(t *testing.T) {
	store := &reviewStoreStub{}
	svc, audit := newReviewService(store)

	review, err := svc.Create(context.Background(), models.ReviewModuleHR, dto.CreateReviewRequest{
		Type:        "ferias",
		Subject:     "Férias de outubro",
		Description: "Solicito 30 dias a partir de 01/10",
	}, citizenClaims("user-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusPending, review.Status)
	assert.Equal(t, "user-1", review.RequesterID)
	assert.Len(t, audit.logs, 1)
}

func TestReviewServiceCreateRejectsUnknownModule(t *testing.T) {
	svc, _ := newReviewService(&reviewStoreStub{})

	_, err := svc.Create(context.Background(), models.ReviewModule("finance"), dto.CreateReviewRequest{
		Type:        "x",
		Subject:     "abc",
		Description: "abc",
	}, citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceDecideApproves(t *testing.T) {
	store := &reviewStoreStub{
		reviews: map[string]*models.ReviewRequest{
			"rev-1": {ID: "rev-1", Module: models.ReviewModuleHR, Status: models.ReviewStatusPending, RequesterID: "user-1"},
		},
		decideResult: true,
	}
	svc, _ := newReviewService(store)

	note := "aprovado pelo RH"
	decided, err := svc.Decide(context.Background(), "rev-1", dto.ReviewDecisionRequest{Decision: "approved", Note: &note}, adminClaims("rh"))
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, decided.Status)
	require.NotNil(t, decided.ReviewedBy)
	assert.Equal(t, "admin-1", *decided.ReviewedBy)
}

func TestReviewServiceDecideRejectsTerminal(t *testing.T) {
	store := &reviewStoreStub{
		reviews: map[string]*models.ReviewRequest{
			"rev-1": {ID: "rev-1", Module: models.ReviewModuleHR, Status: models.ReviewStatusRejected, RequesterID: "user-1"},
		},
	}
	svc, _ := newReviewService(store)

	_, err := svc.Decide(context.Background(), "rev-1", dto.ReviewDecisionRequest{Decision: "approved"}, adminClaims("rh"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceDecideLostRace(t *testing.T) {
	store := &reviewStoreStub{
		reviews: map[string]*models.ReviewRequest{
			"rev-1": {ID: "rev-1", Module: models.ReviewModuleHR, Status: models.ReviewStatusPending, RequesterID: "user-1"},
		},
		decideResult: false,
	}
	svc, _ := newReviewService(store)

	_, err := svc.Decide(context.Background(), "rev-1", dto.ReviewDecisionRequest{Decision: "rejected"}, adminClaims("rh"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceClaimOnlyPending(t *testing.T) {
	store := &reviewStoreStub{
		reviews: map[string]*models.ReviewRequest{
			"rev-1": {ID: "rev-1", Module: models.ReviewModuleTransport, Status: models.ReviewStatusInProgress, RequesterID: "user-1"},
		},
	}
	svc, _ := newReviewService(store)

	_, err := svc.Claim(context.Background(), "rev-1", adminClaims("transporte"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceListScopesCitizen(t *testing.T) {
	store := &reviewStoreStub{reviews: map[string]*models.ReviewRequest{}}
	svc, _ := newReviewService(store)

	_, _, err := svc.List(context.Background(), models.ReviewFilter{Module: models.ReviewModuleHR}, citizenClaims("user-9"))
	require.NoError(t, err)
	assert.Equal(t, "user-9", store.lastFilter.RequesterID)
}

func TestReviewServiceGetHidesOthersFromCitizens(t *testing.T) {
	store := &reviewStoreStub{
		reviews: map[string]*models.ReviewRequest{
			"rev-1": {ID: "rev-1", Module: models.ReviewModuleHR, Status: models.ReviewStatusPending, RequesterID: "someone-else"},
		},
	}
	svc, _ := newReviewService(store)

	_, err := svc.Get(context.Background(), "rev-1", citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
