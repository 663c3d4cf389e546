package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/middleware"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

type fakeReviewSrv struct {
	review     *models.ReviewRequest
	err        error
	lastModule models.ReviewModule
	lastFilter models.ReviewFilter
	decision   dto.ReviewDecisionRequest
}

func (f *fakeReviewSrv) Create(_ context.Context, module models.ReviewModule, _ dto.CreateReviewRequest, _ *models.JWTClaims) (*models.ReviewRequest, error) {
	f.lastModule = module
	return f.review, f.err
}

func (f *fakeReviewSrv) Get(context.Context, string, *models.JWTClaims) (*models.ReviewRequest, error) {
	return f.review, f.err
}

func (f *fakeReviewSrv) List(_ context.Context, filter models.ReviewFilter, _ *models.JWTClaims) ([]models.ReviewRequest, int, error) {
	f.lastFilter = filter
	if f.review == nil {
		return nil, 0, f.err
	}
	return []models.ReviewRequest{*f.review}, 1, f.err
}

func (f *fakeReviewSrv) Claim(context.Context, string, *models.JWTClaims) (*models.ReviewRequest, error) {
	return f.review, f.err
}

func (f *fakeReviewSrv) Decide(_ context.Context, _ string, req dto.ReviewDecisionRequest, _ *models.JWTClaims) (*models.ReviewRequest, error) {
	f.decision = req
	return f.review, f.err
}

func newReviewTestContext(t *testing.T, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	if body != nil {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin})
	return c, rec
}

func TestReviewHandlerCreateBindsModule(t *testing.T) {
	srv := &fakeReviewSrv{review: &models.ReviewRequest{ID: "rev-1", Status: models.ReviewStatusPending}}
	handler := NewReviewHandler(srv, models.ReviewModuleTransport)

	c, rec := newReviewTestContext(t, http.MethodPost, "/transport/requests", dto.CreateReviewRequest{
		Type:        "rota-escolar",
		Subject:     "Nova rota para o bairro",
		Description: "Solicito inclusão de parada",
	})
	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, models.ReviewModuleTransport, srv.lastModule)
}

func TestReviewHandlerCreateInvalidBody(t *testing.T) {
	handler := NewReviewHandler(&fakeReviewSrv{}, models.ReviewModuleHR)

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/hr/requests", strings.NewReader("{"))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewHandlerListScopesModuleAndStatus(t *testing.T) {
	srv := &fakeReviewSrv{review: &models.ReviewRequest{ID: "rev-1"}}
	handler := NewReviewHandler(srv, models.ReviewModuleHR)

	c, rec := newReviewTestContext(t, http.MethodGet, "/hr/requests?status=pending,approved&page=2&page_size=10", nil)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ReviewModuleHR, srv.lastFilter.Module)
	assert.Equal(t, []models.ReviewStatus{models.ReviewStatusPending, models.ReviewStatusApproved}, srv.lastFilter.Status)
	assert.Equal(t, 10, srv.lastFilter.Limit)
	assert.Equal(t, 10, srv.lastFilter.Offset)
}

func TestReviewHandlerDecideSuccess(t *testing.T) {
	srv := &fakeReviewSrv{review: &models.ReviewRequest{ID: "rev-1", Status: models.ReviewStatusApproved}}
	handler := NewReviewHandler(srv, models.ReviewModuleHR)

	c, rec := newReviewTestContext(t, http.MethodPut, "/hr/requests/rev-1/decision", dto.ReviewDecisionRequest{Decision: "approved"})
	c.Params = gin.Params{{Key: "id", Value: "rev-1"}}
	handler.Decide(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", srv.decision.Decision)
}

func TestReviewHandlerDecideConflict(t *testing.T) {
	srv := &fakeReviewSrv{err: appErrors.ErrAlreadyReviewed}
	handler := NewReviewHandler(srv, models.ReviewModuleHR)

	c, rec := newReviewTestContext(t, http.MethodPut, "/hr/requests/rev-1/decision", dto.ReviewDecisionRequest{Decision: "rejected"})
	c.Params = gin.Params{{Key: "id", Value: "rev-1"}}
	handler.Decide(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReviewHandlerClaimPropagatesError(t *testing.T) {
	srv := &fakeReviewSrv{err: appErrors.ErrInvalidTransition}
	handler := NewReviewHandler(srv, models.ReviewModuleTransport)

	c, rec := newReviewTestContext(t, http.MethodPost, "/transport/requests/rev-1/claim", nil)
	c.Params = gin.Params{{Key: "id", Value: "rev-1"}}
	handler.Claim(c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
