package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

type requestStoreStub struct {
	requests map[string]*models.Request
	listed   []models.Request
	history  []models.StatusHistoryEntry

	listErr    error
	createErr  error
	updateErr  error
	forwardErr error

	created      []*models.Request
	transitions  []models.RequestStatus
	forwardCalls int
	lastComment  *string
	lastTarget   string
}

func (s *requestStoreStub) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	return s.listed, len(s.listed), nil
}

func (s *requestStoreStub) FindByID(ctx context.Context, id string) (*models.Request, error) {
	if req, ok := s.requests[id]; ok {
		copied := *req
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *requestStoreStub) FindByProtocol(ctx context.Context, protocol string) (*models.Request, error) {
	for _, req := range s.requests {
		if req.Protocol == protocol {
			copied := *req
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *requestStoreStub) Create(ctx context.Context, req *models.Request) error {
	if s.createErr != nil {
		return s.createErr
	}
	req.ID = "req-new"
	req.Protocol = "20260831-000001"
	req.Status = models.RequestStatusOpen
	s.created = append(s.created, req)
	if s.requests == nil {
		s.requests = map[string]*models.Request{}
	}
	s.requests[req.ID] = req
	return nil
}

func (s *requestStoreStub) UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus, changedBy string, comment *string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.transitions = append(s.transitions, to)
	s.lastComment = comment
	if req, ok := s.requests[id]; ok {
		req.Status = to
	}
	return nil
}

func (s *requestStoreStub) Forward(ctx context.Context, id string, from models.RequestStatus, currentDept, targetDept, changedBy string, comment *string) error {
	if s.forwardErr != nil {
		return s.forwardErr
	}
	s.forwardCalls++
	s.lastComment = comment
	s.lastTarget = targetDept
	if req, ok := s.requests[id]; ok {
		prev := req.TargetDepartment
		req.PreviousDepartment = &prev
		req.TargetDepartment = targetDept
		req.Status = models.RequestStatusForwarded
	}
	return nil
}

func (s *requestStoreStub) ListHistory(ctx context.Context, requestID string) ([]models.StatusHistoryEntry, error) {
	return s.history, nil
}

type commentReaderStub struct {
	comments []models.Comment
	err      error
}

func (s commentReaderStub) ListByRequest(ctx context.Context, requestID string, includeInternal bool) ([]models.Comment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if includeInternal {
		return s.comments, nil
	}
	var public []models.Comment
	for _, c := range s.comments {
		if !c.Internal {
			public = append(public, c)
		}
	}
	return public, nil
}

type attachmentReaderStub struct {
	attachments []models.Attachment
}

func (s attachmentReaderStub) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	return s.attachments, nil
}

type auditRecorderStub struct {
	logs []*models.AuditLog
	err  error
}

func (s *auditRecorderStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return s.err
}

func citizenClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleCitizen}
}

func adminClaims(dept string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Department: &dept}
}

func newRequestService(store *requestStoreStub, policy models.ReadFailurePolicy) (*RequestService, *auditRecorderStub) {
	audit := &auditRecorderStub{}
	svc := NewRequestService(store, commentReaderStub{}, attachmentReaderStub{}, nil, audit, nil, nil, RequestServiceConfig{ReadFailurePolicy: policy})
	return svc, audit
}

func TestRequestServiceCreateDerivesRequesterType(t *testing.T) {
	store := &requestStoreStub{}
	svc, audit := newRequestService(store, models.FailOpen)

	created, err := svc.Create(context.Background(), dto.CreateRequestRequest{
		Title:            "Iluminação pública",
		Description:      "Poste apagado há uma semana",
		TargetDepartment: "obras",
	}, citizenClaims("user-1"))
	require.NoError(t, err)
	assert.Equal(t, models.RequesterCitizen, created.RequesterType)
	assert.Equal(t, models.PriorityNormal, created.Priority)
	assert.Equal(t, models.RequestStatusOpen, created.Status)
	assert.Len(t, audit.logs, 1)

	fromMayor, err := svc.Create(context.Background(), dto.CreateRequestRequest{
		Title:            "Relatório mensal",
		Description:      "Consolidado de obras",
		TargetDepartment: "obras",
	}, &models.JWTClaims{UserID: "mayor-1", Role: models.RoleMayor})
	require.NoError(t, err)
	assert.Equal(t, models.RequesterMayorOffice, fromMayor.RequesterType)
}

func TestRequestServiceCreateRejectsInvalidPayload(t *testing.T) {
	svc, _ := newRequestService(&requestStoreStub{}, models.FailOpen)

	_, err := svc.Create(context.Background(), dto.CreateRequestRequest{Title: "ab"}, citizenClaims("user-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestRequestServiceUpdateStatusEnforcesTransitionTable(t *testing.T) {
	store := &requestStoreStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", Status: models.RequestStatusOpen, RequesterID: "user-1", TargetDepartment: "obras"},
		"req-2": {ID: "req-2", Status: models.RequestStatusCompleted, RequesterID: "user-1", TargetDepartment: "obras"},
	}}
	svc, _ := newRequestService(store, models.FailOpen)
	actor := adminClaims("obras")

	// open -> completed is not allowed
	_, err := svc.UpdateStatus(context.Background(), "req-1", dto.UpdateStatusRequest{Status: "completed"}, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	// terminal states admit nothing
	_, err = svc.UpdateStatus(context.Background(), "req-2", dto.UpdateStatusRequest{Status: "in_progress"}, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	updated, err := svc.UpdateStatus(context.Background(), "req-1", dto.UpdateStatusRequest{Status: "in_progress"}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInProgress, updated.Status)
}

func TestRequestServiceUpdateStatusRejectsForwardShortcut(t *testing.T) {
	store := &requestStoreStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", Status: models.RequestStatusOpen, RequesterID: "user-1"},
	}}
	svc, _ := newRequestService(store, models.FailOpen)

	_, err := svc.UpdateStatus(context.Background(), "req-1", dto.UpdateStatusRequest{Status: "forwarded"}, adminClaims("obras"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, store.forwardCalls)
}

func TestRequestServiceForwardWritesDefaultComment(t *testing.T) {
	store := &requestStoreStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", Status: models.RequestStatusOpen, RequesterID: "user-1", TargetDepartment: "obras"},
	}}
	svc, _ := newRequestService(store, models.FailOpen)

	updated, err := svc.Forward(context.Background(), "req-1", dto.ForwardRequest{TargetDepartment: "saude"}, adminClaims("obras"))
	require.NoError(t, err)
	require.NotNil(t, store.lastComment)
	assert.Equal(t, models.HistoryCommentForwardedPrefix+"saude", *store.lastComment)
	assert.Equal(t, "saude", updated.TargetDepartment)
	require.NotNil(t, updated.PreviousDepartment)
	assert.Equal(t, "obras", *updated.PreviousDepartment)
}

func TestRequestServiceForwardRejectsTerminal(t *testing.T) {
	store := &requestStoreStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", Status: models.RequestStatusCancelled, RequesterID: "user-1", TargetDepartment: "obras"},
	}}
	svc, _ := newRequestService(store, models.FailOpen)

	_, err := svc.Forward(context.Background(), "req-1", dto.ForwardRequest{TargetDepartment: "saude"}, adminClaims("obras"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceListFailOpenDegrades(t *testing.T) {
	store := &requestStoreStub{listErr: errors.New("connection refused")}
	svc, _ := newRequestService(store, models.FailOpen)

	items, pagination, err := svc.List(context.Background(), models.RequestFilter{Page: 1, PageSize: 20}, adminClaims("obras"))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, pagination.TotalCount)
}

func TestRequestServiceListFailClosedSurfacesError(t *testing.T) {
	store := &requestStoreStub{listErr: errors.New("connection refused")}
	svc, _ := newRequestService(store, models.FailClosed)

	_, _, err := svc.List(context.Background(), models.RequestFilter{Page: 1, PageSize: 20}, adminClaims("obras"))
	require.Error(t, err)
}

func TestRequestServiceCitizenScopedToOwnRequests(t *testing.T) {
	store := &requestStoreStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", Status: models.RequestStatusOpen, RequesterID: "someone-else"},
	}}
	svc, _ := newRequestService(store, models.FailOpen)

	_, err := svc.Get(context.Background(), "req-1", citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceGetByProtocol(t *testing.T) {
	store := &requestStoreStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", Protocol: "20260831-000042", Status: models.RequestStatusOpen, RequesterID: "user-1"},
	}}
	svc, _ := newRequestService(store, models.FailOpen)

	detail, err := svc.GetByProtocol(context.Background(), "20260831-000042", citizenClaims("user-1"))
	require.NoError(t, err)
	assert.Equal(t, "req-1", detail.ID)

	_, err = svc.GetByProtocol(context.Background(), "20260831-999999", citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceGetNotFound(t *testing.T) {
	svc, _ := newRequestService(&requestStoreStub{}, models.FailOpen)

	_, err := svc.Get(context.Background(), "missing", adminClaims("obras"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
