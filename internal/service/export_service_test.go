package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

type exportListerStub struct {
	requests   []models.Request
	lastFilter models.RequestFilter
}

func (s *exportListerStub) ListForExport(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	s.lastFilter = filter
	return s.requests, nil
}

func sampleExportRequests() []models.Request {
	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	return []models.Request{
		{
			Protocol:         "20260831-000001",
			Title:            "Poda de árvore",
			TargetDepartment: "obras",
			Status:           models.RequestStatusOpen,
			Priority:         models.PriorityNormal,
			CreatedAt:        time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
			DueDate:          &due,
		},
		{
			Protocol:         "20260831-000002",
			Title:            "Tapa-buraco",
			TargetDepartment: "obras",
			Status:           models.RequestStatusInProgress,
			Priority:         models.PriorityHigh,
			CreatedAt:        time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestExportServiceCSVContainsRows(t *testing.T) {
	lister := &exportListerStub{requests: sampleExportRequests()}
	svc := NewExportService(lister, nil)

	file, err := svc.Requests(context.Background(), dto.ExportQuery{Format: "csv", Department: "obras"}, adminClaims("obras"))
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasSuffix(file.FileName, ".csv"))

	content := string(file.Content)
	assert.Contains(t, content, "Protocolo")
	assert.Contains(t, content, "20260831-000001")
	assert.Contains(t, content, "Tapa-buraco")
	assert.Equal(t, "obras", lister.lastFilter.Department)
}

func TestExportServicePDFRenders(t *testing.T) {
	lister := &exportListerStub{requests: sampleExportRequests()}
	svc := NewExportService(lister, nil)

	file, err := svc.Requests(context.Background(), dto.ExportQuery{Format: "pdf"}, adminClaims("obras"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, len(file.Content) > 0)
	assert.True(t, strings.HasPrefix(string(file.Content[:5]), "%PDF-"))
}

func TestExportServiceStatusFilter(t *testing.T) {
	lister := &exportListerStub{}
	svc := NewExportService(lister, nil)

	_, err := svc.Requests(context.Background(), dto.ExportQuery{Status: "open"}, adminClaims("obras"))
	require.NoError(t, err)
	require.Len(t, lister.lastFilter.Status, 1)
	assert.Equal(t, models.RequestStatusOpen, lister.lastFilter.Status[0])
}

func TestExportServiceForbiddenForCitizens(t *testing.T) {
	svc := NewExportService(&exportListerStub{}, nil)

	_, err := svc.Requests(context.Background(), dto.ExportQuery{}, citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
