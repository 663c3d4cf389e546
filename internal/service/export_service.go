package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
	"github.com/prefeitura-digital/portal-api/pkg/export"
)

type exportRequestLister interface {
	ListForExport(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
}

// ExportFile is a rendered export ready to be streamed to the client.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ExportService renders request listings as CSV or PDF documents.
type ExportService struct {
	requests exportRequestLister
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService builds an ExportService with sane defaults.
func NewExportService(requests exportRequestLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		requests: requests,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		now:      time.Now,
	}
}

var exportHeaders = []string{"Protocolo", "Título", "Departamento", "Status", "Prioridade", "Criado em", "Prazo"}

// Requests exports requests matching the query in the requested format.
// Only back-office roles may export.
func (s *ExportService) Requests(ctx context.Context, query dto.ExportQuery, actor *models.JWTClaims) (*ExportFile, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleCitizen {
		return nil, appErrors.ErrForbidden
	}

	filter := models.RequestFilter{Department: query.Department}
	if query.Status != "" {
		if status := models.RequestStatus(query.Status); status.Valid() {
			filter.Status = []models.RequestStatus{status}
		}
	}

	requests, err := s.requests.ListForExport(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requests for export")
	}

	dataset := export.Dataset{Headers: exportHeaders}
	for _, req := range requests {
		due := ""
		if req.DueDate != nil {
			due = req.DueDate.Format("2006-01-02")
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Protocolo":    req.Protocol,
			"Título":       req.Title,
			"Departamento": req.TargetDepartment,
			"Status":       string(req.Status),
			"Prioridade":   string(req.Priority),
			"Criado em":    req.CreatedAt.Format("2006-01-02 15:04"),
			"Prazo":        due,
		})
	}

	stamp := s.now().UTC().Format("20060102-150405")
	switch query.Format {
	case "pdf":
		content, err := s.pdf.Render(dataset, "Solicitações")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{
			FileName:    "solicitacoes-" + stamp + ".pdf",
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{
			FileName:    "solicitacoes-" + stamp + ".csv",
			ContentType: "text/csv",
			Content:     content,
		}, nil
	}
}
