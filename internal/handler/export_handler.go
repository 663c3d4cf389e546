package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	"github.com/prefeitura-digital/portal-api/internal/service"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
	"github.com/prefeitura-digital/portal-api/pkg/response"
)

type exportService interface {
	Requests(ctx context.Context, query dto.ExportQuery, actor *models.JWTClaims) (*service.ExportFile, error)
}

// ExportHandler exposes tabular exports of the request store.
type ExportHandler struct {
	service exportService
}

// NewExportHandler builds a new handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Requests godoc
// @Summary Export requests as CSV or PDF
// @Tags Exports
// @Produce octet-stream
// @Param department query string false "Department filter"
// @Param status query string false "Status filter"
// @Param format query string false "csv or pdf (defaults to csv)"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /exports/requests [get]
func (h *ExportHandler) Requests(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	file, err := h.service.Requests(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.FileName+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
