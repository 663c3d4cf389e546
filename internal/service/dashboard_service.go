package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
)

const dashboardCacheKey = "dash:summary"

type requestAggregator interface {
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
	CountByDepartment(ctx context.Context) ([]models.DepartmentCount, error)
	CountByPriority(ctx context.Context) ([]models.PriorityCount, error)
	CountOverdue(ctx context.Context, now time.Time) (int, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the back-office overview of request volumes.
type DashboardService struct {
	requests requestAggregator
	metrics  *MetricsService
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(requests requestAggregator, metrics *MetricsService, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		requests: requests,
		metrics:  metrics,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Summary returns the aggregated dashboard and indicates cache utilisation.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, bool, error) {
	if s.cache != nil {
		var cached models.DashboardSummary
		hit, err := s.cache.Get(ctx, dashboardCacheKey, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	summary, err := s.compose(ctx)
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, summary, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return summary, false, nil
}

// Metrics returns the lightweight runtime metrics snapshot.
func (s *DashboardService) Metrics() models.SystemMetrics {
	if s.metrics == nil {
		return models.SystemMetrics{GeneratedAt: s.now().UTC()}
	}
	return s.metrics.Snapshot()
}

func (s *DashboardService) compose(ctx context.Context) (*models.DashboardSummary, error) {
	byStatus, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by status")
	}
	byDepartment, err := s.requests.CountByDepartment(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by department")
	}
	byPriority, err := s.requests.CountByPriority(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by priority")
	}
	overdue, err := s.requests.CountOverdue(ctx, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count overdue requests")
	}

	total := 0
	for _, entry := range byStatus {
		total += entry.Count
	}

	return &models.DashboardSummary{
		Total:        total,
		ByStatus:     byStatus,
		ByDepartment: byDepartment,
		ByPriority:   byPriority,
		OverdueCount: overdue,
		GeneratedAt:  s.now().UTC(),
	}, nil
}
