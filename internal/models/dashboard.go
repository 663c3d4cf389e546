package models

import "time"

// StatusCount aggregates requests per lifecycle status.
type StatusCount struct {
	Status RequestStatus `db:"status" json:"status"`
	Count  int           `db:"count" json:"count"`
}

// DepartmentCount aggregates requests per owning department.
type DepartmentCount struct {
	Department string `db:"target_department" json:"department"`
	Count      int    `db:"count" json:"count"`
}

// PriorityCount aggregates requests per priority.
type PriorityCount struct {
	Priority RequestPriority `db:"priority" json:"priority"`
	Count    int             `db:"count" json:"count"`
}

// DashboardSummary is the cached back-office overview of request volumes.
type DashboardSummary struct {
	Total        int               `json:"total"`
	ByStatus     []StatusCount     `json:"by_status"`
	ByDepartment []DepartmentCount `json:"by_department"`
	ByPriority   []PriorityCount   `json:"by_priority"`
	OverdueCount int               `json:"overdue_count"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// SystemMetrics is a lightweight snapshot of runtime counters exposed through
// the dashboard endpoints.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
