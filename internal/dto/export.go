package dto

import "strings"

// ExportQuery captures filters for the request export endpoints.
type ExportQuery struct {
	Department string `form:"department"`
	Status     string `form:"status"`
	Format     string `form:"format" validate:"omitempty,oneof=csv pdf"`
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
