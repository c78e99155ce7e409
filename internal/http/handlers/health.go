package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB enables the database liveness check.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type healthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth reports service liveness and the database check.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	now := time.Now()
	checks := map[string]string{
		"database": h.databaseCheck(ctx),
	}

	status := "healthy"
	for _, v := range checks {
		if v == "error" {
			status = "degraded"
		}
	}

	return &healthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			UptimeSeconds: now.Sub(h.startTime).Seconds(),
			Checks:        checks,
		},
	}, nil
}

func (h *HealthHandler) databaseCheck(ctx context.Context) string {
	if h.db == nil {
		return "disabled"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return "error"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "error"
	}
	return "ok"
}
