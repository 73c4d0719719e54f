package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a JSON view of pgxpool.Stat.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// schemaQuery reports whether the event store tables exist. The query doubles
// as the liveness ping.
const schemaQuery = `SELECT to_regclass('edm_events') IS NOT NULL AND to_regclass('edm_rejects') IS NOT NULL`

// HealthHandler serves /health/db. It answers 503 when the database cannot be
// reached and "degraded" when it can but the event tables are missing, which
// means `edm migrate up` has not run. A nil pool reports "disabled".
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	if pool == nil {
		return healthHandler(nil, nil)
	}
	check := func(ctx context.Context) (bool, error) {
		var ready bool
		err := pool.QueryRow(ctx, schemaQuery).Scan(&ready)
		return ready, err
	}
	return healthHandler(check, func() *PoolStats { return GetPoolStats(pool) })
}

func healthHandler(check func(context.Context) (bool, error), stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check == nil {
			return c.JSON(http.StatusOK, map[string]interface{}{"status": "disabled"})
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		ready, err := check(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats(),
			})
		}

		status, schema := "healthy", "ready"
		if !ready {
			status, schema = "degraded", "missing"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": status,
			"schema": schema,
			"pool":   stats(),
		})
	}
}
