package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker pings one dependency.
type HealthChecker func(ctx context.Context) error

// StatsProvider returns the engine counters shown by the detailed check.
type StatsProvider func(ctx context.Context) models.EngineStats

type HealthController struct {
	checks    map[string]HealthChecker
	stats     StatsProvider
	version   string
	startedAt time.Time
}

func NewHealthController(version string, checks map[string]HealthChecker, stats StatsProvider) *HealthController {
	return &HealthController{
		checks:    checks,
		stats:     stats,
		version:   version,
		startedAt: time.Now(),
	}
}

// HealthCheck pings every dependency and answers 503 if any is down.
func (hc *HealthController) HealthCheck(c *gin.Context) {
	hc.respond(c, nil)
}

// DetailedHealthCheck adds the engine counters.
func (hc *HealthController) DetailedHealthCheck(c *gin.Context) {
	var stats *models.EngineStats
	if hc.stats != nil {
		s := hc.stats(c.Request.Context())
		stats = &s
	}
	hc.respond(c, stats)
}

func (hc *HealthController) respond(c *gin.Context, stats *models.EngineStats) {
	services := hc.runChecks(c.Request.Context())
	uptime := utils.FormatDuration(time.Since(hc.startedAt))

	resp := utils.HealthCheckResponse(services, hc.version, uptime, stats)
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (hc *HealthController) runChecks(ctx context.Context) map[string]string {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := hc.checks[name](checkCtx)
		cancel()

		if err != nil {
			logrus.Warnf("Health check %s failed: %v", name, err)
			results[name] = "unhealthy"
			continue
		}
		results[name] = "healthy"
	}
	return results
}
