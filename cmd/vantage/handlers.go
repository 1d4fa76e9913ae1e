package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opsfleet-labs/vantage/internal/analyzer"
	"github.com/opsfleet-labs/vantage/internal/engine"
	"github.com/opsfleet-labs/vantage/internal/health"
	"github.com/opsfleet-labs/vantage/internal/security"
	"github.com/opsfleet-labs/vantage/internal/storage"
)

const orgKey = "organization_id"

// requireOrganization threads the tenant through every call. The
// organization always comes from the authenticated request, never from a
// default.
func requireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := c.GetHeader("X-Org-ID")
		if org == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "missing X-Org-ID header",
			})
			return
		}
		c.Set(orgKey, org)
		c.Next()
	}
}

func organizationID(c *gin.Context) string {
	return c.GetString(orgKey)
}

type apiHandlers struct {
	db         *storage.PostgresClient
	ingestor   *engine.Ingestor
	baselines  *analyzer.BaselineCalculator
	planner    *analyzer.CapacityPlanner
	recorder   *security.Recorder
	aggregator *health.Aggregator
}

func writeError(c *gin.Context, err error) {
	var validationErr *storage.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, analyzer.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *apiHandlers) recordMetric(c *gin.Context) {
	var metric storage.Metric
	if err := c.ShouldBindJSON(&metric); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metric payload: " + err.Error()})
		return
	}
	metric.OrganizationID = organizationID(c)
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.ingestor.RecordMetric(ctx, &metric); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": metric.ID})
}

func (h *apiHandlers) recordMetricsBatch(c *gin.Context) {
	var metrics []*storage.Metric
	if err := c.ShouldBindJSON(&metrics); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch payload: " + err.Error()})
		return
	}

	org := organizationID(c)
	now := time.Now()
	for _, m := range metrics {
		m.OrganizationID = org
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	if err := h.ingestor.RecordMetricsBatch(ctx, metrics); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(metrics)})
}

func (h *apiHandlers) createAlertRule(c *gin.Context) {
	var rule storage.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload: " + err.Error()})
		return
	}
	rule.OrganizationID = organizationID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.db.CreateAlertRule(ctx, &rule)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule_id": id})
}

func (h *apiHandlers) listActiveAlerts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	alerts, err := h.db.GetActiveAlerts(ctx, organizationID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *apiHandlers) resolveAlert(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.ResolveAlert(ctx, organizationID(c), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (h *apiHandlers) recordSecurityEvent(c *gin.Context) {
	var event storage.SecurityEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload: " + err.Error()})
		return
	}
	event.OrganizationID = organizationID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	eventID, err := h.recorder.Record(ctx, &event)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event_id": eventID})
}

func (h *apiHandlers) calculateBaseline(c *gin.Context) {
	var req struct {
		MetricName string `json:"metric_name" binding:"required"`
		Source     string `json:"source" binding:"required"`
		TimeFrame  string `json:"time_frame" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid baseline request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	baseline, err := h.baselines.Calculate(ctx, organizationID(c), req.MetricName, req.Source, req.TimeFrame)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"baseline_id": baseline.ID,
		"baseline":    baseline,
	})
}

func (h *apiHandlers) analyzeCapacity(c *gin.Context) {
	var req struct {
		ResourceType string `json:"resource_type" binding:"required"`
		ResourceID   string `json:"resource_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid capacity request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	analysis, err := h.planner.Analyze(ctx, organizationID(c), req.ResourceType, req.ResourceID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"analysis_id": analysis.ID,
		"analysis":    analysis,
	})
}

func (h *apiHandlers) healthSummary(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	summary, err := h.aggregator.Summarize(ctx, organizationID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
