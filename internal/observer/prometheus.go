// Package observer feeds the ingestion engine from external collectors.
package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/opsfleet-labs/vantage/internal/engine"
	"github.com/opsfleet-labs/vantage/internal/storage"
	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

// ScrapeTarget maps one PromQL query onto a vantage metric name.
type ScrapeTarget struct {
	Query      string
	MetricName string
}

// PrometheusScraper periodically evaluates configured queries and writes
// the results through the ingestion path, so scraped samples go through
// rule evaluation exactly like samples posted to the API.
type PrometheusScraper struct {
	api            promv1.API
	targets        []ScrapeTarget
	interval       time.Duration
	organizationID string
	ingestor       *engine.Ingestor
	logger         *zap.Logger
}

func NewPrometheusScraper(
	prometheusURL string,
	targets []ScrapeTarget,
	interval time.Duration,
	organizationID string,
	ingestor *engine.Ingestor,
	logger *zap.Logger,
) (*PrometheusScraper, error) {
	client, err := promapi.NewClient(promapi.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}

	return &PrometheusScraper{
		api:            promv1.NewAPI(client),
		targets:        targets,
		interval:       interval,
		organizationID: organizationID,
		ingestor:       ingestor,
		logger:         logger,
	}, nil
}

func (p *PrometheusScraper) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.scrapeOnce(ctx); err != nil {
		p.logger.Error("Initial metric scrape failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.scrapeOnce(ctx); err != nil {
				p.logger.Error("Metric scrape failed", zap.Error(err))
			}
		}
	}
}

func (p *PrometheusScraper) scrapeOnce(ctx context.Context) error {
	var collected []*storage.Metric
	timestamp := time.Now()

	for _, target := range p.targets {
		result, err := p.queryVector(ctx, target.Query)
		if err != nil {
			p.logger.Warn("Failed to query metric",
				zap.String("metric", target.MetricName),
				zap.Error(err))
			continue
		}

		for _, sample := range result {
			source := string(sample.Metric["service"])
			if source == "" {
				source = string(sample.Metric["instance"])
			}
			if source == "" {
				source = "unknown"
			}

			tags := make(map[string]string, len(sample.Metric))
			for k, v := range sample.Metric {
				tags[string(k)] = string(v)
			}

			collected = append(collected, &storage.Metric{
				OrganizationID: p.organizationID,
				MetricName:     target.MetricName,
				MetricType:     "gauge",
				Source:         source,
				Value:          float64(sample.Value),
				Timestamp:      timestamp,
				Tags:           tags,
			})
		}
	}

	if len(collected) == 0 {
		return nil
	}

	if err := p.ingestor.RecordMetricsBatch(ctx, collected); err != nil {
		return fmt.Errorf("failed to ingest scraped metrics: %w", err)
	}

	p.logger.Debug("Scraped metrics from Prometheus",
		zap.Int("count", len(collected)))

	return nil
}

func (p *PrometheusScraper) queryVector(ctx context.Context, query string) (model.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	if len(warnings) > 0 {
		p.logger.Warn("Prometheus query warnings",
			zap.Strings("warnings", warnings))
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type: %T", result)
	}

	return vector, nil
}

func (p *PrometheusScraper) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, _, err := p.api.Query(ctx, "up", time.Now()); err != nil {
		return fmt.Errorf("prometheus health check failed: %w", err)
	}

	return nil
}
