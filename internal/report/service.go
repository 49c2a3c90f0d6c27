// Package report assembles the analytics, audit and monitoring responses.
// Each report fetches its datasets concurrently through domain.Repository
// and hands them to the pure builders in this package.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/metrics"
	"github.com/opensource-finance/keeper/internal/rules"
	"github.com/opensource-finance/keeper/internal/timebucket"
)

// Options wires the optional collaborators of a Service.
type Options struct {
	// Custom detection rules, merged into monitoring findings. May be nil.
	Engine *rules.Engine

	// Alert publishing. Both may be nil, which disables publishing.
	Bus   domain.EventBus
	Cache domain.Cache

	Metrics *metrics.Metrics
	Config  domain.MonitoringConfig
}

// Service builds reports from repository data.
type Service struct {
	repo     domain.Repository
	engine   *rules.Engine
	bus      domain.EventBus
	cache    domain.Cache
	metrics  *metrics.Metrics
	cfg      domain.MonitoringConfig
	loc      *time.Location
	activity *rules.Detector
	security *rules.Detector
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a Service. The configured timezone drives hour-of-day and
// business-hours computations.
func New(repo domain.Repository, opts Options) (*Service, error) {
	if repo == nil {
		return nil, errors.New("report service needs a repository")
	}

	cfg := opts.Config
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid monitoring timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.RequiredKYCDocuments <= 0 {
		cfg.RequiredKYCDocuments = 3
	}
	if cfg.AlertSeverity == "" {
		cfg.AlertSeverity = domain.SeverityHigh
	}

	return &Service{
		repo:     repo,
		engine:   opts.Engine,
		bus:      opts.Bus,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		cfg:      cfg,
		loc:      loc,
		activity: rules.NewDetector(rules.ActivityThresholds(), loc),
		security: rules.NewDetector(rules.SecurityThresholds(), loc),
		tracer:   otel.Tracer("keeper.report"),
		now:      time.Now,
	}, nil
}

// Location returns the reporting timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// fetch runs fn on g and stores its rows in dst. A strict fetch fails the
// group with an UpstreamFetchError; a tolerant one logs the failure, counts
// it and leaves dst as an empty slice. A result that fills the configured
// limit is logged and counted as truncated.
func fetch[T any](ctx context.Context, s *Service, g *errgroup.Group, dataset string, strict bool, dst *[]T, fn func(context.Context) ([]T, error)) {
	g.Go(func() error {
		ctx, span := s.tracer.Start(ctx, "fetch "+dataset, trace.WithAttributes(
			attribute.String("dataset", dataset),
			attribute.Bool("strict", strict),
		))
		defer span.End()

		rows, err := fn(ctx)
		if err != nil {
			span.RecordError(err)
			if strict {
				return &domain.UpstreamFetchError{Dataset: dataset, Err: err}
			}
			s.metrics.FetchFailed(dataset)
			slog.WarnContext(ctx, "dataset fetch failed, continuing with empty set",
				"dataset", dataset,
				"error", err,
			)
			rows = nil
		}
		if rows == nil {
			rows = []T{}
		}
		if limit := s.cfg.FetchLimit; limit > 0 && len(rows) >= limit {
			span.SetAttributes(attribute.Bool("truncated", true))
			s.metrics.FetchTruncated(dataset)
			slog.WarnContext(ctx, "dataset fetch hit the row limit, report covers the newest rows only",
				"dataset", dataset,
				"limit", limit,
			)
		}
		*dst = rows
		return nil
	})
}

// limited applies the configured per-dataset row cap.
func (s *Service) limited(q *domain.Query) *domain.Query {
	if s.cfg.FetchLimit > 0 {
		q.WithLimit(s.cfg.FetchLimit)
	}
	return q
}

// resolveRange turns request parameters into a reporting range. Explicit
// dates win over the timeframe; giving only one of them is rejected.
func (s *Service) resolveRange(timeframe, fallback string, start, end *time.Time) (timebucket.Range, error) {
	if start != nil || end != nil {
		verr := &domain.ValidationError{}
		if start == nil {
			verr.Add("start_date", "required when end_date is set")
		}
		if end == nil {
			verr.Add("end_date", "required when start_date is set")
		}
		if verr.HasErrors() {
			return timebucket.Range{}, verr
		}
		timeframe = timebucket.Custom
	}
	if timeframe == "" {
		timeframe = fallback
	}

	r, err := timebucket.ResolveDateRange(timeframe, s.now(), start, end)
	switch {
	case errors.Is(err, timebucket.ErrInvalidRange):
		return r, domain.NewValidationError("start_date", "must not be after end_date")
	case errors.Is(err, timebucket.ErrMissingBounds):
		return r, domain.NewValidationError("timeframe", "custom requires start_date and end_date")
	case errors.Is(err, timebucket.ErrUnknownRange):
		return r, domain.NewValidationError("timeframe", err.Error())
	}
	return r, err
}

// granularity parses an explicit group_by or picks one that keeps the
// series readable for the range: daily up to a month, weekly up to a
// quarter, monthly beyond.
func granularity(groupBy string, r timebucket.Range) (timebucket.Granularity, error) {
	if groupBy != "" {
		g, err := timebucket.ParseGranularity(groupBy)
		if err != nil {
			return "", domain.NewValidationError("group_by", err.Error())
		}
		return g, nil
	}
	switch d := r.Duration(); {
	case d <= 31*24*time.Hour:
		return timebucket.Day, nil
	case d <= 92*24*time.Hour:
		return timebucket.Week, nil
	default:
		return timebucket.Month, nil
	}
}
