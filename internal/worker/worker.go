// Package worker consumes Keeper's bus events: it records dispatched
// security alerts and counts generated reports.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/metrics"
)

// AlertStore persists dispatched alerts.
type AlertStore interface {
	SaveAlertNotification(ctx context.Context, n *domain.AlertNotification) error
}

// Worker processes alert and report events from the EventBus.
type Worker struct {
	bus     domain.EventBus
	store   AlertStore
	metrics *metrics.Metrics
	now     func() time.Time

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new alert worker. m may be nil.
func NewWorker(bus domain.EventBus, store AlertStore, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		store:   store,
		metrics: m,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the alert and report topics.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.subscriptions) > 0 {
		return errors.New("worker already started")
	}

	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicSecurityAlert, w.handleAlert},
		{domain.TopicReportGenerated, w.handleReport},
	}

	for _, h := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, h.topic, h.handler)
		if err != nil {
			w.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", h.topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("alert worker started",
		"topics", []string{domain.TopicSecurityAlert, domain.TopicReportGenerated},
	)
	return nil
}

// handleAlert records one security alert as a notification.
func (w *Worker) handleAlert(ctx context.Context, msg *domain.Message) error {
	var alert domain.SecurityAlert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		slog.Error("failed to parse security alert",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	f := alert.Finding
	n := &domain.AlertNotification{
		ID:          uuid.New().String(),
		FindingType: f.Type,
		Severity:    f.Severity,
		UserID:      f.UserID,
		IPAddress:   f.IPAddress,
		Description: f.Description,
		Source:      alert.Source,
		CreatedAt:   w.now().UTC(),
	}

	if err := w.store.SaveAlertNotification(ctx, n); err != nil {
		slog.Error("failed to save alert notification",
			"finding_type", f.Type,
			"user_id", f.UserID,
			"error", err,
		)
		return err
	}

	w.metrics.AlertDispatched(string(f.Severity))

	slog.Warn("security alert",
		"finding_type", f.Type,
		"severity", f.Severity,
		"user_id", f.UserID,
		"ip_address", f.IPAddress,
		"source", alert.Source,
		"description", f.Description,
	)
	return nil
}

// handleReport logs a generated report.
func (w *Worker) handleReport(ctx context.Context, msg *domain.Message) error {
	var ev domain.ReportEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse report event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Info("report generated",
		"report_type", ev.ReportType,
		"format", ev.Format,
		"requested_by", ev.RequestedBy,
		"entries", ev.Entries,
	)
	return nil
}

// Stop unsubscribes from all topics.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.unsubscribeLocked()
	w.mu.Unlock()

	slog.Info("alert worker stopped")
	return nil
}

func (w *Worker) unsubscribeLocked() {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
}

// Stats describes the worker's active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
