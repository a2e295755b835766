// Package worker provides async event processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-security/kestrel/internal/decision"
	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/reputation"
)

// Worker processes events asynchronously from the EventBus.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	engine     *decision.Engine
	reputation *reputation.Provider

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *decision.Engine, rep *reputation.Provider) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		engine:     engine,
		reputation: rep,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicEventIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	// Subscribe to event ingested topic
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processEvent(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicEventIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processEvent(ctx, msg.TenantID, msg)
}

// EventMessage is the message payload for async event evaluation.
type EventMessage struct {
	EventID  string         `json:"eventId"`
	TenantID string         `json:"tenantId"`
	Type     string         `json:"type"`
	Features map[string]any `json:"features"`
	ClientIP string         `json:"clientIp,omitempty"`
}

// processEvent evaluates an event through the decision pipeline.
func (w *Worker) processEvent(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	// Parse message
	var evtMsg EventMessage
	if err := json.Unmarshal(msg.Payload, &evtMsg); err != nil {
		slog.Error("failed to parse event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if evtMsg.TenantID != "" {
		tenantID = evtMsg.TenantID
	}

	eventID := evtMsg.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}

	slog.Debug("processing event",
		"event_id", eventID,
		"tenant_id", tenantID,
		"type", evtMsg.Type,
	)

	feats := evtMsg.Features
	if w.reputation != nil {
		feats = w.reputation.Inject(ctx, tenantID, evtMsg.ClientIP, feats)
	}

	event := &domain.Event{
		ID:        eventID,
		TenantID:  tenantID,
		Type:      domain.EventType(evtMsg.Type),
		Features:  feats,
		ClientIP:  evtMsg.ClientIP,
		Timestamp: time.Unix(0, msg.Timestamp).UTC(),
		CreatedAt: time.Now().UTC(),
	}

	evaluation := w.engine.Evaluate(ctx, event)

	// Save event and evaluation
	if w.repo != nil {
		if err := w.repo.SaveEvent(ctx, tenantID, event); err != nil {
			slog.Error("failed to save event",
				"event_id", eventID,
				"error", err,
			)
		}
		if err := w.repo.SaveEvaluation(ctx, tenantID, evaluation); err != nil {
			slog.Error("failed to save evaluation",
				"event_id", eventID,
				"error", err,
			)
		}
	}

	// Publish result to completion topic
	resultPayload, _ := json.Marshal(evaluation)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish evaluation",
			"event_id", eventID,
			"error", err,
		)
	}

	// If suspicious, publish to alert topic
	if evaluation.Verdict == domain.VerdictSuspicious {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"event_id", eventID,
				"error", err,
			)
		}
	}

	slog.Info("event processed",
		"event_id", eventID,
		"tenant_id", tenantID,
		"verdict", evaluation.Verdict,
		"score", evaluation.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
