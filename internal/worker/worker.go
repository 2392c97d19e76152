// Package worker classifies queued transactions for the async pipeline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fiscal/internal/bus"
	"github.com/opensource-finance/fiscal/internal/domain"
)

// Classifier classifies one stored transaction.
type Classifier interface {
	Classify(ctx context.Context, tenantID, txID string) (*domain.Evaluation, error)
}

// Worker consumes classification requests from the EventBus.
type Worker struct {
	bus        domain.EventBus
	classifier Classifier

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds concurrent classifications.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, classifier Classifier) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        eventBus,
		classifier: classifier,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the shared classification queue.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.QueueTenant, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage hands the request to a bounded pool of goroutines so a slow
// classification does not hold up the subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ClassificationRequested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse classification request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.TenantID == "" || req.TxID == "" {
		w.failed.Add(1)
		return fmt.Errorf("classification request %s lacks tenant or transaction id", msg.ID)
	}
	if req.TraceID == "" {
		req.TraceID = msg.Metadata[bus.MetadataTraceID]
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(req, msg.ID)
	}()
	return nil
}

func (w *Worker) process(req domain.ClassificationRequested, messageID string) {
	start := time.Now()

	traceID := req.TraceID
	if traceID == "" {
		traceID = messageID
	}

	eval, err := w.classifier.Classify(w.ctx, req.TenantID, req.TxID)
	if err != nil {
		w.failed.Add(1)
		slog.Error("classification failed",
			"tx_id", req.TxID,
			"tenant_id", req.TenantID,
			"trace_id", traceID,
			"error", err,
		)
		return
	}

	w.processed.Add(1)
	slog.Info("transaction classified",
		"tx_id", req.TxID,
		"tenant_id", req.TenantID,
		"trace_id", traceID,
		"evaluation_id", eval.ID,
		"outcome", eval.Outcome(),
		"suggestions", len(eval.Suggestions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight classifications.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats holds worker counters.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
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
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
