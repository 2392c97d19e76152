// Package classifier orchestrates one classification run: rule set lookup,
// evaluation, compliance suggestions, persistence and events.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fiscal/internal/bus"
	"github.com/opensource-finance/fiscal/internal/compliance"
	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/opensource-finance/fiscal/internal/metrics"
	"github.com/opensource-finance/fiscal/internal/rules"
)

var (
	// ErrEmptyBatch is returned for a batch without transaction ids.
	ErrEmptyBatch = errors.New("batch has no transactions")

	// ErrBatchTooLarge is returned when a batch exceeds the configured size.
	ErrBatchTooLarge = errors.New("batch too large")
)

var tracer = otel.Tracer("fiscal-classifier")

// Config tunes the service.
type Config struct {
	RuleType     string
	RuleSetTTL   time.Duration
	BatchWorkers int
	BatchMaxSize int
}

// Service classifies transactions. It keeps no rule state: every run or
// batch builds its own immutable RuleSet.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	generator *compliance.Generator
	metrics   *metrics.Collector
	cfg       Config
}

// NewService creates a classifier. cache, bus and collector may be nil.
func NewService(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, engine *rules.Engine, generator *compliance.Generator, collector *metrics.Collector, cfg Config) *Service {
	if cfg.RuleType == "" {
		cfg.RuleType = domain.RuleTypeDeductibility
	}
	if cfg.RuleSetTTL <= 0 {
		cfg.RuleSetTTL = time.Minute
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 8
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 1000
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		bus:       eventBus,
		engine:    engine,
		generator: generator,
		metrics:   collector,
		cfg:       cfg,
	}
}

type traceIDKey struct{}

// WithTraceID attaches a trace id used when no span is recording.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// RuleSet returns a snapshot of the tenant's active rules, served from the
// cache when possible.
func (s *Service) RuleSet(ctx context.Context, tenantID string) (*rules.RuleSet, error) {
	defs, err := s.activeRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.engine.Compile(defs), nil
}

func (s *Service) activeRules(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error) {
	if s.cache != nil {
		defs, err := s.cache.GetRuleSet(ctx, tenantID, s.cfg.RuleType)
		if err != nil {
			slog.Warn("rule set cache read failed",
				"tenant_id", tenantID,
				"error", err,
			)
		} else if defs != nil {
			return defs, nil
		}
	}

	defs, err := s.repo.ListActiveRules(ctx, tenantID, s.cfg.RuleType)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetRuleSet(ctx, tenantID, s.cfg.RuleType, defs, s.cfg.RuleSetTTL); err != nil {
			slog.Warn("rule set cache write failed",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}
	return defs, nil
}

// Evaluate runs set and the compliance checks against tx. Nothing is stored.
func (s *Service) Evaluate(ctx context.Context, set *rules.RuleSet, tx *domain.Transaction) *domain.Evaluation {
	start := time.Now()

	classification, logs := set.Evaluate(tx)
	rulesMs := time.Since(start).Milliseconds()

	suggestions := s.generator.Generate(tx, classification)

	eval := &domain.Evaluation{
		ID:             uuid.New().String(),
		TenantID:       tx.TenantID,
		TxID:           tx.ID,
		Timestamp:      time.Now().UTC(),
		Classification: *classification,
		Logs:           logs,
		Suggestions:    suggestions,
	}

	var matched int
	for i := range eval.Logs {
		eval.Logs[i].TenantID = tx.TenantID
		eval.Logs[i].EvaluationID = eval.ID
		if eval.Logs[i].RuleMatched {
			matched++
		}
	}
	for i := range eval.Suggestions {
		eval.Suggestions[i].EvaluationID = eval.ID
	}

	eval.Metadata = domain.EvaluationMetadata{
		TraceID:        traceIDFrom(ctx),
		RulesEvaluated: len(logs),
		RulesMatched:   matched,
		RulesApplied:   len(classification.AppliedRuleIDs),
		RulesMs:        rulesMs,
		TotalMs:        time.Since(start).Milliseconds(),
		EngineVersion:  domain.EngineVersion,
	}
	return eval
}

// Classify loads a stored transaction, classifies it with the current rules
// and persists the result.
func (s *Service) Classify(ctx context.Context, tenantID, txID string) (*domain.Evaluation, error) {
	set, err := s.RuleSet(ctx, tenantID)
	if err != nil {
		s.metrics.RecordFailure()
		return nil, err
	}
	return s.classifyWith(ctx, set, tenantID, txID)
}

func (s *Service) classifyWith(ctx context.Context, set *rules.RuleSet, tenantID, txID string) (*domain.Evaluation, error) {
	ctx, span := tracer.Start(ctx, "classifier.Classify",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("tx.id", txID),
		),
	)
	defer span.End()

	tx, err := s.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		s.metrics.RecordFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "load transaction")
		return nil, fmt.Errorf("transaction %s: %w", txID, err)
	}

	eval, err := s.persist(ctx, set, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist evaluation")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("evaluation.id", eval.ID),
		attribute.String("evaluation.outcome", eval.Outcome()),
		attribute.Int("rules.applied", eval.Metadata.RulesApplied),
		attribute.Int("suggestions", len(eval.Suggestions)),
	)
	return eval, nil
}

func (s *Service) persist(ctx context.Context, set *rules.RuleSet, tx *domain.Transaction) (*domain.Evaluation, error) {
	start := time.Now()
	eval := s.Evaluate(ctx, set, tx)

	if err := s.repo.SaveEvaluation(ctx, tx.TenantID, eval); err != nil {
		s.metrics.RecordFailure()
		return nil, fmt.Errorf("failed to save evaluation for %s: %w", tx.ID, err)
	}
	s.metrics.RecordEvaluation(eval, time.Since(start))

	s.publish(ctx, eval)

	slog.Debug("transaction classified",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"evaluation_id", eval.ID,
		"outcome", eval.Outcome(),
		"rules_applied", eval.Metadata.RulesApplied,
		"suggestions", len(eval.Suggestions),
	)
	return eval, nil
}

func (s *Service) publish(ctx context.Context, eval *domain.Evaluation) {
	if s.bus == nil {
		return
	}

	if err := bus.PublishJSON(ctx, s.bus, eval.TenantID, domain.TopicClassificationComplete, eval); err != nil {
		slog.Error("failed to publish classification",
			"tx_id", eval.TxID,
			"error", err,
		)
	}

	if !eval.HasErrors() {
		return
	}
	raised := make([]domain.ComplianceSuggestion, 0, len(eval.Suggestions))
	for _, sg := range eval.Suggestions {
		if sg.Severity == domain.SeverityError {
			raised = append(raised, sg)
		}
	}
	if err := bus.PublishJSON(ctx, s.bus, eval.TenantID, domain.TopicSuggestionRaised, raised); err != nil {
		slog.Error("failed to publish suggestions",
			"tx_id", eval.TxID,
			"error", err,
		)
	}
}

// Ingest stores tx and classifies it inline. With async set, it only
// enqueues a classification request and returns a nil evaluation.
func (s *Service) Ingest(ctx context.Context, tx *domain.Transaction, async bool) (*domain.Evaluation, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.SaveTransaction(ctx, tx.TenantID, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	if async && s.bus != nil {
		req := domain.ClassificationRequested{
			TxID:     tx.ID,
			TenantID: tx.TenantID,
			TraceID:  traceIDFrom(ctx),
		}
		if err := bus.PublishJSON(ctx, s.bus, domain.QueueTenant, domain.TopicTransactionIngested, req); err != nil {
			return nil, fmt.Errorf("failed to enqueue classification: %w", err)
		}
		return nil, nil
	}

	set, err := s.RuleSet(ctx, tx.TenantID)
	if err != nil {
		s.metrics.RecordFailure()
		return nil, err
	}
	return s.persist(ctx, set, tx)
}

// ClassifyBatch re-classifies txIDs against one rule set snapshot. A failing
// transaction is reported in the result and never aborts the others. Only
// input or rule loading problems return an error.
func (s *Service) ClassifyBatch(ctx context.Context, tenantID string, txIDs []string) (*domain.BatchReport, error) {
	start := time.Now()

	ids := dedupe(txIDs)
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(ids) > s.cfg.BatchMaxSize {
		return nil, fmt.Errorf("%w: %d transactions, limit %d", ErrBatchTooLarge, len(ids), s.cfg.BatchMaxSize)
	}

	ctx, span := tracer.Start(ctx, "classifier.ClassifyBatch",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("batch.size", len(ids)),
		),
	)
	defer span.End()

	set, err := s.RuleSet(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &domain.BatchReport{
		Requested: len(ids),
		Succeeded: make([]string, 0, len(ids)),
		Failed:    make(map[string]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchWorkers)

	for _, id := range ids {
		g.Go(func() error {
			_, err := s.classifyWith(gctx, set, tenantID, id)
			if err == nil {
				err = gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[id] = err.Error()
				slog.Warn("batch classification failed",
					"tx_id", id,
					"tenant_id", tenantID,
					"error", err,
				)
				return nil
			}
			report.Succeeded = append(report.Succeeded, id)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(report.Succeeded)
	report.TotalMs = time.Since(start).Milliseconds()
	s.metrics.RecordBatchFailures(len(report.Failed))

	span.SetAttributes(
		attribute.Int("batch.succeeded", len(report.Succeeded)),
		attribute.Int("batch.failed", len(report.Failed)),
	)
	slog.Info("batch classified",
		"tenant_id", tenantID,
		"requested", report.Requested,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"duration_ms", report.TotalMs,
	)
	return report, nil
}

// ClassifyUnclassified re-classifies up to limit transactions that have
// never been classified.
func (s *Service) ClassifyUnclassified(ctx context.Context, tenantID string, limit int) (*domain.BatchReport, error) {
	if limit <= 0 || limit > s.cfg.BatchMaxSize {
		limit = s.cfg.BatchMaxSize
	}
	txs, err := s.repo.ListUnclassified(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified transactions: %w", err)
	}
	if len(txs) == 0 {
		return &domain.BatchReport{Succeeded: []string{}, Failed: map[string]string{}}, nil
	}

	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	return s.ClassifyBatch(ctx, tenantID, ids)
}

// Preview classifies tx without storing anything. When defs is nil the
// tenant's stored rules are used.
func (s *Service) Preview(ctx context.Context, tx *domain.Transaction, defs []*domain.RuleDefinition) (*domain.Evaluation, error) {
	var set *rules.RuleSet
	if defs != nil {
		set = s.engine.Compile(defs)
	} else {
		var err error
		if set, err = s.RuleSet(ctx, tx.TenantID); err != nil {
			return nil, err
		}
	}

	eval := s.Evaluate(ctx, set, tx)
	eval.Metadata.DryRun = true
	return eval, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
