package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// Rule writes go through the service so that CEL expressions are checked
// before storage and the tenant's cached rule set is dropped afterwards.

// CreateRule validates and stores def.
func (s *Service) CreateRule(ctx context.Context, tenantID string, def *domain.RuleDefinition) error {
	if err := s.engine.ValidateRule(def); err != nil {
		return err
	}
	if err := s.repo.CreateRule(ctx, tenantID, def); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)

	slog.Info("rule created",
		"tenant_id", tenantID,
		"rule_id", def.ID,
		"rule_name", def.Name,
	)
	return nil
}

// UpdateRule validates and replaces def.
func (s *Service) UpdateRule(ctx context.Context, tenantID string, def *domain.RuleDefinition) error {
	if err := s.engine.ValidateRule(def); err != nil {
		return err
	}
	if err := s.repo.UpdateRule(ctx, tenantID, def); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)

	slog.Info("rule updated",
		"tenant_id", tenantID,
		"rule_id", def.ID,
	)
	return nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, tenantID string, ruleID int64) error {
	if err := s.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)

	slog.Info("rule deleted",
		"tenant_id", tenantID,
		"rule_id", ruleID,
	)
	return nil
}

// ImportRules validates every definition first and stores them only when
// all are valid, in order, so stored ids follow the input order.
func (s *Service) ImportRules(ctx context.Context, tenantID string, defs []*domain.RuleDefinition) (int, error) {
	var errs []error
	for i, def := range defs {
		if err := s.engine.ValidateRule(def); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i+1, err))
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}

	created := 0
	for _, def := range defs {
		if err := s.repo.CreateRule(ctx, tenantID, def); err != nil {
			s.invalidate(ctx, tenantID)
			return created, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		created++
	}
	s.invalidate(ctx, tenantID)

	slog.Info("rules imported",
		"tenant_id", tenantID,
		"count", created,
	)
	return created, nil
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRuleSet(ctx, tenantID); err != nil {
		slog.Warn("rule set invalidation failed",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
