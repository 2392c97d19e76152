package cache

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// ruleSetPrefix namespaces rule set entries so a tenant's sets can be
// invalidated together.
const ruleSetPrefix = "ruleset:"

func ruleSetKey(ruleType string) string {
	if ruleType == "" {
		return ruleSetPrefix + "*all"
	}
	return ruleSetPrefix + ruleType
}

func encodeRuleSet(rules []*domain.RuleDefinition) ([]byte, error) {
	if rules == nil {
		rules = []*domain.RuleDefinition{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule set: %w", err)
	}
	return data, nil
}

func decodeRuleSet(data []byte) ([]*domain.RuleDefinition, error) {
	var rules []*domain.RuleDefinition
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rule set: %w", err)
	}
	if rules == nil {
		rules = []*domain.RuleDefinition{}
	}
	return rules, nil
}
