package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// KeywordList decodes keywords sent either as a list or as a JSON-encoded
// string holding a list, which is what the rules form submits.
type KeywordList []string

// UnmarshalJSON accepts ["a","b"], "[\"a\",\"b\"]", "a, b" and null.
func (k *KeywordList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*k = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		list, err := parseKeywordString(s)
		if err != nil {
			return err
		}
		*k = list
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("%w: matchKeywords must be a list of strings", ErrInvalidRule)
	}
	*k = list
	return nil
}

// UnmarshalYAML accepts a sequence or a single string.
func (k *KeywordList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*k = list
		return nil
	case yaml.ScalarNode:
		list, err := parseKeywordString(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*k = list
		return nil
	default:
		return fmt.Errorf("line %d: matchKeywords must be a list or a string", node.Line)
	}
}

func parseKeywordString(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("%w: matchKeywords is not a JSON array: %v", ErrInvalidRule, err)
		}
		return list, nil
	}
	return strings.Split(s, ","), nil
}

// FormAmount holds an amount sent as a JSON number, a string, or null.
// An empty value means the bound is absent.
type FormAmount string

// UnmarshalJSON keeps the literal text so decimal parsing stays exact.
func (a *FormAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = FormAmount(s)
	default:
		*a = FormAmount(data)
	}
	return nil
}

// RuleForm is the loosely typed rule shape submitted by the rules form or
// read from a rule file. Parse turns it into a RuleDefinition once, at the
// boundary, so the engine never sees raw strings.
type RuleForm struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	RuleType    string `json:"ruleType,omitempty" yaml:"ruleType,omitempty"`
	Priority    int    `json:"priority" yaml:"priority"`
	IsActive    *bool  `json:"isActive,omitempty" yaml:"isActive,omitempty"`

	MatchCategoryID      string      `json:"matchCategoryId,omitempty" yaml:"matchCategoryId,omitempty"`
	MatchKeywords        KeywordList `json:"matchKeywords,omitempty" yaml:"matchKeywords,omitempty"`
	MatchAmountMin       FormAmount  `json:"matchAmountMin,omitempty" yaml:"matchAmountMin,omitempty"`
	MatchAmountMax       FormAmount  `json:"matchAmountMax,omitempty" yaml:"matchAmountMax,omitempty"`
	MatchTransactionType string      `json:"matchTransactionType,omitempty" yaml:"matchTransactionType,omitempty"`
	MatchExpenseType     string      `json:"matchExpenseType,omitempty" yaml:"matchExpenseType,omitempty"`
	MatchExpression      string      `json:"matchExpression,omitempty" yaml:"matchExpression,omitempty"`

	SetIsIsrDeductible TriState `json:"setIsIsrDeductible" yaml:"setIsIsrDeductible,omitempty"`
	SetIsIvaDeductible TriState `json:"setIsIvaDeductible" yaml:"setIsIvaDeductible,omitempty"`
	SetExpenseType     string   `json:"setExpenseType,omitempty" yaml:"setExpenseType,omitempty"`

	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Parse converts the form into a validated RuleDefinition.
func (f *RuleForm) Parse() (*RuleDefinition, error) {
	def := &RuleDefinition{
		Name:                 strings.TrimSpace(f.Name),
		Description:          strings.TrimSpace(f.Description),
		RuleType:             strings.TrimSpace(f.RuleType),
		Priority:             f.Priority,
		IsActive:             true,
		MatchCategoryID:      strings.TrimSpace(f.MatchCategoryID),
		MatchKeywords:        NormalizeKeywords(f.MatchKeywords),
		MatchTransactionType: TransactionType(strings.ToLower(strings.TrimSpace(f.MatchTransactionType))),
		MatchExpenseType:     ExpenseType(strings.ToLower(strings.TrimSpace(f.MatchExpenseType))),
		MatchExpression:      strings.TrimSpace(f.MatchExpression),
		SetIsIsrDeductible:   f.SetIsIsrDeductible,
		SetIsIvaDeductible:   f.SetIsIvaDeductible,
		SetExpenseType:       ExpenseType(strings.ToLower(strings.TrimSpace(f.SetExpenseType))),
		Notes:                f.Notes,
	}
	if f.IsActive != nil {
		def.IsActive = *f.IsActive
	}
	if def.RuleType == "" {
		def.RuleType = RuleTypeDeductibility
	}

	var err error
	if def.MatchAmountMin, err = parseAmount("matchAmountMin", f.MatchAmountMin); err != nil {
		return nil, err
	}
	if def.MatchAmountMax, err = parseAmount("matchAmountMax", f.MatchAmountMax); err != nil {
		return nil, err
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// FormFromDefinition is the inverse of Parse, used to export rules.
func FormFromDefinition(def *RuleDefinition) RuleForm {
	active := def.IsActive
	f := RuleForm{
		Name:                 def.Name,
		Description:          def.Description,
		RuleType:             def.RuleType,
		Priority:             def.Priority,
		IsActive:             &active,
		MatchCategoryID:      def.MatchCategoryID,
		MatchKeywords:        KeywordList(def.MatchKeywords),
		MatchTransactionType: string(def.MatchTransactionType),
		MatchExpenseType:     string(def.MatchExpenseType),
		MatchExpression:      def.MatchExpression,
		SetIsIsrDeductible:   def.SetIsIsrDeductible,
		SetIsIvaDeductible:   def.SetIsIvaDeductible,
		SetExpenseType:       string(def.SetExpenseType),
		Notes:                def.Notes,
	}
	if def.MatchAmountMin != nil {
		f.MatchAmountMin = FormAmount(def.MatchAmountMin.String())
	}
	if def.MatchAmountMax != nil {
		f.MatchAmountMax = FormAmount(def.MatchAmountMax.String())
	}
	return f
}

func parseAmount(field string, n FormAmount) (*decimal.Decimal, error) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a number", ErrInvalidRule, field, s)
	}
	return &d, nil
}

// NormalizeKeywords trims keywords, drops empties and removes
// case-insensitive duplicates while keeping the first spelling.
func NormalizeKeywords(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
