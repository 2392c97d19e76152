// Package rulefile reads deductibility rules from YAML files.
//
// A file holds either a top-level list of rules or a mapping with a "rules"
// key. Each entry uses the same field names as the HTTP rule form:
//
//	rules:
//	  - name: Gasolina pagada con tarjeta
//	    priority: 50
//	    matchKeywords: [gasolina, pemex]
//	    setIsIsrDeductible: true
//	    setIsIvaDeductible: true
package rulefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fiscal/internal/domain"
)

type document struct {
	Rules []domain.RuleForm `yaml:"rules"`
}

// Load reads and parses a rule file.
func Load(path string) ([]*domain.RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Decode parses rules from a reader.
func Decode(r io.Reader) ([]*domain.RuleDefinition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse converts every entry into a validated RuleDefinition. All invalid
// entries are reported together.
func Parse(data []byte) ([]*domain.RuleDefinition, error) {
	forms, err := decodeForms(data)
	if err != nil {
		return nil, err
	}

	defs := make([]*domain.RuleDefinition, 0, len(forms))
	var errs []error
	for i := range forms {
		def, err := forms[i].Parse()
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%q): %w", i+1, forms[i].Name, err))
			continue
		}
		defs = append(defs, def)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return defs, nil
}

func decodeForms(data []byte) ([]domain.RuleForm, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var forms []domain.RuleForm
		if err := node.Decode(&forms); err != nil {
			return nil, fmt.Errorf("parse rule file: %w", err)
		}
		return forms, nil
	case yaml.MappingNode:
		var doc document
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse rule file: %w", err)
		}
		return doc.Rules, nil
	default:
		return nil, fmt.Errorf("parse rule file: line %d: expected a list of rules", node.Line)
	}
}

// Marshal renders definitions back into the rule file format.
func Marshal(defs []*domain.RuleDefinition) ([]byte, error) {
	doc := document{Rules: make([]domain.RuleForm, 0, len(defs))}
	for _, def := range defs {
		doc.Rules = append(doc.Rules, domain.FormFromDefinition(def))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
