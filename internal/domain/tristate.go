package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TriState is a boolean that can also be unset.
// The zero value is TriUnset. An explicit TriFalse is a decision, not an absence.
type TriState uint8

const (
	TriUnset TriState = iota
	TriFalse
	TriTrue
)

// Tri converts a plain bool into a set TriState.
func Tri(b bool) TriState {
	if b {
		return TriTrue
	}
	return TriFalse
}

// IsSet reports whether the value carries a decision.
func (t TriState) IsSet() bool {
	return t == TriTrue || t == TriFalse
}

// Bool returns the value and whether it was set.
func (t TriState) Bool() (value bool, ok bool) {
	return t == TriTrue, t.IsSet()
}

// IsTrue reports whether the value is set and true.
func (t TriState) IsTrue() bool {
	return t == TriTrue
}

func (t TriState) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "unset"
	}
}

// ParseTriState accepts the spellings a form select or a config file produces.
func ParseTriState(s string) (TriState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "unset", "none":
		return TriUnset, nil
	case "true", "yes", "si", "sí", "1":
		return TriTrue, nil
	case "false", "no", "0":
		return TriFalse, nil
	default:
		return TriUnset, fmt.Errorf("%w: %q is not a tri-state value", ErrInvalidRule, s)
	}
}

// MarshalJSON encodes unset as null.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, booleans, and quoted strings.
func (t *TriState) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseTriState(s)
		if err != nil {
			return err
		}
		*t = v
		return nil
	}
	v, err := ParseTriState(string(data))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UnmarshalYAML accepts any scalar ParseTriState understands.
func (t *TriState) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: tri-state must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*t = TriUnset
		return nil
	}
	v, err := ParseTriState(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = v
	return nil
}

// MarshalYAML encodes unset as null.
func (t TriState) MarshalYAML() (any, error) {
	v, ok := t.Bool()
	if !ok {
		return nil, nil
	}
	return v, nil
}
