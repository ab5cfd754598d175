package vartype

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// ChoiceType handles enumerated variables. Membership is checked against
// an order-preserving choice list; candidate values are string-normalized
// before comparison so 1 and "1" select the same choice.
type ChoiceType struct{}

func (ChoiceType) Tag() Tag { return TagChoice }

func normalizeChoice(raw any) (string, error) {
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", fmt.Errorf("cannot cast %v (%T) to a choice: %w", raw, raw, err)
	}
	return strings.TrimSpace(s), nil
}

func (ChoiceType) Cast(raw any) (any, error) {
	s, err := normalizeChoice(raw)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t ChoiceType) Validate(raw any) (any, error) {
	v, err := t.Cast(raw)
	if err != nil {
		return nil, err
	}
	if v.(string) == "" {
		return nil, fmt.Errorf("choice value must not be empty")
	}
	return v, nil
}

func (t ChoiceType) NormalizeConstraints(cs []Constraint) ([]Constraint, error) {
	out := make([]Constraint, 0, len(cs))
	for _, c := range cs {
		switch c.Name {
		case "choices":
			raw, err := cast.ToSliceE(c.Spec)
			if err != nil {
				// toml/flag paths may hand us []string directly.
				if ss, serr := cast.ToStringSliceE(c.Spec); serr == nil {
					return appendChoiceList(out, anySlice(ss))
				}
				return nil, fmt.Errorf("constraint \"choices\" needs a list spec: %w", err)
			}
			out, err = appendChoiceList(out, raw)
			if err != nil {
				return nil, err
			}
		default:
			return nil, unknownConstraint(t.Tag(), c.Name)
		}
	}
	return out, nil
}

func appendChoiceList(out []Constraint, raw []any) ([]Constraint, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("constraint \"choices\" must list at least one choice")
	}
	choices := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		s, err := normalizeChoice(item)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		choices = append(choices, s)
	}
	return append(out, Constraint{Name: "choices", Spec: choices}), nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (ChoiceType) CheckConstraint(c Constraint, v any) error {
	if c.Name == "choices" {
		choices := c.Spec.([]string)
		s := v.(string)
		for _, choice := range choices {
			if choice == s {
				return nil
			}
		}
		return &ConstraintError{Constraint: "choices", Bound: choices, Value: s}
	}
	return nil
}

func (ChoiceType) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(v.(string))
}

func (t ChoiceType) Decode(data json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode choice: %w", err)
	}
	return t.Validate(s)
}
