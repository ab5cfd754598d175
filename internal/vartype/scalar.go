package vartype

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/spf13/cast"
)

// StringType handles free-form string variables with an optional
// "pattern" constraint (Go regexp, compiled at declaration time).
type StringType struct{}

func (StringType) Tag() Tag { return TagString }

func (StringType) Cast(raw any) (any, error) {
	s, err := cast.ToStringE(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v (%T) to string: %w", raw, raw, err)
	}
	return s, nil
}

func (t StringType) Validate(raw any) (any, error) {
	return t.Cast(raw)
}

func (t StringType) NormalizeConstraints(cs []Constraint) ([]Constraint, error) {
	out := make([]Constraint, 0, len(cs))
	for _, c := range cs {
		switch c.Name {
		case "pattern":
			src, err := cast.ToStringE(c.Spec)
			if err != nil {
				return nil, fmt.Errorf("constraint \"pattern\" needs a string spec: %w", err)
			}
			re, err := regexp.Compile(src)
			if err != nil {
				return nil, fmt.Errorf("constraint \"pattern\": %w", err)
			}
			out = append(out, Constraint{Name: "pattern", Spec: re})
		default:
			return nil, unknownConstraint(t.Tag(), c.Name)
		}
	}
	return out, nil
}

func (StringType) CheckConstraint(c Constraint, v any) error {
	if c.Name == "pattern" {
		re := c.Spec.(*regexp.Regexp)
		if !re.MatchString(v.(string)) {
			return &ConstraintError{Constraint: "pattern", Bound: re.String(), Value: v}
		}
	}
	return nil
}

func (StringType) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(v.(string))
}

func (StringType) Decode(data json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode string: %w", err)
	}
	return s, nil
}

// BoolType handles boolean variables. It declares no constraints.
type BoolType struct{}

func (BoolType) Tag() Tag { return TagBool }

func (BoolType) Cast(raw any) (any, error) {
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v (%T) to bool: %w", raw, raw, err)
	}
	return b, nil
}

func (t BoolType) Validate(raw any) (any, error) {
	return t.Cast(raw)
}

func (t BoolType) NormalizeConstraints(cs []Constraint) ([]Constraint, error) {
	if len(cs) > 0 {
		return nil, unknownConstraint(t.Tag(), cs[0].Name)
	}
	return nil, nil
}

func (BoolType) CheckConstraint(c Constraint, v any) error { return nil }

func (BoolType) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(v.(bool))
}

func (BoolType) Decode(data json.RawMessage) (any, error) {
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bool: %w", err)
	}
	return b, nil
}
