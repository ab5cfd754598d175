package vartype

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// stepSpec is the normalized form of a "step" constraint. The grid is
// anchored at Origin (the declared minimum when present), so offset grids
// like min=0.5 step=0.2 accept 0.5, 0.7, 0.9 rather than multiples of 0.2.
type stepSpec struct {
	Step   float64
	Origin float64
}

func (s stepSpec) String() string {
	return fmt.Sprintf("step %v from %v", s.Step, s.Origin)
}

// MarshalJSON emits the bare step size. The origin is re-derived from the
// declared min when the constraint set is normalized again, so the round
// trip is lossless.
func (s stepSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Step)
}

// FloatType handles float variables with min/max/step constraints.
type FloatType struct{}

func (FloatType) Tag() Tag { return TagFloat }

func (FloatType) Cast(raw any) (any, error) {
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v (%T) to float: %w", raw, raw, err)
	}
	return f, nil
}

func (t FloatType) Validate(raw any) (any, error) {
	v, err := t.Cast(raw)
	if err != nil {
		return nil, err
	}
	f := v.(float64)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("float value must be finite, got %v", f)
	}
	return f, nil
}

func (t FloatType) NormalizeConstraints(cs []Constraint) ([]Constraint, error) {
	return normalizeNumeric(t.Tag(), cs)
}

func (t FloatType) CheckConstraint(c Constraint, v any) error {
	return checkNumeric(c, v.(float64))
}

func (FloatType) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(v.(float64))
}

func (t FloatType) Decode(data json.RawMessage) (any, error) {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode float: %w", err)
	}
	return t.Validate(f)
}

// IntegerType handles integer variables with min/max/step constraints.
type IntegerType struct{}

func (IntegerType) Tag() Tag { return TagInteger }

func (IntegerType) Cast(raw any) (any, error) {
	// Reject silently-truncating float casts up front.
	switch f := raw.(type) {
	case float64:
		if math.Trunc(f) != f {
			return nil, fmt.Errorf("cannot cast non-integral %v to integer", f)
		}
		return int64(f), nil
	case float32:
		return IntegerType{}.Cast(float64(f))
	}
	n, err := cast.ToInt64E(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v (%T) to integer: %w", raw, raw, err)
	}
	return n, nil
}

func (t IntegerType) Validate(raw any) (any, error) {
	return t.Cast(raw)
}

func (t IntegerType) NormalizeConstraints(cs []Constraint) ([]Constraint, error) {
	return normalizeNumeric(t.Tag(), cs)
}

func (t IntegerType) CheckConstraint(c Constraint, v any) error {
	return checkNumeric(c, float64(v.(int64)))
}

func (IntegerType) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(v.(int64))
}

func (t IntegerType) Decode(data json.RawMessage) (any, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode integer: %w", err)
	}
	i, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("decode integer: %w", err)
	}
	return i, nil
}

// normalizeNumeric validates min/max/step specs and anchors the step grid
// at the declared minimum.
func normalizeNumeric(tag Tag, cs []Constraint) ([]Constraint, error) {
	out := make([]Constraint, 0, len(cs))
	origin := 0.0
	haveMin := false
	for _, c := range cs {
		switch c.Name {
		case "min", "max":
			bound, err := cast.ToFloat64E(c.Spec)
			if err != nil {
				return nil, fmt.Errorf("constraint %q needs a numeric bound: %w", c.Name, err)
			}
			if c.Name == "min" {
				origin = bound
				haveMin = true
			}
			out = append(out, Constraint{Name: c.Name, Spec: bound})
		case "step":
			step, err := cast.ToFloat64E(c.Spec)
			if err != nil {
				return nil, fmt.Errorf("constraint \"step\" needs a numeric spec: %w", err)
			}
			if step <= 0 {
				return nil, fmt.Errorf("constraint \"step\" must be positive, got %v", step)
			}
			out = append(out, Constraint{Name: "step", Spec: stepSpec{Step: step}})
		default:
			return nil, unknownConstraint(tag, c.Name)
		}
	}
	// Step grids are anchored at min regardless of declaration order.
	if haveMin {
		for i, c := range out {
			if s, ok := c.Spec.(stepSpec); ok {
				s.Origin = origin
				out[i].Spec = s
			}
		}
	}
	return out, nil
}

const stepTolerance = 1e-9

func checkNumeric(c Constraint, f float64) error {
	switch c.Name {
	case "min":
		if bound := c.Spec.(float64); f < bound {
			return &ConstraintError{Constraint: "min", Bound: bound, Value: f}
		}
	case "max":
		if bound := c.Spec.(float64); f > bound {
			return &ConstraintError{Constraint: "max", Bound: bound, Value: f}
		}
	case "step":
		s := c.Spec.(stepSpec)
		rem := math.Abs(math.Mod(f-s.Origin, s.Step))
		if rem > stepTolerance && math.Abs(rem-s.Step) > stepTolerance {
			return &ConstraintError{Constraint: "step", Bound: s.String(), Value: f}
		}
	}
	return nil
}
