// Package vartype implements the per-type validation, coercion,
// constraint-checking, and wire-encoding rules for coordinated variables.
package vartype

import (
	"encoding/json"
	"fmt"
)

// Tag identifies a variable type on the wire and in the store.
type Tag string

const (
	TagFloat     Tag = "float"
	TagInteger   Tag = "integer"
	TagString    Tag = "string"
	TagBool      Tag = "bool"
	TagChoice    Tag = "choice"
	TagReference Tag = "reference"
)

// Constraint is one declared rule a variable's value must satisfy.
// Constraints are kept as an ordered slice so checks run in declaration
// order and short-circuit on the first failure.
type Constraint struct {
	Name string
	Spec any
}

// Type defines the behavior of one variable type.
type Type interface {
	// Tag returns the type's wire tag.
	Tag() Tag

	// Cast coerces a raw value (possibly from JSON or another runtime)
	// into the type's canonical Go representation.
	Cast(raw any) (any, error)

	// Validate casts and sanity-checks a value, returning the canonical form.
	Validate(raw any) (any, error)

	// NormalizeConstraints validates constraint specs at declaration time
	// and rewrites them into their canonical internal form. Unknown
	// constraint names are rejected here, not at check time.
	NormalizeConstraints(cs []Constraint) ([]Constraint, error)

	// CheckConstraint checks one normalized constraint against a canonical value.
	// A failure is reported as a *ConstraintError naming the constraint and bound.
	CheckConstraint(c Constraint, v any) error

	// Encode renders a canonical value as primitive JSON for cross-runtime transport.
	Encode(v any) (json.RawMessage, error)

	// Decode parses a wire value back into the canonical Go representation.
	Decode(data json.RawMessage) (any, error)
}

// ConstraintError reports a constraint check failure. It names the failed
// constraint and its bound so callers see more than "validation failed".
type ConstraintError struct {
	Constraint string
	Bound      any
	Value      any
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %q violated: value %v does not satisfy bound %v", e.Constraint, e.Value, e.Bound)
}

var types = map[Tag]Type{
	TagFloat:     FloatType{},
	TagInteger:   IntegerType{},
	TagString:    StringType{},
	TagBool:      BoolType{},
	TagChoice:    ChoiceType{},
	TagReference: ReferenceType{},
}

// Lookup returns the Type for a tag.
func Lookup(tag Tag) (Type, error) {
	t, ok := types[tag]
	if !ok {
		return nil, fmt.Errorf("unknown variable type %q", tag)
	}
	return t, nil
}

// Tags returns all registered type tags.
func Tags() []Tag {
	out := make([]Tag, 0, len(types))
	for tag := range types {
		out = append(out, tag)
	}
	return out
}

func unknownConstraint(tag Tag, name string) error {
	return fmt.Errorf("type %s does not support constraint %q", tag, name)
}
