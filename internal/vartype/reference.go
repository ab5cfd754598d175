package vartype

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
)

// ReferenceType handles opaque selectors such as "which implementation".
// A reference never crosses the runtime boundary by raw value: the wire
// form is {"kind":"reference","name":...} because the referent may have
// no portable representation outside its originating runtime.
type ReferenceType struct{}

// wireReference is the cross-runtime encoding of a reference value.
type wireReference struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (ReferenceType) Tag() Tag { return TagReference }

func (ReferenceType) Cast(raw any) (any, error) {
	s, err := cast.ToStringE(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v (%T) to a reference name: %w", raw, raw, err)
	}
	return s, nil
}

func (t ReferenceType) Validate(raw any) (any, error) {
	v, err := t.Cast(raw)
	if err != nil {
		return nil, err
	}
	if v.(string) == "" {
		return nil, fmt.Errorf("reference name must not be empty")
	}
	return v, nil
}

func (t ReferenceType) NormalizeConstraints(cs []Constraint) ([]Constraint, error) {
	if len(cs) > 0 {
		return nil, unknownConstraint(t.Tag(), cs[0].Name)
	}
	return nil, nil
}

func (ReferenceType) CheckConstraint(c Constraint, v any) error { return nil }

func (ReferenceType) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(wireReference{Kind: "reference", Name: v.(string)})
}

func (t ReferenceType) Decode(data json.RawMessage) (any, error) {
	var ref wireReference
	if err := json.Unmarshal(data, &ref); err == nil && ref.Kind == "reference" {
		return t.Validate(ref.Name)
	}
	// Tolerate a bare symbolic name from older senders.
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode reference: %w", err)
	}
	return t.Validate(s)
}
