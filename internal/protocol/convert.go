package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/varhub/varhub/internal/variable"
	"github.com/varhub/varhub/internal/vartype"
)

// EncodeRecord renders a store record into its wire form, encoding the
// value per its type tag.
func EncodeRecord(rec *variable.Record) (WireVariable, error) {
	t, err := vartype.Lookup(rec.Type)
	if err != nil {
		return WireVariable{}, err
	}
	value, err := t.Encode(rec.Value)
	if err != nil {
		return WireVariable{}, fmt.Errorf("encode %s value: %w", rec.Name, err)
	}
	constraints, err := EncodeConstraints(rec.Constraints)
	if err != nil {
		return WireVariable{}, fmt.Errorf("encode %s constraints: %w", rec.Name, err)
	}
	return WireVariable{
		ID:           rec.ID,
		Name:         rec.Name,
		Type:         string(rec.Type),
		Value:        value,
		Constraints:  constraints,
		Dependencies: rec.Dependencies,
		Metadata:     rec.Metadata.Extra,
		LockHolder:   rec.LockHolder,
		CreatedAt:    rec.Metadata.CreatedAt,
		UpdatedAt:    rec.Metadata.UpdatedAt,
	}, nil
}

// EncodeRecords renders a record slice into wire form.
func EncodeRecords(recs []*variable.Record) ([]WireVariable, error) {
	out := make([]WireVariable, 0, len(recs))
	for _, rec := range recs {
		wv, err := EncodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, wv)
	}
	return out, nil
}

// EncodeConstraints marshals normalized constraint specs for transport.
func EncodeConstraints(cs []vartype.Constraint) ([]WireConstraint, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]WireConstraint, 0, len(cs))
	for _, c := range cs {
		spec, err := json.Marshal(c.Spec)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: %w", c.Name, err)
		}
		out = append(out, WireConstraint{Name: c.Name, Spec: spec})
	}
	return out, nil
}

// DecodeConstraints parses wire constraints into declaration-ordered raw
// specs; the type system normalizes them during registration.
func DecodeConstraints(cs []WireConstraint) ([]vartype.Constraint, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]vartype.Constraint, 0, len(cs))
	for _, c := range cs {
		var spec any
		if len(c.Spec) > 0 {
			if err := json.Unmarshal(c.Spec, &spec); err != nil {
				return nil, fmt.Errorf("constraint %q: %w", c.Name, err)
			}
		}
		out = append(out, vartype.Constraint{Name: c.Name, Spec: spec})
	}
	return out, nil
}

// DecodeRecord rebuilds a store record from its wire form. Constraints are
// re-normalized so typed specs such as the step grid come back intact.
// History does not travel on the wire; the restored record starts with a
// single entry marking the restore.
func DecodeRecord(wv WireVariable) (*variable.Record, error) {
	tag := vartype.Tag(wv.Type)
	t, err := vartype.Lookup(tag)
	if err != nil {
		return nil, err
	}
	value, err := t.Decode(wv.Value)
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", wv.Name, err)
	}
	raw, err := DecodeConstraints(wv.Constraints)
	if err != nil {
		return nil, fmt.Errorf("decode %s constraints: %w", wv.Name, err)
	}
	constraints, err := t.NormalizeConstraints(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize %s constraints: %w", wv.Name, err)
	}
	return &variable.Record{
		ID:           wv.ID,
		Name:         wv.Name,
		Type:         tag,
		Value:        value,
		Constraints:  constraints,
		Dependencies: wv.Dependencies,
		Metadata: variable.Metadata{
			CreatedAt: wv.CreatedAt,
			UpdatedAt: wv.UpdatedAt,
			Extra:     wv.Metadata,
		},
		History: []variable.HistoryEntry{{
			Value:     value,
			Timestamp: wv.UpdatedAt,
			Cause:     "restore",
		}},
	}, nil
}

// DecodeRecords rebuilds a record slice from wire form.
func DecodeRecords(wvs []WireVariable) ([]*variable.Record, error) {
	out := make([]*variable.Record, 0, len(wvs))
	for _, wv := range wvs {
		rec, err := DecodeRecord(wv)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeValue parses a wire value per its type tag into the canonical Go
// representation.
func DecodeValue(tag vartype.Tag, raw json.RawMessage) (any, error) {
	t, err := vartype.Lookup(tag)
	if err != nil {
		return nil, err
	}
	return t.Decode(raw)
}

// DecodeAny parses a wire value without a type tag, for payloads such as
// usage records whose variable may no longer exist.
func DecodeAny(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
