package vartype

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalize(t *testing.T, tag Tag, cs []Constraint) []Constraint {
	t.Helper()
	typ, err := Lookup(tag)
	require.NoError(t, err)
	out, err := typ.NormalizeConstraints(cs)
	require.NoError(t, err)
	return out
}

func checkAll(tag Tag, cs []Constraint, v any) error {
	typ, _ := Lookup(tag)
	for _, c := range cs {
		if err := typ.CheckConstraint(c, v); err != nil {
			return err
		}
	}
	return nil
}

func TestFloatMinMax(t *testing.T) {
	cs := normalize(t, TagFloat, []Constraint{
		{Name: "min", Spec: 0.0},
		{Name: "max", Spec: 2.0},
	})

	tests := []struct {
		name  string
		value float64
		ok    bool
	}{
		{"inside", 0.7, true},
		{"at min", 0.0, true},
		{"at max", 2.0, true},
		{"below min", -0.1, false},
		{"above max", 2.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAll(TagFloat, cs, tt.value)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				var ce *ConstraintError
				require.ErrorAs(t, err, &ce)
				assert.NotEmpty(t, ce.Constraint)
				assert.NotNil(t, ce.Bound)
			}
		})
	}
}

func TestFloatStepAnchoredAtMin(t *testing.T) {
	// min=0.5 step=0.2 accepts 0.5, 0.7, 0.9 but not 0.6 or bare
	// multiples of 0.2 like 0.4.
	cs := normalize(t, TagFloat, []Constraint{
		{Name: "min", Spec: 0.5},
		{Name: "step", Spec: 0.2},
	})

	for _, v := range []float64{0.5, 0.7, 0.9, 1.1} {
		assert.NoError(t, checkAll(TagFloat, cs, v), "value %v", v)
	}
	for _, v := range []float64{0.6, 0.55} {
		var ce *ConstraintError
		err := checkAll(TagFloat, cs, v)
		require.ErrorAs(t, err, &ce, "value %v", v)
		assert.Equal(t, "step", ce.Constraint)
	}
}

func TestFloatStepAnchorIgnoresDeclarationOrder(t *testing.T) {
	// step declared before min still snaps to the min-anchored grid.
	cs := normalize(t, TagFloat, []Constraint{
		{Name: "step", Spec: 0.2},
		{Name: "min", Spec: 0.5},
	})
	assert.NoError(t, checkAll(TagFloat, cs, 0.7))
	assert.Error(t, checkAll(TagFloat, cs, 0.6))
}

func TestStepSpecMarshalsAsBareStep(t *testing.T) {
	cs := normalize(t, TagFloat, []Constraint{
		{Name: "min", Spec: 0.5},
		{Name: "step", Spec: 0.2},
	})
	require.Len(t, cs, 2)
	data, err := json.Marshal(cs[1].Spec)
	require.NoError(t, err)
	assert.JSONEq(t, `0.2`, string(data))
}

func TestStepMustBePositive(t *testing.T) {
	typ, _ := Lookup(TagFloat)
	_, err := typ.NormalizeConstraints([]Constraint{{Name: "step", Spec: 0.0}})
	assert.Error(t, err)
	_, err = typ.NormalizeConstraints([]Constraint{{Name: "step", Spec: -1.0}})
	assert.Error(t, err)
}

func TestFloatRejectsNonFinite(t *testing.T) {
	typ, _ := Lookup(TagFloat)
	for _, raw := range []any{"not a number", []int{1}, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := typ.Validate(raw)
		assert.Error(t, err, "raw %v", raw)
	}
}

func TestIntegerRejectsNonIntegralFloat(t *testing.T) {
	typ, _ := Lookup(TagInteger)

	v, err := typ.Cast(3.0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = typ.Cast(3.5)
	assert.Error(t, err)
}

func TestIntegerStep(t *testing.T) {
	cs := normalize(t, TagInteger, []Constraint{
		{Name: "min", Spec: 10},
		{Name: "step", Spec: 5},
	})
	assert.NoError(t, checkAll(TagInteger, cs, int64(25)))
	var ce *ConstraintError
	require.ErrorAs(t, checkAll(TagInteger, cs, int64(23)), &ce)
	assert.Equal(t, "step", ce.Constraint)
}

func TestStringPattern(t *testing.T) {
	cs := normalize(t, TagString, []Constraint{
		{Name: "pattern", Spec: `^[a-z]+$`},
	})
	assert.NoError(t, checkAll(TagString, cs, "abc"))
	var ce *ConstraintError
	require.ErrorAs(t, checkAll(TagString, cs, "Abc1"), &ce)
	assert.Equal(t, "pattern", ce.Constraint)
	assert.Equal(t, `^[a-z]+$`, ce.Bound)
}

func TestStringPatternRejectsBadRegexp(t *testing.T) {
	typ, _ := Lookup(TagString)
	_, err := typ.NormalizeConstraints([]Constraint{{Name: "pattern", Spec: `[unclosed`}})
	assert.Error(t, err)
}

func TestChoiceNormalization(t *testing.T) {
	cs := normalize(t, TagChoice, []Constraint{
		{Name: "choices", Spec: []any{"fast", " slow ", "fast", 1}},
	})
	require.Len(t, cs, 1)
	// Order preserved, whitespace trimmed, duplicates dropped, numbers
	// string-normalized.
	assert.Equal(t, []string{"fast", "slow", "1"}, cs[0].Spec)

	assert.NoError(t, checkAll(TagChoice, cs, "slow"))
	var ce *ConstraintError
	require.ErrorAs(t, checkAll(TagChoice, cs, "medium"), &ce)
	assert.Equal(t, "choices", ce.Constraint)
}

func TestChoiceCastNormalizesNumbers(t *testing.T) {
	typ, _ := Lookup(TagChoice)
	v, err := typ.Validate(1)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = typ.Validate("   ")
	assert.Error(t, err)
}

func TestChoiceRequiresNonEmptyList(t *testing.T) {
	typ, _ := Lookup(TagChoice)
	_, err := typ.NormalizeConstraints([]Constraint{{Name: "choices", Spec: []any{}}})
	assert.Error(t, err)
}

func TestReferenceWireForm(t *testing.T) {
	typ, _ := Lookup(TagReference)

	data, err := typ.Encode("fast_impl")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"reference","name":"fast_impl"}`, string(data))

	v, err := typ.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "fast_impl", v)

	// Bare names from older senders still decode.
	v, err = typ.Decode(json.RawMessage(`"legacy_impl"`))
	require.NoError(t, err)
	assert.Equal(t, "legacy_impl", v)

	_, err = typ.Validate("")
	assert.Error(t, err)
}

func TestUnknownConstraintRejectedAtDeclaration(t *testing.T) {
	tests := []struct {
		tag        Tag
		constraint string
	}{
		{TagFloat, "choices"},
		{TagInteger, "pattern"},
		{TagString, "min"},
		{TagBool, "min"},
		{TagChoice, "max"},
		{TagReference, "choices"},
	}
	for _, tt := range tests {
		typ, err := Lookup(tt.tag)
		require.NoError(t, err)
		_, err = typ.NormalizeConstraints([]Constraint{{Name: tt.constraint, Spec: 1}})
		assert.Error(t, err, "type %s constraint %s", tt.tag, tt.constraint)
	}
}

func TestLookupUnknownType(t *testing.T) {
	_, err := Lookup(Tag("complex"))
	assert.Error(t, err)
}
