package flags

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultEvaluatorResolvesEnvironmentIndexedVariant(t *testing.T) {
	def := FlagDefinition{
		Variants:     []json.RawMessage{[]byte(`"off"`), []byte(`"on"`)},
		Environments: map[string]int{"production": 1},
	}
	raw, reason, errCode, _ := defaultEvaluator{}.Evaluate(def, "production", nil, nil)
	assert.Equal(t, ReasonPaused, reason)
	assert.Empty(t, errCode)
	assert.JSONEq(t, `"on"`, string(raw))
}

func TestDefaultEvaluatorDisabledWhenEnvironmentMissing(t *testing.T) {
	def := FlagDefinition{
		Variants:     []json.RawMessage{[]byte("true")},
		Environments: map[string]int{"staging": 0},
	}
	raw, reason, errCode, _ := defaultEvaluator{}.Evaluate(def, "production", nil, nil)
	assert.Nil(t, raw)
	assert.Equal(t, ReasonDisabled, reason)
	assert.Empty(t, errCode)
}

func TestDefaultEvaluatorStaticSingleVariant(t *testing.T) {
	def := FlagDefinition{Variants: []json.RawMessage{[]byte("42")}}
	raw, reason, errCode, _ := defaultEvaluator{}.Evaluate(def, "production", nil, nil)
	assert.Equal(t, ReasonStatic, reason)
	assert.Empty(t, errCode)
	assert.JSONEq(t, "42", string(raw))
}

func TestEvaluateTypedNotFound(t *testing.T) {
	df := Datafile{Definitions: map[string]FlagDefinition{}}
	result := evaluateTyped(defaultEvaluator{}, df, "missing", 7, nil, Metrics{})
	assert.Equal(t, 7, result.Value)
	assert.Equal(t, ErrorFlagNotFound, result.ErrorCode)
}

func TestEvaluateTypedTypeMismatch(t *testing.T) {
	df := Datafile{Definitions: map[string]FlagDefinition{
		"f": {Variants: []json.RawMessage{[]byte(`"not-a-number"`)}},
	}}
	result := evaluateTyped(defaultEvaluator{}, df, "f", 0, nil, Metrics{})
	assert.Equal(t, 0, result.Value)
	assert.Equal(t, ErrorTypeMismatch, result.ErrorCode)
}
