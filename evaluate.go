package flags

import (
	"encoding/json"
	"fmt"

	"github.com/vercel/flags-go/internal"
)

// Reason is the closed set of evaluation outcomes an Evaluator can report.
type Reason string

// The recognized evaluation reasons.
const (
	ReasonStatic      Reason = "STATIC"
	ReasonTargetMatch Reason = "TARGET_MATCH"
	ReasonSplit       Reason = "SPLIT"
	ReasonPaused      Reason = "PAUSED"
	ReasonDefault     Reason = "DEFAULT"
	ReasonError       Reason = "ERROR"
	ReasonDisabled    Reason = "DISABLED"
)

// ErrorCode classifies an evaluation error. The zero value means no error.
type ErrorCode string

// The recognized evaluation error codes.
const (
	ErrorFlagNotFound ErrorCode = "FLAG_NOT_FOUND"
	ErrorParse        ErrorCode = "PARSE_ERROR"
	ErrorTypeMismatch ErrorCode = "TYPE_MISMATCH"
)

// EvaluationResult is what evaluate() returns for a single flag. It never
// carries a Go error: failures are reported through ErrorCode/ErrorMessage
// with Value set to the caller's default, so evaluate never needs to throw
// for an ordinary flag-level problem.
type EvaluationResult[T any] struct {
	Value        T
	Reason       Reason
	ErrorCode    ErrorCode
	ErrorMessage string
	Metrics      Metrics
}

// Evaluator is the seam a Datafile's opaque FlagDefinitions are interpreted
// through. This package never implements targeting rules, segment
// membership, or experiment splits — that logic is an external collaborator:
// the Controller only needs to plug something into this seam, not own the
// evaluation engine.
type Evaluator interface {
	// Evaluate resolves a single flag definition to a raw JSON value and a
	// Reason. A nil raw value with ReasonDisabled/ReasonDefault means "use
	// the caller's default value, unremarkably." A non-empty ErrorCode
	// means Evaluate could not resolve a value at all.
	Evaluate(
		def FlagDefinition,
		environment string,
		entities map[string]any,
		segments map[string]json.RawMessage,
	) (raw json.RawMessage, reason Reason, errCode ErrorCode, errMsg string)
}

// defaultEvaluator is the minimal built-in Evaluator: it understands only
// environment-indexed static variant assignment, the one piece of the
// evaluation model that is not an external targeting/split decision. Any
// definition using entities, segments, or splits needs a real Evaluator
// supplied by the caller.
type defaultEvaluator struct{}

func (defaultEvaluator) Evaluate(
	def FlagDefinition,
	environment string,
	_ map[string]any,
	_ map[string]json.RawMessage,
) (json.RawMessage, Reason, ErrorCode, string) {
	if len(def.Environments) > 0 {
		idx, ok := def.Environments[environment]
		if !ok {
			return nil, ReasonDisabled, "", ""
		}
		if idx < 0 || idx >= len(def.Variants) {
			return nil, ReasonError, ErrorParse, fmt.Sprintf("variant index %d out of range for %q", idx, environment)
		}
		return def.Variants[idx], ReasonPaused, "", ""
	}
	if len(def.Variants) == 1 {
		return def.Variants[0], ReasonStatic, "", ""
	}
	return nil, ReasonDefault, "", ""
}

// evaluateTyped resolves flagKey against datafile using evaluator, decoding
// the evaluator's raw result into T. It never panics or returns a Go error:
// every failure mode collapses to defaultValue plus a populated ErrorCode.
func evaluateTyped[T any](
	evaluator Evaluator,
	datafile Datafile,
	flagKey string,
	defaultValue T,
	entities map[string]any,
	metrics Metrics,
) EvaluationResult[T] {
	def, ok := datafile.Definitions[flagKey]
	if !ok {
		return EvaluationResult[T]{
			Value:        defaultValue,
			Reason:       ReasonError,
			ErrorCode:    ErrorFlagNotFound,
			ErrorMessage: (&internal.NotFoundError{FlagKey: flagKey}).Error(),
			Metrics:      metrics,
		}
	}

	raw, reason, errCode, errMsg := evaluator.Evaluate(def, datafile.Environment, entities, datafile.Segments)
	if errCode != "" {
		return EvaluationResult[T]{Value: defaultValue, Reason: reason, ErrorCode: errCode, ErrorMessage: errMsg, Metrics: metrics}
	}
	if raw == nil {
		return EvaluationResult[T]{Value: defaultValue, Reason: reason, Metrics: metrics}
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return EvaluationResult[T]{
			Value:        defaultValue,
			Reason:       ReasonError,
			ErrorCode:    ErrorTypeMismatch,
			ErrorMessage: err.Error(),
			Metrics:      metrics,
		}
	}
	return EvaluationResult[T]{Value: value, Reason: reason, Metrics: metrics}
}
