package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalSyntax marks malformed expression grammar.
	ErrIllegalSyntax = errors.New("illegal expression syntax")
	// ErrUnknownMetric marks a metric name missing from the catalog.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrNonBooleanRoot marks expressions that do not reduce to one comparison result.
	ErrNonBooleanRoot = errors.New("expression root must be a comparison reduced to a single value")
	// ErrScopeMismatch marks expressions combining metrics of different scopes.
	ErrScopeMismatch = errors.New("metrics belong to different scopes")
	// ErrUnsupportedMetricKind marks metrics that cannot be aggregated in alarms.
	ErrUnsupportedMetricKind = errors.New("unsupported metric kind")
	// ErrNoMetric marks expressions that do not read any metric.
	ErrNoMetric = errors.New("expression must reference at least one metric")
)

// CompileError carries offending expression text and failure class.
// Params: expression text, optional column, and wrapped sentinel.
// Returns: human-readable compile failure matching errors.Is on sentinel.
type CompileError struct {
	Expression string
	Pos        int
	Reason     string
	Err        error
}

// Error renders reason with offending expression.
func (e *CompileError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s: %s at offset %d in %q", e.Err.Error(), e.Reason, e.Pos, e.Expression)
	}
	return fmt.Sprintf("%s: %s in %q", e.Err.Error(), e.Reason, e.Expression)
}

// Unwrap exposes sentinel for errors.Is.
func (e *CompileError) Unwrap() error {
	return e.Err
}

func syntaxError(text string, pos int, format string, args ...any) error {
	return &CompileError{Expression: text, Pos: pos, Reason: fmt.Sprintf(format, args...), Err: ErrIllegalSyntax}
}

func compileError(text string, sentinel error, format string, args ...any) error {
	return &CompileError{Expression: text, Pos: -1, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}
