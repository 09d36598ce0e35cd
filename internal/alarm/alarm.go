// Package alarm implements the edge-triggered latch shared by alert and
// geofence rule evaluation: a two-state machine per (subject, rule) pair
// that fires once when a condition becomes true and rearms silently when
// it clears.
package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// State of a latch. The zero value is Armed.
type State uint8

const (
	// Armed means the latch is ready to fire on the next true condition.
	Armed State = iota
	// Suppressed means the latch already fired and the condition has not
	// cleared since.
	Suppressed
)

func (s State) String() string {
	if s == Suppressed {
		return "suppressed"
	}
	return "armed"
}

// StateOf maps the stored suppressed flag onto a State.
func StateOf(suppressed bool) State {
	if suppressed {
		return Suppressed
	}
	return Armed
}

// Result of one latch step.
type Result struct {
	Next    State
	Fired   bool // condition became true while armed
	Changed bool // Next differs from the previous state
}

// Step advances the latch one tick.
//
//	armed      + true  → suppressed, fire
//	armed      + false → armed
//	suppressed + true  → suppressed
//	suppressed + false → armed (silent reset)
func Step(cur State, conditionTrue bool) Result {
	switch {
	case cur == Armed && conditionTrue:
		return Result{Next: Suppressed, Fired: true, Changed: true}
	case cur == Suppressed && !conditionTrue:
		return Result{Next: Armed, Changed: true}
	default:
		return Result{Next: cur}
	}
}

// Comparison operator names accepted in rule criteria.
const (
	OpEqual              = "equal"
	OpNotEqual           = "notEqual"
	OpGreaterThan        = "greaterThan"
	OpGreaterThanOrEqual = "greaterThanOrEqual"
	OpLessThan           = "lessThan"
	OpLessThanOrEqual    = "lessThanOrEqual"
)

// ErrUnsupportedOperator marks a criterion whose operator name is not in
// the table above. Callers log it and treat the condition as never true.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// predicates maps an operator onto a test of the three-way comparison
// between observed and criterion value. ok is false when the values have
// no defined ordering.
var predicates = map[string]func(cmp int, ok bool) bool{
	OpEqual:              func(cmp int, ok bool) bool { return ok && cmp == 0 },
	OpNotEqual:           func(cmp int, ok bool) bool { return ok && cmp != 0 },
	OpGreaterThan:        func(cmp int, ok bool) bool { return ok && cmp > 0 },
	OpGreaterThanOrEqual: func(cmp int, ok bool) bool { return ok && cmp >= 0 },
	OpLessThan:           func(cmp int, ok bool) bool { return ok && cmp < 0 },
	OpLessThanOrEqual:    func(cmp int, ok bool) bool { return ok && cmp <= 0 },
}

// Holds applies op to (observed, want). Numeric values compare numerically,
// everything else falls back to string comparison. A missing observed value
// never satisfies any operator. Unknown operator names return
// ErrUnsupportedOperator.
func Holds(op string, observed any, want string) (bool, error) {
	pred, known := predicates[op]
	if !known {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, op)
	}
	if observed == nil {
		return false, nil
	}
	cmp, ok := compare(observed, want)
	return pred(cmp, ok), nil
}

// compare returns the three-way comparison of observed against the
// criterion's string value. Both sides numeric → numeric order; otherwise
// lexicographic order of the string forms.
func compare(observed any, want string) (int, bool) {
	if obs, numeric := toFloat(observed); numeric {
		if w, err := strconv.ParseFloat(want, 64); err == nil {
			switch {
			case obs < w:
				return -1, true
			case obs > w:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	obs := toString(observed)
	switch {
	case obs < want:
		return -1, true
	case obs > want:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(v)
	}
}
