package alarm

import (
	"errors"
	"testing"
)

func TestStepTransitions(t *testing.T) {
	tests := []struct {
		name string
		cur  State
		cond bool
		want Result
	}{
		{"armed fires on true", Armed, true, Result{Next: Suppressed, Fired: true, Changed: true}},
		{"armed stays on false", Armed, false, Result{Next: Armed}},
		{"suppressed stays on true", Suppressed, true, Result{Next: Suppressed}},
		{"suppressed resets silently", Suppressed, false, Result{Next: Armed, Changed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Step(tt.cur, tt.cond); got != tt.want {
				t.Errorf("Step(%v, %v) = %+v, want %+v", tt.cur, tt.cond, got, tt.want)
			}
		})
	}
}

func TestStepFiresOncePerTrueInterval(t *testing.T) {
	state := Armed
	fires := 0
	for i := 0; i < 10; i++ {
		res := Step(state, true)
		if res.Fired {
			fires++
		}
		state = res.Next
	}
	if fires != 1 {
		t.Errorf("got %d fires over 10 true ticks, want 1", fires)
	}
	if state != Suppressed {
		t.Errorf("latch ended %v, want suppressed", state)
	}

	// One false tick rearms without firing.
	res := Step(state, false)
	if res.Fired {
		t.Error("reset must not fire")
	}
	if res.Next != Armed {
		t.Errorf("after reset latch is %v, want armed", res.Next)
	}

	// A second true interval fires exactly once more.
	res = Step(res.Next, true)
	if !res.Fired {
		t.Error("rearmed latch did not fire on next true condition")
	}
}

func TestHoldsOperators(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		observed any
		want     string
		holds    bool
	}{
		{"equal numeric", OpEqual, 12.5, "12.5", true},
		{"equal numeric int vs float form", OpEqual, 12, "12.0", true},
		{"equal string", OpEqual, "ROTTERDAM", "ROTTERDAM", true},
		{"notEqual", OpNotEqual, 3.0, "4", true},
		{"notEqual same", OpNotEqual, 3.0, "3", false},
		{"greaterThan", OpGreaterThan, 15.2, "10", true},
		{"greaterThan equal is false", OpGreaterThan, 10.0, "10", false},
		{"greaterThanOrEqual at bound", OpGreaterThanOrEqual, 10.0, "10", true},
		{"lessThan", OpLessThan, 2.0, "5", true},
		{"lessThanOrEqual above", OpLessThanOrEqual, 7.0, "5", false},
		{"numeric string observed", OpGreaterThan, "15.2", "10", true},
		{"string ordering", OpLessThan, "ALPHA", "BETA", true},
		{"missing value never holds", OpEqual, nil, "1", false},
		{"bool observed", OpEqual, true, "true", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Holds(tt.op, tt.observed, tt.want)
			if err != nil {
				t.Fatalf("Holds returned error: %v", err)
			}
			if got != tt.holds {
				t.Errorf("Holds(%s, %v, %q) = %v, want %v", tt.op, tt.observed, tt.want, got, tt.holds)
			}
		})
	}
}

func TestHoldsUnsupportedOperator(t *testing.T) {
	got, err := Holds("matches", 1.0, "1")
	if !errors.Is(err, ErrUnsupportedOperator) {
		t.Fatalf("err = %v, want ErrUnsupportedOperator", err)
	}
	if got {
		t.Error("unsupported operator must never hold")
	}
}

func TestStateOf(t *testing.T) {
	if StateOf(false) != Armed || StateOf(true) != Suppressed {
		t.Error("StateOf mapping inverted")
	}
}
