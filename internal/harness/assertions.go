package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Label())
		}
	}

	return buf.String()
}

func assertState(r *Result, a Assertion) error {
	if r.State != a.Expect {
		return &AssertionError{Type: AssertState, Expected: a.Expect, Actual: r.State, Trace: r.Trace}
	}
	return nil
}

func assertIdentity(r *Result, a Assertion) error {
	if r.Identity != a.Expect {
		return &AssertionError{
			Type:     AssertIdentity,
			Expected: describeIdentity(a.Expect),
			Actual:   describeIdentity(r.Identity),
			Trace:    r.Trace,
		}
	}
	return nil
}

func describeIdentity(id string) string {
	if id == "" {
		return "unbound"
	}
	return id
}

func assertWatermark(r *Result, a Assertion) error {
	if r.Watermark != a.Value {
		return &AssertionError{
			Type:     AssertWatermark,
			Expected: fmt.Sprintf("watermark %d", a.Value),
			Actual:   fmt.Sprintf("watermark %d", r.Watermark),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertPending compares the unacknowledged event ids when IDs is given,
// otherwise their count.
func assertPending(r *Result, a Assertion) error {
	if a.IDs != nil {
		if !slices.Equal(r.Pending, a.IDs) {
			return &AssertionError{
				Type:     AssertPending,
				Expected: fmt.Sprintf("pending %v", a.IDs),
				Actual:   fmt.Sprintf("pending %v", r.Pending),
				Trace:    r.Trace,
			}
		}
		return nil
	}
	if len(r.Pending) != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending events", a.Count),
			Actual:   fmt.Sprintf("%d pending events %v", len(r.Pending), r.Pending),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertHandlerCount(r *Result, a Assertion) error {
	if got := r.HandlerCalls[a.Kind]; got != a.Count {
		return &AssertionError{
			Type:     AssertHandlerCount,
			Expected: fmt.Sprintf("%d calls of %q", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d calls", got),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertRequestEvents checks the events carried by the n-th request.
func assertRequestEvents(r *Result, a Assertion) error {
	if a.Request > len(r.Requests) {
		return &AssertionError{
			Type:     AssertRequestEvents,
			Expected: fmt.Sprintf("request %d", a.Request),
			Actual:   fmt.Sprintf("only %d requests sent", len(r.Requests)),
			Trace:    r.Trace,
		}
	}
	req := r.Requests[a.Request-1]
	got := req.Events
	if got == nil {
		got = []string{}
	}
	want := a.IDs
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertRequestEvents,
			Expected: fmt.Sprintf("request %d (%s) carries %v", a.Request, req.Action, want),
			Actual:   fmt.Sprintf("carries %v", got),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the labels appear in the trace in the given
// order. They need not be consecutive.
func assertTraceOrder(r *Result, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(r.Trace) {
			label := r.Trace[pos].Label()
			pos++
			if label == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%q missing or out of order", want),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

func assertRender(r *Result, a Assertion) error {
	if r.Render != a.Expect {
		return &AssertionError{
			Type:     AssertRender,
			Expected: "\n" + a.Expect,
			Actual:   "\n" + r.Render,
		}
	}
	return nil
}

func assertJournal(r *Result, a Assertion) error {
	if r.Journaled != a.Count {
		return &AssertionError{
			Type:     AssertJournal,
			Expected: fmt.Sprintf("%d journaled exchanges", a.Count),
			Actual:   fmt.Sprintf("%d journaled exchanges", r.Journaled),
			Trace:    r.Trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertState:
			err = assertState(result, assertion)
		case AssertIdentity:
			err = assertIdentity(result, assertion)
		case AssertWatermark:
			err = assertWatermark(result, assertion)
		case AssertPending:
			err = assertPending(result, assertion)
		case AssertHandlerCount:
			err = assertHandlerCount(result, assertion)
		case AssertRequestEvents:
			err = assertRequestEvents(result, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertRender:
			err = assertRender(result, assertion)
		case AssertJournal:
			err = assertJournal(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
