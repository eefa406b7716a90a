package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 1, Type: TraceEmit, ID: "#1", Target: "#2", Kind: "click"},
		{Seq: 2, Type: TraceRequest, Action: "new-instance"},
		{Seq: 3, Type: TraceResult, Outcome: OutcomeOK},
		{Seq: 4, Type: TraceRequest, Action: "synchronize", Events: []string{"#1"}, LastUpdate: "#0"},
		{Seq: 5, Type: TraceInstruction, ID: "#1", Kind: "create", Status: "applied"},
		{Seq: 6, Type: TraceResult, Outcome: OutcomeOK},
	}
	r.State = "active"
	r.Identity = "#4"
	r.Watermark = 1
	r.Pending = []string{"#2", "#3"}
	r.Render = "#0 root\n"
	r.HandlerCalls["create"] = 1
	r.Requests = []RequestSummary{
		{Action: "new-instance"},
		{Action: "synchronize", Client: "#4", Events: []string{"#1"}, LastUpdate: "#0"},
	}
	r.Journaled = 2
	return r
}

func asAssertionError(t *testing.T, err error) *AssertionError {
	t.Helper()
	require.Error(t, err)
	assertErr, ok := err.(*AssertionError)
	require.True(t, ok, "expected *AssertionError, got %T", err)
	return assertErr
}

func TestAssertState(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertState(r, Assertion{Type: AssertState, Expect: "active"}))

	assertErr := asAssertionError(t, assertState(r, Assertion{Type: AssertState, Expect: "unbound"}))
	assert.Equal(t, "state", assertErr.Type)
	assert.Equal(t, "unbound", assertErr.Expected)
	assert.Equal(t, "active", assertErr.Actual)
}

func TestAssertIdentity(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertIdentity(r, Assertion{Type: AssertIdentity, Expect: "#4"}))

	assertErr := asAssertionError(t, assertIdentity(r, Assertion{Type: AssertIdentity}))
	assert.Equal(t, "unbound", assertErr.Expected)
	assert.Equal(t, "#4", assertErr.Actual)

	r.Identity = ""
	assert.NoError(t, assertIdentity(r, Assertion{Type: AssertIdentity}))
}

func TestAssertWatermark(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertWatermark(r, Assertion{Type: AssertWatermark, Value: 1}))

	assertErr := asAssertionError(t, assertWatermark(r, Assertion{Type: AssertWatermark, Value: 3}))
	assert.Equal(t, "watermark 3", assertErr.Expected)
	assert.Equal(t, "watermark 1", assertErr.Actual)
}

func TestAssertPending_ByIDs(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertPending(r, Assertion{Type: AssertPending, IDs: []string{"#2", "#3"}}))

	assertErr := asAssertionError(t, assertPending(r, Assertion{Type: AssertPending, IDs: []string{"#3"}}))
	assert.Contains(t, assertErr.Actual, "#2")
}

func TestAssertPending_ByCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertPending(r, Assertion{Type: AssertPending, Count: 2}))

	err := assertPending(r, Assertion{Type: AssertPending})
	assertErr := asAssertionError(t, err)
	assert.Equal(t, "0 pending events", assertErr.Expected)
}

func TestAssertHandlerCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertHandlerCount(r, Assertion{Type: AssertHandlerCount, Kind: "create", Count: 1}))
	assert.NoError(t, assertHandlerCount(r, Assertion{Type: AssertHandlerCount, Kind: "set text", Count: 0}))

	assertErr := asAssertionError(t, assertHandlerCount(r, Assertion{Type: AssertHandlerCount, Kind: "create", Count: 2}))
	assert.Equal(t, "1 calls", assertErr.Actual)
}

func TestAssertRequestEvents(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertRequestEvents(r, Assertion{Type: AssertRequestEvents, Request: 2, IDs: []string{"#1"}}))
	assert.NoError(t, assertRequestEvents(r, Assertion{Type: AssertRequestEvents, Request: 1}),
		"a request without events matches an empty list")

	assertErr := asAssertionError(t, assertRequestEvents(r, Assertion{Type: AssertRequestEvents, Request: 2}))
	assert.Contains(t, assertErr.Expected, "synchronize")

	assertErr = asAssertionError(t, assertRequestEvents(r, Assertion{Type: AssertRequestEvents, Request: 5}))
	assert.Equal(t, "only 2 requests sent", assertErr.Actual)
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	r := sampleResult()
	err := assertTraceOrder(r, Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"emit #1", "new-instance", "synchronize", "#1 applied", "result ok"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_NonConsecutive(t *testing.T) {
	r := sampleResult()
	err := assertTraceOrder(r, Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"emit #1", "#1 applied"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	r := sampleResult()
	err := assertTraceOrder(r, Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"synchronize", "new-instance"},
	})
	assertErr := asAssertionError(t, err)
	assert.Equal(t, "trace_order", assertErr.Type)
	assert.Contains(t, assertErr.Actual, "new-instance")
}

func TestAssertTraceOrder_Missing(t *testing.T) {
	r := sampleResult()
	err := assertTraceOrder(r, Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"terminate"},
	})
	assertErr := asAssertionError(t, err)
	assert.Contains(t, assertErr.Actual, "terminate")
}

func TestAssertRender(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertRender(r, Assertion{Type: AssertRender, Expect: "#0 root\n"}))

	assertErr := asAssertionError(t, assertRender(r, Assertion{Type: AssertRender, Expect: "#0 root\n  #1 label\n"}))
	assert.Contains(t, assertErr.Expected, "#1 label")
}

func TestAssertJournal(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertJournal(r, Assertion{Type: AssertJournal, Count: 2}))
	asAssertionError(t, assertJournal(r, Assertion{Type: AssertJournal, Count: 3}))
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     "watermark",
		Expected: "watermark 3",
		Actual:   "watermark 1",
		Trace: []TraceEvent{
			{Seq: 1, Type: TraceRequest, Action: "new-instance"},
			{Seq: 2, Type: TraceResult, Outcome: OutcomeOK},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: watermark")
	assert.Contains(t, msg, "Expected: watermark 3")
	assert.Contains(t, msg, "Actual: watermark 1")
	assert.Contains(t, msg, "[1] new-instance")
	assert.Contains(t, msg, "[2] result ok")
}

func TestTraceEvent_Label(t *testing.T) {
	tests := []struct {
		event TraceEvent
		want  string
	}{
		{TraceEvent{Type: TraceEmit, ID: "#3"}, "emit #3"},
		{TraceEvent{Type: TraceRequest, Action: "terminate"}, "terminate"},
		{TraceEvent{Type: TraceInstruction, ID: "#9", Status: "skipped"}, "#9 skipped"},
		{TraceEvent{Type: TraceResult, Outcome: OutcomeReset}, "result reset"},
		{TraceEvent{Type: "other"}, "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.Label())
	}
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	r := sampleResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertState, Expect: "active"},
		{Type: AssertWatermark, Value: 9},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "watermark")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}
