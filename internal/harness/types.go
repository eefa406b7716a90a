package harness

// Trace event types.
const (
	TraceEmit        = "emit"
	TraceRequest     = "request"
	TraceInstruction = "instruction"
	TraceResult      = "result"
)

// TraceEvent is one observable step of a scenario run.
// Only the fields relevant to Type are set.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// emit and instruction
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind,omitempty"`

	// emit
	Target string `json:"target,omitempty"`

	// request
	Action     string   `json:"action,omitempty"`
	Events     []string `json:"events,omitempty"`
	LastUpdate string   `json:"last_update,omitempty"`

	// instruction
	Status string `json:"status,omitempty"`

	// result
	Outcome string `json:"outcome,omitempty"`
}

// Label is the short form matched by trace_order assertions:
//
//	emit #1
//	new-instance | synchronize | terminate
//	#3 applied
//	result ok
func (e TraceEvent) Label() string {
	switch e.Type {
	case TraceEmit:
		return "emit " + e.ID
	case TraceRequest:
		return e.Action
	case TraceInstruction:
		return e.ID + " " + e.Status
	case TraceResult:
		return "result " + e.Outcome
	default:
		return e.Type
	}
}

// canonical converts the event to plain data for canonical JSON.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"type": e.Type,
	}
	for k, v := range map[string]string{
		"id":          e.ID,
		"kind":        e.Kind,
		"target":      e.Target,
		"action":      e.Action,
		"last_update": e.LastUpdate,
		"status":      e.Status,
		"outcome":     e.Outcome,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if e.Events != nil {
		ids := make([]any, len(e.Events))
		for i, id := range e.Events {
			ids[i] = id
		}
		m["events"] = ids
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final session state, captured after the last step.
	State     string   `json:"state"`
	Identity  string   `json:"identity,omitempty"`
	Watermark int64    `json:"watermark"`
	Pending   []string `json:"pending"`
	Render    string   `json:"render"`

	// HandlerCalls counts handler invocations by instruction kind.
	HandlerCalls map[string]int `json:"handler_calls,omitempty"`

	// Requests holds every request the session sent, in order.
	Requests []RequestSummary `json:"requests"`

	// Journaled is the number of exchanges recorded in the journal.
	Journaled int `json:"journaled"`
}

// RequestSummary is the part of a request scenarios assert on.
type RequestSummary struct {
	Action     string   `json:"action"`
	Client     string   `json:"client,omitempty"`
	Events     []string `json:"events,omitempty"`
	LastUpdate string   `json:"last_update,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Trace:        []TraceEvent{},
		Pending:      []string{},
		HandlerCalls: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
