package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/value"
)

// Scenario is a scripted client session.
// Steps drive the session one exchange at a time against scripted server
// replies; assertions check the state left behind.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunToken stamps journal rows. Defaults to "test-run-default".
	RunToken string `yaml:"run_token,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of emit, bootstrap or sync.
type Step struct {
	Emit      *EmitStep     `yaml:"emit,omitempty"`
	Bootstrap *ExchangeStep `yaml:"bootstrap,omitempty"`
	Sync      *ExchangeStep `yaml:"sync,omitempty"`
}

// EmitStep buffers a user event.
type EmitStep struct {
	Target string         `yaml:"target"`
	Type   string         `yaml:"type"`
	Data   map[string]any `yaml:"data,omitempty"`
}

// ExchangeStep scripts the server side of one exchange and, optionally,
// the outcome the client reports for it.
type ExchangeStep struct {
	// Respond is the reply body: a string is sent verbatim, anything else
	// is encoded as JSON.
	Respond any `yaml:"respond,omitempty"`

	// Fail makes the exchange fail at the transport.
	Fail bool `yaml:"fail,omitempty"`

	// Expect is the outcome of the step; see the Outcome constants.
	Expect string `yaml:"expect,omitempty"`
}

// Step outcomes.
const (
	OutcomeOK               = "ok"
	OutcomeTransportFailure = "transport_failure"
	OutcomeBadResponse      = "bad_response"
	OutcomeReset            = "reset"
	OutcomeIdentityLost     = "identity_lost"
	OutcomeNotBound         = "not_bound"
	OutcomeError            = "error"
)

var knownOutcomes = map[string]bool{
	OutcomeOK:               true,
	OutcomeTransportFailure: true,
	OutcomeBadResponse:      true,
	OutcomeReset:            true,
	OutcomeIdentityLost:     true,
	OutcomeNotBound:         true,
	OutcomeError:            true,
}

// body returns the scripted reply bytes.
func (s *ExchangeStep) body() ([]byte, error) {
	if text, ok := s.Respond.(string); ok {
		return []byte(text), nil
	}
	v, err := value.FromAny(s.Respond)
	if err != nil {
		return nil, err
	}
	return value.Marshal(v)
}

// Assertion checks the final session state or the trace.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Expect is the expected state name, identity or tree rendering.
	// An omitted identity means the session is unbound.
	Expect string `yaml:"expect,omitempty"`

	// Value is the expected watermark.
	Value int64 `yaml:"value,omitempty"`

	// Count is used by pending, handler_count and journal.
	Count int `yaml:"count,omitempty"`

	// Kind is the instruction kind for handler_count.
	Kind string `yaml:"kind,omitempty"`

	// Request is the 1-based request index for request_events.
	Request int `yaml:"request,omitempty"`

	// IDs lists event ids for pending and request_events.
	IDs []string `yaml:"ids,omitempty"`

	// Events lists trace labels for trace_order.
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertState         = "state"
	AssertIdentity      = "identity"
	AssertWatermark     = "watermark"
	AssertPending       = "pending"
	AssertHandlerCount  = "handler_count"
	AssertRequestEvents = "request_events"
	AssertTraceOrder    = "trace_order"
	AssertRender        = "render"
	AssertJournal       = "journal"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	for _, present := range []bool{s.Emit != nil, s.Bootstrap != nil, s.Sync != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of emit, bootstrap or sync is required", index)
	}

	if s.Emit != nil {
		if s.Emit.Target == "" || s.Emit.Type == "" {
			return fmt.Errorf("steps[%d].emit: target and type are required", index)
		}
		if _, err := value.ObjectFromAny(s.Emit.Data); err != nil {
			return fmt.Errorf("steps[%d].emit: data: %w", index, err)
		}
		return nil
	}

	x := s.Bootstrap
	name := "bootstrap"
	if x == nil {
		x, name = s.Sync, "sync"
	}
	if (x.Respond == nil) == !x.Fail {
		return fmt.Errorf("steps[%d].%s: exactly one of respond or fail is required", index, name)
	}
	if x.Respond != nil {
		if _, err := x.body(); err != nil {
			return fmt.Errorf("steps[%d].%s: respond: %w", index, name, err)
		}
	}
	if x.Expect != "" && !knownOutcomes[x.Expect] {
		return fmt.Errorf("steps[%d].%s: unknown outcome %q", index, name, x.Expect)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.Expect == "" {
			return fmt.Errorf("assertions[%d]: expect is required for state", index)
		}
	case AssertIdentity, AssertWatermark, AssertPending, AssertRender, AssertJournal:
	case AssertHandlerCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for handler_count", index)
		}
	case AssertRequestEvents:
		if a.Request < 1 {
			return fmt.Errorf("assertions[%d]: request must be >= 1 for request_events", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	return nil
}
