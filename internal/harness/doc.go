// Package harness provides conformance testing for the tether session core.
//
// A scenario drives a real session controller one step at a time. The
// server is scripted: each exchange step supplies the reply the session
// receives, so runs are deterministic and need no network.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	run_token: "optional fixed journal token"
//	steps:
//	  - emit: { target: "#2", type: click }
//	  - bootstrap:
//	      respond: { id: "#1" }
//	  - sync:
//	      respond:
//	        updates:
//	          - { id: "#1", action: create, target: "#5", type: label }
//	        lastEvent: "#1"
//	  - sync:
//	      fail: true
//	      expect: transport_failure
//	assertions:
//	  - type: state
//	    expect: active
//	  - type: watermark
//	    value: 1
//
// A string respond value is sent verbatim, which lets scenarios feed the
// session malformed bodies. An exchange step's optional expect names the
// outcome: ok, transport_failure, bad_response, reset, identity_lost,
// not_bound or error.
//
// # Assertion Types
//
//   - state: lifecycle state name (unbound, bootstrapping, active)
//   - identity: bound identity; omit expect to require an unbound session
//   - watermark: highest applied instruction id
//   - pending: unacknowledged event ids, or their count
//   - handler_count: handler invocations for one instruction kind
//   - request_events: event ids carried by the n-th request
//   - trace_order: trace labels that must appear in order
//   - render: text rendering of the presentation tree
//   - journal: number of exchanges recorded in the journal
//
// # Deterministic Testing
//
// The harness uses:
//   - A scripted transport (transport.Script)
//   - A fixed run token (testutil.FixedRunToken)
//   - An in-memory SQLite journal (isolated per run)
//   - A logical sequence for trace events
//
// This ensures identical traces across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_events.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
