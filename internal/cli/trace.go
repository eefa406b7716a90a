package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/value"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunToken string // optional - defaults to the latest run
}

// TraceEvent represents a single entry in the trace timeline.
type TraceEvent struct {
	Seq          int64                  `json:"seq"`
	Type         string                 `json:"type"` // "begin", "end" or "exchange"
	ID           string                 `json:"id,omitempty"`
	Identity     string                 `json:"identity,omitempty"`
	Action       string                 `json:"action,omitempty"`
	Request      map[string]interface{} `json:"request,omitempty"`
	OK           bool                   `json:"ok"`
	Ack          string                 `json:"ack,omitempty"`
	Pruned       int                    `json:"pruned,omitempty"`
	Events       []string               `json:"events,omitempty"`
	Instructions []TraceInstruction     `json:"instructions,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

// TraceInstruction is one applied (or refused) instruction of an exchange.
type TraceInstruction struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunToken string       `json:"run_token"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	Sessions     int `json:"sessions"`
	Exchanges    int `json:"exchanges"`
	Failed       int `json:"failed"`
	Events       int `json:"events"`
	Instructions int `json:"instructions"`
	Applied      int `json:"applied"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal timeline of a run",
		Long: `Show what a session did during one run, as recorded in its journal.

The output includes:
- Timeline: session boundaries and every exchange with the server, in order
- Stats: summary counts for the run

Without --run the most recent run in the journal is shown.

Examples:
  tether trace --db ./tether.db
  tether trace --db ./tether.db --run 0192f0c4-...
  tether trace --db ./tether.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "run token to trace (default: latest)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runToken := opts.RunToken
	if runToken == "" {
		runs, err := st.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if len(runs) == 0 {
			return emptyTrace(cmd, opts, "")
		}
		// UUIDv7 tokens sort by creation time.
		runToken = runs[len(runs)-1]
	}

	entries, err := st.Timeline(ctx, runToken)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read timeline", err)
	}
	if len(entries) == 0 {
		return emptyTrace(cmd, opts, runToken)
	}

	result := buildTrace(runToken, entries)
	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func emptyTrace(cmd *cobra.Command, opts *TraceOptions, runToken string) error {
	if opts.Format == "json" {
		return outputTraceJSON(cmd, TraceResult{
			RunToken: runToken,
			Timeline: []TraceEvent{},
		})
	}
	if runToken == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "No entries found for run: %s\n", runToken)
	return nil
}

// buildTrace converts journal entries to the trace timeline.
func buildTrace(runToken string, entries []store.Entry) TraceResult {
	result := TraceResult{
		RunToken: runToken,
		Timeline: make([]TraceEvent, 0, len(entries)),
	}

	for _, entry := range entries {
		switch entry.Kind {
		case store.EntryBegin:
			result.Stats.Sessions++
			result.Timeline = append(result.Timeline, TraceEvent{
				Seq:      entry.Seq,
				Type:     string(entry.Kind),
				Identity: entry.Session.Identity,
				OK:       true,
			})

		case store.EntryEnd:
			result.Timeline = append(result.Timeline, TraceEvent{
				Seq:      entry.Seq,
				Type:     string(entry.Kind),
				Identity: entry.Session.Identity,
				OK:       true,
				Reason:   entry.Session.EndReason,
			})

		case store.EntryExchange:
			x := entry.Exchange
			ev := TraceEvent{
				Seq:      entry.Seq,
				Type:     string(entry.Kind),
				ID:       x.ID,
				Identity: x.Identity,
				Action:   x.Action,
				Request:  objectToMap(x.Request),
				OK:       x.OK,
				Ack:      x.Ack,
				Pruned:   x.Pruned,
			}
			for _, e := range x.Events {
				ev.Events = append(ev.Events, e.ID)
			}
			for _, in := range x.Instructions {
				ev.Instructions = append(ev.Instructions, TraceInstruction{
					ID:     in.ID,
					Kind:   in.Kind,
					Status: in.Status,
					Error:  in.Error,
				})
				if in.Status == "applied" {
					result.Stats.Applied++
				}
			}

			result.Stats.Exchanges++
			result.Stats.Events += len(ev.Events)
			result.Stats.Instructions += len(ev.Instructions)
			if !x.OK {
				result.Stats.Failed++
			}
			result.Timeline = append(result.Timeline, ev)
		}
	}
	return result
}

// objectToMap converts a value.Object to a plain map.
func objectToMap(obj value.Object) map[string]interface{} {
	if obj == nil {
		return nil
	}
	m, _ := value.ToAny(obj).(map[string]any)
	return m
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for Run: %s\n", result.RunToken)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no entries)")
	} else {
		for _, event := range result.Timeline {
			formatTimelineEvent(w, event, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Sessions:     %d\n", result.Stats.Sessions)
	fmt.Fprintf(w, "  Exchanges:    %d (%d failed)\n", result.Stats.Exchanges, result.Stats.Failed)
	fmt.Fprintf(w, "  Events sent:  %d\n", result.Stats.Events)
	fmt.Fprintf(w, "  Instructions: %d (%d applied)\n", result.Stats.Instructions, result.Stats.Applied)

	return nil
}

// formatTimelineEvent formats a single timeline entry for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	switch event.Type {
	case string(store.EntryBegin):
		fmt.Fprintf(w, "  [%d] BEGIN %s\n", event.Seq, event.Identity)

	case string(store.EntryEnd):
		fmt.Fprintf(w, "  [%d] END %s (%s)\n", event.Seq, event.Identity, event.Reason)

	case string(store.EntryExchange):
		status := "ok"
		if !event.OK {
			status = "failed"
		}
		fmt.Fprintf(w, "  [%d] %s %s", event.Seq, strings.ToUpper(event.Action), status)
		if len(event.Events) > 0 {
			fmt.Fprintf(w, " events=[%s]", strings.Join(event.Events, " "))
		}
		if event.Ack != "" {
			fmt.Fprintf(w, " ack=%s pruned=%d", event.Ack, event.Pruned)
		}
		fmt.Fprintln(w)

		for _, in := range event.Instructions {
			if in.Error != "" {
				fmt.Fprintf(w, "       %s %s %s: %s\n", in.ID, in.Kind, in.Status, in.Error)
				continue
			}
			fmt.Fprintf(w, "       %s %s %s\n", in.ID, in.Kind, in.Status)
		}
		if verbose {
			fmt.Fprintf(w, "       Request: %s\n", formatArgs(event.Request))
			fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ID))
		}
	}
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		return formatArgs(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
