package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
)

// Error codes reported by validate.
const (
	ErrCodeInvalid  = "E001"
	ErrCodeNotFound = "E005"
)

// ConfigIssue is one problem in a configuration file.
type ConfigIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Errors []ConfigIssue `json:"errors,omitempty"`
	Config *ConfigView   `json:"config,omitempty"`
}

// ConfigView is the resolved configuration as reported by validate.
type ConfigView struct {
	Endpoint  string `json:"endpoint"`
	Period    string `json:"period"`
	Backoff   string `json:"backoff"`
	Timeout   string `json:"timeout"`
	Debounce  string `json:"debounce"`
	Journal   string `json:"journal"`
	LogLevel  string `json:"log_level"`
	Telemetry bool   `json:"telemetry"`
	Addr      string `json:"server_addr"`
	Lifetime  string `json:"server_lifetime"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a configuration file",
		Long: `Validate a tether configuration file against the built-in schema.

The file is unified with the schema and TETHER_* environment overrides
are applied, exactly as run and serve would load it. Every problem is
reported with its position in the file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path), nil)
	}

	formatter.VerboseLog("Loading %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		var errs config.Errors
		if !errors.As(err, &errs) {
			return outputValidateError(formatter, ErrCodeInvalid, err.Error(), nil)
		}
		return outputValidationErrors(formatter, issues(errs))
	}

	return outputValidateSuccess(formatter, cfg)
}

func issues(errs config.Errors) []ConfigIssue {
	out := make([]ConfigIssue, 0, len(errs))
	for _, e := range errs {
		issue := ConfigIssue{
			Code:    ErrCodeInvalid,
			Field:   e.Field,
			Message: e.Message,
		}
		if e.Pos.IsValid() {
			issue.File = e.Pos.Filename()
			issue.Line = e.Pos.Line()
			issue.Column = e.Pos.Column()
		}
		out = append(out, issue)
	}
	return out
}

func view(cfg config.Config) *ConfigView {
	return &ConfigView{
		Endpoint:  cfg.Endpoint,
		Period:    cfg.Period.String(),
		Backoff:   cfg.Backoff.String(),
		Timeout:   cfg.Timeout.String(),
		Debounce:  cfg.Debounce.String(),
		Journal:   cfg.Journal,
		LogLevel:  cfg.LogLevel,
		Telemetry: cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "",
		Addr:      cfg.Server.Addr,
		Lifetime:  cfg.Server.Lifetime.String(),
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, cfg config.Config) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: view(cfg)})
	}

	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	if formatter.Verbose {
		v := view(cfg)
		fmt.Fprintf(formatter.Writer, "  endpoint: %s\n", v.Endpoint)
		fmt.Fprintf(formatter.Writer, "  period:   %s\n", v.Period)
		fmt.Fprintf(formatter.Writer, "  backoff:  %s\n", v.Backoff)
		fmt.Fprintf(formatter.Writer, "  timeout:  %s\n", v.Timeout)
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every configuration problem.
func outputValidationErrors(formatter *OutputFormatter, errs []ConfigIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range errs {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", issue.File, issue.Line, issue.Column)
		}
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Field, issue.Message)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
