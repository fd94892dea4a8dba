package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonapi-atomic/internal/app"
	"github.com/roach88/jsonapi-atomic/internal/config"
	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/server"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	StoreFlags
	ReturnPolicy string
	Fields       string
}

// ExecResult is the outcome of a committed batch.
type ExecResult struct {
	Status   int                `json:"status"`
	Document *ir.ResultDocument `json:"document,omitempty"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <batch.json|->",
		Short: "Execute one atomic batch against the database",
		Long: `Execute one atomic operations document directly against the database,
without starting the HTTP service. Use "-" to read the batch from stdin.

The batch goes through the same validation, transaction and result shaping
as a request to the service. A rejected batch prints its error document.

Exit codes:
  0 - Batch committed
  1 - Batch rejected or rolled back
  2 - Command error (unreadable file, bad config, etc.)

Examples:
  atomic exec --schema ./schema.cue --db ./atomic.db batch.json
  cat batch.json | atomic exec --return always -
  atomic exec --fields 'fields[articles]=title' --format json batch.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	opts.StoreFlags.register(cmd)
	cmd.Flags().StringVar(&opts.ReturnPolicy, "return", "", "result return policy: none, auto or always (overrides config)")
	cmd.Flags().StringVar(&opts.Fields, "fields", "", "sparse fieldsets as a query string, e.g. 'fields[articles]=title'")

	return cmd
}

func runExec(opts *ExecOptions, source string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions, opts.StoreFlags.apply, func(cfg *config.Config) {
		if opts.ReturnPolicy != "" {
			cfg.Operations.ReturnPolicy = opts.ReturnPolicy
		}
		if opts.Fields != "" {
			cfg.Results.ApplyRequestFields = true
		}
		cfg.Metrics.Enabled = false
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)

	fields, err := parseFieldsFlag(opts.Fields)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --fields", err)
	}

	body, err := readBatch(source, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch", err)
	}
	formatter.VerboseLog("Read %d bytes from %s", len(body), source)

	a, err := app.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start service", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := a.Processor.Process(ctx, body, fields)
	if err != nil {
		return outputExecError(formatter, err)
	}

	result := ExecResult{Status: http.StatusOK, Document: resp.Document}
	if resp.AllEmpty {
		result = ExecResult{Status: http.StatusNoContent}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Batch committed (%d operation(s))\n", len(resp.Document.Results))
	if result.Document == nil {
		return nil
	}
	return formatter.PrintJSON(result.Document)
}

// parseFieldsFlag parses a fields[TYPE]=a,b query string.
func parseFieldsFlag(raw string) (ir.Fieldsets, error) {
	if raw == "" {
		return nil, nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	return ir.ParseFieldsets(values)
}

// readBatch reads the batch from a file, or from stdin for "-".
func readBatch(source string, stdin io.Reader) ([]byte, error) {
	if source == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(source)
}

// outputExecError prints the error document of a rejected batch.
func outputExecError(formatter *OutputFormatter, err error) error {
	status, doc := server.ErrorDocument(err)

	if formatter.Format == "json" {
		code := "E_BATCH_REJECTED"
		if len(doc.Errors) > 0 && doc.Errors[0].Code != "" {
			code = doc.Errors[0].Code
		}
		_ = formatter.Error(code, fmt.Sprintf("batch rejected with status %d", status), doc)
		return NewExitError(ExitFailure, fmt.Sprintf("batch rejected with status %d", status))
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ Batch rejected (%d %s)\n", status, http.StatusText(status))
	for _, e := range doc.Errors {
		location := ""
		if e.Source != nil {
			switch {
			case e.Source.Pointer != "":
				location = " at " + e.Source.Pointer
			case e.Source.Parameter != "":
				location = " in parameter " + e.Source.Parameter
			case e.Source.Header != "":
				location = " in header " + e.Source.Header
			}
		}
		fmt.Fprintf(w, "  %s%s: %s\n", e.Code, location, e.Detail)
	}
	formatter.VerboseLog("error: %v", err)

	return NewExitError(ExitFailure, fmt.Sprintf("batch rejected with status %d", status))
}
