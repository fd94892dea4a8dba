package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonapi-atomic/internal/compiler"
	"github.com/roach88/jsonapi-atomic/internal/config"
	"github.com/roach88/jsonapi-atomic/internal/schema"
)

// Issue codes reported by validate besides the compiler's E2xx codes.
const (
	ErrCodeSchema      = "SCHEMA"
	ErrCodeUnreadable  = "UNREADABLE"
	ErrCodeUnknownType = "UNKNOWN_TYPE"
	ErrCodeUnknownRel  = "UNKNOWN_RELATIONSHIP"
)

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Pointer string `json:"pointer,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Types      []string          `json:"types,omitempty"`
	Operations map[string]int    `json:"operations,omitempty"`
	Errors     []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &StoreFlags{}

	cmd := &cobra.Command{
		Use:   "validate [batch.json...]",
		Short: "Validate the schema and batch documents without executing them",
		Long: `Validate the resource schema and, optionally, atomic batch documents.

Batches are parsed and validated exactly as the service would before
execution: document shape, operation shapes, targets and local identifier
declarations. Resource types and relationship names are checked against
the schema. Nothing is written to the database.

Examples:
  atomic validate --schema ./schema.cue
  atomic validate --schema ./schema.cue batch1.json batch2.json`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, flags, args, cmd)
		},
	}
	cmd.Flags().StringVar(&flags.Schema, "schema", "", "CUE schema file or directory (overrides config)")

	return cmd
}

func runValidate(opts *RootOptions, flags *StoreFlags, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts, flags.apply)
	if err != nil {
		return outputValidateError(formatter, "E_CONFIG", err.Error(), nil)
	}

	formatter.VerboseLog("Loading schema %s", cfg.Schema)
	sch, err := schema.Load(cfg.Schema)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationIssue{schemaIssue(cfg.Schema, err)})
	}

	result := ValidationResult{Valid: true, Types: sch.Types()}
	for _, file := range files {
		formatter.VerboseLog("Validating batch %s", file)
		n, issues := validateBatchFile(file, sch, cfg)
		if len(issues) > 0 {
			result.Errors = append(result.Errors, issues...)
			continue
		}
		if result.Operations == nil {
			result.Operations = make(map[string]int)
		}
		result.Operations[file] = n
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result.Errors)
	}
	return outputValidateSuccess(formatter, result, files)
}

// schemaIssue converts a schema load error, keeping the CUE position.
func schemaIssue(path string, err error) ValidationIssue {
	issue := ValidationIssue{File: path, Code: ErrCodeSchema, Message: err.Error()}
	var ce *schema.CompileError
	if errors.As(err, &ce) {
		issue.Message = fmt.Sprintf("%s: %s", ce.Field, ce.Message)
		if ce.Pos.IsValid() {
			issue.Line = ce.Pos.Line()
		}
	}
	return issue
}

// validateBatchFile parses and validates one batch and returns its
// operation count or the issues found.
func validateBatchFile(file string, sch *schema.Schema, cfg *config.Config) (int, []ValidationIssue) {
	body, err := os.ReadFile(file)
	if err != nil {
		return 0, []ValidationIssue{{File: file, Code: ErrCodeUnreadable, Message: err.Error()}}
	}

	ops, err := compiler.Parse(body)
	if err != nil {
		return 0, []ValidationIssue{compilerIssue(file, err)}
	}

	batch, err := compiler.Validate(ops, compiler.Options{
		MaxOperations: cfg.Operations.Max,
		BasePath:      cfg.Server.BasePath,
	})
	if err != nil {
		var ve compiler.ValidationErrors
		if errors.As(err, &ve) {
			issues := make([]ValidationIssue, 0, len(ve))
			for _, e := range ve {
				issues = append(issues, ValidationIssue{File: file, Code: e.Code, Pointer: string(e.Pointer), Message: e.Message})
			}
			return 0, issues
		}
		return 0, []ValidationIssue{compilerIssue(file, err)}
	}

	var issues []ValidationIssue
	for _, step := range batch.Steps {
		target := step.Target
		ptr := string(step.Operation.Pointer)
		def, ok := sch.Resource(target.Type)
		if !ok {
			issues = append(issues, ValidationIssue{
				File: file, Code: ErrCodeUnknownType, Pointer: ptr,
				Message: fmt.Sprintf("unknown resource type %q", target.Type),
			})
			continue
		}
		if target.Relationship == "" {
			continue
		}
		if _, ok := def.Relationship(target.Relationship); !ok {
			issues = append(issues, ValidationIssue{
				File: file, Code: ErrCodeUnknownRel, Pointer: ptr,
				Message: fmt.Sprintf("%s has no relationship %q", target.Type, target.Relationship),
			})
		}
	}
	return len(batch.Steps), issues
}

func compilerIssue(file string, err error) ValidationIssue {
	var re *compiler.RequestError
	if errors.As(err, &re) {
		return ValidationIssue{File: file, Code: re.Code, Pointer: string(re.Pointer), Message: re.Message}
	}
	return ValidationIssue{File: file, Code: "E_INVALID", Message: err.Error()}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult, files []string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%s)\n", strings.Join(result.Types, ", "))
	for _, file := range files {
		fmt.Fprintf(formatter.Writer, "✓ %s (%d operation(s))\n", file, result.Operations[file])
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Configuration errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation issues.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		if err := formatter.PrintJSON(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		switch {
		case issue.Line > 0:
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		case issue.Pointer != "":
			fmt.Fprintf(formatter.Writer, "%s %s\n", issue.File, issue.Pointer)
		default:
			fmt.Fprintln(formatter.Writer, issue.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
