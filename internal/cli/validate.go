package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/liveq/internal/compiler"
	"github.com/roach88/liveq/internal/queryir"
)

// OperationSummary describes one operation of a valid document.
type OperationSummary struct {
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Tables    []string `json:"tables"`
	Variables []string `json:"variables,omitempty"`
	Take      int      `json:"take,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Hash       string                     `json:"hash,omitempty"`
	Operations []OperationSummary         `json:"operations,omitempty"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <document.cue|->",
		Short: "Check a query document against the catalog",
		Long: `Compile a CUE query document and check every operation against the
table catalog of the config file, without touching the database.

Valid documents list their operations with the tables they read or write,
the variables they need and any portability warnings.

Examples:
  liveq validate ./stores.cue
  liveq validate ./stores.cue --format json`,
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
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	name, source, err := loadDocument(path, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return err
	}
	formatter.VerboseLog("Validating %s against %d table(s)", name, len(cfg.Tables))

	doc, err := compiler.CompileDocument(name, source)
	if err != nil {
		return outputValidationErrors(formatter, []compiler.ValidationError{compileFailure(err)})
	}

	if errs := compiler.Validate(doc, cfg.Tables); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	result := ValidationResult{Valid: true, Hash: doc.Hash}
	for _, op := range doc.Operations {
		summary := OperationSummary{
			Kind:      string(op.Kind),
			Name:      op.Name,
			Tables:    op.Tables(),
			Variables: op.Variables(),
			Take:      op.Take,
		}
		if op.Mutation == nil {
			summary.Warnings = queryir.Validate(op.Query).Warnings
		}
		formatter.VerboseLog("  %s %s: tables=%v", op.Kind, op.Name, summary.Tables)
		result.Operations = append(result.Operations, summary)
	}
	return outputValidateSuccess(formatter, result)
}

// compileFailure converts a compile error into a validation error with the
// CUE source line when one is known.
func compileFailure(err error) compiler.ValidationError {
	var cErr *compiler.CompileError
	if errors.As(err, &cErr) {
		ve := compiler.ValidationError{
			Field:   cErr.Field,
			Message: cErr.Message,
			Code:    ErrCodeCompile,
		}
		if cErr.Pos.IsValid() {
			ve.Line = cErr.Pos.Line()
		}
		return ve
	}
	return compiler.ValidationError{
		Field:   "document",
		Message: err.Error(),
		Code:    ErrCodeCompile,
	}
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Document valid (%d operation(s))\n", len(result.Operations))
	for _, op := range result.Operations {
		fmt.Fprintf(w, "  %s %s [%s]", op.Kind, op.Name, strings.Join(op.Tables, ", "))
		if len(op.Variables) > 0 {
			fmt.Fprintf(w, " vars: %s", strings.Join(op.Variables, ", "))
		}
		if op.Take > 0 {
			fmt.Fprintf(w, " take: %d", op.Take)
		}
		fmt.Fprintln(w)
		for _, warning := range op.Warnings {
			fmt.Fprintf(w, "    warning: %s\n", warning)
		}
	}
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		result := ValidationResult{Valid: false, Errors: errs}
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return failure
}
