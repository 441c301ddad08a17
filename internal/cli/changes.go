package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/liveq/internal/store"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	Database string
	Since    int64
	Limit    int
	Tables   []string
}

// ChangesResult is the --format json output of the changes command.
type ChangesResult struct {
	Since   int64          `json:"since"`
	LastSeq int64          `json:"last_seq"`
	Changes []store.Change `json:"changes"`
	Stats   ChangesStats   `json:"stats"`
}

// ChangesStats counts the listed changes by operation.
type ChangesStats struct {
	Inserts  int `json:"inserts"`
	Updates  int `json:"updates"`
	Deletes  int `json:"deletes"`
	Affected int `json:"affected"`
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List the change log",
		Long: `List the writes recorded in the database's change log in seq order.

Every mutation appends one entry with the table, the operation and the ids
of the rows it touched. Subscriptions re-run after each entry for a table
they read.

Examples:
  liveq changes
  liveq changes --db ./liveq.db --since 40 --limit 10
  liveq changes --table stores --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "list changes with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of changes (0 = all)")
	cmd.Flags().StringSliceVar(&opts.Tables, "table", nil, "only changes to these tables")

	return cmd
}

func runChanges(opts *ChangesOptions, cmd *cobra.Command) error {
	if opts.Since < 0 {
		return NewExitError(ExitCommandError, "--since must not be negative")
	}

	database := opts.Database
	if database == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		database = cfg.Database
	}

	st, err := store.Open(database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	changes, err := st.ChangesSince(ctx, opts.Since, opts.Limit, opts.Tables...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read changes", err)
	}
	last, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read changes", err)
	}

	result := ChangesResult{Since: opts.Since, LastSeq: last, Changes: changes}
	for _, c := range changes {
		switch c.Op {
		case store.OpInsert:
			result.Stats.Inserts++
		case store.OpUpdate:
			result.Stats.Updates++
		case store.OpDelete:
			result.Stats.Deletes++
		}
		result.Stats.Affected += c.Affected
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputChangesText(formatter, result)
}

func outputChangesText(formatter *OutputFormatter, result ChangesResult) error {
	w := formatter.Writer
	if len(result.Changes) == 0 {
		fmt.Fprintf(w, "No changes after seq %d (last seq %d)\n", result.Since, result.LastSeq)
		return nil
	}

	fmt.Fprintf(w, "Changes after seq %d (last seq %d)\n\n", result.Since, result.LastSeq)
	for _, c := range result.Changes {
		ids := make([]string, len(c.RowIDs))
		for i, id := range c.RowIDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "  [%d] %-6s %s rows=[%s]\n", c.Seq, c.Op, c.Table, strings.Join(ids, ", "))
	}

	s := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d change(s): %d insert, %d update, %d delete, %d row(s) affected\n",
		len(result.Changes), s.Inserts, s.Updates, s.Deletes, s.Affected)
	return nil
}
