package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const storesDocument = `
query: Stores: {from: "stores", select: ["id", "name"]}
subscription: Watch: {from: "stores", select: ["id", "name"], take: 2}
mutation: Add: {insert: "stores", values: {name: "$name", status: "open"}}
`

// fixture is a config file and database in a temp dir.
type fixture struct {
	dir      string
	config   string
	database string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:      dir,
		config:   filepath.Join(dir, "liveq.yaml"),
		database: filepath.Join(dir, "liveq.db"),
	}
	cfg := fmt.Sprintf(`database: %s
listen: 127.0.0.1:0
tables:
  stores:
    columns: {name: string, status: string}
`, f.database)
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func (f *fixture) writeDocument(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

// run executes the root command with args and returns stdout.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", f.config}, args...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWith(t, NewRootCommand(), args...)
}

func executeWith(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
