package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/liveq/internal/config"
)

// DefaultAwaitTimeout bounds each await and await_closed step.
const DefaultAwaitTimeout = 2 * time.Second

// Scenario drives one engine and session manager through a sequence of
// commands and records what a client would observe.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the CUE query document fetch steps run against.
	Document string `yaml:"document,omitempty"`

	// DocumentFile is read into Document when Document is empty. Relative
	// paths resolve against the scenario file's directory.
	DocumentFile string `yaml:"document_file,omitempty"`

	// Tables is the catalog the in-memory store is created with.
	Tables config.Catalog `yaml:"tables"`

	// Seed inserts rows before the first step, table by table in name order.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Timeout overrides DefaultAwaitTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step kinds.
const (
	StepFetch       = "fetch"
	StepUnsubscribe = "unsubscribe"
	StepAwait       = "await"
	StepAwaitClosed = "await_closed"
)

// Step is one client command or wait. Exactly one of Fetch, Unsubscribe,
// Await and AwaitClosed is set.
//
//	- fetch: Watch
//	  as: watch
//	  variables: {status: open}
//	  expect: {pending: true}
//	- await: watch
//	  count: 2
//	- unsubscribe: watch
type Step struct {
	// Fetch names the operation to start.
	Fetch     string         `yaml:"fetch,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"`
	// As labels the session of a pending reply for later steps.
	As     string        `yaml:"as,omitempty"`
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Unsubscribe, Await and AwaitClosed name a session label.
	Unsubscribe string `yaml:"unsubscribe,omitempty"`
	Await       string `yaml:"await,omitempty"`
	AwaitClosed string `yaml:"await_closed,omitempty"`

	// Count is the number of new results an await step waits for.
	// Defaults to 1.
	Count int `yaml:"count,omitempty"`
}

// Kind returns the step kind, or "" when zero or several kinds are set.
func (s Step) Kind() string {
	kind := ""
	for _, k := range []struct {
		name string
		set  bool
	}{
		{StepFetch, s.Fetch != ""},
		{StepUnsubscribe, s.Unsubscribe != ""},
		{StepAwait, s.Await != ""},
		{StepAwaitClosed, s.AwaitClosed != ""},
	} {
		if !k.set {
			continue
		}
		if kind != "" {
			return ""
		}
		kind = k.name
	}
	return kind
}

// ExpectClause checks a fetch reply. Results is a subset match against the
// immediate result: objects may carry extra keys, arrays must have the same
// length.
type ExpectClause struct {
	Pending bool           `yaml:"pending,omitempty"`
	Results map[string]any `yaml:"results,omitempty"`
	// Empty expects an immediate reply without a result.
	Empty bool `yaml:"empty,omitempty"`
	// Error expects the fetch to fail with a message containing it.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final database state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Subscription is the session label (event_count, event_contains).
	Subscription string `yaml:"subscription,omitempty"`

	// Count is the expected number of pushed results (event_count).
	Count int `yaml:"count,omitempty"`

	// Payload is subset-matched against pushed results (event_contains).
	Payload map[string]any `yaml:"payload,omitempty"`

	// Subscriptions is the exact set of open session labels (open_sessions).
	Subscriptions []string `yaml:"subscriptions,omitempty"`

	// Table, Where and Expect select one row and check its fields
	// (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount    = "event_count"
	AssertEventContains = "event_contains"
	AssertOpenSessions  = "open_sessions"
	AssertFinalState    = "final_state"
)

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Document == "" && scenario.DocumentFile != "" {
		docPath := scenario.DocumentFile
		if !filepath.IsAbs(docPath) {
			docPath = filepath.Join(filepath.Dir(path), docPath)
		}
		doc, err := os.ReadFile(docPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read document file: %w", err)
		}
		scenario.Document = string(doc)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir whose base name
// matches the glob filter. An empty filter matches everything.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// validateScenario checks required fields and step references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if strings.TrimSpace(s.Document) == "" {
		return fmt.Errorf("document or document_file is required")
	}
	if errs := s.Tables.Validate(); len(errs) > 0 {
		return fmt.Errorf("tables: %w", errs[0])
	}
	for table := range s.Seed {
		if _, ok := s.Tables[table]; !ok {
			return fmt.Errorf("seed: unknown table %q", table)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		switch step.Kind() {
		case StepFetch:
			if step.As != "" {
				if labels[step.As] {
					return fmt.Errorf("steps[%d]: label %q is already used", i, step.As)
				}
				labels[step.As] = true
			}
		case StepUnsubscribe, StepAwait, StepAwaitClosed:
			label := step.Unsubscribe + step.Await + step.AwaitClosed
			if !labels[label] {
				return fmt.Errorf("steps[%d]: unknown session label %q", i, label)
			}
			if step.Count < 0 {
				return fmt.Errorf("steps[%d]: count must be non-negative", i)
			}
		default:
			return fmt.Errorf("steps[%d]: exactly one of fetch, unsubscribe, await, await_closed is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, labels); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, labels map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEventCount, AssertEventContains:
		if !labels[a.Subscription] {
			return fmt.Errorf("assertions[%d]: unknown session label %q", index, a.Subscription)
		}
		if a.Type == AssertEventCount && a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
		if a.Type == AssertEventContains && len(a.Payload) == 0 {
			return fmt.Errorf("assertions[%d]: payload is required for event_contains", index)
		}
	case AssertOpenSessions:
		for _, label := range a.Subscriptions {
			if !labels[label] {
				return fmt.Errorf("assertions[%d]: unknown session label %q", index, label)
			}
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
