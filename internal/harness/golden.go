package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/liveq/internal/ir"
)

// Snapshot renders a scenario's trace as canonical JSON. Two runs of the
// same scenario produce identical bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, e := range result.Trace {
		m := map[string]any{
			"step": int64(e.Step),
			"type": e.Type,
		}
		if e.Operation != "" {
			m["operation"] = e.Operation
		}
		if e.Subscription != "" {
			m["subscription"] = e.Subscription
		}
		if e.Key != 0 {
			m["key"] = int64(e.Key)
		}
		if e.Payload != nil {
			m["payload"] = e.Payload
		}
		if e.Empty {
			m["empty"] = true
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
		trace[i] = m
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"trace":         trace,
	})
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
