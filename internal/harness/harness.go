package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/liveq/internal/engine"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/session"
	"github.com/roach88/liveq/internal/store"
	"github.com/roach88/liveq/internal/testutil"
)

// Harness runs one scenario against a fresh in-memory store.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	manager *session.Manager
	sink    *testutil.RecordingSink
	logger  *slog.Logger
	timeout time.Duration

	// labels maps session labels to keys, and keys back to labels.
	labels map[string]session.Key
	names  map[session.Key]string
	// seen counts the pushed results already copied into the trace.
	seen map[session.Key]int
}

// Run executes a scenario and returns its result. An error means the
// scenario could not be set up; failed expectations are reported in the
// Result.
//
// Execution flow:
//  1. Create an in-memory database with the scenario's tables
//  2. Seed rows through the engine
//  3. Execute steps in order, recording replies and awaited results
//  4. Record the sessions still open and evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.ApplyCatalog(ctx, scenario.Tables); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(ctx, st, engine.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{
		store:   st,
		engine:  eng,
		manager: session.NewManager(eng, session.WithLogger(logger)),
		sink:    testutil.NewRecordingSink(),
		logger:  logger,
		timeout: scenario.Timeout,
		labels:  make(map[string]session.Key),
		names:   make(map[session.Key]string),
		seen:    make(map[session.Key]int),
	}
	if h.timeout == 0 {
		h.timeout = DefaultAwaitTimeout
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()
		if err := h.manager.Close(closeCtx); err != nil {
			h.logger.Warn("manager close failed", "error", err)
		}
	}()

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, scenario.Document, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, key := range h.manager.Keys() {
		label := h.names[key]
		result.Open = append(result.Open, label)
		result.add(TraceEntry{Step: len(scenario.Steps), Type: EntryOpen, Subscription: label, Key: key})
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// seed inserts rows table by table in name order.
func (h *Harness) seed(ctx context.Context, seed map[string][]map[string]any) error {
	tables := make([]string, 0, len(seed))
	for table := range seed {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	for _, table := range tables {
		rows := make([]ir.IRObject, 0, len(seed[table]))
		for i, raw := range seed[table] {
			row, err := toIRObject(raw)
			if err != nil {
				return fmt.Errorf("seed %s[%d]: %w", table, i, err)
			}
			rows = append(rows, row)
		}
		if err := h.engine.Seed(ctx, table, rows); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step, document string, result *Result) error {
	switch step.Kind() {
	case StepFetch:
		return h.fetch(ctx, i, step, document, result)

	case StepUnsubscribe:
		key := h.labels[step.Unsubscribe]
		if err := h.manager.Unsubscribe(key); err != nil {
			result.AddError(fmt.Sprintf("step %d: unsubscribe %s: %v", i, step.Unsubscribe, err))
		}
		result.add(TraceEntry{Step: i, Type: EntryUnsubscribe, Subscription: step.Unsubscribe, Key: key})

	case StepAwait:
		h.await(i, step, result)

	case StepAwaitClosed:
		key := h.labels[step.AwaitClosed]
		select {
		case <-h.manager.Closed(key):
			result.add(TraceEntry{Step: i, Type: EntryClosed, Subscription: step.AwaitClosed, Key: key})
		case <-time.After(h.timeout):
			result.AddError(fmt.Sprintf("step %d: session %s still open after %s", i, step.AwaitClosed, h.timeout))
		}

	default:
		return errors.New("invalid step")
	}
	return nil
}

func (h *Harness) fetch(ctx context.Context, i int, step Step, document string, result *Result) error {
	variables := ""
	if len(step.Variables) > 0 {
		vars, err := toIRObject(step.Variables)
		if err != nil {
			return fmt.Errorf("variables: %w", err)
		}
		data, err := ir.MarshalCanonical(vars)
		if err != nil {
			return fmt.Errorf("variables: %w", err)
		}
		variables = string(data)
	}

	entry := TraceEntry{Step: i, Type: EntryReply, Operation: step.Fetch}
	reply, err := h.manager.FetchQuery(ctx, h.sink, document, step.Fetch, variables)
	switch {
	case err != nil:
		entry.Error = err.Error()
	case reply.Immediate:
		if reply.Results == nil {
			entry.Empty = true
		} else if entry.Payload, err = decodePayload(reply.Results); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	default:
		entry.Key = reply.Pending
		entry.Subscription = step.As
		if step.As == "" {
			entry.Subscription = fmt.Sprintf("#%d", reply.Pending)
		}
		h.labels[entry.Subscription] = reply.Pending
		h.names[reply.Pending] = entry.Subscription
	}
	result.add(entry)

	h.logger.Info("fetch step completed",
		"step", i,
		"operation", step.Fetch,
		"immediate", reply.Immediate,
		"pending", reply.Pending,
	)

	if step.Expect != nil {
		if msg := checkExpect(step.Expect, entry, reply); msg != "" {
			result.AddError(fmt.Sprintf("step %d: fetch %s: %s", i, step.Fetch, msg))
		}
	}
	return nil
}

// await copies the next Count pushed results for a session into the trace.
func (h *Harness) await(i int, step Step, result *Result) {
	key := h.labels[step.Await]
	count := step.Count
	if count == 0 {
		count = 1
	}
	want := h.seen[key] + count

	if !h.sink.WaitForKey(key, want, h.timeout) {
		result.AddError(fmt.Sprintf("step %d: await %s: got %d of %d results",
			i, step.Await, len(h.sink.PayloadsFor(key))-h.seen[key], count))
	}

	payloads := h.sink.PayloadsFor(key)
	end := min(want, len(payloads))
	for _, raw := range payloads[h.seen[key]:end] {
		entry := TraceEntry{Step: i, Type: EntryNext, Subscription: step.Await, Key: key}
		payload, err := decodePayload([]byte(raw))
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Payload = payload
		}
		result.add(entry)
	}
	h.seen[key] = end
}

// checkExpect returns a description of the first mismatch, or "".
func checkExpect(expect *ExpectClause, entry TraceEntry, reply session.Reply) string {
	if expect.Error != "" {
		if entry.Error == "" {
			return fmt.Sprintf("expected error containing %q, got success", expect.Error)
		}
		if !strings.Contains(entry.Error, expect.Error) {
			return fmt.Sprintf("expected error containing %q, got %q", expect.Error, entry.Error)
		}
		return ""
	}
	if entry.Error != "" {
		return "unexpected error: " + entry.Error
	}
	if expect.Pending != !reply.Immediate {
		return fmt.Sprintf("expected pending=%t, got pending=%t", expect.Pending, !reply.Immediate)
	}
	if expect.Empty != entry.Empty {
		return fmt.Sprintf("expected empty=%t, got empty=%t", expect.Empty, entry.Empty)
	}
	if expect.Results != nil {
		want, err := toIRObject(expect.Results)
		if err != nil {
			return fmt.Sprintf("invalid expected results: %v", err)
		}
		if !matchSubset(entry.Payload, want) {
			return fmt.Sprintf("results %s do not match %s", describe(entry.Payload), describe(want))
		}
	}
	return ""
}

// decodePayload converts a JSON payload into an IRValue.
func decodePayload(data json.RawMessage) (ir.IRValue, error) {
	return ir.UnmarshalIRValue(data)
}

// toIRObject converts YAML-decoded values. Nulls and fractional numbers are
// rejected.
func toIRObject(m map[string]any) (ir.IRObject, error) {
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}

// describe renders a value as canonical JSON for messages.
func describe(v ir.IRValue) string {
	if v == nil {
		return "<none>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
