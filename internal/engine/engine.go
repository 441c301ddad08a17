package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/liveq/internal/compiler"
	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/queryir"
	"github.com/roach88/liveq/internal/querysql"
	"github.com/roach88/liveq/internal/session"
	"github.com/roach88/liveq/internal/store"
)

// DefaultDocumentCacheSize is the number of compiled documents kept.
const DefaultDocumentCacheSize = 256

// documentFilename is the name CUE positions report for query text.
const documentFilename = "query.cue"

// Engine executes query documents against a Store and implements
// session.Engine.
//
// Thread-safety model:
//   - ParseQuery, Subscribe, Seed: safe from any goroutine
//   - writes are serialized by writeMu so change seqs follow commit order
//   - every live subscription runs its own goroutine
type Engine struct {
	store   *store.Store
	catalog config.Catalog
	clock   *Clock
	hub     *hub
	docs    *lru.Cache[string, *compiler.Document]
	log     *slog.Logger

	cacheSize int
	writeMu   sync.Mutex
}

var _ session.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithDocumentCacheSize sets how many compiled documents are cached by
// source hash.
func WithDocumentCacheSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cacheSize = n
		}
	}
}

// New creates an Engine over s. The store's catalog must already be
// applied. The clock resumes after the last recorded change.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	e := &Engine{
		store:     s,
		catalog:   s.Catalog(),
		clock:     NewClockAt(last),
		hub:       newHub(),
		log:       slog.Default(),
		cacheSize: DefaultDocumentCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.docs, err = lru.New[string, *compiler.Document](e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	return e, nil
}

// Catalog returns the table catalog queries are validated against.
func (e *Engine) Catalog() config.Catalog {
	return e.catalog
}

// Clock returns the change log clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Watchers returns the number of live subscriptions watching for changes.
func (e *Engine) Watchers() int {
	return e.hub.count()
}

// Close stops every live subscription. Producers close their next
// channels after their current evaluation.
func (e *Engine) Close() {
	e.hub.close()
}

// ParseQuery compiles query text and validates it against the catalog.
// Compiled documents are cached by source hash.
func (e *Engine) ParseQuery(query string) (session.ParsedQuery, error) {
	key := ir.DocumentHash(query)
	if doc, ok := e.docs.Get(key); ok {
		return doc, nil
	}

	doc, err := compiler.CompileDocument(documentFilename, query)
	if err != nil {
		return nil, &QueryError{Code: ErrCodeParseFailed, Message: err.Error(), Err: err}
	}
	if errs := compiler.Validate(doc, e.catalog); len(errs) > 0 {
		verr := compiler.ValidationErrors(errs)
		return nil, &QueryError{Code: ErrCodeParseFailed, Message: verr.Error(), Err: verr}
	}

	e.docs.Add(key, doc)
	return doc, nil
}

// Subscribe resolves operationName in the parsed document, decodes
// variables and returns a producer for the operation.
//
// An empty operation name selects the only operation of a single-operation
// document. Variables are a JSON object; an empty string means none.
func (e *Engine) Subscribe(q session.ParsedQuery, operationName, variables string) (session.Producer, error) {
	doc, ok := q.(*compiler.Document)
	if !ok {
		return nil, &QueryError{
			Code:    ErrCodeParseFailed,
			Message: fmt.Sprintf("unexpected parsed query type %T", q),
		}
	}

	op, err := resolveOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	vars, err := bindVariables(op, variables)
	if err != nil {
		return nil, err
	}

	switch op.Kind {
	case compiler.KindQuery:
		return newOnceProducer(func(ctx context.Context) ir.IRObject {
			return e.evaluate(ctx, op, vars)
		}), nil
	case compiler.KindMutation:
		return newOnceProducer(func(ctx context.Context) ir.IRObject {
			return e.mutate(ctx, op, vars)
		}), nil
	case compiler.KindSubscription:
		return newLiveProducer(e, op, vars), nil
	default:
		return nil, &QueryError{
			Code:      ErrCodeUnknownOperation,
			Message:   fmt.Sprintf("unsupported operation kind %q", op.Kind),
			Operation: op.Name,
		}
	}
}

func resolveOperation(doc *compiler.Document, name string) (*compiler.Operation, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, &QueryError{
				Code:    ErrCodeAmbiguousOperation,
				Message: fmt.Sprintf("operation name required: document defines %v", doc.Names()),
			}
		}
		return doc.Operations[0], nil
	}

	matches := doc.Lookup(name)
	switch len(matches) {
	case 0:
		return nil, &QueryError{
			Code:      ErrCodeUnknownOperation,
			Message:   fmt.Sprintf("document defines %v", doc.Names()),
			Operation: name,
		}
	case 1:
		return matches[0], nil
	default:
		return nil, &QueryError{
			Code:      ErrCodeAmbiguousOperation,
			Message:   fmt.Sprintf("%d operations share this name", len(matches)),
			Operation: name,
		}
	}
}

// bindVariables decodes variables and checks every variable the operation
// references is bound to a scalar.
func bindVariables(op *compiler.Operation, variables string) (ir.IRObject, error) {
	vars, err := ir.UnmarshalIRObject([]byte(variables))
	if err != nil {
		return nil, &QueryError{
			Code:      ErrCodeInvalidVariables,
			Message:   err.Error(),
			Operation: op.Name,
			Err:       err,
		}
	}

	for _, name := range op.Variables() {
		v, ok := vars[name]
		if !ok {
			return nil, &QueryError{
				Code:      ErrCodeUnboundVariable,
				Message:   fmt.Sprintf("variable $%s is not bound", name),
				Operation: op.Name,
			}
		}
		switch v.(type) {
		case ir.IRArray, ir.IRObject:
			return nil, &QueryError{
				Code:      ErrCodeInvalidVariables,
				Message:   fmt.Sprintf("variable $%s must be a string, int or bool", name),
				Operation: op.Name,
			}
		}
	}
	return vars, nil
}

// Seed inserts rows into table outside any query document and notifies
// live subscriptions. Each row is one insert.
func (e *Engine) Seed(ctx context.Context, table string, rows []ir.IRObject) error {
	for i, row := range rows {
		values := make([]queryir.Assignment, 0, len(row))
		for _, field := range row.SortedKeys() {
			values = append(values, queryir.Assignment{Field: field, Value: row[field]})
		}

		sqlText, params, err := querysql.NewSQLCompiler(nil).CompileInsert(table, values)
		if err != nil {
			return fmt.Errorf("seed %s[%d]: %w", table, i, err)
		}
		if _, err := e.write(ctx, compiler.MutationInsert, table, sqlText, params); err != nil {
			return fmt.Errorf("seed %s[%d]: %w", table, i, err)
		}
	}
	return nil
}

// write applies one compiled mutation under the write lock, stamps it with
// the next seq and publishes the change to watchers.
func (e *Engine) write(ctx context.Context, kind compiler.MutationKind, table, sqlText string, params []any) (store.Change, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	seq := e.clock.Next()
	var (
		change store.Change
		err    error
	)
	switch kind {
	case compiler.MutationInsert:
		change, err = e.store.Insert(ctx, seq, table, sqlText, params)
	case compiler.MutationUpdate:
		change, err = e.store.Update(ctx, seq, table, sqlText, params)
	case compiler.MutationDelete:
		change, err = e.store.Delete(ctx, seq, table, sqlText, params)
	default:
		err = fmt.Errorf("unknown mutation kind %q", kind)
	}
	if err != nil {
		return store.Change{}, err
	}

	if change.Affected > 0 {
		n := e.hub.publish(change)
		e.log.Debug("change published",
			"seq", change.Seq,
			"table", change.Table,
			"op", change.Op,
			"affected", change.Affected,
			"watchers", n,
		)
	}
	return change, nil
}
