package queryir

import (
	"fmt"

	"github.com/roach88/liveq/internal/ir"
)

// ValidationResult contains portability analysis of a query.
type ValidationResult struct {
	// IsPortable indicates if the query uses only portable fragment features.
	IsPortable bool

	// Warnings lists non-portable features used in the query.
	// Empty when IsPortable is true.
	Warnings []string
}

// Validate checks if a query conforms to the portable fragment rules:
//  1. No NULLs - all field comparisons must use explicit values
//  2. Joins must carry a condition (no cross joins)
//  3. Explicit bindings - no SELECT * wildcards
//  4. FieldEquals only inside a join condition
//
// Non-portable queries still execute against SQLite; the warnings are
// reported by `liveq validate`.
func Validate(query Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
	inFilter bool
}

// addWarning appends a warning message.
func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// validateQuery recursively validates a query node.
func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addWarning("nil query - portable fragment requires valid query nodes")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Join:
		v.validateJoin(query)
	case *Join:
		v.validateJoin(*query)
	default:
		// Unknown query type - add warning
		v.addWarning("Unknown query type: %T - portability cannot be verified", q)
	}
}

// validateSelect validates a Select query node.
func (v *validator) validateSelect(sel Select) {
	// Rule 3: Explicit bindings - no SELECT *
	if len(sel.Bindings) == 0 {
		v.addWarning("Empty bindings (SELECT *) - portable fragment requires explicit field selection")
	}

	if sel.Filter != nil {
		v.inFilter = true
		v.validatePredicate(sel.Filter)
		v.inFilter = false
	}
}

// validateJoin validates a Join query node.
func (v *validator) validateJoin(join Join) {
	v.validateQuery(join.Left)
	v.validateQuery(join.Right)

	// Rule 2: No cross joins
	if join.On == nil {
		v.addWarning("Join without condition (cross join) - portable fragment requires an ON predicate")
		return
	}
	v.validatePredicate(join.On)
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return // nil predicates are valid (no filter)
	}

	switch pred := p.(type) {
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case BoundEquals, *BoundEquals:
		// Variable existence is checked when the operation is subscribed.
	case FieldEquals:
		v.validateFieldEquals(pred)
	case *FieldEquals:
		v.validateFieldEquals(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		// Unknown predicate type
		v.addWarning("Unknown predicate type: %T - portability cannot be verified", p)
	}
}

// validateEquals validates an Equals predicate.
func (v *validator) validateEquals(eq Equals) {
	// Rule 1: No NULLs
	// Check if the value is IRNull - not portable
	if _, isNull := eq.Value.(ir.IRNull); isNull {
		v.addWarning("Field '%s' compared to NULL - portable fragment requires explicit values", eq.Field)
	}
}

// validateFieldEquals validates a FieldEquals predicate.
func (v *validator) validateFieldEquals(fe FieldEquals) {
	// Rule 4: column comparisons only make sense across join sides
	if v.inFilter {
		v.addWarning("Field comparison '%s = %s' in a filter - portable fragment allows it only in join conditions", fe.Left, fe.Right)
	}
}

// validateAnd validates an And predicate.
func (v *validator) validateAnd(and And) {
	// Recursively validate all sub-predicates
	for _, subPred := range and.Predicates {
		v.validatePredicate(subPred)
	}
}
