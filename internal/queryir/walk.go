package queryir

import "slices"

// Tables returns the sorted, de-duplicated table names a query reads.
// Subscriptions watch exactly these tables for changes.
func Tables(q Query) []string {
	var out []string
	walkQuery(q, func(sel Select) {
		out = append(out, sel.From)
	}, nil)
	slices.Sort(out)
	return slices.Compact(out)
}

// BoundVars returns the sorted, de-duplicated variable names referenced by
// BoundEquals predicates anywhere in the query.
func BoundVars(q Query) []string {
	var out []string
	walkQuery(q, nil, func(p Predicate) {
		if be, ok := asBoundEquals(p); ok {
			out = append(out, be.BoundVar)
		}
	})
	slices.Sort(out)
	return slices.Compact(out)
}

// PredicateBoundVars is BoundVars for a bare predicate, as used by
// mutation where-clauses.
func PredicateBoundVars(p Predicate) []string {
	var out []string
	walkPredicate(p, func(p Predicate) {
		if be, ok := asBoundEquals(p); ok {
			out = append(out, be.BoundVar)
		}
	})
	slices.Sort(out)
	return slices.Compact(out)
}

func walkQuery(q Query, onSelect func(Select), onPred func(Predicate)) {
	switch query := q.(type) {
	case Select:
		walkSelect(query, onSelect, onPred)
	case *Select:
		walkSelect(*query, onSelect, onPred)
	case Join:
		walkJoin(query, onSelect, onPred)
	case *Join:
		walkJoin(*query, onSelect, onPred)
	}
}

func walkSelect(sel Select, onSelect func(Select), onPred func(Predicate)) {
	if onSelect != nil {
		onSelect(sel)
	}
	if onPred != nil {
		walkPredicate(sel.Filter, onPred)
	}
}

func walkJoin(j Join, onSelect func(Select), onPred func(Predicate)) {
	walkQuery(j.Left, onSelect, onPred)
	walkQuery(j.Right, onSelect, onPred)
	if onPred != nil {
		walkPredicate(j.On, onPred)
	}
}

func walkPredicate(p Predicate, fn func(Predicate)) {
	if p == nil {
		return
	}
	fn(p)
	switch pred := p.(type) {
	case And:
		for _, sub := range pred.Predicates {
			walkPredicate(sub, fn)
		}
	case *And:
		for _, sub := range pred.Predicates {
			walkPredicate(sub, fn)
		}
	}
}

func asBoundEquals(p Predicate) (BoundEquals, bool) {
	switch pred := p.(type) {
	case BoundEquals:
		return pred, true
	case *BoundEquals:
		return *pred, true
	default:
		return BoundEquals{}, false
	}
}

// AssignmentBoundVars returns the sorted, de-duplicated variable names the
// assignments reference.
func AssignmentBoundVars(as []Assignment) []string {
	var out []string
	for _, a := range as {
		if a.BoundVar != "" {
			out = append(out, a.BoundVar)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
