// Package statemachine holds the transition tables that guard every status
// field in the system.
//
// Each entity declares its legal (state, event) -> state' rules once; callers
// ask the table for the next state instead of checking the current status
// inline. Illegal pairs are rejected uniformly with apperr.InvalidTransition.
package statemachine

import (
	"sort"

	"github.com/samber/lo"

	"github.com/platinummonkey/tenancy/pkg/apperr"
)

// Rule is one legal transition
type Rule[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

// Table maps (state, event) pairs to the resulting state
type Table[S ~string, E ~string] struct {
	entity      string
	transitions map[S]map[E]S
}

// New builds a table for entity from rules. A duplicate (From, Event) pair
// panics since it is a programming error.
func New[S ~string, E ~string](entity string, rules ...Rule[S, E]) *Table[S, E] {
	t := &Table[S, E]{
		entity:      entity,
		transitions: make(map[S]map[E]S),
	}
	for _, r := range rules {
		events, ok := t.transitions[r.From]
		if !ok {
			events = make(map[E]S)
			t.transitions[r.From] = events
		}
		if _, dup := events[r.Event]; dup {
			panic("statemachine: duplicate rule for " + entity + " " + string(r.From) + "/" + string(r.Event))
		}
		events[r.Event] = r.To
	}
	return t
}

// Next returns the state reached by applying event in state from
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	if to, ok := t.transitions[from][event]; ok {
		return to, nil
	}
	var zero S
	return zero, apperr.InvalidTransition(t.entity, string(from), string(event))
}

// Can reports whether event is legal in state from
func (t *Table[S, E]) Can(from S, event E) bool {
	_, ok := t.transitions[from][event]
	return ok
}

// Events lists the events legal in state from, sorted
func (t *Table[S, E]) Events(from S) []E {
	events := lo.Keys(t.transitions[from])
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// Terminal reports whether no event is legal in state
func (t *Table[S, E]) Terminal(state S) bool {
	return len(t.transitions[state]) == 0
}

// SourcesOf lists the states from which event is legal, sorted
func (t *Table[S, E]) SourcesOf(event E) []S {
	sources := lo.Filter(lo.Keys(t.transitions), func(from S, _ int) bool {
		return t.Can(from, event)
	})
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}
