// Package query holds the small, Find-oriented data model the core wire
// layer reads and writes: the outgoing identifier (Query) and the answers a
// C-FIND response stream accumulates (FindAnswer, QueryAnswers). DICOM tag
// identities and VR lookups are deferred to suyashkumar/dicom's tag
// dictionary; this package never reimplements it.
package query

import (
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Query is a tag→value mapping used as a DICOM identifier. Values are kept
// as strings (the wire representation for every VR the core's query paths
// care about: UI, LO, SH, DA, CS); it is immutable once handed to the wire
// layer; callers build a fresh one per command.
type Query struct {
	fields map[tag.Tag]string
}

// NewQuery returns an empty, mutable-until-sent identifier.
func NewQuery() *Query {
	return &Query{fields: make(map[tag.Tag]string)}
}

// Set assigns value to t, overwriting any previous value.
func (q *Query) Set(t tag.Tag, value string) {
	q.fields[t] = value
}

// Get returns the value stored for t and whether it was present.
func (q *Query) Get(t tag.Tag) (string, bool) {
	v, ok := q.fields[t]
	return v, ok
}

// Has reports whether t has been set, regardless of value (including the
// empty string, which is a valid universal matcher).
func (q *Query) Has(t tag.Tag) bool {
	_, ok := q.fields[t]
	return ok
}

// Delete removes t, used by normalization to drop tags outside a level's
// allowed set.
func (q *Query) Delete(t tag.Tag) {
	delete(q.fields, t)
}

// Tags returns every tag currently set, in no particular order.
func (q *Query) Tags() []tag.Tag {
	out := make([]tag.Tag, 0, len(q.fields))
	for t := range q.fields {
		out = append(out, t)
	}
	return out
}

// Clone returns an independent copy, used before normalization mutates a
// caller-supplied identifier in place.
func (q *Query) Clone() *Query {
	c := NewQuery()
	for t, v := range q.fields {
		c.fields[t] = v
	}
	return c
}

// FindAnswer is one response dataset from a Find: a DICOM tag map plus a
// flag distinguishing a worklist answer from a regular Q/R answer.
type FindAnswer struct {
	Fields     map[tag.Tag]string
	IsWorklist bool
}

// Get returns the value stored for t and whether it was present.
func (a FindAnswer) Get(t tag.Tag) (string, bool) {
	v, ok := a.Fields[t]
	return v, ok
}

// Clone returns an independent copy of the answer, used when a
// RetrieveCommand takes ownership of a Find answer.
func (a FindAnswer) Clone() FindAnswer {
	fields := make(map[tag.Tag]string, len(a.Fields))
	for t, v := range a.Fields {
		fields[t] = v
	}
	return FindAnswer{Fields: fields, IsWorklist: a.IsWorklist}
}

// QueryAnswers is an append-only, ordered sequence of FindAnswer returned by
// one Find (or accumulated across a command list). Positional indices are
// stable: nothing is ever inserted or removed except via Append.
type QueryAnswers struct {
	Worklist bool
	answers  []FindAnswer
}

// NewQueryAnswers returns an empty collection for the given flavor.
func NewQueryAnswers(worklist bool) *QueryAnswers {
	return &QueryAnswers{Worklist: worklist}
}

// Append adds answer at the end of the collection.
func (qa *QueryAnswers) Append(answer FindAnswer) {
	qa.answers = append(qa.answers, answer)
}

// Len returns the number of answers collected so far.
func (qa *QueryAnswers) Len() int {
	return len(qa.answers)
}

// At returns the answer at position i.
func (qa *QueryAnswers) At(i int) FindAnswer {
	return qa.answers[i]
}

// All returns the underlying slice. Callers must not mutate it; it is
// exposed read-only for iteration convenience.
func (qa *QueryAnswers) All() []FindAnswer {
	return qa.answers
}
