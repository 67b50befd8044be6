package sufdex

import (
	"context"

	"github.com/RoaringBitmap/roaring"
)

// ═══════════════════════════════════════════════════════════════════════════════
// QUERY BUILDER: Boolean combinations of substring lookups
// ═══════════════════════════════════════════════════════════════════════════════
// Each Substring() runs one Query and turns its rows into a roaring bitmap;
// And/Or/AndNot combine bitmaps left to right.
//
// EXAMPLE USAGE:
// --------------
// Rows containing "worl" and "ly" but not "hello":
//
//	rows, err := NewQueryBuilder(index, 100).
//	    Substring("worl").
//	    And().
//	    Substring("ly").
//	    AndNot().
//	    Substring("hello").
//	    Execute(ctx)
//
// Every lookup is capped at the builder's limit, so a combination is only as
// complete as the windows it was built from.
// ═══════════════════════════════════════════════════════════════════════════════

// QueryOp is a pending boolean operation.
type QueryOp int

const (
	OpNone QueryOp = iota
	OpAnd
	OpOr
	OpAndNot
)

type queryStep struct {
	op      QueryOp
	pattern string
	group   *QueryBuilder
}

// QueryBuilder collects substring lookups and the operators joining them.
// Nothing touches the store until Execute.
type QueryBuilder struct {
	index *SuffixArray
	limit int
	steps []queryStep
	op    QueryOp
}

// NewQueryBuilder creates a builder whose lookups return at most limit rows each.
func NewQueryBuilder(index *SuffixArray, limit int) *QueryBuilder {
	return &QueryBuilder{
		index: index,
		limit: limit,
	}
}

// Substring adds a lookup for rows containing pattern.
func (qb *QueryBuilder) Substring(pattern string) *QueryBuilder {
	qb.steps = append(qb.steps, queryStep{op: qb.op, pattern: pattern})
	qb.op = OpNone
	return qb
}

// Group adds a sub-query evaluated on its own, for precedence.
//
//	qb.Group(func(q *QueryBuilder) {
//	    q.Substring("cat").Or().Substring("dog")
//	}).And().Substring("pet")
func (qb *QueryBuilder) Group(fn func(*QueryBuilder)) *QueryBuilder {
	sub := NewQueryBuilder(qb.index, qb.limit)
	fn(sub)
	qb.steps = append(qb.steps, queryStep{op: qb.op, group: sub})
	qb.op = OpNone
	return qb
}

func (qb *QueryBuilder) And() *QueryBuilder {
	qb.op = OpAnd
	return qb
}

func (qb *QueryBuilder) Or() *QueryBuilder {
	qb.op = OpOr
	return qb
}

// AndNot removes the rows of the next lookup from the result so far.
func (qb *QueryBuilder) AndNot() *QueryBuilder {
	qb.op = OpAndNot
	return qb
}

// Execute runs every lookup and folds the bitmaps. A step with no operator
// before it is treated as And.
func (qb *QueryBuilder) Execute(ctx context.Context) (*roaring.Bitmap, error) {
	if len(qb.steps) == 0 {
		return roaring.NewBitmap(), nil
	}

	var result *roaring.Bitmap
	for i, step := range qb.steps {
		bitmap, err := qb.evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result = bitmap
			continue
		}
		switch step.op {
		case OpOr:
			result.Or(bitmap)
		case OpAndNot:
			result.AndNot(bitmap)
		default:
			result.And(bitmap)
		}
	}
	return result, nil
}

func (qb *QueryBuilder) evaluate(ctx context.Context, step queryStep) (*roaring.Bitmap, error) {
	if step.group != nil {
		return step.group.Execute(ctx)
	}
	return qb.index.QueryBitmap(ctx, step.pattern, qb.limit)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVENIENCE METHODS FOR COMMON PATTERNS
// ═══════════════════════════════════════════════════════════════════════════════

// AllOf finds rows containing every pattern.
func AllOf(ctx context.Context, index *SuffixArray, limit int, patterns ...string) (*roaring.Bitmap, error) {
	if len(patterns) == 0 {
		return roaring.NewBitmap(), nil
	}
	qb := NewQueryBuilder(index, limit).Substring(patterns[0])
	for _, p := range patterns[1:] {
		qb.And().Substring(p)
	}
	return qb.Execute(ctx)
}

// AnyOf finds rows containing at least one pattern.
func AnyOf(ctx context.Context, index *SuffixArray, limit int, patterns ...string) (*roaring.Bitmap, error) {
	if len(patterns) == 0 {
		return roaring.NewBitmap(), nil
	}
	qb := NewQueryBuilder(index, limit).Substring(patterns[0])
	for _, p := range patterns[1:] {
		qb.Or().Substring(p)
	}
	return qb.Execute(ctx)
}

// Excluding finds rows containing include but not exclude.
func Excluding(ctx context.Context, index *SuffixArray, limit int, include, exclude string) (*roaring.Bitmap, error) {
	return NewQueryBuilder(index, limit).
		Substring(include).
		AndNot().
		Substring(exclude).
		Execute(ctx)
}
