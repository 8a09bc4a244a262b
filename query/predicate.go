// Package query describes filter, ordering and limit intent for a document
// collection independently of any particular backend. Predicates are built
// once per query definition and compiled into a backend neutral form that
// store drivers translate into their native query builders.
package query

import (
	"encoding/binary"
	"math"
	"time"
)

// Op is a comparison operator on a document field.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
	OpNotIn
	OpContains
	OpContainsAny
	OpLt
	OpGt
	OpLte
	OpGte
)

// Kind tags a Literal value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
)

// Literal is a closed tagged union over the value types a predicate may
// compare against. Keeping this closed means predicates hash and compare
// without reaching for a dynamic any.
type Literal struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	t    time.Time
}

func Null() Literal              { return Literal{kind: KindNull} }
func Bool(v bool) Literal        { return Literal{kind: KindBool, b: v} }
func Int(v int64) Literal        { return Literal{kind: KindInt, i: v} }
func Float(v float64) Literal    { return Literal{kind: KindFloat, f: v} }
func Str(v string) Literal       { return Literal{kind: KindString, s: v} }
func Bytes(v []byte) Literal     { return Literal{kind: KindBytes, raw: v} }
func Time(v time.Time) Literal   { return Literal{kind: KindTime, t: v} }

func (l Literal) Kind() Kind { return l.kind }

// Value returns the native value for handing to a backend driver.
func (l Literal) Value() any {
	switch l.kind {
	case KindBool:
		return l.b
	case KindInt:
		return l.i
	case KindFloat:
		return l.f
	case KindString:
		return l.s
	case KindBytes:
		return l.raw
	case KindTime:
		return l.t
	}
	return nil
}

// AppendHash appends a stable byte encoding of the literal, used for
// structural identity hashing.
func (l Literal) AppendHash(b []byte) []byte {
	b = append(b, byte(l.kind))
	switch l.kind {
	case KindBool:
		if l.b {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case KindInt:
		b = binary.BigEndian.AppendUint64(b, uint64(l.i))
	case KindFloat:
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(l.f))
	case KindString:
		b = append(b, l.s...)
	case KindBytes:
		b = append(b, l.raw...)
	case KindTime:
		b = binary.BigEndian.AppendUint64(b, uint64(l.t.UnixNano()))
	}
	return append(b, 0xff)
}

type predKind int

const (
	predCond predKind = iota
	predAnd
	predOr
	predOrder
	predLimit
	predLimitLast
)

// Predicate is one element of a query definition: a leaf comparison, an
// and/or group, an order-by clause or a limit clause. Immutable.
type Predicate struct {
	kind   predKind
	field  string
	op     Op
	values []Literal
	kids   []Predicate
	desc   bool
	n      int
}

func Where(field string, op Op, v Literal) Predicate {
	return Predicate{kind: predCond, field: field, op: op, values: []Literal{v}}
}

func Eq(field string, v Literal) Predicate  { return Where(field, OpEq, v) }
func Ne(field string, v Literal) Predicate  { return Where(field, OpNe, v) }
func Lt(field string, v Literal) Predicate  { return Where(field, OpLt, v) }
func Gt(field string, v Literal) Predicate  { return Where(field, OpGt, v) }
func Lte(field string, v Literal) Predicate { return Where(field, OpLte, v) }
func Gte(field string, v Literal) Predicate { return Where(field, OpGte, v) }

func In(field string, vs ...Literal) Predicate {
	return Predicate{kind: predCond, field: field, op: OpIn, values: vs}
}

func NotIn(field string, vs ...Literal) Predicate {
	return Predicate{kind: predCond, field: field, op: OpNotIn, values: vs}
}

func Contains(field string, v Literal) Predicate {
	return Where(field, OpContains, v)
}

func ContainsAny(field string, vs ...Literal) Predicate {
	return Predicate{kind: predCond, field: field, op: OpContainsAny, values: vs}
}

func And(ps ...Predicate) Predicate { return Predicate{kind: predAnd, kids: ps} }
func Or(ps ...Predicate) Predicate  { return Predicate{kind: predOr, kids: ps} }

func OrderBy(field string, desc bool) Predicate {
	return Predicate{kind: predOrder, field: field, desc: desc}
}

func Limit(n int) Predicate     { return Predicate{kind: predLimit, n: n} }
func LimitLast(n int) Predicate { return Predicate{kind: predLimitLast, n: n} }

// Order is a single sort clause, used by collection sync configurations
// that allow exactly one.
type Order struct {
	Field string
	Desc  bool
}

// AppendHash appends a stable byte encoding of the predicate.
func (p Predicate) AppendHash(b []byte) []byte {
	b = append(b, byte(p.kind), 0xff)
	b = append(b, p.field...)
	b = append(b, 0xff, byte(p.op))
	for _, v := range p.values {
		b = v.AppendHash(b)
	}
	b = append(b, 0xff)
	for _, k := range p.kids {
		b = k.AppendHash(b)
	}
	if p.desc {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.BigEndian.AppendUint64(b, uint64(p.n))
	return append(b, 0xff)
}

// AppendHashList encodes a whole predicate list.
func AppendHashList(b []byte, ps []Predicate) []byte {
	for _, p := range ps {
		b = p.AppendHash(b)
	}
	return b
}

// EqualList reports whether two predicate lists are structurally equal.
func EqualList(a, b []Predicate) bool {
	if len(a) != len(b) {
		return false
	}
	ab := AppendHashList(nil, a)
	bb := AppendHashList(nil, b)
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
