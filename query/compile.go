package query

import "strings"

// Filter is a node in the backend neutral filter tree.
type Filter interface {
	isFilter()
}

// Cond is a leaf comparison against a (possibly nested) field path.
type Cond struct {
	Path   []string
	Op     Op
	Values []Literal
}

// AndFilter combines child filters; all must match.
type AndFilter struct {
	Filters []Filter
}

// OrFilter combines child filters; at least one must match.
type OrFilter struct {
	Filters []Filter
}

func (Cond) isFilter()      {}
func (AndFilter) isFilter() {}
func (OrFilter) isFilter()  {}

// ModKind tags a query modifier.
type ModKind int

const (
	ModOrderBy ModKind = iota
	ModLimit
	ModLimitLast
)

// Mod is an order-by or limit clause, replayed by drivers in source order
// as side effecting calls on their native query builder.
type Mod struct {
	Kind ModKind
	Path []string
	Desc bool
	N    int
}

// Compiled is the backend neutral form of a predicate list. The zero value
// means no filter, no ordering, no limit: the entire collection.
type Compiled struct {
	Filter Filter
	Mods   []Mod
}

// Compile translates a predicate list into its backend neutral form.
// All leaf comparisons combine under an implicit AND; explicit and/or
// groups nest. Compilation itself never fails: invalid field paths or
// unsupported value combinations only surface when the backend executes
// the compiled query.
func Compile(preds []Predicate) Compiled {
	var conds []Filter
	var mods []Mod

	for _, p := range preds {
		switch p.kind {
		case predCond:
			conds = append(conds, Cond{Path: splitField(p.field), Op: p.op, Values: p.values})
		case predAnd, predOr:
			conds = append(conds, compileGroup(p))
		case predOrder:
			mods = append(mods, Mod{Kind: ModOrderBy, Path: splitField(p.field), Desc: p.desc})
		case predLimit:
			mods = append(mods, Mod{Kind: ModLimit, N: p.n})
		case predLimitLast:
			mods = append(mods, Mod{Kind: ModLimitLast, N: p.n})
		}
	}

	var f Filter
	switch len(conds) {
	case 0:
	case 1:
		f = conds[0]
	default:
		f = AndFilter{Filters: conds}
	}

	return Compiled{Filter: f, Mods: mods}
}

// compileGroup expands an explicit and/or group, preserving nesting.
// Order and limit clauses have no meaning inside a group and are skipped.
func compileGroup(p Predicate) Filter {
	var kids []Filter
	for _, k := range p.kids {
		switch k.kind {
		case predCond:
			kids = append(kids, Cond{Path: splitField(k.field), Op: k.op, Values: k.values})
		case predAnd, predOr:
			kids = append(kids, compileGroup(k))
		}
	}
	if p.kind == predOr {
		return OrFilter{Filters: kids}
	}
	return AndFilter{Filters: kids}
}

func splitField(field string) []string {
	return strings.Split(field, ".")
}

// AppendHash appends a stable byte encoding of the compiled query, used
// by drivers for cache keys.
func (c Compiled) AppendHash(b []byte) []byte {
	b = appendFilterHash(b, c.Filter)
	for _, m := range c.Mods {
		b = append(b, byte(m.Kind), 0xff)
		for _, seg := range m.Path {
			b = append(b, seg...)
			b = append(b, 0xff)
		}
		if m.Desc {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		b = append(b, byte(m.N>>24), byte(m.N>>16), byte(m.N>>8), byte(m.N), 0xff)
	}
	return b
}

func appendFilterHash(b []byte, f Filter) []byte {
	switch f := f.(type) {
	case Cond:
		b = append(b, 'c', 0xff)
		for _, seg := range f.Path {
			b = append(b, seg...)
			b = append(b, 0xff)
		}
		b = append(b, byte(f.Op))
		for _, v := range f.Values {
			b = v.AppendHash(b)
		}
		b = append(b, 0xff)
	case AndFilter:
		b = append(b, 'a', 0xff)
		for _, k := range f.Filters {
			b = appendFilterHash(b, k)
		}
		b = append(b, 0xff)
	case OrFilter:
		b = append(b, 'o', 0xff)
		for _, k := range f.Filters {
			b = appendFilterHash(b, k)
		}
		b = append(b, 0xff)
	}
	return b
}
