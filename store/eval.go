package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aep/firebind/query"
)

// Local evaluation of a compiled query, used by the memory driver. The
// value model is JSON-shaped: numbers may arrive as int64, float64 or
// json.Number depending on who wrote them.

func evalQuery(docs []Document, q query.Compiled) []Document {
	var out []Document
	for _, d := range docs {
		if q.Filter == nil || matchFilter(q.Filter, d.Data) {
			out = append(out, d)
		}
	}

	var orders []query.Mod
	var limitFirst, limitLast *int
	for _, m := range q.Mods {
		switch m.Kind {
		case query.ModOrderBy:
			orders = append(orders, m)
		case query.ModLimit:
			n := m.N
			limitFirst = &n
		case query.ModLimitLast:
			n := m.N
			limitLast = &n
		}
	}

	if len(orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range orders {
				a, _ := lookup(out[i].Data, o.Path)
				b, _ := lookup(out[j].Data, o.Path)
				c := compareValues(a, b)
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if limitFirst != nil && *limitFirst < len(out) {
		out = out[:*limitFirst]
	}
	if limitLast != nil && *limitLast < len(out) {
		out = out[len(out)-*limitLast:]
	}
	return out
}

func matchFilter(f query.Filter, data map[string]any) bool {
	switch f := f.(type) {
	case query.Cond:
		return matchCond(f, data)
	case query.AndFilter:
		for _, k := range f.Filters {
			if !matchFilter(k, data) {
				return false
			}
		}
		return true
	case query.OrFilter:
		for _, k := range f.Filters {
			if matchFilter(k, data) {
				return true
			}
		}
		return false
	}
	return false
}

func matchCond(c query.Cond, data map[string]any) bool {
	val, exists := lookup(data, c.Path)
	if !exists {
		return false
	}

	switch c.Op {
	case query.OpEq:
		return literalEq(val, c.Values[0])
	case query.OpNe:
		return !literalEq(val, c.Values[0])
	case query.OpIn:
		for _, l := range c.Values {
			if literalEq(val, l) {
				return true
			}
		}
		return false
	case query.OpNotIn:
		for _, l := range c.Values {
			if literalEq(val, l) {
				return false
			}
		}
		return true
	case query.OpContains:
		arr, ok := val.([]any)
		if !ok {
			return false
		}
		for _, el := range arr {
			if literalEq(el, c.Values[0]) {
				return true
			}
		}
		return false
	case query.OpContainsAny:
		arr, ok := val.([]any)
		if !ok {
			return false
		}
		for _, el := range arr {
			for _, l := range c.Values {
				if literalEq(el, l) {
					return true
				}
			}
		}
		return false
	case query.OpLt:
		return compareValues(val, c.Values[0].Value()) < 0
	case query.OpGt:
		return compareValues(val, c.Values[0].Value()) > 0
	case query.OpLte:
		return compareValues(val, c.Values[0].Value()) <= 0
	case query.OpGte:
		return compareValues(val, c.Values[0].Value()) >= 0
	}
	return false
}

func lookup(data map[string]any, path []string) (any, bool) {
	var cur any = data
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func literalEq(val any, l query.Literal) bool {
	if l.Kind() == query.KindNull {
		return val == nil
	}
	switch l.Kind() {
	case query.KindBool:
		b, ok := val.(bool)
		return ok && b == l.Value().(bool)
	case query.KindString:
		s, ok := val.(string)
		return ok && s == l.Value().(string)
	case query.KindInt, query.KindFloat:
		f, ok := toFloat(val)
		if !ok {
			return false
		}
		lf, _ := toFloat(l.Value())
		return f == lf
	case query.KindTime:
		t, ok := val.(time.Time)
		if !ok {
			return false
		}
		return t.Equal(l.Value().(time.Time))
	case query.KindBytes:
		b, ok := val.([]byte)
		lb := l.Value().([]byte)
		if !ok || len(b) != len(lb) {
			return false
		}
		for i := range b {
			if b[i] != lb[i] {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues returns -1, 0 or 1, coercing numbers where possible and
// falling back to string comparison for everything else.
func compareValues(a, b any) int {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}

	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	if oka && okb {
		if fa > fb {
			return 1
		}
		if fa < fb {
			return -1
		}
		return 0
	}

	sa := fmt.Sprintf("%v", a)
	sb := fmt.Sprintf("%v", b)
	if sa > sb {
		return 1
	}
	if sa < sb {
		return -1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch i := v.(type) {
	case float64:
		return i, true
	case float32:
		return float64(i), true
	case int:
		return float64(i), true
	case int64:
		return float64(i), true
	case json.Number:
		f, err := i.Float64()
		return f, err == nil
	}
	return 0, false
}
