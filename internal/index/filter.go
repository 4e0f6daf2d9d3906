package index

// Filter is a metadata predicate in the index server's filter grammar:
// field -> operator -> operand. Top-level fields combine with AND.
type Filter map[string]any

// Eq matches records whose field equals v.
func Eq(field string, v any) Filter {
	return Filter{field: map[string]any{"$eq": v}}
}

// In matches records whose field is one of vals. Empty vals yields no
// predicate rather than a match-nothing filter.
func In(field string, vals []string) Filter {
	if len(vals) == 0 {
		return Filter{}
	}
	return Filter{field: map[string]any{"$in": toAnySlice(vals)}}
}

// NotIn matches records whose field is none of vals.
func NotIn(field string, vals []string) Filter {
	if len(vals) == 0 {
		return Filter{}
	}
	return Filter{field: map[string]any{"$nin": toAnySlice(vals)}}
}

// Range bounds a numeric field inclusively. Nil bounds are open.
func Range(field string, min, max *float64) Filter {
	ops := map[string]any{}
	if min != nil {
		ops["$gte"] = *min
	}
	if max != nil {
		ops["$lte"] = *max
	}
	if len(ops) == 0 {
		return Filter{}
	}
	return Filter{field: ops}
}

// And merges filters field-wise. Operator maps for the same field are
// combined; a later scalar predicate for a field replaces an earlier one.
func And(filters ...Filter) Filter {
	out := Filter{}
	for _, f := range filters {
		for field, pred := range f {
			existing, ok := out[field]
			if !ok {
				out[field] = pred
				continue
			}
			em, eok := existing.(map[string]any)
			pm, pok := pred.(map[string]any)
			if eok && pok {
				for op, v := range pm {
					em[op] = v
				}
				continue
			}
			out[field] = pred
		}
	}
	return out
}

// IsEmpty reports whether the filter constrains nothing.
func (f Filter) IsEmpty() bool { return len(f) == 0 }

func toAnySlice(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
