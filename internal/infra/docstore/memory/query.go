package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"tutordesk/pkg/domain"
)

// Normalize converts fields to their JSON representation so that stored values
// only ever hold strings, float64s, bools, nil, []any and map[string]any.
func Normalize(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

type filterSet []domain.Filter

func compileFilters(filters []domain.Filter) filterSet {
	out := make(filterSet, len(filters))
	for i, f := range filters {
		out[i] = domain.Filter{Field: f.Field, Value: normalizeValue(f.Value)}
	}
	return out
}

func (fs filterSet) match(id string, data map[string]any) bool {
	if data == nil {
		return false
	}
	for _, f := range fs {
		if f.Field == domain.FieldID {
			if f.Value != id {
				return false
			}
			continue
		}
		v, ok := data[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// evaluate runs q against one collection. The caller holds at least a read lock.
func evaluate(docs map[string]map[string]any, q domain.Query) []domain.Document {
	filters := compileFilters(q.Filters)
	out := make([]domain.Document, 0, len(docs))
	for id, data := range docs {
		if !filters.match(id, data) {
			continue
		}
		out = append(out, domain.Document{ID: id, Data: cloneData(data)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compareValues(out[i].Data[o.Field], out[j].Data[o.Field])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// compareValues orders normalized values: timestamps chronologically, numbers
// numerically, strings lexically. Mixed kinds order by kind.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}
		return strings.Compare(av, bv)
	}
	return 0
}
