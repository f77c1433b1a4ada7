package snstr

import (
	"encoding/json"
	"strings"
)

// Filter is a predicate over events, matching spec.md's §3 data model.
// Zero-value fields mean "unconstrained" except Limit, where 0 means unset.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`

	// Tags holds "#x" entries keyed by the single-letter tag name, e.g. Tags["t"] = ["demo"].
	Tags map[string][]string `json:"-"`
}

// MarshalJSON flattens Tags into "#x" keys alongside the fixed fields,
// matching the wire filter object the relay protocol expects.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	for k, v := range f.Tags {
		m["#"+k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts both the fixed fields and arbitrary "#x" tag keys.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{Tags: map[string][]string{}}
	for k, v := range raw {
		switch k {
		case "ids":
			f.IDs = toStringSlice(v)
		case "authors":
			f.Authors = toStringSlice(v)
		case "kinds":
			f.Kinds = toIntSlice(v)
		case "since":
			f.Since = toInt64(v)
		case "until":
			f.Until = toInt64(v)
		case "limit":
			f.Limit = int(toInt64(v))
		default:
			if strings.HasPrefix(k, "#") && len(k) == 2 {
				f.Tags[k[1:]] = toStringSlice(v)
			}
		}
	}
	return nil
}

func toStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toIntSlice(v interface{}) []int {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(arr))
	for _, e := range arr {
		out = append(out, int(toInt64(e)))
	}
	return out
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// Matches reports whether event e satisfies the filter, grounded on
// matk0-cosanostra's MatchesFilter and extended with since/until/#tag support.
func (f Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsStr(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && e.CreatedAt > f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		tagValues := e.Tags.All(name)
		if !anyIntersect(tagValues, values) {
			return false
		}
	}
	return true
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}

func anyIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
