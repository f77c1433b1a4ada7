package snstr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	event := &Event{
		ID:        "abc",
		PubKey:    "def",
		CreatedAt: 1000,
		Kind:      1,
		Tags:      Tags{{"t", "nostr"}, {"p", "xyz"}},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches everything", Filter{}, true},
		{"matching author", Filter{Authors: []string{"def"}}, true},
		{"non-matching author", Filter{Authors: []string{"other"}}, false},
		{"matching kind", Filter{Kinds: []int{1}}, true},
		{"non-matching kind", Filter{Kinds: []int{2}}, false},
		{"since excludes earlier", Filter{Since: 2000}, false},
		{"until excludes later", Filter{Until: 500}, false},
		{"matching tag", Filter{Tags: map[string][]string{"t": {"nostr"}}}, true},
		{"non-matching tag", Filter{Tags: map[string][]string{"t": {"other"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(event))
		})
	}
}

func TestFilterJSONRoundtrip(t *testing.T) {
	f := Filter{
		Authors: []string{"abc"},
		Kinds:   []int{1, 2},
		Since:   100,
		Limit:   10,
		Tags:    map[string][]string{"t": {"nostr", "golang"}},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)
	t.Logf("marshaled: %s", data)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "#t")

	var f2 Filter
	require.NoError(t, json.Unmarshal(data, &f2))
	assert.Len(t, f2.Tags["t"], 2)
	assert.Equal(t, 10, f2.Limit)
}
