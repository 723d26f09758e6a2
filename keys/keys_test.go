package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name:   "table only",
			params: Params{Table: "items", Pack: true},
			want:   "tablecache_items_$pack_1",
		},
		{
			name:   "unpacked",
			params: Params{Table: "items"},
			want:   "tablecache_items_$pack_0",
		},
		{
			name:   "prefix and query",
			params: Params{Table: "items", Prefix: "find_one", Query: map[string]any{"id": 42}, Pack: true},
			want:   "tablecache_items_find_one_id_42_$pack_1",
		},
		{
			name:   "query pairs are sorted",
			params: Params{Table: "items", Query: map[string]any{"b": 2, "a": "x"}, Pack: true},
			want:   "tablecache_items_a_x_b_2_$pack_1",
		},
		{
			name: "sort criteria and limit",
			params: Params{
				Table:    "items",
				Query:    map[string]any{"state": "open"},
				Sort:     []string{"score", "-1"},
				Criteria: map[string]any{"name": 1, "_id": 0},
				Limit:    10,
				Pack:     true,
			},
			want: "tablecache_items_state_open_$sort_score_-1_$criteria__id_0_name_1_$limit_10_$pack_1",
		},
		{
			name:   "page namespace",
			params: Params{Namespace: PageNamespace, Table: "items", Sort: []string{"score", "1"}, Pack: true},
			want:   "pagecache_items_$sort_score_1_$pack_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.params))
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	p := Params{
		Table:    "items",
		Prefix:   "list",
		Query:    map[string]any{"z": 1, "a": 2, "m": "mid", "c": true},
		Criteria: map[string]any{"y": 1, "b": 0},
		Pack:     true,
	}

	first := Build(p)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Build(p), "Build must be stable across calls")
	}

	permuted := p
	permuted.Query = map[string]any{"c": true, "m": "mid", "a": 2, "z": 1}
	assert.Equal(t, first, Build(permuted), "query field order must not change the key")
}

func TestBuildDistinguishesTuples(t *testing.T) {
	base := Params{Table: "items", Query: map[string]any{"id": 1}, Pack: true}

	withLimit := base
	withLimit.Limit = 5
	unpacked := base
	unpacked.Pack = false
	withPrefix := base
	withPrefix.Prefix = "find_one"

	seen := map[string]bool{}
	for _, p := range []Params{base, withLimit, unpacked, withPrefix} {
		key := Build(p)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestValueRendersObjectIDAsHex(t *testing.T) {
	id := primitive.NewObjectID()
	assert.Equal(t, id.Hex(), Value(id))
	assert.Equal(t, "tablecache_items__id_"+id.Hex()+"_$pack_1",
		Build(Params{Table: "items", Query: map[string]any{"_id": id}, Pack: true}))
}

func TestPatternAndWithPrefix(t *testing.T) {
	assert.Equal(t, "tablecache_items_$pack_1*", Pattern(Params{Table: "items", Pack: true}))
	assert.Equal(t, "key_suffix", WithPrefix("key", "suffix"))
	assert.Equal(t, "key", WithPrefix("key", ""))
}

func TestFields(t *testing.T) {
	assert.Equal(t, "a_1_b_x", Fields(map[string]any{"b": "x", "a": 1}))
	assert.Equal(t, "", Fields(nil))
}
