package tablecache

import (
	"context"
	"strings"
	"testing"

	"tablecache/docstore"
	"tablecache/keyword"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedScores(t *testing.T, env *testEnv) map[string]string {
	t.Helper()
	names := map[string]string{}
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		id := env.insert(t, "scores", docstore.Document{"name": name, "score": (i + 1) * 10, "state": "open"})
		names[id] = name
	}
	env.insert(t, "scores", docstore.Document{"name": "z", "score": 99, "state": "closed"})
	return names
}

func itemNames(items []docstore.Document) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item["name"].(string))
	}
	return names
}

func TestRangeByPage(t *testing.T) {
	tests := []struct {
		page, count int64
		start, stop int64
	}{
		{1, 10, 0, 9},
		{2, 10, 10, 19},
		{3, 2, 4, 5},
		{0, 10, 0, -1},
		{1, 0, 0, -1},
		{-1, 5, 0, -1},
	}
	for _, tt := range tests {
		start, stop := rangeByPage(tt.page, tt.count)
		assert.Equal(t, tt.start, start, "page %d count %d", tt.page, tt.count)
		assert.Equal(t, tt.stop, stop, "page %d count %d", tt.page, tt.count)
	}
}

func TestLoadPageData(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	names := seedScores(t, env)

	sortBy := WithSort(docstore.SortField{Field: "score", Direction: 1})
	ids, err := env.dal.LoadPageData(ctx, "scores", docstore.Document{"state": "open"}, sortBy)
	require.NoError(t, err)
	require.Len(t, ids, 5)

	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, names[id])
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ordered)

	key := "pagecache_scores_state_open_$sort_score_1_$pack_1"
	require.True(t, env.redis.Exists(key))
	assert.True(t, env.redis.TTL(key) > 0)

	members, err := env.redis.ZMembers(key)
	require.NoError(t, err)
	assert.Equal(t, ids, members)

	score, err := env.redis.ZScore(key, ids[2])
	require.NoError(t, err)
	assert.Equal(t, float64(30), score)
}

func TestFindByPage(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	seedScores(t, env)

	query := docstore.Document{"state": "open"}
	sortBy := WithSort(docstore.SortField{Field: "score", Direction: 1})

	// First page builds the snapshot
	first, err := env.dal.FindByPage(ctx, "scores", query, 1, 2, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, itemNames(first.Items))
	assert.Equal(t, int64(5), first.Total)
	assert.Equal(t, 2, first.PageCount)

	// Later pages come from the snapshot
	second, err := env.dal.FindByPage(ctx, "scores", query, 2, 2, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, itemNames(second.Items))

	third, err := env.dal.FindByPage(ctx, "scores", query, 3, 2, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, itemNames(third.Items))
	assert.Equal(t, 1, third.CurrentCount)

	past, err := env.dal.FindByPage(ctx, "scores", query, 9, 2, sortBy)
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.Equal(t, 0, past.PageCount)
	assert.Equal(t, int64(5), past.Total)

	// Page 0 returns the whole listing
	all, err := env.dal.FindByPage(ctx, "scores", query, 0, 0, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, itemNames(all.Items))

	// Items are cached as single documents with the short TTL
	var itemKeys int
	for _, key := range env.redis.Keys() {
		if strings.HasPrefix(key, "tablecache_scores_find_one_") {
			itemKeys++
			assert.True(t, env.redis.TTL(key) <= PageDocumentTTL, key)
		}
	}
	assert.Equal(t, 5, itemKeys)
	assert.Empty(t, env.faults.all())
}

func TestFindByPageFullListingOnFreshBuild(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	seedScores(t, env)

	all, err := env.dal.FindByPage(ctx, "scores", docstore.Document{"state": "open"}, 0, 10,
		WithSort(docstore.SortField{Field: "score", Direction: 1}))
	require.NoError(t, err)
	assert.Len(t, all.Items, 5)
	assert.Equal(t, int64(5), all.Total)
}

func TestFindByPageDescending(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	seedScores(t, env)

	query := docstore.Document{"state": "open"}
	sortBy := WithSort(docstore.SortField{Field: "score", Direction: -1})

	fresh, err := env.dal.FindByPage(ctx, "scores", query, 1, 3, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, itemNames(fresh.Items))

	// The snapshot is served in reverse score order
	cached, err := env.dal.FindByPage(ctx, "scores", query, 1, 3, sortBy)
	require.NoError(t, err)
	assert.Equal(t, itemNames(fresh.Items), itemNames(cached.Items))

	rest, err := env.dal.FindByPage(ctx, "scores", query, 2, 3, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, itemNames(rest.Items))
}

// pagesOf reads the listing two items at a time until an empty page.
func pagesOf(t *testing.T, env *testEnv, query docstore.Document, opts ...CallOption) [][]string {
	t.Helper()
	var pages [][]string
	for page := int64(1); ; page++ {
		result, err := env.dal.FindByPage(context.Background(), "scores", query, page, 2, opts...)
		require.NoError(t, err)
		if len(result.Items) == 0 {
			return pages
		}
		pages = append(pages, itemNames(result.Items))
	}
}

func TestFindByPageTiedScores(t *testing.T) {
	tests := []struct {
		name string
		sort CallOption
	}{
		{"equal scores descending", WithSort(docstore.SortField{Field: "score", Direction: -1})},
		{"equal scores ascending", WithSort(docstore.SortField{Field: "score", Direction: 1})},
		{"string sort field", WithSort(docstore.SortField{Field: "name", Direction: 1})},
		{"no sort", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupDAL(t)
			for _, name := range []string{"a", "b", "c", "d"} {
				env.insert(t, "scores", docstore.Document{"name": name, "score": 5})
			}

			pages := pagesOf(t, env, nil, tt.sort)
			require.Len(t, pages, 2)

			// Every document is served exactly once
			var served []string
			for _, page := range pages {
				assert.Len(t, page, 2)
				served = append(served, page...)
			}
			assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, served)

			// The fresh page matches the snapshot once it is cached
			first, err := env.dal.FindByPage(context.Background(), "scores", nil, 1, 2, tt.sort)
			require.NoError(t, err)
			assert.Equal(t, pages[0], itemNames(first.Items))
		})
	}
}

func TestLoadPageDataMatchesSnapshotOrder(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d"} {
		env.insert(t, "scores", docstore.Document{"name": name, "score": 5})
	}

	sortBy := WithSort(docstore.SortField{Field: "score", Direction: -1})
	ids, err := env.dal.LoadPageData(ctx, "scores", nil, sortBy)
	require.NoError(t, err)

	members, err := env.redis.ZMembers("pagecache_scores_$sort_score_-1_$pack_1")
	require.NoError(t, err)
	require.Len(t, members, 4)
	reversed := make([]string, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		reversed = append(reversed, members[i])
	}
	assert.Equal(t, reversed, ids)
}

func TestLoadPageDataNumericStrings(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	ranks := map[string]string{}
	for _, rank := range []string{"12", " 3 ", "x", "NaN"} {
		ranks[env.insert(t, "scores", docstore.Document{"rank": rank})] = rank
	}

	ids, err := env.dal.LoadPageData(ctx, "scores", nil, WithSort(docstore.SortField{Field: "rank", Direction: 1}))
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Equal(t, "12", ranks[ids[3]])
	assert.Equal(t, " 3 ", ranks[ids[2]])

	key := "pagecache_scores_$sort_rank_1_$pack_1"
	for id, rank := range ranks {
		score, err := env.redis.ZScore(key, id)
		require.NoError(t, err)
		switch rank {
		case "12":
			assert.Equal(t, float64(12), score)
		case " 3 ":
			assert.Equal(t, float64(3), score)
		default:
			assert.Equal(t, float64(0), score, rank)
		}
	}
	assert.Empty(t, env.faults.all())
}

func TestFindByPageSkipsRemovedDocuments(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	names := seedScores(t, env)

	query := docstore.Document{"state": "open"}
	sortBy := WithSort(docstore.SortField{Field: "score", Direction: 1})
	_, err := env.dal.LoadPageData(ctx, "scores", query, sortBy)
	require.NoError(t, err)

	// Removing behind the cache leaves a stale identifier in the snapshot
	for id, name := range names {
		if name == "b" {
			require.NoError(t, env.docs.Remove(ctx, "scores", docstore.Document{docstore.IDField: id}))
		}
	}

	page, err := env.dal.FindByPage(ctx, "scores", query, 1, 3, sortBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, itemNames(page.Items))
	assert.Equal(t, 3, page.PageCount)
}

func TestFindByPageKeyword(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	seedScores(t, env)

	query := docstore.Document{"state": "open"}
	opts := []CallOption{
		WithSort(docstore.SortField{Field: "score", Direction: 1}),
		WithKeyword(keyword.Single("board")),
	}

	_, err := env.dal.FindByPage(ctx, "scores", query, 1, 2, opts...)
	require.NoError(t, err)

	tagged, err := env.redis.Members("board")
	require.NoError(t, err)
	// The snapshot and the two page items
	assert.Len(t, tagged, 3)

	require.NoError(t, env.dal.ClearKeywordCache(ctx, keyword.Single("board"), ""))
	for _, key := range tagged {
		assert.False(t, env.redis.Exists(key), key)
	}
}

func TestHashHelpers(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	for uid := 1; uid <= 3; uid++ {
		env.insert(t, "users", docstore.Document{"uid": uid, "level": uid * 2})
	}

	const hashKey = "tablecache_users_$pack_0"

	// HashGetOne caches the document under the rendered query
	doc, err := env.dal.HashGetOne(ctx, "users", docstore.Document{"uid": 2})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.NotContains(t, doc, docstore.IDField)
	assert.Equal(t, 4, doc["level"])
	assert.NotEmpty(t, env.redis.HGet(hashKey, "uid_2"))

	reads := env.docs.Reads()
	doc, err = env.dal.HashGetOne(ctx, "users", docstore.Document{"uid": 2})
	require.NoError(t, err)
	assert.Equal(t, float64(4), doc["level"])
	assert.Equal(t, reads, env.docs.Reads())

	// Missing documents are not cached
	doc, err = env.dal.HashGetOne(ctx, "users", docstore.Document{"uid": 99})
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Empty(t, env.redis.HGet(hashKey, "uid_99"))

	// HashSetOne writes through and drops the field
	ok, err := env.dal.HashSetOne(ctx, "users", docstore.Document{"uid": 2}, docstore.Document{"level": 10})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, env.redis.HGet(hashKey, "uid_2"))

	doc, err = env.dal.HashGetOne(ctx, "users", docstore.Document{"uid": 2})
	require.NoError(t, err)
	assert.Equal(t, 10, doc["level"])

	// WithReload bypasses the cached copy
	require.NoError(t, env.docs.Update(ctx, "users", docstore.Document{"uid": 2},
		docstore.Document{"$set": map[string]any{"level": 11}}, false, false))
	doc, err = env.dal.HashGetOne(ctx, "users", docstore.Document{"uid": 2}, WithReload())
	require.NoError(t, err)
	assert.Equal(t, 11, doc["level"])

	// HashDelOne removes the document and its field
	ok, err = env.dal.HashDelOne(ctx, "users", docstore.Document{"uid": 2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, env.redis.HGet(hashKey, "uid_2"))
	doc, err = env.dal.HashGetOne(ctx, "users", docstore.Document{"uid": 2})
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Empty(t, env.faults.all())
}

func TestHashGetAll(t *testing.T) {
	env := setupDAL(t)
	ctx := context.Background()
	for uid := 3; uid >= 1; uid-- {
		env.insert(t, "users", docstore.Document{"uid": uid, "guild": "red"})
	}
	env.insert(t, "users", docstore.Document{"guild": "red"})

	const hashKey = "tablecache_users_roster_$pack_0"
	opts := []CallOption{WithPrefix("roster"), WithKeyword(keyword.Single("guild_red"))}

	docs, err := env.dal.HashGetAll(ctx, "users", docstore.Document{"guild": "red"}, "uid", opts...)
	require.NoError(t, err)
	assert.Len(t, docs, 4)

	fields, err := env.redis.HKeys(hashKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uid_1", "uid_2", "uid_3"}, fields)
	assert.True(t, env.redis.TTL(hashKey) > 0)

	tagged, err := env.redis.Members("guild_red")
	require.NoError(t, err)
	assert.Equal(t, []string{hashKey}, tagged)

	// The cached hash is served ordered by field
	reads := env.docs.Reads()
	docs, err = env.dal.HashGetAll(ctx, "users", docstore.Document{"guild": "red"}, "uid", opts...)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, float64(1), docs[0]["uid"])
	assert.Equal(t, float64(3), docs[2]["uid"])
	assert.Equal(t, reads, env.docs.Reads())

	// The keyword drops the whole hash
	require.NoError(t, env.dal.ClearKeywordCache(ctx, keyword.Single("guild_red"), ""))
	assert.False(t, env.redis.Exists(hashKey))
}
