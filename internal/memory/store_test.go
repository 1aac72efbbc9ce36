package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStores builds one of each backend so the contract tests run
// against both.
func newStores(t *testing.T) map[string]Store {
	t.Helper()

	flat, err := NewFlatStore(filepath.Join(t.TempDir(), "memories.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = flat.Close() })

	indexed, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = indexed.Close() })

	return map[string]Store{"flat": flat, "sqlite": indexed}
}

func TestNamespace_Encoding(t *testing.T) {
	assert.Equal(t, "/", Namespace{}.String())
	assert.Equal(t, "projects/api", Namespace{"projects", "api"}.String())

	assert.Equal(t, Namespace{}, ParseNamespace("/"))
	assert.Equal(t, Namespace{}, ParseNamespace(""))
	assert.Equal(t, Namespace{"projects", "api"}, ParseNamespace("projects/api"))

	assert.True(t, Namespace{"a", "b"}.HasPrefix(Namespace{}))
	assert.True(t, Namespace{"a", "b"}.HasPrefix(Namespace{"a"}))
	assert.True(t, Namespace{"a", "b"}.HasPrefix(Namespace{"a", "b"}))
	assert.False(t, Namespace{"a", "b"}.HasPrefix(Namespace{"a", "b", "c"}))
	assert.False(t, Namespace{"a", "b"}.HasPrefix(Namespace{"x"}))
}

func TestStore_UpsertBumpsTimestamp(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ns := Namespace{"projects", "api"}

			require.NoError(t, s.Store(ctx, ns, "status", "v1", nil))
			first, err := s.Retrieve(ctx, ns, "status")
			require.NoError(t, err)
			require.NotNil(t, first)

			require.NoError(t, s.Store(ctx, ns, "status", "v2", nil))
			second, err := s.Retrieve(ctx, ns, "status")
			require.NoError(t, err)
			require.NotNil(t, second)

			assert.Equal(t, "v2", second.Value)
			assert.True(t, second.Timestamp.After(first.Timestamp),
				"upsert timestamp must be strictly greater")

			// Exactly one record.
			keys, err := s.ListKeys(ctx, ns)
			require.NoError(t, err)
			assert.Equal(t, []string{"status"}, keys)
		})
	}
}

func TestStore_RetrieveMissingIsNil(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			m, err := s.Retrieve(context.Background(), Namespace{"nope"}, "k")
			require.NoError(t, err)
			assert.Nil(t, m)
		})
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ns := Namespace{"scratch"}

			require.NoError(t, s.Store(ctx, ns, "a", 1, nil))
			require.NoError(t, s.Store(ctx, ns, "b", 2, nil))

			ok, err := s.Delete(ctx, ns, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.Delete(ctx, ns, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := s.ClearNamespace(ctx, ns)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			keys, err := s.ListKeys(ctx, ns)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStore_ListNamespacesByPrefix(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, Namespace{"projects", "api"}, "k", "v", nil))
			require.NoError(t, s.Store(ctx, Namespace{"projects", "web"}, "k", "v", nil))
			require.NoError(t, s.Store(ctx, Namespace{"notes"}, "k", "v", nil))

			all, err := s.ListNamespaces(ctx, Namespace{})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			projects, err := s.ListNamespaces(ctx, Namespace{"projects"})
			require.NoError(t, err)
			require.Len(t, projects, 2)
			assert.Equal(t, "projects/api", projects[0].String())
			assert.Equal(t, "projects/web", projects[1].String())
		})
	}
}

func TestStore_SearchScopesToPrefix(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, Namespace{"projects", "api"}, "deploy", "release pipeline is green", nil))
			require.NoError(t, s.Store(ctx, Namespace{"notes"}, "deploy", "release notes drafted", nil))

			results, err := s.Search(ctx, Namespace{"projects"}, "release", 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "projects/api", results[0].Memory.Namespace.String())
			assert.Greater(t, results[0].Score, 0.0)
			assert.LessOrEqual(t, results[0].Score, 1.0)

			// Root prefix sees both.
			results, err = s.Search(ctx, Namespace{}, "release", 10)
			require.NoError(t, err)
			assert.Len(t, results, 2)
		})
	}
}

func TestStore_Stats(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, Namespace{"a"}, "k1", 1, nil))
			require.NoError(t, s.Store(ctx, Namespace{"a"}, "k2", 2, nil))
			require.NoError(t, s.Store(ctx, Namespace{"b"}, "k1", 3, nil))

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, st.TotalMemories)
			assert.Equal(t, 2, st.TotalNamespaces)
			assert.Equal(t, 2, st.TopNamespaces["a"])
		})
	}
}

func TestStore_CloseIdempotent(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())
		})
	}
}

func TestFlatSearch_Scoring(t *testing.T) {
	s, err := NewFlatStore("")
	require.NoError(t, err)
	ctx := context.Background()
	ns := Namespace{"scores"}

	require.NoError(t, s.Store(ctx, ns, "other", "the needle is in the value", nil))
	require.NoError(t, s.Store(ctx, ns, "needle-key", "nothing here", nil))
	require.NoError(t, s.Store(ctx, ns, "meta-only", "nothing here", map[string]any{"tag": "needle"}))

	results, err := s.Search(ctx, ns, "needle", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1.0, results[0].Score)
	assert.Contains(t, results[0].MatchContext, "needle")
	assert.Equal(t, 0.8, results[1].Score)
	assert.Equal(t, "key match", results[1].MatchContext)
	assert.Equal(t, 0.6, results[2].Score)
	assert.Equal(t, "metadata match", results[2].MatchContext)

	// Limit truncates after sorting.
	results, err = s.Search(ctx, ns, "needle", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)

	// Case-insensitive.
	results, err = s.Search(ctx, ns, "NEEDLE", 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestFlatStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.json")
	ctx := context.Background()

	s1, err := NewFlatStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Store(ctx, Namespace{"durable"}, "k", map[string]any{"x": 1.0}, nil))
	require.NoError(t, s1.Close())

	s2, err := NewFlatStore(path)
	require.NoError(t, err)
	defer s2.Close()

	m, err := s2.Retrieve(ctx, Namespace{"durable"}, "k")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, map[string]any{"x": 1.0}, m.Value)
}

func TestSQLiteSearch_FallbackOnSpecialChars(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, Namespace{"ops"}, "path", "/var/log/termhive", nil))

	// Slash-riddled queries break FTS MATCH syntax; the LIKE fallback
	// still finds the record with a flat score.
	results, err := s.Search(ctx, Namespace{}, `/var/log`, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.5, results[0].Score)
}
