package tagstore

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pbaille/deskorg/internal/logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTagIdempotent(t *testing.T) {
	ix := newIndex()
	require.NoError(t, ix.AddTag("/base/a.txt", "work"))
	before := len(ix.ListTags("/base/a.txt"))

	require.NoError(t, ix.AddTag("/base/a.txt", "X"))
	require.NoError(t, ix.AddTag("/base/a.txt", "X"))

	assert.Len(t, ix.ListTags("/base/a.txt"), before+1)
	assert.Equal(t, []string{"X", "work"}, ix.ListTags("/base/a.txt"))
}

func TestAddTagNormalizesPath(t *testing.T) {
	ix := newIndex()
	require.NoError(t, ix.AddTag("/base/./sub/../a.txt", "x"))
	assert.Equal(t, []string{"x"}, ix.ListTags("/base/a.txt"))
	assert.Equal(t, []string{"/base/a.txt"}, ix.SearchByTag("x"))
}

func TestAddTagEmpty(t *testing.T) {
	ix := newIndex()
	assert.ErrorIs(t, ix.AddTag("/base/a.txt", ""), ErrEmptyTag)
}

func TestRemoveTag(t *testing.T) {
	ix := newIndex()
	require.NoError(t, ix.AddTag("/base/a.txt", "x"))
	require.NoError(t, ix.AddTag("/base/a.txt", "y"))

	// Missing path and missing tag are no-ops
	require.NoError(t, ix.RemoveTag("/base/none.txt", "x"))
	require.NoError(t, ix.RemoveTag("/base/a.txt", "zzz"))
	assert.Equal(t, []string{"x", "y"}, ix.ListTags("/base/a.txt"))

	require.NoError(t, ix.RemoveTag("/base/a.txt", "x"))
	require.NoError(t, ix.RemoveTag("/base/a.txt", "y"))
	assert.Empty(t, ix.ListTags("/base/a.txt"))
	assert.NotContains(t, ix.snapshot(), "/base/a.txt")
}

func TestSearchIsCaseSensitive(t *testing.T) {
	ix := newIndex()
	require.NoError(t, ix.AddTag("/base/a.txt", "Docs"))
	require.NoError(t, ix.AddTag("/base/b.txt", "docs"))

	assert.Equal(t, []string{"/base/a.txt"}, ix.SearchByTag("Docs"))
	assert.Equal(t, []string{"/base/b.txt"}, ix.SearchByTag("docs"))
	assert.Empty(t, ix.SearchByTag("DOCS"))
}

func TestSearchMatchesModelAfterRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	paths := []string{"/b/1", "/b/2", "/b/3", "/b/4"}
	tags := []string{"a", "b", "c"}

	ix := newIndex()
	model := make(map[string]map[string]bool)

	for i := 0; i < 500; i++ {
		p := paths[rng.Intn(len(paths))]
		tg := tags[rng.Intn(len(tags))]
		if rng.Intn(2) == 0 {
			require.NoError(t, ix.AddTag(p, tg))
			if model[p] == nil {
				model[p] = make(map[string]bool)
			}
			model[p][tg] = true
		} else {
			require.NoError(t, ix.RemoveTag(p, tg))
			delete(model[p], tg)
		}
	}

	for _, tg := range tags {
		var want []string
		for p, set := range model {
			if set[tg] {
				want = append(want, p)
			}
		}
		sort.Strings(want)
		if want == nil {
			want = []string{}
		}
		assert.Equal(t, want, ix.SearchByTag(tg), "tag %s", tg)
	}
}

func TestAllTags(t *testing.T) {
	ix := newIndex()
	require.NoError(t, ix.AddTag("/b/1", "a"))
	require.NoError(t, ix.AddTag("/b/2", "a"))
	require.NoError(t, ix.AddTag("/b/2", "b"))
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, ix.AllTags())
}

func TestJSONStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/base", 0755))

	s := NewJSON(fs, "/base/.deskorg_tags.json", logging.Discard())
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.AddTag("/base/Docs/a.txt", "Docs"))
	require.NoError(t, s.AddTag("/base/Docs/a.txt", "urgent"))

	// Not durable before Save
	other := NewJSON(fs, "/base/.deskorg_tags.json", logging.Discard())
	require.NoError(t, other.Load(ctx))
	assert.Empty(t, other.ListTags("/base/Docs/a.txt"))

	require.NoError(t, s.Save(ctx))
	require.NoError(t, other.Load(ctx))
	assert.Equal(t, []string{"Docs", "urgent"}, other.ListTags("/base/Docs/a.txt"))

	data, err := afero.ReadFile(fs, "/base/.deskorg_tags.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"/base/Docs/a.txt": ["Docs", "urgent"]}`, string(data))
}

func TestJSONStoreLoadTolerant(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s := NewJSON(fs, "/base/.deskorg_tags.json", logging.Discard())
	require.NoError(t, s.Load(ctx), "missing file is not an error")
	assert.Empty(t, s.AllTags())

	require.NoError(t, afero.WriteFile(fs, "/base/.deskorg_tags.json", []byte("{not json"), 0644))
	require.NoError(t, s.AddTag("/base/x", "stale"))
	require.NoError(t, s.Load(ctx), "corrupt file is not an error")
	assert.Empty(t, s.AllTags())
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tags.db")

	s, err := NewSQLite(dbPath, logging.Discard())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Load(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddTag(fmt.Sprintf("/base/Docs/%d.txt", i), "Docs"))
	}
	require.NoError(t, s.AddTag("/base/Docs/0.txt", "keep"))
	require.NoError(t, s.Save(ctx))

	reopened, err := NewSQLite(dbPath, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Load(ctx))

	assert.Equal(t, []string{"Docs", "keep"}, reopened.ListTags("/base/Docs/0.txt"))
	assert.Len(t, reopened.SearchByTag("Docs"), 3)

	// Removals are persisted as well
	require.NoError(t, reopened.RemoveTag("/base/Docs/0.txt", "keep"))
	require.NoError(t, reopened.Save(ctx))
	require.NoError(t, s.Load(ctx))
	assert.Empty(t, s.SearchByTag("keep"))
}

func TestSQLiteStoreLoadTolerant(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tags.db")
	garbage := bytes.Repeat([]byte("not a database "), 300)
	require.NoError(t, os.WriteFile(dbPath, garbage, 0644))

	s, err := NewSQLite(dbPath, logging.Discard())
	require.NoError(t, err, "corrupt database is not an error")
	defer s.Close()
	require.NoError(t, s.Load(ctx))
	assert.Empty(t, s.AllTags())

	aside, err := os.ReadFile(dbPath + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, garbage, aside)

	// the fresh database is usable
	require.NoError(t, s.AddTag("/base/Docs/a.txt", "Docs"))
	require.NoError(t, s.Save(ctx))

	reopened, err := NewSQLite(dbPath, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Load(ctx))
	assert.Equal(t, []string{"/base/Docs/a.txt"}, reopened.SearchByTag("Docs"))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/desk/Documents/notes.txt", Resolve("/desk", "Documents/notes.txt"))
	assert.Equal(t, "/desk/notes.txt", Resolve("/desk", "./notes.txt"))
	assert.Equal(t, "/other/x.txt", Resolve("/desk", "/other/../other/x.txt"))
}

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, "json", "/base", ".deskorg_tags.json", logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, s)

	_, err = Open(fs, "bolt", "/base", "x", logging.Discard())
	assert.Error(t, err)
}
