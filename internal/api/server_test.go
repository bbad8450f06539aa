package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbaille/deskorg/internal/logging"
	"github.com/pbaille/deskorg/internal/tagstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/desk", 0755))
	store := tagstore.NewJSON(fs, "/desk/.deskorg_tags.json", logging.Discard())
	require.NoError(t, store.AddTag("/desk/Recipes/pasta.txt", "Recipes"))
	require.NoError(t, store.AddTag("/desk/Recipes/soup.txt", "Recipes"))
	require.NoError(t, store.AddTag("/desk/Recipes/soup.txt", "favorite"))
	require.NoError(t, store.Save(context.Background()))

	srv := httptest.NewServer(New(store, "/desk", ":0", logging.Discard()).Handler())
	t.Cleanup(srv.Close)
	return srv, fs
}

func do(t *testing.T, method, url, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListTags(t *testing.T) {
	srv, _ := newTestServer(t)
	var body struct {
		Tags []TagCount `json:"tags"`
	}
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/tags", "", &body))
	assert.Equal(t, []TagCount{{Name: "Recipes", Count: 2}, {Name: "favorite", Count: 1}}, body.Tags)
}

func TestFileTagsRelativePath(t *testing.T) {
	srv, _ := newTestServer(t)
	var body FileTags
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/files/tags?path=Recipes/soup.txt", "", &body))
	assert.Equal(t, "/desk/Recipes/soup.txt", body.Path)
	assert.Equal(t, []string{"Recipes", "favorite"}, body.Tags)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/files/tags", "", nil))
}

func TestAddAndRemoveTagPersists(t *testing.T) {
	srv, fs := newTestServer(t)

	var body FileTags
	status := do(t, http.MethodPost, srv.URL+"/files/tags", `{"path":"/desk/Recipes/pasta.txt","tag":"quick"}`, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"Recipes", "quick"}, body.Tags)

	reloaded := tagstore.NewJSON(fs, "/desk/.deskorg_tags.json", logging.Discard())
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, []string{"/desk/Recipes/pasta.txt"}, reloaded.SearchByTag("quick"))

	status = do(t, http.MethodDelete, srv.URL+"/files/tags", `{"path":"Recipes/pasta.txt","tag":"quick"}`, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"Recipes"}, body.Tags)

	// removing again is a no-op, not an error
	status = do(t, http.MethodDelete, srv.URL+"/files/tags", `{"path":"Recipes/pasta.txt","tag":"quick"}`, nil)
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/files/tags", `{"path":"x.txt"}`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/files/tags", `not json`, nil))
}

func TestSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	var body struct {
		Tag   string   `json:"tag"`
		Paths []string `json:"paths"`
	}
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/search?tag=Recipes", "", &body))
	assert.Equal(t, []string{"/desk/Recipes/pasta.txt", "/desk/Recipes/soup.txt"}, body.Paths)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/search?tag=recipes", "", &body))
	assert.Empty(t, body.Paths, "search is case-sensitive")

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/search", "", nil))
}

func TestMutationKeepsTagsWrittenElsewhere(t *testing.T) {
	srv, fs := newTestServer(t)
	ctx := context.Background()

	// another process organizes a file after the server started
	other := tagstore.NewJSON(fs, "/desk/.deskorg_tags.json", logging.Discard())
	require.NoError(t, other.Load(ctx))
	require.NoError(t, other.AddTag("/desk/Invoices/march.pdf", "Invoices"))
	require.NoError(t, other.Save(ctx))

	status := do(t, http.MethodPost, srv.URL+"/files/tags", `{"path":"Recipes/soup.txt","tag":"winter"}`, nil)
	assert.Equal(t, http.StatusOK, status)

	reloaded := tagstore.NewJSON(fs, "/desk/.deskorg_tags.json", logging.Discard())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []string{"/desk/Invoices/march.pdf"}, reloaded.SearchByTag("Invoices"))
	assert.Equal(t, []string{"/desk/Recipes/soup.txt"}, reloaded.SearchByTag("winter"))
}

type failingSave struct {
	tagstore.Store
}

func (failingSave) Save(ctx context.Context) error {
	return errors.New("disk full")
}

func TestFailedSaveLeavesTagsUnchanged(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/desk", 0755))
	store := tagstore.NewJSON(fs, "/desk/.deskorg_tags.json", logging.Discard())
	require.NoError(t, store.AddTag("/desk/Recipes/soup.txt", "Recipes"))
	require.NoError(t, store.Save(context.Background()))

	srv := httptest.NewServer(New(failingSave{store}, "/desk", ":0", logging.Discard()).Handler())
	t.Cleanup(srv.Close)

	status := do(t, http.MethodPost, srv.URL+"/files/tags", `{"path":"Recipes/soup.txt","tag":"winter"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	status = do(t, http.MethodDelete, srv.URL+"/files/tags", `{"path":"Recipes/soup.txt","tag":"Recipes"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	var body FileTags
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/files/tags?path=Recipes/soup.txt", "", &body))
	assert.Equal(t, []string{"Recipes"}, body.Tags)
}
