package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	page := `<html><head><style>p{}</style><script>var x=1</script></head>
<body><nav>menu</nav><h1>Quarterly  report</h1><p>Revenue
grew.</p><footer>legal</footer></body></html>`

	assert.Equal(t, "Quarterly report Revenue grew.", ExtractText(page))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("<p>Gardening tips</p>"))
		case "/empty":
			w.Write([]byte("<script>x()</script>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	ctx := context.Background()

	text, err := f.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "Gardening tips", text)

	_, err = f.Fetch(ctx, srv.URL+"/empty")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, "ftp://example.com/file")
	assert.Error(t, err)
}
