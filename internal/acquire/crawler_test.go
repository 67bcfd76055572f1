package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

const rootPage = `<!doctype html>
<html><head><title>Home</title><style>body{color:red}</style><script>alert(1)</script></head>
<body style="margin:0">
<h1>Welcome</h1>
<img src="/logo.png">
<a href="/a">A</a>
<a href="/b#section">B</a>
<a href="/logo.png">logo</a>
<a href="mailto:someone@example.com">mail</a>
<a href="https://other.invalid/page">external</a>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, rootPage)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Page A</title></head><body><a href="/c">C</a></body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head></head><body><h1>Heading B</h1><a href="/">home</a></body></html>`)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Page C</title></head><body></body></html>`)
	})
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type updates struct {
	mu   sync.Mutex
	list []progress.Update
}

func (u *updates) Report(update progress.Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, update)
}

func (u *updates) withURL() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, up := range u.list {
		if up.URL != "" && up.Current > 0 {
			out = append(out, up.URL)
		}
	}
	return out
}

func urls(pages []pipeline.PageRecord) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}

func TestAcquireSinglePage(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	c := New(Config{UserAgent: "sitepdf-test"}, nil)
	rep := &updates{}

	pages, err := c.Acquire(context.Background(), srv.URL+"/", pipeline.AcquireConfig{
		MaxDepth:      1,
		MaxPages:      1,
		IncludeImages: true,
		IncludeStyles: true,
	}, rep)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	p := pages[0]
	assert.Equal(t, "Home", p.Title)
	assert.Equal(t, 0, p.Depth)
	assert.Equal(t, pipeline.SourceCrawled, p.Source)
	assert.NotContains(t, p.Content, "alert(1)")
	assert.Contains(t, p.Content, "<img")
	assert.Contains(t, p.Content, "color:red")
	assert.Contains(t, p.Content, `<base href="`+srv.URL+`/"`)
	assert.Len(t, rep.withURL(), 1)
}

func TestAcquireStripsImagesAndStyles(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	c := New(Config{}, nil)
	pages, err := c.Acquire(context.Background(), srv.URL, pipeline.AcquireConfig{MaxDepth: 1, MaxPages: 1}, nil)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.NotContains(t, pages[0].Content, "<img")
	assert.NotContains(t, pages[0].Content, "<style")
	assert.NotContains(t, pages[0].Content, `style="`)
}

func TestAcquireFollowsLinksWithinDepth(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	c := New(Config{}, nil)
	rep := &updates{}

	pages, err := c.Acquire(context.Background(), srv.URL+"/", pipeline.AcquireConfig{MaxDepth: 2, MaxPages: 50}, rep)
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/a", srv.URL + "/b"}, urls(pages))
	assert.Equal(t, 1, pages[1].Depth)
	assert.Equal(t, "Page A", pages[1].Title)
	assert.Equal(t, "Heading B", pages[2].Title)
	assert.GreaterOrEqual(t, len(rep.withURL()), len(pages))
}

func TestAcquireHonoursPageLimit(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	c := New(Config{}, nil)
	pages, err := c.Acquire(context.Background(), srv.URL, pipeline.AcquireConfig{MaxDepth: 3, MaxPages: 2}, nil)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestAcquireStartPageFailure(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	c := New(Config{}, nil)
	_, err := c.Acquire(context.Background(), srv.URL+"/missing", pipeline.AcquireConfig{MaxDepth: 1, MaxPages: 1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAcquireUnreachableHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	c := New(Config{}, nil)
	_, err := c.Acquire(context.Background(), target, pipeline.AcquireConfig{MaxDepth: 1, MaxPages: 1}, nil)
	require.Error(t, err)
}

func TestAcquireCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{}, nil)
	_, err := c.Acquire(ctx, srv.URL, pipeline.AcquireConfig{MaxDepth: 2, MaxPages: 10}, nil)
	require.Error(t, err)
}

func TestAcquireRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil).Acquire(context.Background(), "not a url", pipeline.AcquireConfig{}, nil)
	require.Error(t, err)
}
