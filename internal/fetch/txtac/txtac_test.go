package txtac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/scraper"
)

func withTestServer(t *testing.T, mux *http.ServeMux) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	prev := baseURL
	baseURL = srv.URL
	t.Cleanup(func() { baseURL = prev })

	s := scraper.New(time.Millisecond, zap.NewNop())
	return New(s, objectstore.NewFake(), zap.NewNop())
}

func TestFetchTitleDiscoversChapterAndRule(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("rl") != "":
			w.Write([]byte(`<html><body>
				<h2>Rule 5.31. Water Quality Standards</h2>
				<div class="section-text">(a) Applicability. (b)(1) Scope.</div>
			</body></html>`))
		case q.Get("ch") != "":
			w.Write([]byte(`<html><body><a href="?ti=16&ch=5&rl=5.31">Rule 5.31</a></body></html>`))
		default:
			w.Write([]byte(`<html><body><a href="?ti=16&ch=5">Chapter 5</a></body></html>`))
		}
	})
	f := withTestServer(t, mux)

	sections, err := f.FetchTitle(context.Background(), 16)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "5.31", sections[0].SectionID)
	assert.Equal(t, "5", sections[0].ChapterNumber)
	assert.Contains(t, sections[0].Heading, "Water Quality")
	assert.Len(t, sections[0].Subsections, 2)
}

func TestFetchTitleSkipsNotFoundChapter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("ch") != "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`<html><body><a href="?ti=16&ch=5">Chapter 5</a></body></html>`))
	})
	f := withTestServer(t, mux)

	sections, err := f.FetchTitle(context.Background(), 16)
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestDetectSubsectionsTAC(t *testing.T) {
	body := "(a) First. (a)(1) Sub one. (b)(2)(A) Deep sub."
	subs := detectSubsections(body)
	require.Len(t, subs, 3)
	assert.Equal(t, "(a)", subs[0].ID)
	assert.Equal(t, "(a)(1)", subs[1].ID)
	assert.Equal(t, "(b)(2)(A)", subs[2].ID)
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "16 Tex. Admin. Code § 5.31", Citation("16", "5.31"))
}
