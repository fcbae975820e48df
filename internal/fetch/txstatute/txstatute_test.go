package txstatute

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

func TestFetchCodeDiscoversChapterAndSection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Docs/PE/htm/PE.toc.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="PE.30.htm">Chapter 30</a></body></html>`))
	})
	mux.HandleFunc("/Docs/PE/htm/PE.30.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="PE.30.02.htm">Burglary</a></body></html>`))
	})
	mux.HandleFunc("/Docs/PE/htm/PE.30.02.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<h2>Sec. 30.02. Burglary</h2>
			<div class="section-text">(a) A person commits an offense if the person enters a habitation. (b) An offense under this section is a felony.</div>
		</body></html>`))
	})
	f := withTestServer(t, mux)

	sections, err := f.FetchCode(context.Background(), "PE")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "30.02", sections[0].SectionID)
	assert.Equal(t, "30", sections[0].ChapterNumber)
	assert.Contains(t, sections[0].Heading, "Burglary")
	assert.Len(t, sections[0].Subsections, 2)
}

func TestFetchCodeSkipsNotFoundSection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Docs/PE/htm/PE.toc.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="PE.30.htm">Chapter 30</a></body></html>`))
	})
	mux.HandleFunc("/Docs/PE/htm/PE.30.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="PE.30.01.htm">Defs</a></body></html>`))
	})
	mux.HandleFunc("/Docs/PE/htm/PE.30.01.htm", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	f := withTestServer(t, mux)

	sections, err := f.FetchCode(context.Background(), "PE")
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestDetectSubsections(t *testing.T) {
	body := "(a) First part. (b)(1) Second part. (b)(2) Third part."
	subs := detectSubsections(body)
	require.Len(t, subs, 3)
	assert.Equal(t, "(a)", subs[0].ID)
	assert.Equal(t, "(b)(1)", subs[1].ID)
	assert.Equal(t, "(b)(2)", subs[2].ID)
}

func TestCleanBodyStripsBoilerplate(t *testing.T) {
	in := "Statutes\nReal content here.\nSite Map\n"
	out := cleanBody(in)
	assert.NotContains(t, out, "Statutes")
	assert.NotContains(t, out, "Site Map")
	assert.Contains(t, out, "Real content here.")
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "Tex. Penal Code Ann. § 30.02", Citation("PE", "30.02"))
}
