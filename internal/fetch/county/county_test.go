package county

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/scraper"
)

func TestFetchCountyAmlegal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/chapter-10/">Chapter 10</a></body></html>`))
	})
	mux.HandleFunc("/chapter-10/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/chapter-10/sec-10-1/">Sec 10-1</a></body></html>`))
	})
	mux.HandleFunc("/chapter-10/sec-10-1/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h2>Flood Control</h2><div class="section-text">(a) This chapter governs flood control districts within the county.</div></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := scraper.New(time.Millisecond, zap.NewNop())
	f := New(s, objectstore.NewFake(), zap.NewNop())

	county := config.CountyEntry{State: "TX", FIPS: "48201", Name: "Harris", BaseURL: srv.URL, Platform: "amlegal"}
	sections, err := f.FetchCounty(context.Background(), county)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, domain.SourceCounty, sections[0].SourceType)
	assert.Equal(t, "TX-48201", sections[0].Jurisdiction)
	assert.Contains(t, sections[0].Heading, "Flood Control")
}

func TestFetchCountyUnknownPlatformFallsBackToGeneric(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/ordinance.html">Ordinance</a></body></html>`))
	})
	mux.HandleFunc("/ordinance.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h2>Noise Ordinance</h2><div class="section-text">No person shall disturb the peace after 10pm within unincorporated areas.</div></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := scraper.New(time.Millisecond, zap.NewNop())
	f := New(s, objectstore.NewFake(), zap.NewNop())

	county := config.CountyEntry{State: "TX", FIPS: "48001", Name: "Anderson", BaseURL: srv.URL, Platform: "unknown-platform"}
	sections, err := f.FetchCounty(context.Background(), county)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Heading, "Noise Ordinance")
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "Harris County, Tex., Code § 10-1", Citation("Harris", "10-1"))
}
