package municipal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/mdrender"
	"regulatory-rag-core/internal/objectstore"
)

const fixtureMarkdown = `# Chapter 10 Animals

## Sec. 10-1. Definitions

For purposes of this chapter, "animal" means any domesticated creature kept within city limits.

(a) Dogs and cats are regulated under this chapter.
(b) Livestock requires a separate permit.

## Sec. 10-2. Licensing required

Every dog over four months of age must be licensed with the city.
`

func newTestRenderer(t *testing.T, markdown string) *mdrender.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"markdown": ` + jsonQuote(markdown) + `}`))
	}))
	t.Cleanup(srv.Close)
	return mdrender.New(srv.URL)
}

func jsonQuote(s string) string {
	out := "\""
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + "\""
}

func TestFetchCitySplitsChaptersAndSections(t *testing.T) {
	render := newTestRenderer(t, fixtureMarkdown)
	c := New(render, objectstore.NewFake(), zap.NewNop())

	city := config.CityEntry{State: "TX", Name: "Houston", BaseURL: "https://example.com/code/animals"}
	sections, err := c.FetchCity(context.Background(), city)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	assert.Equal(t, "10-1", sections[0].SectionID)
	assert.Equal(t, "Chapter 10", sections[0].ChapterNumber)
	assert.Equal(t, domain.SourceMunicipal, sections[0].SourceType)
	assert.Equal(t, "TX-houston", sections[0].Jurisdiction)
	assert.Len(t, sections[0].Subsections, 2)

	assert.Equal(t, "10-2", sections[1].SectionID)
	assert.Contains(t, sections[1].Text, "licensed with the city")
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "Houston, Tex., Code § 10-1", Citation("Houston", "10-1"))
}
