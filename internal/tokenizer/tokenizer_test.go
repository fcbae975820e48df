package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"regulatory-rag-core/internal/domain"
)

func TestCountTokensEmpty(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 0, CountTokens("   "))
}

func TestCountTokensMonotonic(t *testing.T) {
	short := CountTokens("the quick brown fox")
	long := CountTokens("the quick brown fox jumps over the lazy dog repeatedly")
	assert.Less(t, short, long)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "houston", Slugify("Houston"))
	assert.Equal(t, "san-antonio", Slugify("San Antonio"))
	assert.Equal(t, "fort-worth", Slugify("Fort Worth!"))
}

func TestCountyJurisdiction(t *testing.T) {
	assert.Equal(t, "TX-48201", CountyJurisdiction("tx", "48201"))
}

func TestMunicipalJurisdiction(t *testing.T) {
	assert.Equal(t, "TX-houston", MunicipalJurisdiction("tx", "Houston"))
}

func TestCitationFederal(t *testing.T) {
	assert.Equal(t, "21 C.F.R. § 117.3", CitationFederal("21", "117.3"))
}

func TestCitationTexasStatute(t *testing.T) {
	assert.Equal(t, "Tex. Penal Code Ann. § 30.02", CitationTexasStatute("PE", "30.02"))
	assert.Equal(t, "Tex. ZZ Code Ann. § 1.1", CitationTexasStatute("ZZ", "1.1"))
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID(domain.SourceFederal, "cfr-title-21", "117.3", "", 0)
	b := ChunkID(domain.SourceFederal, "cfr-title-21", "117.3", "", 0)
	assert.Equal(t, a, b)

	c := ChunkID(domain.SourceFederal, "cfr-title-21", "117.3", "", 1)
	assert.NotEqual(t, a, c)
}
