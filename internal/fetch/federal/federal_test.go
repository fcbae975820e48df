package federal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wrappedXML = `<ECFR>
<DIV1 N="21" TYPE="TITLE">
  <DIV5 N="117" TYPE="PART">
    <DIV8 N="117.3" TYPE="SECTION" EFFECTIVE="2016-09-17">
      <HEAD>§ 117.3 Definitions.</HEAD>
      <P>Act means the Federal Food, Drug, and Cosmetic Act.</P>
      <P>Facility means a domestic facility.</P>
    </DIV8>
  </DIV5>
</DIV1>
</ECFR>`

const bareXML = `<DIV5 N="117" TYPE="PART">
  <DIV8 N="117.3" TYPE="SECTION">
    <SECTNO>§ 117.3</SECTNO>
    <HEAD>§ 117.3 Definitions.</HEAD>
    <P>Some text.</P>
  </DIV8>
</DIV5>`

func TestParsePartXMLWrapped(t *testing.T) {
	sections, err := parsePartXML([]byte(wrappedXML), 21)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "117.3", sections[0].SectionID)
	assert.Equal(t, "Definitions.", sections[0].Heading)
	assert.Contains(t, sections[0].Text, "Federal Food, Drug")
	require.NotNil(t, sections[0].EffectiveDate)
}

func TestParsePartXMLBare(t *testing.T) {
	sections, err := parsePartXML([]byte(bareXML), 21)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "117.3", sections[0].SectionID)
}

func TestCollectParts(t *testing.T) {
	body := []byte(`{"type":"title","identifier":"21","children":[
		{"type":"chapter","identifier":"I","children":[
			{"type":"part","identifier":"117"},
			{"type":"part","identifier":"118"}
		]}
	]}`)
	parts, err := collectParts(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"117", "118"}, parts)
}
