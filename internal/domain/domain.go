// Package domain holds the core entities shared across ingestion and
// retrieval: jurisdictions, sources, documents, sections, chunks,
// checkpoints, cached parts, conversations, messages, citations, and
// permits.
package domain

import "time"

// SourceType enumerates the four source families from spec.md §3.
type SourceType string

const (
	SourceFederal  SourceType = "federal"
	SourceState    SourceType = "state"
	SourceCounty   SourceType = "county"
	SourceMunicipal SourceType = "municipal"
)

// Jurisdiction is a canonical identifier string: "US", "TX", "TX-48201",
// "TX-houston". See tokenizer.Slugify for the slug rule.
type Jurisdiction = string

const FederalJurisdiction Jurisdiction = "US"

// Source is a logical container of regulatory text for one jurisdiction.
type Source struct {
	ID         string     `json:"id"`
	Type       SourceType `json:"source_type"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
}

// Subsection is a lettered/numbered provision nested within a Section.
type Subsection struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Section is a parsed unit of regulatory text, ephemeral: consumed by the
// chunker and discarded.
type Section struct {
	SourceType SourceType `json:"source_type"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`

	TitleNumber   string `json:"title_number,omitempty"`
	ChapterNumber string `json:"chapter_number,omitempty"`
	PartNumber    string `json:"part_number,omitempty"`
	Code          string `json:"code,omitempty"`
	City          string `json:"city,omitempty"`

	SectionID   string       `json:"section_id"`
	Heading     string       `json:"heading"`
	Text        string       `json:"text"`
	Subsections []Subsection `json:"subsections,omitempty"`

	SourceURL string    `json:"source_url"`
	FetchedAt time.Time `json:"fetched_at"`

	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	LastAmended   *time.Time `json:"last_amended,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Chunk is an embedding-ready fragment. See spec.md §3 invariants 1-5.
type Chunk struct {
	ChunkID    string     `json:"chunk_id"`
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`

	Text     string `json:"text"`
	Citation string `json:"citation"`
	URL      string `json:"url"`

	ChunkIndex  int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`

	Subsection string   `json:"subsection,omitempty"`
	Category   string   `json:"category,omitempty"`
	Hierarchy  []string `json:"hierarchy,omitempty"`

	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	LastAmended   *time.Time `json:"last_amended,omitempty"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`

	Embedding []float32 `json:"-"`
}

// Checkpoint is a per-run progress marker held in the object store.
type Checkpoint struct {
	Family          string    `json:"family"`
	LastProcessed   string    `json:"last_processed"`
	ChunksProcessed int       `json:"chunks_processed"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
}

// CachedPart is the federal-only pre-parsed XML cache entry.
type CachedPart struct {
	TitleNumber string    `json:"title_number"`
	PartNumber  string    `json:"part_number"`
	Sections    []Section `json:"sections"`
	Metadata    CachedPartMetadata `json:"metadata"`
}

type CachedPartMetadata struct {
	FetchedAt    time.Time `json:"fetched_at"`
	ParsedAt     time.Time `json:"parsed_at"`
	XMLHash      string    `json:"xml_hash"`
	SectionCount int       `json:"section_count"`
}

// Citation identifies a numbered chunk reference within an answer.
type Citation struct {
	Index    int    `json:"index"`
	ChunkID  string `json:"chunk_id"`
	Citation string `json:"citation"`
	URL      string `json:"url"`
}

// Permit is a required-permit entry parsed from an answer.
type Permit struct {
	Name                string `json:"name"`
	IssuingAgency       string `json:"issuing_agency"`
	Jurisdiction        string `json:"jurisdiction"`
	URL                 string `json:"url,omitempty"`
	RegulatoryReference string `json:"regulatory_reference"`
}

// MessageRole distinguishes user vs assistant messages.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn of a Conversation.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text,omitempty"`
	Address   string      `json:"address,omitempty"`
	CreatedAt time.Time   `json:"created_at"`

	AnswerText    string           `json:"answer_text,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	Jurisdictions []Jurisdiction   `json:"jurisdictions,omitempty"`
	Citations     []Citation       `json:"citations,omitempty"`
	Permits       []Permit         `json:"permits,omitempty"`
	Confidence    string           `json:"confidence,omitempty"`
}

// Conversation owns an ordered list of Messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages,omitempty"`
}
