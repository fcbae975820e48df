// Package chunker implements the structure-aware chunking engine: single-
// section fast path, subsection-aware splitting, and a paragraph fallback
// with trailing overlap. See spec.md §4.6.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"regulatory-rag-core/internal/corerr"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/tokenizer"
)

const (
	MaxTokens    = 1500
	OverlapRatio = 0.15
)

// Context carries the identifiers, breadcrumbs, and pre-formatted Bluebook
// citation a chunk needs beyond what the Section itself holds. Citation is
// computed by the fetcher (tokenizer's per-source-type formatters) at the
// section level; the chunker appends the subsection pointer when present.
type Context struct {
	SourceID  string
	Citation  string
	Category  string
	Hierarchy []string
}

// Chunk produces the chunk list for one section, following the decision
// procedure in spec.md §4.6. Returns a corerr.Validation error if any
// emitted chunk still exceeds MaxTokens after the procedure (pathological
// paragraph) — the caller must not attempt to embed it.
func Chunk(section domain.Section, ctx Context) ([]domain.Chunk, error) {
	total := tokenizer.CountTokens(section.Text)
	if total <= MaxTokens {
		c, err := buildChunk(section, ctx, "", section.Text, 0, 1)
		if err != nil {
			return nil, err
		}
		return []domain.Chunk{c}, nil
	}

	if len(section.Subsections) > 0 {
		return chunkBySubsections(section, ctx)
	}

	return chunkByParagraphFallback(section, ctx, "")
}

func chunkBySubsections(section domain.Section, ctx Context) ([]domain.Chunk, error) {
	type piece struct {
		subID string
		text  string
	}
	var pieces []piece
	for _, sub := range section.Subsections {
		if tokenizer.CountTokens(sub.Text) <= MaxTokens {
			pieces = append(pieces, piece{subID: sub.ID, text: sub.Text})
			continue
		}
		split, err := splitParagraphs(sub.Text)
		if err != nil {
			return nil, err
		}
		for _, s := range split {
			pieces = append(pieces, piece{subID: sub.ID, text: s})
		}
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, p := range pieces {
		c, err := buildChunk(section, ctx, p.subID, p.text, i, len(pieces))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func chunkByParagraphFallback(section domain.Section, ctx Context, subID string) ([]domain.Chunk, error) {
	texts, err := splitParagraphs(section.Text)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(texts))
	for i, text := range texts {
		c, err := buildChunk(section, ctx, subID, text, i, len(texts))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

var paragraphSplitter = regexp.MustCompile(`\n\s*\n|\n[ \t]+`)

// splitParagraphs implements the paragraph fallback: greedily accumulate
// paragraphs up to MaxTokens, then start a new chunk seeded with a trailing
// overlap of up to floor(MaxTokens * OverlapRatio) tokens from the end of
// the just-closed chunk.
func splitParagraphs(text string) ([]string, error) {
	rawParas := paragraphSplitter.Split(text, -1)
	var paras []string
	for _, p := range rawParas {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return nil, nil
	}

	maxOverlapTokens := int(float64(MaxTokens) * OverlapRatio)

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}

	for _, p := range paras {
		pTokens := tokenizer.CountTokens(p)
		if currentTokens > 0 && currentTokens+pTokens > MaxTokens {
			flush()
			overlap, overlapTokens := trailingOverlap(current, maxOverlapTokens)
			current = overlap
			currentTokens = overlapTokens
		}
		if pTokens > MaxTokens {
			// A single paragraph alone exceeds the budget; emit it as its
			// own oversized chunk so the fail-fast check below can report
			// it precisely rather than silently truncating.
			flush()
			current = nil
			currentTokens = 0
			chunks = append(chunks, p)
			continue
		}
		current = append(current, p)
		currentTokens += pTokens
	}
	flush()

	for _, c := range chunks {
		if tokenizer.CountTokens(c) > MaxTokens {
			return nil, corerr.New(corerr.Validation, "", fmt.Errorf(
				"chunk exceeds %d tokens after paragraph fallback (measured %d tokens)",
				MaxTokens, tokenizer.CountTokens(c)))
		}
	}
	return chunks, nil
}

// trailingOverlap returns the largest suffix of paragraphs whose combined
// token count does not exceed maxTokens, plus that count.
func trailingOverlap(paras []string, maxTokens int) ([]string, int) {
	var overlap []string
	total := 0
	for i := len(paras) - 1; i >= 0; i-- {
		t := tokenizer.CountTokens(paras[i])
		if total+t > maxTokens {
			break
		}
		overlap = append([]string{paras[i]}, overlap...)
		total += t
	}
	return overlap, total
}

func buildChunk(section domain.Section, ctx Context, subID, text string, index, total int) (domain.Chunk, error) {
	if tokenizer.CountTokens(text) > MaxTokens {
		return domain.Chunk{}, corerr.New(corerr.Validation, citationFor(ctx, subID), fmt.Errorf(
			"chunk exceeds %d tokens (measured %d)", MaxTokens, tokenizer.CountTokens(text)))
	}

	citation := citationFor(ctx, subID)
	chunkID := tokenizer.ChunkID(section.SourceType, ctx.SourceID, section.SectionID, subID, index)

	now := time.Now().UTC()
	c := domain.Chunk{
		ChunkID:       chunkID,
		SourceID:      ctx.SourceID,
		SourceType:    section.SourceType,
		Jurisdiction:  section.Jurisdiction,
		Text:          text,
		Citation:      citation,
		URL:           section.SourceURL,
		ChunkIndex:    index,
		TotalChunks:   total,
		Subsection:    subID,
		Category:      ctx.Category,
		Hierarchy:     ctx.Hierarchy,
		EffectiveDate: section.EffectiveDate,
		LastAmended:   section.LastAmended,
		LastUpdated:   &now,
	}
	if c.Citation == "" || c.URL == "" {
		return domain.Chunk{}, corerr.New(corerr.Validation, chunkID, fmt.Errorf("chunk missing citation or url"))
	}
	return c, nil
}

func citationFor(ctx Context, subID string) string {
	if subID != "" {
		return fmt.Sprintf("%s %s", ctx.Citation, subID)
	}
	return ctx.Citation
}
