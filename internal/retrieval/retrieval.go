// Package retrieval implements process_query: jurisdiction resolution,
// embedding, filter-search, rerank, confidence scoring, prompt assembly,
// generation, answer parsing, and persistence. See spec.md §4.9.
package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/appdb"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/embedder"
	"regulatory-rag-core/internal/geocode"
	"regulatory-rag-core/internal/llm"
	"regulatory-rag-core/internal/observability"
	"regulatory-rag-core/internal/vectorindex"
)

var tracer = otel.Tracer("regulatory-rag-core/retrieval")

const (
	topK            = 50
	minScore        = 0.5
	finalTopKMin    = 10
	finalTopKMax    = 15
	recencyWindow   = 365 * 24 * time.Hour
	maxAnswerTokens = 2048
)

// Confidence is the High/Medium/Low level attached to a QueryResult.
type Confidence struct {
	Level  string  `json:"level"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// QueryResult is the caller-facing return value of ProcessQuery.
type QueryResult struct {
	QueryID       string            `json:"query_id"`
	Answer        string            `json:"answer"`
	Confidence    Confidence        `json:"confidence"`
	Citations     []domain.Citation `json:"citations"`
	Permits       []domain.Permit   `json:"permits"`
	Jurisdictions []string          `json:"jurisdictions"`
}

// Pipeline wires the external adapters process_query needs.
type Pipeline struct {
	geocoder *geocode.Client
	embedder *embedder.Embedder
	index    vectorindex.Interface
	llm      *llm.Client
	appdb    appdb.Interface
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func New(geocoder *geocode.Client, emb *embedder.Embedder, index vectorindex.Interface, llmClient *llm.Client, db appdb.Interface, logger *zap.Logger) *Pipeline {
	return &Pipeline{geocoder: geocoder, embedder: emb, index: index, llm: llmClient, appdb: db, logger: logger}
}

// WithMetrics attaches Prometheus instruments recorded during ProcessQuery.
// A nil *Metrics (the zero value from New) disables metric recording.
func (p *Pipeline) WithMetrics(m *observability.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// candidate is a retrieval match carried through rerank and prompt assembly.
type candidate struct {
	chunkID       string
	text          string
	citation      string
	url           string
	jurisdiction  string
	score         float64
	weighted      float64
	hasRecentData bool
}

// ProcessQuery runs the full pipeline for one question, optionally scoped by
// a street address, and persists the exchange to the application database.
func (p *Pipeline) ProcessQuery(ctx context.Context, conversationID, question, address string) (*QueryResult, error) {
	queryStart := time.Now()
	if p.metrics != nil {
		defer func() { p.metrics.QueryDuration.Observe(time.Since(queryStart).Seconds()) }()
	}

	jurisdictions, _ := p.geocoder.Resolve(ctx, address)

	_, embedSpan := tracer.Start(ctx, "retrieval.embed")
	vectors, err := p.embedder.Embed(ctx, []string{question})
	embedSpan.End()
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	queryVector := vectors[0]

	filter := vectorindex.Filter{Or: []vectorindex.Clause{{Field: "jurisdiction", Values: jurisdictions}}}
	_, retrieveSpan := tracer.Start(ctx, "retrieval.retrieve")
	matches, err := p.index.Query(ctx, queryVector, topK, filter, true)
	retrieveSpan.End()
	if err != nil {
		return nil, fmt.Errorf("retrieval: query index: %w", err)
	}

	candidates := rerank(matches)
	final := finalTopK(candidates)
	if p.metrics != nil {
		p.metrics.RetrievalMatches.Observe(float64(len(candidates)))
	}

	confidence := scoreConfidence(final, jurisdictions)

	systemPrompt := buildSystemPrompt()
	userPrompt := buildUserPrompt(question, final)

	_, generateSpan := tracer.Start(ctx, "retrieval.generate")
	answer, err := p.llm.Generate(ctx, systemPrompt, userPrompt, maxAnswerTokens)
	generateSpan.End()
	if err != nil {
		return nil, fmt.Errorf("retrieval: generate: %w", err)
	}

	citations, warnings := parseCitations(answer, final)
	for _, w := range warnings {
		p.logger.Warn("citation parse warning", zap.String("warning", w))
	}
	permits := parsePermits(answer)
	summary := firstParagraph(answer, 500)

	conv, err := p.appdb.PersistTurn(ctx, conversationID, "",
		domain.Message{
			Role:      domain.RoleUser,
			Text:      question,
			Address:   address,
			CreatedAt: time.Now().UTC(),
		},
		domain.Message{
			Role:          domain.RoleAssistant,
			AnswerText:    answer,
			Summary:       summary,
			Jurisdictions: jurisdictions,
			Citations:     citations,
			Permits:       permits,
			Confidence:    confidence.Level,
			CreatedAt:     time.Now().UTC(),
		})
	if err != nil {
		return nil, fmt.Errorf("retrieval: persist turn: %w", err)
	}

	if p.metrics != nil {
		p.metrics.QueriesTotal.WithLabelValues(confidence.Level).Inc()
	}

	return &QueryResult{
		QueryID:       conv,
		Answer:        answer,
		Confidence:    confidence,
		Citations:     citations,
		Permits:       permits,
		Jurisdictions: jurisdictions,
	}, nil
}

// rerank discards low-score matches and computes the weighted score
// (spec.md §4.9 steps 3-4).
func rerank(matches []vectorindex.Match) []candidate {
	var out []candidate
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		c := candidate{chunkID: m.ID, score: m.Score}
		if text, ok := m.Metadata["text"].(string); ok {
			c.text = text
		}
		if cit, ok := m.Metadata["citation"].(string); ok {
			c.citation = cit
		}
		if u, ok := m.Metadata["url"].(string); ok {
			c.url = u
		}
		if j, ok := m.Metadata["jurisdiction"].(string); ok {
			c.jurisdiction = j
		}
		c.hasRecentData = hasRecentUpdate(m.Metadata["last_updated"])
		recency := 0.0
		if c.hasRecentData {
			recency = 0.2
		}
		c.weighted = m.Score*0.8 + recency
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].weighted > out[j].weighted })
	return out
}

func hasRecentUpdate(v any) bool {
	s, ok := v.(string)
	if !ok || s == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return false
	}
	return time.Since(t) <= recencyWindow
}

// finalTopK keeps the finalTopKMax (15) highest-weighted candidates, or all
// of them when fewer than that were retrieved.
func finalTopK(candidates []candidate) []candidate {
	n := finalTopKMax
	if len(candidates) < n {
		n = len(candidates)
	}
	return candidates[:n]
}

// scoreConfidence computes the weighted composite and level (spec.md §4.9
// step 5).
func scoreConfidence(final []candidate, targetJurisdictions []string) Confidence {
	if len(final) == 0 {
		return Confidence{Level: "Low", Score: 0, Reason: "no matching chunks retrieved"}
	}

	var sumScore float64
	seen := make(map[string]bool)
	var citedCount int
	for _, c := range final {
		sumScore += c.score
		seen[c.jurisdiction] = true
		if c.citation != "" {
			citedCount++
		}
	}
	avgSimilarity := sumScore / float64(len(final))

	targetSet := make(map[string]bool, len(targetJurisdictions))
	for _, j := range targetJurisdictions {
		targetSet[j] = true
	}
	var coveredTargets int
	for j := range targetSet {
		if seen[j] {
			coveredTargets++
		}
	}
	jurisdictionCoverage := 0.0
	if len(targetSet) > 0 {
		jurisdictionCoverage = float64(coveredTargets) / float64(len(targetSet))
	}
	citationCoverage := float64(citedCount) / float64(len(final))

	composite := 0.5*avgSimilarity + 0.3*jurisdictionCoverage + 0.2*citationCoverage

	level := "Low"
	switch {
	case composite > 0.8 && jurisdictionCoverage == 1.0:
		level = "High"
	case composite > 0.6:
		level = "Medium"
	}

	reason := fmt.Sprintf("jurisdiction coverage %.0f%%, average similarity %.2f", jurisdictionCoverage*100, avgSimilarity)
	return Confidence{Level: level, Score: composite, Reason: reason}
}

const systemPromptTemplate = `You are a legal-compliance research assistant. Answer only from the provided regulatory text below; do not rely on outside knowledge. Cite every factual claim using a [N] marker matching the numbered source passages. Organize the answer by jurisdiction level in this order: Federal, State, County, Municipal, using "### Federal", "### State", "### County", "### Municipal" headings for whichever levels apply. After the jurisdictional sections, include a "### Required Permits" section listing each required permit as "Permit Name: ...", "Issuing Agency: ...", "Jurisdiction: ...", optional "URL: ...", "Regulatory Reference: ...". If the provided passages do not cover the question fully, state "Insufficient coverage for definitive answer."`

func buildSystemPrompt() string {
	return systemPromptTemplate
}

func buildUserPrompt(question string, chunks []candidate) string {
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, c.citation, c.text)
	}
	return b.String()
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// parseCitations scans the answer for [N] markers and resolves them against
// the 1-based chunk list (spec.md §4.9 step 8).
func parseCitations(answer string, chunks []candidate) ([]domain.Citation, []string) {
	seen := make(map[int]bool)
	var citations []domain.Citation
	var warnings []string
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		n := 0
		fmt.Sscanf(m[1], "%d", &n)
		if seen[n] {
			continue
		}
		seen[n] = true
		if n < 1 || n > len(chunks) {
			warnings = append(warnings, fmt.Sprintf("citation marker [%d] has no matching chunk", n))
			continue
		}
		c := chunks[n-1]
		citations = append(citations, domain.Citation{Index: n, ChunkID: c.chunkID, Citation: c.citation, URL: c.url})
	}
	sort.Slice(citations, func(i, j int) bool { return citations[i].Index < citations[j].Index })
	return citations, warnings
}

var requiredPermitsHeading = regexp.MustCompile(`(?i)###?\s*Required Permits`)
var permitBlockStart = regexp.MustCompile(`\n(-|\d+\.|Permit Name)`)
var permitNameRe = regexp.MustCompile(`(?i)Permit Name:\s*(.+)`)
var permitAgencyRe = regexp.MustCompile(`(?i)Issuing Agency:\s*(.+)`)
var permitJurisdictionRe = regexp.MustCompile(`(?i)Jurisdiction:\s*(.+)`)
var permitURLRe = regexp.MustCompile(`(?i)URL:\s*(.+)`)
var permitRefRe = regexp.MustCompile(`(?i)Regulatory Reference:\s*(.+)`)

// parsePermits locates the "Required Permits" section and parses each
// permit entry by field regex (spec.md §4.9 step 8).
func parsePermits(answer string) []domain.Permit {
	loc := requiredPermitsHeading.FindStringIndex(answer)
	if loc == nil {
		return nil
	}
	section := answer[loc[1]:]
	if next := regexp.MustCompile(`\n###`).FindStringIndex(section); next != nil {
		section = section[:next[0]]
	}

	var permits []domain.Permit
	// A new block starts at each line beginning with "-", "N." or "Permit Name".
	marked := permitBlockStart.ReplaceAllString(section, "\x00$1")
	for _, block := range strings.Split(marked, "\x00") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		name := firstGroup(permitNameRe, block)
		if name == "" {
			continue
		}
		permits = append(permits, domain.Permit{
			Name:                name,
			IssuingAgency:       firstGroup(permitAgencyRe, block),
			Jurisdiction:        firstGroup(permitJurisdictionRe, block),
			URL:                 firstGroup(permitURLRe, block),
			RegulatoryReference: firstGroup(permitRefRe, block),
		})
	}
	return permits
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// firstParagraph returns the answer's first paragraph, truncated to maxLen
// characters (spec.md §4.9 step 8's Summary rule).
func firstParagraph(answer string, maxLen int) string {
	parts := strings.SplitN(strings.TrimSpace(answer), "\n\n", 2)
	p := parts[0]
	if len(p) > maxLen {
		p = p[:maxLen]
	}
	return p
}
