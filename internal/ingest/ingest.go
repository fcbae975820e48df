// Package ingest runs the checkpointed per-family ingestion state machine:
// fetch → store → chunk → embed → upsert → checkpoint. See spec.md §4.8.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/appdb"
	"regulatory-rag-core/internal/chunker"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/embedder"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/observability"
	"regulatory-rag-core/internal/vectorindex"
)

const vectorUpsertBatch = 100

var tracer = otel.Tracer("regulatory-rag-core/ingest")

// Unit is one ingestible item within a family: a CFR part, a statute code, a
// TAC title, a county, or a city (spec.md §4.8 step 2). Fetch returns its
// parsed Sections; Citation formats the Bluebook citation for a Section
// within this unit (each source family has its own formatter, see
// internal/tokenizer).
type Unit struct {
	ID       string
	Fetch    func(ctx context.Context) ([]domain.Section, error)
	Citation func(section domain.Section) string
}

// Family groups the Units processed sequentially for one source family
// (spec.md §5: "units... process sequentially to preserve checkpoint
// monotonicity").
type Family struct {
	Name  string
	Units []Unit
}

// UnitResult records one unit's outcome within a family run.
type UnitResult struct {
	UnitID          string `json:"unit_id"`
	ChunksProcessed int    `json:"chunks_processed"`
	Error           string `json:"error,omitempty"`
}

// FamilyResult aggregates a family run's per-unit outcomes.
type FamilyResult struct {
	Family   string       `json:"family"`
	Units    []UnitResult `json:"units"`
	Aborted  bool         `json:"aborted"`
	AbortErr string       `json:"abort_error,omitempty"`
}

// BatchPipelineResult aggregates every enabled family's run (spec.md §4.8
// "Batch run").
type BatchPipelineResult struct {
	Families   []FamilyResult `json:"families"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Orchestrator drives Families through the fetch/chunk/embed/upsert/
// checkpoint state machine.
type Orchestrator struct {
	store    objectstore.Interface
	embedder *embedder.Embedder
	index    vectorindex.Interface
	appdb    *appdb.DB
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func New(store objectstore.Interface, emb *embedder.Embedder, index vectorindex.Interface, db *appdb.DB, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, embedder: emb, index: index, appdb: db, logger: logger}
}

// WithMetrics attaches Prometheus instruments recorded during RunFamily. A
// nil *Metrics (the zero value from New) disables metric recording.
func (o *Orchestrator) WithMetrics(m *observability.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// RunBatch runs every family in sequence, per spec.md §5's "ingestion
// families run sequentially relative to each other."
func (o *Orchestrator) RunBatch(ctx context.Context, families []Family) BatchPipelineResult {
	result := BatchPipelineResult{StartedAt: time.Now().UTC()}
	for _, family := range families {
		result.Families = append(result.Families, o.RunFamily(ctx, family))
	}
	result.FinishedAt = time.Now().UTC()
	return result
}

// RunFamily executes the state machine for one family: idle → fetching →
// storing → chunking → embedding → upserting → checkpoint-saved →
// (next unit | done) → checkpoint-cleared.
func (o *Orchestrator) RunFamily(ctx context.Context, family Family) FamilyResult {
	result := FamilyResult{Family: family.Name}
	runStart := time.Now()
	if o.metrics != nil {
		defer func() { o.metrics.IngestDuration.WithLabelValues(family.Name).Observe(time.Since(runStart).Seconds()) }()
	}

	cp, cpKey, err := o.loadCheckpoint(ctx, family.Name)
	if err != nil {
		result.Aborted = true
		result.AbortErr = err.Error()
		o.logger.Error("checkpoint load failed, aborting family run", zap.String("family", family.Name), zap.Error(err))
		return result
	}
	currentKey := cpKey

	start := 0
	if cp != nil {
		for i, u := range family.Units {
			if u.ID == cp.LastProcessed {
				start = i + 1
				break
			}
		}
	}

	var totalChunks int
	if cp != nil {
		totalChunks = cp.ChunksProcessed
	}

	for _, unit := range family.Units[start:] {
		n, err := o.processUnit(ctx, family.Name, unit)
		ur := UnitResult{UnitID: unit.ID, ChunksProcessed: n}
		if err != nil {
			ur.Error = err.Error()
			o.logger.Error("unit failed, continuing with next unit",
				zap.String("family", family.Name), zap.String("unit", unit.ID), zap.Error(err))
			if o.metrics != nil {
				o.metrics.UnitsFailed.WithLabelValues(family.Name).Inc()
			}
		}
		if o.metrics != nil && n > 0 {
			o.metrics.ChunksIngested.WithLabelValues(family.Name).Add(float64(n))
		}
		result.Units = append(result.Units, ur)
		totalChunks += n

		newCP := domain.Checkpoint{
			Family:          family.Name,
			LastProcessed:   unit.ID,
			ChunksProcessed: totalChunks,
			Status:          "in_progress",
			Timestamp:       time.Now().UTC(),
		}
		if err != nil {
			newCP.Error = err.Error()
		}
		savedKey, err := o.saveCheckpoint(ctx, newCP, currentKey)
		if err != nil {
			o.logger.Error("checkpoint save failed", zap.String("family", family.Name), zap.Error(err))
		} else {
			currentKey = savedKey
		}
	}

	if err := o.clearCheckpoint(ctx, family.Name); err != nil {
		o.logger.Warn("checkpoint clear failed", zap.String("family", family.Name), zap.Error(err))
	}

	o.updateFreshness(family.Name, totalChunks, time.Since(runStart))
	return result
}

// processUnit runs one unit through fetch → store → chunk → embed → upsert.
func (o *Orchestrator) processUnit(ctx context.Context, family string, unit Unit) (int, error) {
	ctx, fetchSpan := tracer.Start(ctx, "ingest.fetch")
	sections, err := unit.Fetch(ctx)
	fetchSpan.End()
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", unit.ID, err)
	}

	var chunkCount int
	for _, section := range sections {
		_, chunkSpan := tracer.Start(ctx, "ingest.chunk")
		chunks, err := chunker.Chunk(section, chunkContext(unit, section))
		chunkSpan.End()
		if err != nil {
			o.logger.Error("chunking failed for section, skipping",
				zap.String("family", family), zap.String("section", section.SectionID), zap.Error(err))
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		_, embedSpan := tracer.Start(ctx, "ingest.embed")
		vectors, err := o.embedder.Embed(ctx, texts)
		embedSpan.End()
		if err != nil {
			return chunkCount, fmt.Errorf("embed section %s: %w", section.SectionID, err)
		}

		records := make([]vectorindex.Record, len(chunks))
		now := time.Now().UTC()
		for i, c := range chunks {
			c.Embedding = vectors[i]
			c.IndexedAt = &now
			records[i] = vectorindex.Record{ID: c.ChunkID, Values: vectors[i], Metadata: chunkMetadata(c)}
		}
		_, upsertSpan := tracer.Start(ctx, "ingest.upsert")
		err = o.upsertBatched(ctx, records)
		upsertSpan.End()
		if err != nil {
			return chunkCount, fmt.Errorf("upsert section %s: %w", section.SectionID, err)
		}
		chunkCount += len(chunks)
	}
	return chunkCount, nil
}

func (o *Orchestrator) upsertBatched(ctx context.Context, records []vectorindex.Record) error {
	for start := 0; start < len(records); start += vectorUpsertBatch {
		end := start + vectorUpsertBatch
		if end > len(records) {
			end = len(records)
		}
		if err := o.index.Upsert(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func chunkContext(unit Unit, section domain.Section) chunker.Context {
	citation := ""
	if unit.Citation != nil {
		citation = unit.Citation(section)
	}
	var hierarchy []string
	for _, h := range []string{section.TitleNumber, section.PartNumber, section.ChapterNumber, section.Code, section.City} {
		if h != "" {
			hierarchy = append(hierarchy, h)
		}
	}
	return chunker.Context{
		SourceID:  unit.ID,
		Citation:  citation,
		Hierarchy: hierarchy,
	}
}

// chunkMetadata mirrors the chunk minus its embedding, per spec.md §4.8 step
// 2d ("metadata = chunk without the embedding").
func chunkMetadata(c domain.Chunk) map[string]any {
	b, _ := json.Marshal(c)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

// updateFreshness best-effort notifies the application database that this
// family finished a run; fire-and-forget per spec.md §4.8 step 3.
func (o *Orchestrator) updateFreshness(family string, chunksProcessed int, dur time.Duration) {
	if o.appdb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.appdb.UpdateSourceStatus(ctx, family, "active", int64(chunksProcessed), dur.Milliseconds()); err != nil {
			o.logger.Warn("freshness update failed", zap.String("family", family), zap.Error(err))
		}
	}()
}

// checkpointPrefix returns the directory under which a family's in-progress
// checkpoint file(s) live, per the canonical layouts (spec.md §6.1).
func checkpointPrefix(family string) string {
	switch family {
	case "federal":
		return "federal/checkpoints/"
	case "state":
		return "texas/checkpoints/"
	case "county":
		return "counties/checkpoints/"
	case "municipal":
		return "municipal/checkpoints/"
	default:
		return fmt.Sprintf("checkpoints/%s/", family)
	}
}

// checkpointKeyForUnit computes the exact checkpoint key for the unit a
// family is currently on. Federal checkpoints are per-title (spec.md §8
// scenario 1: "federal/checkpoints/cfr-title-21.json"); Texas checkpoints
// are per-subtype (statute vs. TAC); county and municipal checkpoints are
// single files per family, since §6.1 gives them no per-unit key template.
func checkpointKeyForUnit(family, unitID string) string {
	switch family {
	case "federal":
		n := strings.TrimPrefix(unitID, "title-")
		return fmt.Sprintf("federal/checkpoints/cfr-title-%s.json", n)
	case "state":
		switch {
		case strings.HasPrefix(unitID, "statute-"):
			return "texas/checkpoints/statute.json"
		case strings.HasPrefix(unitID, "tac-"):
			return "texas/checkpoints/tac.json"
		default:
			return "texas/checkpoints/state.json"
		}
	case "county":
		return "counties/checkpoints/county.json"
	case "municipal":
		return "municipal/checkpoints/municipal.json"
	default:
		return fmt.Sprintf("checkpoints/%s.json", family)
	}
}

// loadCheckpoint discovers any in-progress checkpoint file under the
// family's prefix and returns both the parsed checkpoint and the key it was
// read from, so RunFamily can replace/clear that exact key later without
// guessing which unit it belonged to. If more than one checkpoint exists
// under the prefix (shouldn't happen in steady state), the most recent one
// wins and the rest are left for clearCheckpoint to sweep up.
func (o *Orchestrator) loadCheckpoint(ctx context.Context, family string) (*domain.Checkpoint, string, error) {
	keys, err := o.store.List(ctx, checkpointPrefix(family))
	if err != nil {
		return nil, "", err
	}
	if len(keys) == 0 {
		return nil, "", nil
	}

	var latest *domain.Checkpoint
	var latestKey string
	for _, key := range keys {
		obj, err := o.store.Get(ctx, key)
		if err != nil {
			return nil, "", err
		}
		if obj == nil {
			continue
		}
		var cp domain.Checkpoint
		if err := json.Unmarshal(obj.Data, &cp); err != nil {
			return nil, "", fmt.Errorf("ingest: parse checkpoint %s: %w", key, err)
		}
		if latest == nil || cp.Timestamp.After(latest.Timestamp) {
			c := cp
			latest = &c
			latestKey = key
		}
	}
	return latest, latestKey, nil
}

// saveCheckpoint writes cp under the key matching its current unit and
// removes the previous unit's checkpoint key, if any, so progressing from
// one unit to the next doesn't leave stale checkpoint files behind. It
// returns the key cp was saved under.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, cp domain.Checkpoint, prevKey string) (string, error) {
	newKey := checkpointKeyForUnit(cp.Family, cp.LastProcessed)
	b, err := json.Marshal(cp)
	if err != nil {
		return prevKey, err
	}
	if err := o.store.Put(ctx, newKey, b, "application/json", map[string]string{
		"family": cp.Family,
		"status": cp.Status,
	}); err != nil {
		return prevKey, err
	}
	if prevKey != "" && prevKey != newKey {
		if err := o.store.Delete(ctx, prevKey); err != nil {
			o.logger.Warn("failed to delete stale checkpoint", zap.String("key", prevKey), zap.Error(err))
		}
	}
	return newKey, nil
}

// clearCheckpoint deletes every checkpoint key under the family's prefix once
// the run finishes successfully (spec.md §8 scenario 1: checkpoint absent on
// success). It is a no-op if the family never wrote one.
func (o *Orchestrator) clearCheckpoint(ctx context.Context, family string) error {
	keys, err := o.store.List(ctx, checkpointPrefix(family))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := o.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
