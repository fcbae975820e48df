package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeUpsertIdempotent(t *testing.T) {
	idx := NewFake()
	ctx := context.Background()
	recs := []Record{{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]any{"jurisdiction": "US"}}}

	require.NoError(t, idx.Upsert(ctx, recs))
	require.NoError(t, idx.Upsert(ctx, recs))

	assert.Len(t, idx.records, 1)
}

func TestFakeQueryFilterOr(t *testing.T) {
	idx := NewFake()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []Record{
		{ID: "us", Values: []float32{1, 0}, Metadata: map[string]any{"jurisdiction": "US"}},
		{ID: "tx", Values: []float32{1, 0}, Metadata: map[string]any{"jurisdiction": "TX"}},
		{ID: "ca", Values: []float32{1, 0}, Metadata: map[string]any{"jurisdiction": "CA"}},
	}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 10, Filter{Or: []Clause{
		{Field: "jurisdiction", Values: []string{"US"}},
		{Field: "jurisdiction", Values: []string{"TX"}},
	}}, true)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestFakeQueryTopK(t *testing.T) {
	idx := NewFake()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []Record{
		{ID: "a", Values: []float32{1, 0}},
		{ID: "b", Values: []float32{0, 1}},
	}))
	matches, err := idx.Query(ctx, []float32{1, 0}, 1, Filter{}, true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
}
