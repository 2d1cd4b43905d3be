package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenforge/pkg/pipeline"
	"tokenforge/pkg/token"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storedToken(typ token.Type, value string, conf float64, sources ...token.Source) *token.Token {
	tok := token.New(typ, value, conf)
	tok.Provenance = token.Provenance{
		SourceCount:        len(sources),
		Sources:            sources,
		WeightedConfidence: conf,
	}
	return tok
}

func sampleBatch() *pipeline.BatchResult {
	red := storedToken(token.TypeColor, "#ff0000", 0.9,
		token.Source{Extractor: "kmeans", ImageID: "img-1", Confidence: 0.9},
		token.Source{Extractor: "claude", ImageID: "img-1", Confidence: 0.7},
	)
	red.Metadata["role"] = "background"
	gap := storedToken(token.TypeSpacing, "16px", 0.8,
		token.Source{Extractor: "kmeans", ImageID: "img-1", Confidence: 0.8},
	)

	images := []*pipeline.ImageResult{
		{
			TaskID:    "task-1",
			ImageRef:  "shots/home.png",
			ImageID:   "img-1",
			Stage:     pipeline.StageDone,
			Tokens:    []*token.Token{red, gap},
			ElapsedMS: 120,
		},
		{
			TaskID:      "task-2",
			ImageRef:    "shots/broken.png",
			Stage:       pipeline.StageFailed,
			FailedStage: pipeline.StageExtraction,
			Error:       "stage EXTRACTION: every extractor failed",
			ElapsedMS:   45,
		},
	}
	return &pipeline.BatchResult{
		BatchID: "batch-test-1",
		Images:  images,
		Summary: pipeline.BatchSummary{
			Total:  2,
			Done:   1,
			Failed: 1,
			FailedByStage: map[pipeline.Stage]int{
				pipeline.StageExtraction: 1,
			},
		},
		StartedAt: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
		TotalMS:   165,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	version, err := getSchemaVersion(store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	version, err := getSchemaVersion(store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestSaveAndGetBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, sampleBatch()))

	detail, err := store.GetBatch(ctx, "batch-test-1")
	require.NoError(t, err)

	assert.Equal(t, "batch-test-1", detail.Batch.ID)
	assert.Equal(t, 2, detail.Batch.ImagesTotal)
	assert.Equal(t, 1, detail.Batch.ImagesDone)
	assert.Equal(t, 1, detail.Batch.ImagesFailed)
	assert.Equal(t, int64(165), detail.Batch.TotalMS)

	require.Len(t, detail.Images, 2)
	done := detail.Images[0]
	assert.Equal(t, "task-1", done.TaskID)
	assert.Equal(t, "shots/home.png", done.ImageRef)
	assert.Equal(t, string(pipeline.StageDone), done.Stage)
	assert.Equal(t, 2, done.TokenCount)

	failed := detail.Images[1]
	assert.Equal(t, string(pipeline.StageFailed), failed.Stage)
	assert.Equal(t, string(pipeline.StageExtraction), failed.FailedStage)
	assert.Contains(t, failed.Error, "every extractor failed")
}

func TestGetBatchNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchTokensRoundTripProvenance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, sampleBatch()))

	tokens, err := store.BatchTokens(ctx, "batch-test-1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	// Sorted by category: color before spacing.
	red := tokens[0]
	assert.Equal(t, token.TypeColor, red.Type)
	assert.Equal(t, "#ff0000", red.Value)
	assert.Equal(t, 2, red.Provenance.SourceCount)
	require.Len(t, red.Provenance.Sources, 2)
	assert.Equal(t, "kmeans", red.Provenance.Sources[0].Extractor)
	assert.Equal(t, "background", red.Metadata["role"])

	gap := tokens[1]
	assert.Equal(t, token.TypeSpacing, gap.Type)
	assert.Equal(t, 1, gap.Provenance.SourceCount)
	assert.Nil(t, gap.Metadata)
}

func TestSaveBatchIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	require.NoError(t, store.SaveBatch(ctx, batch))
	require.NoError(t, store.SaveBatch(ctx, batch))

	tokens, err := store.BatchTokens(ctx, "batch-test-1")
	require.NoError(t, err)
	assert.Len(t, tokens, 2, "re-saving must not duplicate tokens")
}

func TestListBatchesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := sampleBatch()
	older.BatchID = "batch-old"
	older.StartedAt = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	newer := sampleBatch()
	newer.BatchID = "batch-new"
	newer.StartedAt = time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveBatch(ctx, older))
	require.NoError(t, store.SaveBatch(ctx, newer))

	batches, err := store.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "batch-new", batches[0].ID)
	assert.Equal(t, "batch-old", batches[1].ID)

	limited, err := store.ListBatches(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLatestBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.LatestBatch(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveBatch(ctx, sampleBatch()))

	detail, err := store.LatestBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "batch-test-1", detail.Batch.ID)
}

func TestTokenCountsByType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, sampleBatch()))

	counts, err := store.TokenCountsByType(ctx, "batch-test-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[token.TypeColor])
	assert.Equal(t, 1, counts[token.TypeSpacing])
}
