package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
)

type stubVectorStore struct {
	info       IndexInfo
	candidates []Candidate
	lastQuery  ANNQuery
	queries    int
}

func (s *stubVectorStore) ANNQuery(ctx context.Context, query ANNQuery) ([]Candidate, error) {
	s.queries++
	s.lastQuery = query
	return s.candidates, nil
}

func (s *stubVectorStore) IndexInfo(ctx context.Context) (IndexInfo, error) {
	return s.info, nil
}

type stubLexicalStore struct {
	candidates []Candidate
	lastLimit  int
}

func (s *stubLexicalStore) LexicalQuery(ctx context.Context, text string, filter Filter, limit int) ([]Candidate, error) {
	s.lastLimit = limit
	return s.candidates, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidateWithScore(raw float64, ingested time.Time) Candidate {
	id := uuid.New()
	return Candidate{
		Ref:        knowledge.ChunkRef{UnitID: id, Ordinal: 0},
		UnitID:     id,
		Title:      "doc",
		Content:    "content",
		RawScore:   raw,
		IngestedAt: ingested,
	}
}

func TestVectorSearch_NormalizesAndTruncates(t *testing.T) {
	now := time.Now()
	vectors := &stubVectorStore{
		info: IndexInfo{Dimension: 3, Metric: MetricCosine, Size: 10},
		candidates: []Candidate{
			candidateWithScore(0.2, now), // sim 0.9
			candidateWithScore(1.0, now), // sim 0.5
			candidateWithScore(0.6, now), // sim 0.7
		},
	}
	exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

	outcome, err := exec.VectorSearch(context.Background(), VectorParams{
		Vector:    []float32{1, 0, 0},
		Dimension: 3,
		Filter:    Filter{TenantID: "t1"},
		TopK:      2,
		Threshold: 0.4,
	})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, EmptyReasonNone, outcome.EmptyReason)
	assert.InDelta(t, 0.9, outcome.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.7, outcome.Results[1].Score, 1e-9)
	assert.Equal(t, StrategyVector, outcome.Results[0].Strategy)
	// over-fetch: top_k * multiplier (default 10)
	assert.Equal(t, 20, vectors.lastQuery.Candidates)
}

func TestVectorSearch_DimensionMismatchIsFatal(t *testing.T) {
	vectors := &stubVectorStore{info: IndexInfo{Dimension: 1536, Metric: MetricCosine, Size: 5}}
	exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

	_, err := exec.VectorSearch(context.Background(), VectorParams{
		Vector:    make([]float32, 384),
		Dimension: 384,
		Filter:    Filter{TenantID: "t1"},
	})
	require.Error(t, err)

	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 384, dimErr.QueryDimension)
	assert.Equal(t, 1536, dimErr.IndexDimension)
	assert.Zero(t, vectors.queries) // no ANN query issued
}

func TestVectorSearch_EmptyReasons(t *testing.T) {
	t.Run("collection empty", func(t *testing.T) {
		vectors := &stubVectorStore{info: IndexInfo{Dimension: 3, Metric: MetricCosine, Size: 0}}
		exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

		outcome, err := exec.VectorSearch(context.Background(), VectorParams{
			Vector: []float32{1, 0, 0}, Dimension: 3, Filter: Filter{TenantID: "t1"},
		})
		require.NoError(t, err)
		assert.Empty(t, outcome.Results)
		assert.Equal(t, EmptyReasonCollectionEmpty, outcome.EmptyReason)
	})

	t.Run("filter excluded", func(t *testing.T) {
		vectors := &stubVectorStore{info: IndexInfo{Dimension: 3, Metric: MetricCosine, Size: 7}}
		exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

		outcome, err := exec.VectorSearch(context.Background(), VectorParams{
			Vector: []float32{1, 0, 0}, Dimension: 3, Filter: Filter{TenantID: "t9"},
		})
		require.NoError(t, err)
		assert.Equal(t, EmptyReasonFilterExcluded, outcome.EmptyReason)
	})

	t.Run("below threshold", func(t *testing.T) {
		vectors := &stubVectorStore{
			info:       IndexInfo{Dimension: 3, Metric: MetricCosine, Size: 7},
			candidates: []Candidate{candidateWithScore(1.9, time.Now())}, // sim 0.05
		}
		exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

		outcome, err := exec.VectorSearch(context.Background(), VectorParams{
			Vector: []float32{1, 0, 0}, Dimension: 3, Filter: Filter{TenantID: "t1"}, Threshold: 0.5,
		})
		require.NoError(t, err)
		assert.Equal(t, EmptyReasonBelowThreshold, outcome.EmptyReason)
	})
}

func TestVectorSearch_TenantRequired(t *testing.T) {
	exec := NewExecutor(&stubVectorStore{}, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

	_, err := exec.VectorSearch(context.Background(), VectorParams{
		Vector: []float32{1}, Dimension: 1, Filter: Filter{},
	})
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestVectorSearch_ThresholdMonotonicity(t *testing.T) {
	now := time.Now()
	vectors := &stubVectorStore{
		info: IndexInfo{Dimension: 3, Metric: MetricCosine, Size: 10},
		candidates: []Candidate{
			candidateWithScore(0.2, now),
			candidateWithScore(0.6, now),
			candidateWithScore(1.0, now),
		},
	}
	exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

	count := func(threshold float64) int {
		outcome, err := exec.VectorSearch(context.Background(), VectorParams{
			Vector: []float32{1, 0, 0}, Dimension: 3,
			Filter: Filter{TenantID: "t1"}, TopK: 10, Threshold: threshold,
		})
		require.NoError(t, err)
		return len(outcome.Results)
	}

	prev := count(0.0)
	for _, threshold := range []float64{0.3, 0.6, 0.8, 0.95} {
		n := count(threshold)
		assert.LessOrEqual(t, n, prev, "raising threshold must never increase results")
		prev = n
	}
}

func TestVectorSearch_InnerProductNormalization(t *testing.T) {
	now := time.Now()
	vectors := &stubVectorStore{
		info:       IndexInfo{Dimension: 2, Metric: MetricInnerProduct, Size: 3},
		candidates: []Candidate{candidateWithScore(-0.8, now)}, // -ip=-0.8 → sim 0.9
	}
	exec := NewExecutor(vectors, &stubLexicalStore{}, WithExecutorLogger(testLogger()))

	outcome, err := exec.VectorSearch(context.Background(), VectorParams{
		Vector: []float32{1, 0}, Dimension: 2, Filter: Filter{TenantID: "t1"},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.InDelta(t, 0.9, outcome.Results[0].Score, 1e-9)
}

func TestLexicalSearch_ReciprocalRankScores(t *testing.T) {
	now := time.Now()
	lexical := &stubLexicalStore{candidates: []Candidate{
		candidateWithScore(0, now),
		candidateWithScore(0, now),
		candidateWithScore(0, now),
	}}
	exec := NewExecutor(&stubVectorStore{}, lexical, WithExecutorLogger(testLogger()))

	results, err := exec.LexicalSearch(context.Background(), LexicalParams{
		Query: "refund", Filter: Filter{TenantID: "t1"}, TopK: 3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.InDelta(t, 1.0/3, results[2].Score, 1e-9)
	assert.Equal(t, StrategyLexical, results[0].Strategy)
	assert.Equal(t, 3, lexical.lastLimit)
}

func TestSortResults_TieBreakByRecency(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	oldResult := SearchResult{Ref: knowledge.ChunkRef{UnitID: uuid.New()}, Score: 0.8, IngestedAt: older}
	newResult := SearchResult{Ref: knowledge.ChunkRef{UnitID: uuid.New()}, Score: 0.8, IngestedAt: newer}

	results := []SearchResult{oldResult, newResult}
	SortResults(results)

	assert.Equal(t, newResult.Ref, results[0].Ref, "equal scores break by most recent ingestion")
}

func TestAllTenantsSentinel(t *testing.T) {
	assert.True(t, Filter{TenantID: AllTenants}.SearchAllTenants())
	assert.False(t, Filter{TenantID: "t1"}.SearchAllTenants())
}
