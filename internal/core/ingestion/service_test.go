package ingestion

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hayasaka/kb-rag/internal/core/embedding"
	"github.com/hayasaka/kb-rag/internal/core/ingestion/chunk"
	"github.com/hayasaka/kb-rag/internal/core/knowledge"
)

type stubRepository struct {
	mu    sync.Mutex
	units map[uuid.UUID]*knowledge.KnowledgeUnit
}

func newStubRepository() *stubRepository {
	return &stubRepository{units: make(map[uuid.UUID]*knowledge.KnowledgeUnit)}
}

func (r *stubRepository) GetUnit(ctx context.Context, id uuid.UUID) (mo.Option[*knowledge.KnowledgeUnit], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if unit, ok := r.units[id]; ok {
		return mo.Some(unit), nil
	}
	return mo.None[*knowledge.KnowledgeUnit](), nil
}

func (r *stubRepository) ListUnitsByTenant(ctx context.Context, tenantID string) ([]*knowledge.KnowledgeUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*knowledge.KnowledgeUnit
	for _, u := range r.units {
		if u.TenantID == tenantID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *stubRepository) SaveUnit(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unit.ID] = unit
	return nil
}

func (r *stubRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.IndexingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if unit, ok := r.units[id]; ok {
		unit.Status = status
	}
	return nil
}

func (r *stubRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, id)
	return nil
}

// stubBackend は全ベクトルを同一次元で返す。
// shortEvery > 0 の場合、該当する要素だけ次元を欠落させて整合性違反を作る。
type stubBackend struct {
	dimension  int
	shortEvery int
	batchCalls int
	batchSizes []int
}

func (b *stubBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, b.dimension), nil
}

func (b *stubBackend) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	b.batchCalls++
	b.batchSizes = append(b.batchSizes, len(texts))
	vectors := make([][]float32, len(texts))
	for i := range texts {
		dim := b.dimension
		if b.shortEvery > 0 && (i+1)%b.shortEvery == 0 {
			dim = b.dimension - 1
		}
		vectors[i] = make([]float32, dim)
	}
	return vectors, nil
}

func (b *stubBackend) ModelName() string { return "local-hash-v1" }
func (b *stubBackend) Dimension() int    { return b.dimension }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, backend *stubBackend, batchSize int) (*Service, *stubRepository) {
	t.Helper()
	gw, err := embedding.NewGateway(
		embedding.Config{Provider: embedding.ProviderLocal, MaxBatchSize: batchSize},
		map[embedding.Provider]embedding.Backend{embedding.ProviderLocal: backend},
		embedding.WithGatewayLogger(testLogger()),
	)
	require.NoError(t, err)

	chunker, err := chunk.NewChunker(chunk.WithChunkSize(200), chunk.WithOverlap(40))
	require.NoError(t, err)

	repo := newStubRepository()
	return NewService(repo, gw, chunker, WithIngestLogger(testLogger())), repo
}

func TestIngest_StoresValidatedUnit(t *testing.T) {
	backend := &stubBackend{dimension: 4}
	svc, repo := newTestService(t, backend, 100)

	text := strings.Repeat("Refunds are accepted within thirty days of purchase. ", 20)
	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID:    "t1",
		Title:       "Store policies",
		ContentType: "faq",
		Text:        text,
	})
	require.NoError(t, err)
	assert.Greater(t, result.ChunkCount, 1)
	assert.Positive(t, result.TotalTokens)
	assert.Equal(t, "local", result.Provider.Provider)
	assert.Equal(t, 4, result.Provider.Dimension)

	unitOpt, err := repo.GetUnit(context.Background(), result.UnitID)
	require.NoError(t, err)
	require.True(t, unitOpt.IsPresent())

	unit := unitOpt.MustGet()
	assert.Equal(t, knowledge.StatusReady, unit.Status)
	assert.Len(t, unit.Embeddings, len(unit.Chunks))
	require.NoError(t, knowledge.Validate(unit))
}

func TestIngest_BatchesAtGatewayCap(t *testing.T) {
	backend := &stubBackend{dimension: 4}
	svc, _ := newTestService(t, backend, 3)

	// 200文字ウィンドウでチャンク数が3を超えるだけの長文
	text := strings.Repeat("One more sentence with filler words to pad things out nicely. ", 40)
	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: "t1",
		Title:    "long doc",
		Text:     text,
	})
	require.NoError(t, err)
	require.Greater(t, result.ChunkCount, 3)

	assert.Greater(t, backend.batchCalls, 1, "chunks beyond the cap must be sent in multiple batches")
	for _, size := range backend.batchSizes {
		assert.LessOrEqual(t, size, 3)
	}
}

func TestIngest_RejectsCorrelationViolation(t *testing.T) {
	backend := &stubBackend{dimension: 4, shortEvery: 2}
	svc, repo := newTestService(t, backend, 100)

	text := strings.Repeat("Sentences to produce at least two chunks of content here. ", 20)
	_, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: "t1",
		Title:    "broken",
		Text:     text,
	})
	require.Error(t, err)

	var corrErr *knowledge.CorrelationError
	require.ErrorAs(t, err, &corrErr)
	assert.Equal(t, knowledge.ReasonDimensionMismatch, corrErr.Reason)

	// 失敗ユニットは status=failed、Embeddings なしで記録される
	units, err := repo.ListUnitsByTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, knowledge.StatusFailed, units[0].Status)
	assert.Empty(t, units[0].Embeddings)
}

func TestIngest_InvalidParams(t *testing.T) {
	backend := &stubBackend{dimension: 4}
	svc, _ := newTestService(t, backend, 100)

	_, err := svc.Ingest(context.Background(), IngestParams{TenantID: "", Text: "x"})
	require.ErrorIs(t, err, ErrTenantRequired)

	_, err = svc.Ingest(context.Background(), IngestParams{TenantID: "t1", Text: ""})
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestRemoveEmbeddings_ResetsToPending(t *testing.T) {
	backend := &stubBackend{dimension: 4}
	svc, repo := newTestService(t, backend, 100)

	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: "t1",
		Title:    "doc",
		Text:     "Some short knowledge text for a single chunk.",
	})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveEmbeddings(context.Background(), result.UnitID))

	unit := mustGetUnit(t, repo, result.UnitID)
	assert.Equal(t, knowledge.StatusPending, unit.Status)
	assert.Empty(t, unit.Embeddings)
	assert.True(t, unit.Provider.IsZero())
	assert.NotEmpty(t, unit.Chunks, "chunks survive embedding removal")
}

func TestReindex_RestoresReadyState(t *testing.T) {
	backend := &stubBackend{dimension: 4}
	svc, repo := newTestService(t, backend, 100)

	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: "t1",
		Title:    "doc",
		Text:     "Some short knowledge text for a single chunk.",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveEmbeddings(context.Background(), result.UnitID))

	require.NoError(t, svc.Reindex(context.Background(), result.UnitID))

	unit := mustGetUnit(t, repo, result.UnitID)
	assert.Equal(t, knowledge.StatusReady, unit.Status)
	assert.Len(t, unit.Embeddings, len(unit.Chunks))
	assert.Equal(t, "local", unit.Provider.Provider)
}

func TestDelete_RemovesUnit(t *testing.T) {
	backend := &stubBackend{dimension: 4}
	svc, repo := newTestService(t, backend, 100)

	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: "t1",
		Title:    "doc",
		Text:     "Some short knowledge text for a single chunk.",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), result.UnitID))

	unitOpt, err := repo.GetUnit(context.Background(), result.UnitID)
	require.NoError(t, err)
	assert.True(t, unitOpt.IsAbsent())
}

func mustGetUnit(t *testing.T, repo *stubRepository, id uuid.UUID) *knowledge.KnowledgeUnit {
	t.Helper()
	unitOpt, err := repo.GetUnit(context.Background(), id)
	require.NoError(t, err)
	require.True(t, unitOpt.IsPresent())
	return unitOpt.MustGet()
}
