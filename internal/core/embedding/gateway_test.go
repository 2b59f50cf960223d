package embedding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	model     string
	dimension int
	err       error
	calls     int
}

func (b *stubBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (b *stubBackend) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, b.dimension)
		vec[0] = float32(i + 1)
		vectors[i] = vec
	}
	return vectors, nil
}

func (b *stubBackend) ModelName() string { return b.model }
func (b *stubBackend) Dimension() int    { return b.dimension }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("openai")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)

	_, err = ParseProvider("cohere")
	require.Error(t, err)
}

func TestNewGateway_IncapableProviderSubstitutesFallback(t *testing.T) {
	local := &stubBackend{model: "local-hash-v1", dimension: 384}
	gw, err := NewGateway(
		Config{Provider: ProviderAnthropic},
		map[Provider]Backend{ProviderLocal: local},
		WithGatewayLogger(quietLogger()),
	)
	require.NoError(t, err)

	// 置換は決定的で、返却メタデータにも現れる
	assert.Equal(t, ProviderLocal, gw.ActiveProvider())

	result, err := gw.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, result.Provider)
	assert.Equal(t, "local-hash-v1", result.Model)
	assert.Equal(t, 384, result.Dimension)
}

func TestNewGateway_MissingFallbackBackend(t *testing.T) {
	_, err := NewGateway(
		Config{Provider: ProviderAnthropic},
		map[Provider]Backend{},
		WithGatewayLogger(quietLogger()),
	)
	require.ErrorIs(t, err, ErrNoBackend)
}

func TestEmbedQuery_PrimaryFailureFallsBackToLocal(t *testing.T) {
	primary := &stubBackend{model: "text-embedding-3-small", dimension: 1536, err: errors.New("timeout")}
	local := &stubBackend{model: "local-hash-v1", dimension: 384}

	gw, err := NewGateway(
		Config{Provider: ProviderOpenAI},
		map[Provider]Backend{ProviderOpenAI: primary, ProviderLocal: local},
		WithGatewayLogger(quietLogger()),
	)
	require.NoError(t, err)

	result, err := gw.EmbedQuery(context.Background(), "refund policy")
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, ProviderLocal, result.Provider)
	assert.Equal(t, "local-hash-v1", result.Model)
}

func TestEmbedQuery_FallbackFailureIsFatal(t *testing.T) {
	local := &stubBackend{model: "local-hash-v1", dimension: 384, err: errors.New("broken")}

	gw, err := NewGateway(
		Config{Provider: ProviderLocal},
		map[Provider]Backend{ProviderLocal: local},
		WithGatewayLogger(quietLogger()),
	)
	require.NoError(t, err)

	_, err = gw.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestEmbedQuery_EmptyTextRejected(t *testing.T) {
	local := &stubBackend{model: "local-hash-v1", dimension: 384}
	gw, err := NewGateway(
		Config{Provider: ProviderLocal},
		map[Provider]Backend{ProviderLocal: local},
		WithGatewayLogger(quietLogger()),
	)
	require.NoError(t, err)

	_, err = gw.EmbedQuery(context.Background(), "")
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Zero(t, local.calls) // rejected before any backend call
}

func TestEmbedBatch_CapExceeded(t *testing.T) {
	local := &stubBackend{model: "local-hash-v1", dimension: 384}
	gw, err := NewGateway(
		Config{Provider: ProviderLocal, MaxBatchSize: 2},
		map[Provider]Backend{ProviderLocal: local},
		WithGatewayLogger(quietLogger()),
	)
	require.NoError(t, err)

	_, err = gw.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))

	results, err := gw.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEmbedQuery_FallbackIsDeterministic(t *testing.T) {
	local := &stubBackend{model: "local-hash-v1", dimension: 384}
	backends := map[Provider]Backend{ProviderLocal: local}

	// 同じ設定からは常に同じフォールバック先が選ばれる
	for i := 0; i < 3; i++ {
		gw, err := NewGateway(Config{Provider: ProviderAnthropic}, backends, WithGatewayLogger(quietLogger()))
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, gw.ActiveProvider())
	}
}

func TestEmbedQuery_CanceledContextSkipsFallback(t *testing.T) {
	primary := &stubBackend{model: "text-embedding-3-small", dimension: 1536, err: context.Canceled}
	local := &stubBackend{model: "local-hash-v1", dimension: 384}

	gw, err := NewGateway(
		Config{Provider: ProviderOpenAI},
		map[Provider]Backend{ProviderOpenAI: primary, ProviderLocal: local},
		WithGatewayLogger(quietLogger()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = gw.EmbedQuery(ctx, "hello")
	require.Error(t, err)
	assert.Zero(t, local.calls)
}
