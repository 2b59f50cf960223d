package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hayasaka/kb-rag/internal/core/answer"
	"github.com/hayasaka/kb-rag/internal/core/ingestion"
	"github.com/hayasaka/kb-rag/pkg/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Store: StoreMemory,
		Embedding: config.EmbeddingConfig{
			Provider:     "local",
			MaxBatchSize: 100,
		},
	}
}

// クレデンシャル未設定のローカル構成でもコンテナ初期化が成功すること。
// 検索・取り込み系の操作は生成バックエンドを必要としない。
func TestNewContainer_LocalModeWithoutCredentials(t *testing.T) {
	c, err := NewContainer(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.IngestService)
	assert.NotNil(t, c.AnswerService)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Gateway)
}

// 生成バックエンド未設定時の質問応答は、エラー化せず
// success=false と出典を持つ構造化回答に落ちること。
func TestNewContainer_AnswerDegradesWithoutCompletionBackend(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.IngestService.Ingest(ctx, ingestion.IngestParams{
		TenantID:    "t1",
		Title:       "返金ポリシー",
		ContentType: "text/plain",
		Text:        "返金は購入後三十日以内に受け付けます。",
	})
	require.NoError(t, err)

	result, err := c.AnswerService.Answer(ctx, answer.AnswerParams{
		Query:    "返金は購入後三十日以内に受け付けます。",
		TenantID: "t1",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, answer.GenerationFailedAnswer, result.Answer)
	assert.NotEmpty(t, result.Sources)
}

func TestUnavailableGenerator_ErrorsAtCallTime(t *testing.T) {
	_, err := unavailableGenerator{}.GenerateCompletion(context.Background(), "prompt", 128)
	assert.ErrorIs(t, err, errGeneratorUnavailable)
}
