package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hayasaka/kb-rag/internal/core/answer"
	"github.com/hayasaka/kb-rag/internal/core/embedding"
	"github.com/hayasaka/kb-rag/internal/core/ingestion"
	"github.com/hayasaka/kb-rag/internal/core/ingestion/chunk"
	"github.com/hayasaka/kb-rag/internal/core/knowledge"
	"github.com/hayasaka/kb-rag/internal/core/retrieval"
	"github.com/hayasaka/kb-rag/internal/core/search"
	"github.com/hayasaka/kb-rag/internal/infra/localembed"
	"github.com/hayasaka/kb-rag/internal/infra/memory"
	"github.com/hayasaka/kb-rag/internal/infra/openai"
	"github.com/hayasaka/kb-rag/internal/infra/postgres"
	"github.com/hayasaka/kb-rag/internal/platform/cache"
	"github.com/hayasaka/kb-rag/internal/platform/database"
	"github.com/hayasaka/kb-rag/pkg/config"
)

// StoreMemory はインメモリストア種別の設定値
const StoreMemory = "memory"

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	IngestService *ingestion.Service
	AnswerService *answer.Service
	Orchestrator  *retrieval.Orchestrator
	Executor      *search.Executor
	Gateway       *embedding.Gateway
	Repository    knowledge.Repository

	logger *slog.Logger
	pool   *pgxpool.Pool
}

type containerOptions struct {
	logger    *slog.Logger
	generator answer.Generator
	backends  map[embedding.Provider]embedding.Backend
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerGenerator は回答生成バックエンドを差し替える
func WithContainerGenerator(generator answer.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerBackend は指定プロバイダのEmbeddingバックエンドを差し替える
func WithContainerBackend(provider embedding.Provider, backend embedding.Backend) ContainerOption {
	return func(opts *containerOptions) {
		if opts.backends == nil {
			opts.backends = make(map[embedding.Provider]embedding.Backend)
		}
		opts.backends[provider] = backend
	}
}

// NewContainer は設定からコンテナを生成する。
// cfg.Store が "memory" の場合はデータベース接続を行わない。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// ナレッジストア（PostgreSQL or インメモリ）
	var (
		pool         *pgxpool.Pool
		repository   knowledge.Repository
		vectorStore  search.VectorStore
		lexicalStore search.LexicalStore
	)
	if cfg.Store == StoreMemory {
		store := memory.NewStore(memory.WithStoreLogger(options.logger))
		repository = store
		vectorStore = store
		lexicalStore = store
	} else {
		var err error
		pool, err = database.NewPool(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("スキーマ適用に失敗しました: %w", err)
		}
		repository = postgres.NewUnitRepository(pool)
		searchStore := postgres.NewSearchStore(pool)
		vectorStore = searchStore
		lexicalStore = searchStore
	}

	// Embeddingバックエンド。ローカルは常時登録し、OpenAIはクレデンシャルが
	// ある場合のみ登録する（未登録時は Gateway がフォールバックで救済する）。
	backends := map[embedding.Provider]embedding.Backend{
		embedding.ProviderLocal: localembed.NewEmbedder(),
	}
	if cfg.OpenAI.APIKey != "" {
		embedTTL := parseDuration(cfg.Embedding.CacheTTL, cache.DefaultEmbeddingTTL)
		backends[embedding.ProviderOpenAI] = embedding.NewCachedBackend(
			openai.NewEmbedder(
				cfg.OpenAI.APIKey,
				openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
				openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			),
			cache.New[string, []float32](embedTTL),
		)
	}
	for provider, backend := range options.backends {
		backends[provider] = backend
	}

	provider, err := embedding.ParseProvider(cfg.Embedding.Provider)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("Embeddingプロバイダ設定が不正です: %w", err)
	}
	gateway, err := embedding.NewGateway(
		embedding.Config{
			Provider:     provider,
			MaxBatchSize: cfg.Embedding.MaxBatchSize,
		},
		backends,
		embedding.WithGatewayLogger(options.logger),
	)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("Embedding Gateway 初期化に失敗しました: %w", err)
	}

	// 検索実行層とオーケストレーション層
	executor := search.NewExecutor(
		vectorStore,
		lexicalStore,
		search.WithCandidateMultiplier(cfg.Search.CandidateMultiplier),
		search.WithExecutorLogger(options.logger),
	)
	searchTTL := parseDuration(cfg.Search.ResultCacheTTL, cache.DefaultSearchTTL)
	orchestrator := retrieval.NewOrchestrator(
		gateway,
		executor,
		retrieval.WithHybridWeights(cfg.Search.VectorWeight, cfg.Search.LexicalWeight),
		retrieval.WithResultCache(cache.New[string, []search.SearchResult](searchTTL)),
		retrieval.WithOrchestratorLogger(options.logger),
	)

	// Chunker はインジェストの分割と回答合成のトークン計数を兼ねる
	chunker, err := chunk.NewChunker()
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("Chunker 初期化に失敗しました: %w", err)
	}

	// 生成バックエンド。クレデンシャル未設定でもコンテナ初期化は成功させる。
	// 検索・取り込み系の操作は生成を必要とせず、質問応答は呼び出し時の
	// 生成失敗として回答サービスのフォールバック（success=false + 出典）に乗る。
	generator := options.generator
	if generator == nil {
		if cfg.OpenAI.APIKey != "" {
			client, err := openai.NewClientWithAPIKey(cfg.OpenAI.APIKey, cfg.OpenAI.CompletionModel)
			if err != nil {
				if pool != nil {
					pool.Close()
				}
				return nil, fmt.Errorf("OpenAI クライアント初期化に失敗しました: %w", err)
			}
			generator = client
		} else {
			generator = unavailableGenerator{}
		}
	}

	answerService := answer.NewService(
		orchestrator,
		generator,
		&tokenCounter{chunker: chunker},
		answer.WithMaxContextTokens(cfg.Answer.MaxContextTokens),
		answer.WithMaxAnswerTokens(cfg.Answer.MaxAnswerTokens),
		answer.WithAnswerLogger(options.logger),
	)

	ingestService := ingestion.NewService(
		repository,
		gateway,
		chunker,
		ingestion.WithIngestLogger(options.logger),
	)

	return &ServiceContainer{
		IngestService: ingestService,
		AnswerService: answerService,
		Orchestrator:  orchestrator,
		Executor:      executor,
		Gateway:       gateway,
		Repository:    repository,
		logger:        options.logger,
		pool:          pool,
	}, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.pool != nil {
		c.pool.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// errGeneratorUnavailable は生成バックエンド未設定時の呼び出しエラー
var errGeneratorUnavailable = errors.New("completion backend not configured: set OPENAI_API_KEY")

// unavailableGenerator は生成バックエンド未設定時のプレースホルダ。
// 呼び出し時点でエラーを返す。
type unavailableGenerator struct{}

var _ answer.Generator = unavailableGenerator{}

func (unavailableGenerator) GenerateCompletion(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", errGeneratorUnavailable
}

// tokenCounter は Chunker のトークナイザを回答合成用の TokenCounter に適合させる。
type tokenCounter struct {
	chunker *chunk.Chunker
}

func (t *tokenCounter) Count(text string) int {
	return t.chunker.CountTokens(text)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
