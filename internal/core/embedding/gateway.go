package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrEmbeddingUnavailable はフォールバック先を含む全プロバイダが失敗した場合のエラー
	ErrEmbeddingUnavailable = errors.New("embedding unavailable: all providers failed")

	// ErrNoBackend は設定されたプロバイダに対応するバックエンドが未登録の場合のエラー
	ErrNoBackend = errors.New("no backend registered for provider")
)

// ValidationError は入力検証エラーを表す。外部呼び出しより前に同期的に返される。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

// Backend はテキストをベクトルに変換する具体プロバイダ実装のインターフェース
type Backend interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed はバッチでEmbeddingを生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName はモデル名を返す
	ModelName() string

	// Dimension はベクトル次元数を返す
	Dimension() int
}

// Embedded はEmbedding結果と、実際に使用されたプロバイダ情報を表す。
// フォールバックが発生した場合も Provider/Model には実際の値が入るため、
// 呼び出し側は公称設定ではなく事実を永続化できる。
type Embedded struct {
	Vector    []float32
	Provider  Provider
	Model     string
	Dimension int
}

// Config はGatewayの構築時設定
type Config struct {
	// Provider は公称のEmbeddingプロバイダ
	Provider Provider
	// MaxBatchSize はバッチEmbeddingの上限（0以下はデフォルト100）
	MaxBatchSize int
}

// DefaultMaxBatchSize はバッチEmbeddingのデフォルト上限
const DefaultMaxBatchSize = 100

// Gateway は複数バックエンドへの統一Embeddingインターフェースを提供する。
// 設定プロバイダがEmbedding不能な場合は構築時に決定的にフォールバック先へ置換し、
// 実行時障害（クレデンシャル欠落・タイムアウト等）はフォールバック先で継続する。
type Gateway struct {
	active       Provider
	backends     map[Provider]Backend
	maxBatchSize int
	logger       *slog.Logger
}

// GatewayOption は Gateway 構築時のオプション
type GatewayOption func(*Gateway)

// WithGatewayLogger は Gateway にロガーを設定する
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway は新しい Gateway を作成する。
// cfg.Provider がEmbedding能力を持たない場合、FallbackProvider に置換される。
// フォールバック先のバックエンドは必須。
func NewGateway(cfg Config, backends map[Provider]Backend, opts ...GatewayOption) (*Gateway, error) {
	g := &Gateway{
		backends:     backends,
		maxBatchSize: cfg.MaxBatchSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxBatchSize <= 0 {
		g.maxBatchSize = DefaultMaxBatchSize
	}

	active := cfg.Provider
	if !active.CanEmbed() {
		g.logger.Warn("configured provider cannot produce embeddings, substituting fallback",
			"configured", active.String(),
			"fallback", FallbackProvider.String(),
		)
		active = FallbackProvider
	}

	if _, ok := backends[active]; !ok {
		// 有効プロバイダのバックエンド未登録はフォールバック先で救済する
		if active != FallbackProvider {
			g.logger.Warn("no backend for active provider, substituting fallback",
				"provider", active.String(),
			)
			active = FallbackProvider
		}
		if _, ok := backends[active]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoBackend, active)
		}
	}

	g.active = active
	return g, nil
}

// ActiveProvider は実際に使用されるプロバイダを返す
func (g *Gateway) ActiveProvider() Provider {
	return g.active
}

// MaxBatchSize はバッチEmbeddingの上限を返す
func (g *Gateway) MaxBatchSize() int {
	return g.maxBatchSize
}

// EmbedQuery は単一テキストのEmbeddingを生成する
func (g *Gateway) EmbedQuery(ctx context.Context, text string) (Embedded, error) {
	if text == "" {
		return Embedded{}, &ValidationError{Message: "text must not be empty"}
	}

	results, err := g.embed(ctx, []string{text})
	if err != nil {
		return Embedded{}, err
	}
	return results[0], nil
}

// EmbedBatch は複数テキストのEmbeddingを生成する。
// バッチ上限超過・空テキスト混入は外部呼び出し前に拒否する。
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]Embedded, error) {
	if len(texts) == 0 {
		return nil, &ValidationError{Message: "texts must not be empty"}
	}
	if len(texts) > g.maxBatchSize {
		return nil, &ValidationError{Message: fmt.Sprintf("batch size %d exceeds maximum of %d", len(texts), g.maxBatchSize)}
	}
	for i, text := range texts {
		if text == "" {
			return nil, &ValidationError{Message: fmt.Sprintf("texts[%d] must not be empty", i)}
		}
	}

	return g.embed(ctx, texts)
}

// embed は有効プロバイダで生成を試み、失敗時はフォールバック先で一度だけ再試行する
func (g *Gateway) embed(ctx context.Context, texts []string) ([]Embedded, error) {
	backend := g.backends[g.active]

	vectors, err := backend.BatchEmbed(ctx, texts)
	if err == nil {
		return g.toEmbedded(g.active, backend, vectors), nil
	}

	if ctx.Err() != nil {
		// キャンセル済みならフォールバックの再試行は行わない
		return nil, fmt.Errorf("embedding canceled: %w", ctx.Err())
	}

	if g.active == FallbackProvider {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingUnavailable, g.active, err)
	}

	g.logger.Warn("embedding provider failed, falling back",
		"provider", g.active.String(),
		"fallback", FallbackProvider.String(),
		"error", err,
	)

	fallback, ok := g.backends[FallbackProvider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, FallbackProvider)
	}

	vectors, fbErr := fallback.BatchEmbed(ctx, texts)
	if fbErr != nil {
		return nil, fmt.Errorf("%w: primary=%v fallback=%v", ErrEmbeddingUnavailable, err, fbErr)
	}

	return g.toEmbedded(FallbackProvider, fallback, vectors), nil
}

func (g *Gateway) toEmbedded(provider Provider, backend Backend, vectors [][]float32) []Embedded {
	results := make([]Embedded, 0, len(vectors))
	for _, vec := range vectors {
		results = append(results, Embedded{
			Vector:    vec,
			Provider:  provider,
			Model:     backend.ModelName(),
			Dimension: backend.Dimension(),
		})
	}
	return results
}
