package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hayasaka/kb-rag/internal/core/embedding"
	"github.com/hayasaka/kb-rag/internal/core/search"
)

const (
	// DefaultVectorWeight はハイブリッドマージ時のベクトルスコア重み
	DefaultVectorWeight = 0.7
	// DefaultLexicalWeight はハイブリッドマージ時の字句スコア重み
	DefaultLexicalWeight = 0.3
	// DefaultSearchTimeout は検索呼び出し1回あたりのタイムアウト
	DefaultSearchTimeout = 10 * time.Second
)

// ResultCache は検索結果のキャッシュインターフェース
type ResultCache interface {
	Get(key string) ([]search.SearchResult, bool)
	Set(key string, results []search.SearchResult)
}

// Orchestrator はクエリごとの戦略選択・フォールバック・マージを担う状態機械。
// 各戦略はクエリごとに高々1回しか試行されない（フォールバックのループ防止）。
type Orchestrator struct {
	gateway       *embedding.Gateway
	executor      *search.Executor
	vectorWeight  float64
	lexicalWeight float64
	searchTimeout time.Duration
	cache         ResultCache
	logger        *slog.Logger
}

// OrchestratorOption は Orchestrator 構築時のオプション
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger は Orchestrator にロガーを設定する
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithHybridWeights はハイブリッドマージの重みを設定する
func WithHybridWeights(vector, lexical float64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.vectorWeight = vector
		o.lexicalWeight = lexical
	}
}

// WithSearchTimeout は検索呼び出し1回あたりのタイムアウトを設定する
func WithSearchTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.searchTimeout = timeout
	}
}

// WithResultCache は検索結果キャッシュを設定する
func WithResultCache(cache ResultCache) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = cache
	}
}

// NewOrchestrator は新しい Orchestrator を作成する
func NewOrchestrator(gateway *embedding.Gateway, executor *search.Executor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gateway:       gateway,
		executor:      executor,
		vectorWeight:  DefaultVectorWeight,
		lexicalWeight: DefaultLexicalWeight,
		searchTimeout: DefaultSearchTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Retrieve は戦略選択と段階的フォールバックを実行して結果を返す。
// 0件は DoneEmpty としてエラーなしで返る。
func (o *Orchestrator) Retrieve(ctx context.Context, params Params) (*Result, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	strategy := params.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	if o.cache != nil {
		key := cacheKey(params)
		if cached, ok := o.cache.Get(key); ok {
			o.logger.Debug("retrieval cache hit", "query", params.Query)
			return &Result{Results: cached, State: stateForResults(cached)}, nil
		}
	}

	var result *Result
	var err error

	switch strategy {
	case StrategyLexical:
		result, err = o.lexicalOnly(ctx, params)
	case StrategyHybrid:
		result, err = o.hybrid(ctx, params)
	default: // auto / vector
		result, err = o.vectorWithFallback(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	if o.cache != nil && result.State != DoneEmpty {
		o.cache.Set(cacheKey(params), result.Results)
	}

	return result, nil
}

// vectorWithFallback は vector → lexical の順に高々1回ずつ試行する
func (o *Orchestrator) vectorWithFallback(ctx context.Context, params Params) (*Result, error) {
	outcome, vecErr := o.tryVector(ctx, params)
	if vecErr != nil {
		return nil, vecErr
	}

	if outcome != nil && len(outcome.Results) > 0 {
		o.logger.Info("retrieval done", "state", DoneVector, "results", len(outcome.Results))
		return &Result{Results: outcome.Results, State: DoneVector}, nil
	}

	emptyReason := search.EmptyReasonNone
	if outcome != nil {
		emptyReason = outcome.EmptyReason
	}

	o.logger.Info("vector strategy yielded nothing, falling back to lexical",
		"emptyReason", string(emptyReason),
	)

	lexResults, err := o.tryLexical(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(lexResults) > 0 {
		o.logger.Info("retrieval done", "state", DoneLexical, "results", len(lexResults))
		return &Result{Results: lexResults, State: DoneLexical}, nil
	}

	o.logger.Info("retrieval done", "state", DoneEmpty, "emptyReason", string(emptyReason))
	return &Result{State: DoneEmpty, EmptyReason: emptyReason}, nil
}

func (o *Orchestrator) lexicalOnly(ctx context.Context, params Params) (*Result, error) {
	results, err := o.tryLexical(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Result{State: DoneEmpty, EmptyReason: search.EmptyReasonFilterExcluded}, nil
	}
	return &Result{Results: results, State: DoneLexical}, nil
}

// hybrid は両戦略を実行し、重み付きスコアでマージする
func (o *Orchestrator) hybrid(ctx context.Context, params Params) (*Result, error) {
	outcome, vecErr := o.tryVector(ctx, params)
	if vecErr != nil {
		return nil, vecErr
	}

	lexResults, err := o.tryLexical(ctx, params)
	if err != nil {
		return nil, err
	}

	var vecResults []search.SearchResult
	if outcome != nil {
		vecResults = outcome.Results
	}

	switch {
	case len(vecResults) == 0 && len(lexResults) == 0:
		o.logger.Info("retrieval done", "state", DoneEmpty)
		reason := search.EmptyReasonNone
		if outcome != nil {
			reason = outcome.EmptyReason
		}
		return &Result{State: DoneEmpty, EmptyReason: reason}, nil
	case len(vecResults) == 0:
		o.logger.Info("retrieval done", "state", DoneLexical, "results", len(lexResults))
		return &Result{Results: lexResults, State: DoneLexical}, nil
	case len(lexResults) == 0:
		o.logger.Info("retrieval done", "state", DoneVector, "results", len(vecResults))
		return &Result{Results: vecResults, State: DoneVector}, nil
	}

	merged := o.merge(vecResults, lexResults, params.TopK)
	o.logger.Info("retrieval done", "state", DoneHybrid, "results", len(merged))
	return &Result{Results: merged, State: DoneHybrid}, nil
}

// tryVector はベクトル戦略を1回試行する。
// 次元不一致は「この構成ではベクトル検索不能」として nil を返し字句戦略へ譲る。
func (o *Orchestrator) tryVector(ctx context.Context, params Params) (*search.VectorOutcome, error) {
	embedded, err := o.gateway.EmbedQuery(ctx, params.Query)
	if err != nil {
		var vErr *embedding.ValidationError
		if errors.As(err, &vErr) {
			return nil, err
		}
		// Embedding不能でもクエリ全体は落とさず字句検索で継続する
		o.logger.Warn("query embedding failed, vector strategy unusable", "error", err)
		return nil, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, o.searchTimeout)
	defer cancel()

	outcome, err := o.executor.VectorSearch(searchCtx, search.VectorParams{
		Vector:    embedded.Vector,
		Provider:  embedded.Provider.String(),
		Model:     embedded.Model,
		Dimension: embedded.Dimension,
		Filter:    params.Filter,
		TopK:      params.TopK,
		Threshold: params.Threshold,
	})
	if err != nil {
		var dimErr *search.DimensionMismatchError
		if errors.As(err, &dimErr) {
			o.logger.Warn("vector index unusable for this provider configuration",
				"queryDimension", dimErr.QueryDimension,
				"indexDimension", dimErr.IndexDimension,
			)
			return nil, nil
		}
		if errors.Is(err, search.ErrTenantRequired) || ctx.Err() != nil {
			return nil, err
		}
		// ストア障害はベクトル戦略のみの失敗として扱う
		o.logger.Warn("vector search failed, falling back", "error", err)
		return nil, nil
	}

	return outcome, nil
}

func (o *Orchestrator) tryLexical(ctx context.Context, params Params) ([]search.SearchResult, error) {
	searchCtx, cancel := context.WithTimeout(ctx, o.searchTimeout)
	defer cancel()

	results, err := o.executor.LexicalSearch(searchCtx, search.LexicalParams{
		Query:  params.Query,
		Filter: params.Filter,
		TopK:   params.TopK,
	})
	if err != nil {
		if errors.Is(err, search.ErrTenantRequired) || ctx.Err() != nil {
			return nil, err
		}
		o.logger.Warn("lexical search failed", "error", err)
		return nil, nil
	}
	return results, nil
}

// merge は正規化済みベクトルスコアと字句順位スコアを重み付き合成し、
// チャンクIDで重複排除（高スコア優先）して上位 topK を返す
func (o *Orchestrator) merge(vecResults, lexResults []search.SearchResult, topK int) []search.SearchResult {
	if topK <= 0 {
		topK = search.DefaultTopK
	}

	combined := make(map[string]search.SearchResult)
	for _, r := range vecResults {
		r.Score = r.Score * o.vectorWeight
		r.Strategy = search.StrategyHybrid
		combined[r.Ref.String()] = r
	}
	for _, r := range lexResults {
		key := r.Ref.String()
		lexScore := r.Score * o.lexicalWeight
		if existing, ok := combined[key]; ok {
			existing.Score += lexScore
			combined[key] = existing
			continue
		}
		r.Score = lexScore
		r.Strategy = search.StrategyHybrid
		combined[key] = r
	}

	merged := make([]search.SearchResult, 0, len(combined))
	for _, r := range combined {
		merged = append(merged, r)
	}
	search.SortResults(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

func stateForResults(results []search.SearchResult) State {
	if len(results) == 0 {
		return DoneEmpty
	}
	switch results[0].Strategy {
	case search.StrategyLexical:
		return DoneLexical
	case search.StrategyHybrid:
		return DoneHybrid
	default:
		return DoneVector
	}
}

func cacheKey(params Params) string {
	return fmt.Sprintf("%s|%s|%v|%v|%s|%s|%d|%.3f",
		params.Query,
		params.Filter.TenantID,
		params.Filter.AgentIDs,
		params.Filter.BrandIDs,
		params.Filter.ContentType,
		params.Strategy,
		params.TopK,
		params.Threshold,
	)
}
