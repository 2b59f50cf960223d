package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	// ErrTenantRequired はテナントID未指定（かつセンチネル未使用）のエラー
	ErrTenantRequired = errors.New("tenant id is required (use the all-tenants sentinel to search across tenants)")
)

// DimensionMismatchError はクエリベクトルとインデックス構成の次元不一致を表す。
// ベクトル戦略にとって致命的であり、誤った類似度での継続は行わない。
type DimensionMismatchError struct {
	QueryDimension int
	IndexDimension int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("index dimension mismatch: query=%d index=%d", e.QueryDimension, e.IndexDimension)
}

const (
	// DefaultTopK は返却件数のデフォルト
	DefaultTopK = 5
	// DefaultCandidateMultiplier は過剰取得係数のデフォルト
	DefaultCandidateMultiplier = 10
	// MinCandidateMultiplier は再現率確保のための過剰取得係数の下限
	MinCandidateMultiplier = 3
)

// Executor は外部ストアへのANN・全文検索の実行とスコア正規化を担う
type Executor struct {
	vectors    VectorStore
	lexical    LexicalStore
	multiplier int
	logger     *slog.Logger
}

// ExecutorOption は Executor 構築時のオプション
type ExecutorOption func(*Executor)

// WithExecutorLogger は Executor にロガーを設定する
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithCandidateMultiplier は過剰取得係数を設定する（下限 MinCandidateMultiplier）
func WithCandidateMultiplier(multiplier int) ExecutorOption {
	return func(e *Executor) {
		e.multiplier = multiplier
	}
}

// NewExecutor は新しい Executor を作成する
func NewExecutor(vectors VectorStore, lexical LexicalStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		vectors:    vectors,
		lexical:    lexical,
		multiplier: DefaultCandidateMultiplier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.multiplier < MinCandidateMultiplier {
		e.multiplier = MinCandidateMultiplier
	}
	return e
}

// VectorParams はベクトル検索1回分のパラメータ
type VectorParams struct {
	Vector    []float32
	Provider  string
	Model     string
	Dimension int
	Filter    Filter
	TopK      int
	Threshold float64 // [0,1]、スコア計算後に適用
}

// VectorOutcome はベクトル検索の結果と0件診断を表す
type VectorOutcome struct {
	Results     []SearchResult
	EmptyReason EmptyReason
}

// VectorSearch はANN検索を1回実行し、正規化済み結果を返す。
// 0件はエラーではなく EmptyReason 付きで報告される。
// 次元不一致は *DimensionMismatchError として明示的に失敗する。
func (e *Executor) VectorSearch(ctx context.Context, params VectorParams) (*VectorOutcome, error) {
	if err := validateFilter(params.Filter); err != nil {
		return nil, err
	}

	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	info, err := e.vectors.IndexInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect vector index: %w", err)
	}

	// 空コレクションには意味のあるインデックス次元が存在しないため、
	// 次元検査より先に判定する。
	if info.Size == 0 {
		e.logger.Info("vector search on empty collection")
		return &VectorOutcome{EmptyReason: EmptyReasonCollectionEmpty}, nil
	}

	if params.Dimension != info.Dimension {
		return nil, &DimensionMismatchError{
			QueryDimension: params.Dimension,
			IndexDimension: info.Dimension,
		}
	}

	candidates, err := e.vectors.ANNQuery(ctx, ANNQuery{
		Vector:     params.Vector,
		Dimension:  params.Dimension,
		Provider:   params.Provider,
		Model:      params.Model,
		Metric:     info.Metric,
		Filter:     params.Filter,
		Candidates: topK * e.multiplier,
	})
	if err != nil {
		return nil, fmt.Errorf("ann query failed: %w", err)
	}

	if len(candidates) == 0 {
		e.logger.Info("vector search excluded all candidates by filter",
			"tenantID", params.Filter.TenantID,
			"allTenants", params.Filter.SearchAllTenants(),
		)
		return &VectorOutcome{EmptyReason: EmptyReasonFilterExcluded}, nil
	}

	// スコア正規化と閾値フィルタはストア外で行う。
	// ベクトルランキングと閾値を同時に扱えないクエリ言語があるため。
	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := NormalizeScore(info.Metric, c.RawScore)
		if score < params.Threshold {
			continue
		}
		results = append(results, SearchResult{
			Ref:        c.Ref,
			UnitID:     c.UnitID,
			Title:      c.Title,
			Content:    c.Content,
			Score:      score,
			Strategy:   StrategyVector,
			IngestedAt: c.IngestedAt,
		})
	}

	if len(results) == 0 {
		e.logger.Info("vector search: all candidates below threshold",
			"candidates", len(candidates),
			"threshold", params.Threshold,
		)
		return &VectorOutcome{EmptyReason: EmptyReasonBelowThreshold}, nil
	}

	SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	return &VectorOutcome{Results: results}, nil
}

// LexicalParams は全文検索1回分のパラメータ
type LexicalParams struct {
	Query  string
	Filter Filter
	TopK   int
}

// LexicalSearch は全文検索を1回実行する。スコアは逆順位（1/(1+rank)）で与える。
func (e *Executor) LexicalSearch(ctx context.Context, params LexicalParams) ([]SearchResult, error) {
	if err := validateFilter(params.Filter); err != nil {
		return nil, err
	}

	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	candidates, err := e.lexical.LexicalQuery(ctx, params.Query, params.Filter, topK)
	if err != nil {
		return nil, fmt.Errorf("lexical query failed: %w", err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for i, c := range candidates {
		results = append(results, SearchResult{
			Ref:        c.Ref,
			UnitID:     c.UnitID,
			Title:      c.Title,
			Content:    c.Content,
			Score:      1.0 / float64(1+i),
			Strategy:   StrategyLexical,
			IngestedAt: c.IngestedAt,
		})
	}

	return results, nil
}

func validateFilter(filter Filter) error {
	if filter.TenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

// NormalizeScore はストア固有の生スコアを [0,1] の類似度へ正規化する。
// RawScore の規約: cosine はコサイン距離（0〜2）、innerproduct は負の内積
// （正規化済みベクトル同士なら -1〜1）。
func NormalizeScore(metric Metric, raw float64) float64 {
	var score float64
	switch metric {
	case MetricInnerProduct:
		score = (1 - raw) / 2
	default: // cosine
		score = 1 - raw/2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// SortResults はスコア降順・同点時は取り込みの新しい順・最終的に ChunkRef で
// 安定に並べ替える。同一入力に対する結果順の決定性を保証する。
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].IngestedAt.Equal(results[j].IngestedAt) {
			return results[i].IngestedAt.After(results[j].IngestedAt)
		}
		return results[i].Ref.String() < results[j].Ref.String()
	})
}
