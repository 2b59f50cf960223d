package search

import (
	"time"

	"github.com/google/uuid"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
)

// Strategy は検索結果を生成した戦略を表す
type Strategy string

const (
	StrategyVector  Strategy = "vector"
	StrategyLexical Strategy = "lexical"
	StrategyHybrid  Strategy = "hybrid"
)

// AllTenants はテナント横断検索を明示的に許可するセンチネル値。
// 歴史的データが一貫したテナントIDを持たないための回避策として導入された
// 挙動をそのまま保持している（恒久仕様ではなくプロダクト要件の確認対象）。
const AllTenants = "1"

// Filter は検索時のテナント・ケイパビリティ絞り込み条件を表す
type Filter struct {
	TenantID    string
	AgentIDs    []string
	BrandIDs    []string
	ContentType string
}

// SearchAllTenants はテナント横断検索が指定されているかを返す
func (f Filter) SearchAllTenants() bool {
	return f.TenantID == AllTenants
}

// SearchResult はベクトル・全文検索の結果1件を表す。永続化はされない。
type SearchResult struct {
	Ref        knowledge.ChunkRef `json:"ref"`
	UnitID     uuid.UUID          `json:"unitID"`
	Title      string             `json:"title"`
	Content    string             `json:"content"`
	Score      float64            `json:"score"` // [0,1] に正規化済み、大きいほど関連
	Strategy   Strategy           `json:"strategy"`
	IngestedAt time.Time          `json:"ingestedAt"`
}

// EmptyReason は0件結果の運用上の原因を区別する
type EmptyReason string

const (
	// EmptyReasonNone は結果が存在することを表す
	EmptyReasonNone EmptyReason = ""
	// EmptyReasonCollectionEmpty はコレクション自体が空
	EmptyReasonCollectionEmpty EmptyReason = "collection_empty"
	// EmptyReasonFilterExcluded はフィルタが全候補を除外した
	EmptyReasonFilterExcluded EmptyReason = "filter_excluded"
	// EmptyReasonBelowThreshold は全候補が類似度閾値未満だった
	EmptyReasonBelowThreshold EmptyReason = "below_threshold"
)
