package search

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
)

// Metric は類似度計算の距離種別を表す。ストア側クエリ演算子の選択に使う。
type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricInnerProduct Metric = "innerproduct"
)

// IndexInfo は外部ベクトルストアのインデックス構成を表す
type IndexInfo struct {
	Dimension int    // インデックスが受け付けるベクトル次元
	Metric    Metric // インデックス構築時の距離種別
	Size      int    // インデックス済みベクトル総数
}

// ANNQuery は近似最近傍検索1回分のクエリを表す
type ANNQuery struct {
	Vector     []float32
	Dimension  int
	Provider   string // クエリベクトルの生成プロバイダ（候補と一致必須）
	Model      string // クエリベクトルの生成モデル（候補と一致必須）
	Metric     Metric
	Filter     Filter
	Candidates int // 打ち切り前に取得する候補数（top_k * multiplier）
}

// Candidate はストアから返される正規化前の候補を表す。
// RawScore の意味は Metric とストアのクエリ演算子に依存する。
type Candidate struct {
	Ref        knowledge.ChunkRef
	UnitID     uuid.UUID
	Title      string
	Content    string
	RawScore   float64
	IngestedAt time.Time
}

// VectorStore は外部ベクトルストアのANN検索インターフェース。
// テスト時のモック用に消費者側で定義する。
type VectorStore interface {
	// ANNQuery は類似上位候補を返す。フィルタはストア内で適用される。
	ANNQuery(ctx context.Context, query ANNQuery) ([]Candidate, error)

	// IndexInfo はインデックス構成を返す。次元検証と0件診断に使う。
	IndexInfo(ctx context.Context) (IndexInfo, error)
}

// LexicalStore は全文（字句）検索インターフェース
type LexicalStore interface {
	// LexicalQuery はクエリ文字列にマッチするチャンクをランク順で返す
	LexicalQuery(ctx context.Context, text string, filter Filter, limit int) ([]Candidate, error)
}
