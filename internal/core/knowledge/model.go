package knowledge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IndexingStatus はナレッジユニットのインデックス処理状態を表す
type IndexingStatus string

const (
	StatusPending    IndexingStatus = "pending"
	StatusProcessing IndexingStatus = "processing"
	StatusReady      IndexingStatus = "ready"
	StatusFailed     IndexingStatus = "failed"
)

// ProviderMetadata はユニットのEmbedding生成に使われたプロバイダ情報を表す。
// 公称設定ではなく、実際に使用されたプロバイダ・モデルを記録する。
type ProviderMetadata struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// IsZero はプロバイダ情報が未設定かどうかを返す
func (m ProviderMetadata) IsZero() bool {
	return m.Provider == "" && m.Model == "" && m.Dimension == 0
}

// Chunk はドキュメントから抽出された連続テキスト断片を表す。
// Ordinal が Embedding との唯一の対応キーとなる。
type Chunk struct {
	Ordinal    int    `json:"ordinal"`
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount"`
}

// ChunkRef はユニットIDと序数からなるチャンク識別子を表す
type ChunkRef struct {
	UnitID  uuid.UUID `json:"unitID"`
	Ordinal int       `json:"ordinal"`
}

// String は "<unitID>#<ordinal>" 形式の識別子文字列を返す
func (r ChunkRef) String() string {
	return fmt.Sprintf("%s#%d", r.UnitID, r.Ordinal)
}

// KnowledgeUnit はナレッジベースに取り込まれた1ドキュメント（ファイル・Webページ・
// 動画書き起こし等）を表す。検索コアからは読み取り専用のスナップショットとして扱う。
type KnowledgeUnit struct {
	ID          uuid.UUID        `json:"id"`
	TenantID    string           `json:"tenantID"`
	Title       string           `json:"title"`
	ContentType string           `json:"contentType"`
	AgentIDs    []string         `json:"agentIDs"`
	BrandIDs    []string         `json:"brandIDs"`
	Chunks      []Chunk          `json:"chunks"`
	Embeddings  [][]float32      `json:"-"`
	Provider    ProviderMetadata `json:"provider"`
	Status      IndexingStatus   `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ChunkRefAt は i 番目のチャンクへの参照を返す
func (u *KnowledgeUnit) ChunkRefAt(ordinal int) ChunkRef {
	return ChunkRef{UnitID: u.ID, Ordinal: ordinal}
}
