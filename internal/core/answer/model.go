package answer

import (
	"github.com/google/uuid"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
	"github.com/hayasaka/kb-rag/internal/core/search"
)

// Source は回答の根拠として実際に使用されたチャンクの出典を表す
type Source struct {
	Ref      knowledge.ChunkRef `json:"ref"`
	UnitID   uuid.UUID          `json:"unitID"`
	Title    string             `json:"title"`
	Score    float64            `json:"score"`
	Strategy search.Strategy    `json:"strategy"`
}

// RetrievalAnswer は質問応答の最終結果を表す。
// 生成に失敗した場合も Sources は保持される（出典は呼び出し側にとって有用なため）。
type RetrievalAnswer struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Success  bool     `json:"success"`
	Strategy string   `json:"strategy"`
}

// AnswerParams は質問応答1回分のパラメータ
type AnswerParams struct {
	Query       string
	TenantID    string
	AgentIDs    []string
	BrandIDs    []string
	ContentType string
	TopK        int
	Threshold   float64
	Strategy    string // vector | lexical | hybrid | auto（空はauto）
}
