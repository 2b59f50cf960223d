package knowledge

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository はナレッジユニットのデータアクセスを統合するインターフェース。
// テスト時のモック用に消費者側で定義する。
type Repository interface {
	// GetUnit はIDでユニットを取得する
	GetUnit(ctx context.Context, id uuid.UUID) (mo.Option[*KnowledgeUnit], error)

	// ListUnitsByTenant はテナント内の全ユニットを取得する
	ListUnitsByTenant(ctx context.Context, tenantID string) ([]*KnowledgeUnit, error)

	// SaveUnit はユニットをチャンク・Embeddingごとアトミックに置換保存する。
	// 検索中の読み取りが書きかけのユニットを観測しないことを保証する。
	SaveUnit(ctx context.Context, unit *KnowledgeUnit) error

	// UpdateStatus はインデックス処理状態のみを更新する
	UpdateStatus(ctx context.Context, id uuid.UUID, status IndexingStatus) error

	// DeleteUnit はユニットとそのEmbeddingを削除する
	DeleteUnit(ctx context.Context, id uuid.UUID) error
}
