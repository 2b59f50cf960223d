package knowledge

import (
	"fmt"

	"github.com/google/uuid"
)

// CorrelationReason はチャンク・ベクトル対応の破れの種別を表す
type CorrelationReason string

const (
	// ReasonLengthMismatch はチャンク数とEmbedding数の不一致
	ReasonLengthMismatch CorrelationReason = "length_mismatch"
	// ReasonDimensionMismatch はユニット宣言次元とベクトル次元の不一致
	ReasonDimensionMismatch CorrelationReason = "dimension_mismatch"
	// ReasonMissingProvider はEmbedding保持時のプロバイダ情報欠落
	ReasonMissingProvider CorrelationReason = "missing_provider_metadata"
)

// CorrelationError はチャンク・ベクトル対応不変条件の違反を表す
type CorrelationError struct {
	UnitID uuid.UUID
	Reason CorrelationReason
	Detail string
}

func (e *CorrelationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("correlation violation on unit %s: %s", e.UnitID, e.Reason)
	}
	return fmt.Sprintf("correlation violation on unit %s: %s (%s)", e.UnitID, e.Reason, e.Detail)
}

// Validate はチャンク・ベクトル対応不変条件を検証する。
// 取り込み時（書き込み前の拒否判定）と検索時（読み取り前の除外判定）の両方で用いる。
//
// 検証項目:
//   - len(Embeddings) == len(Chunks)
//   - 全ベクトルがユニット宣言の Dimension と一致する
//   - Embedding を保持するユニットはプロバイダ情報を持つ
//
// Chunks と Embeddings がともに空のユニットは検証対象外として nil を返す。
// Status による免除はない。チャンクを持ち Embedding を持たない中間状態の
// ユニットは長さ不一致として報告される。
func Validate(unit *KnowledgeUnit) error {
	if unit == nil {
		return fmt.Errorf("unit is nil")
	}

	if len(unit.Embeddings) == 0 && len(unit.Chunks) == 0 {
		return nil
	}

	if len(unit.Embeddings) != len(unit.Chunks) {
		return &CorrelationError{
			UnitID: unit.ID,
			Reason: ReasonLengthMismatch,
			Detail: fmt.Sprintf("chunks=%d embeddings=%d", len(unit.Chunks), len(unit.Embeddings)),
		}
	}

	if unit.Provider.IsZero() {
		return &CorrelationError{
			UnitID: unit.ID,
			Reason: ReasonMissingProvider,
		}
	}

	for i, vec := range unit.Embeddings {
		if len(vec) != unit.Provider.Dimension {
			return &CorrelationError{
				UnitID: unit.ID,
				Reason: ReasonDimensionMismatch,
				Detail: fmt.Sprintf("embeddings[%d] has %d dims, unit declares %d", i, len(vec), unit.Provider.Dimension),
			}
		}
	}

	return nil
}
