package knowledge

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validUnit() *KnowledgeUnit {
	return &KnowledgeUnit{
		ID:       uuid.New(),
		TenantID: "t1",
		Title:    "refund policy",
		Chunks: []Chunk{
			{Ordinal: 0, Content: "Our refund policy allows 30 days..."},
			{Ordinal: 1, Content: "Shipping takes 5 days..."},
		},
		Embeddings: [][]float32{
			{0.1, 0.2, 0.3},
			{0.4, 0.5, 0.6},
		},
		Provider: ProviderMetadata{Provider: "local", Model: "local-hash-v1", Dimension: 3},
		Status:   StatusReady,
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, Validate(validUnit()))
}

func TestValidate_EmptyUnitIsValid(t *testing.T) {
	unit := &KnowledgeUnit{ID: uuid.New(), Status: StatusPending}
	require.NoError(t, Validate(unit))
}

func TestValidate_LengthMismatch(t *testing.T) {
	unit := validUnit()
	unit.Embeddings = unit.Embeddings[:1] // deliberately corrupt

	err := Validate(unit)
	require.Error(t, err)

	var corrErr *CorrelationError
	require.True(t, errors.As(err, &corrErr))
	assert.Equal(t, unit.ID, corrErr.UnitID)
	assert.Equal(t, ReasonLengthMismatch, corrErr.Reason)
}

func TestValidate_PendingUnitWithChunksIsNotExempt(t *testing.T) {
	// Embedding 未生成でもチャンクを持つ時点で長さ不一致として扱う
	unit := validUnit()
	unit.Status = StatusPending
	unit.Embeddings = nil

	err := Validate(unit)
	require.Error(t, err)

	var corrErr *CorrelationError
	require.True(t, errors.As(err, &corrErr))
	assert.Equal(t, ReasonLengthMismatch, corrErr.Reason)
}

func TestValidate_DimensionMismatch(t *testing.T) {
	unit := validUnit()
	unit.Embeddings[1] = []float32{0.1, 0.2} // wrong dimension

	err := Validate(unit)
	require.Error(t, err)

	var corrErr *CorrelationError
	require.True(t, errors.As(err, &corrErr))
	assert.Equal(t, ReasonDimensionMismatch, corrErr.Reason)
}

func TestValidate_MissingProviderMetadata(t *testing.T) {
	unit := validUnit()
	unit.Provider = ProviderMetadata{}

	err := Validate(unit)
	require.Error(t, err)

	var corrErr *CorrelationError
	require.True(t, errors.As(err, &corrErr))
	assert.Equal(t, ReasonMissingProvider, corrErr.Reason)
}

func TestChunkRef_String(t *testing.T) {
	id := uuid.MustParse("6a3975f0-74b7-4a92-8a4c-9c73f3f0a111")
	ref := ChunkRef{UnitID: id, Ordinal: 3}
	assert.Equal(t, "6a3975f0-74b7-4a92-8a4c-9c73f3f0a111#3", ref.String())
}
