package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hayasaka/kb-rag/internal/core/embedding"
	"github.com/hayasaka/kb-rag/internal/core/ingestion/chunk"
	"github.com/hayasaka/kb-rag/internal/core/knowledge"
)

var (
	// ErrEmptyText は取り込み対象のテキストが空の場合のエラー
	ErrEmptyText = errors.New("ingestion: text is empty")
	// ErrTenantRequired はテナントIDが未指定の場合のエラー
	ErrTenantRequired = errors.New("ingestion: tenant id is required")
)

// IngestParams はナレッジ取り込みのパラメータを表す
type IngestParams struct {
	TenantID    string
	Title       string
	ContentType string
	AgentIDs    []string
	BrandIDs    []string
	Text        string
}

// IngestResult は取り込み処理の結果を表す
type IngestResult struct {
	UnitID      uuid.UUID
	ChunkCount  int
	TotalTokens int
	Provider    knowledge.ProviderMetadata
	Duration    time.Duration
}

// Service はナレッジの書き込みパイプラインを提供する。
// テキストの分割、ベクトル化、整合性検証、永続化を1ユニット単位で行う。
type Service struct {
	repository knowledge.Repository
	gateway    *embedding.Gateway
	chunker    *chunk.Chunker
	logger     *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithIngestLogger は Service にロガーを設定する
func WithIngestLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しいServiceを作成する
func NewService(repo knowledge.Repository, gateway *embedding.Gateway, chunker *chunk.Chunker, opts ...ServiceOption) *Service {
	s := &Service{
		repository: repo,
		gateway:    gateway,
		chunker:    chunker,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Ingest はテキストをチャンク化・ベクトル化してナレッジユニットとして保存する。
// 保存前に整合性検証を行い、違反したユニットは status=failed で記録して書き込みを拒否する。
func (s *Service) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	startTime := time.Now()

	if params.TenantID == "" {
		return nil, ErrTenantRequired
	}
	if params.Text == "" {
		return nil, ErrEmptyText
	}

	unit := &knowledge.KnowledgeUnit{
		ID:          uuid.New(),
		TenantID:    params.TenantID,
		Title:       params.Title,
		ContentType: params.ContentType,
		AgentIDs:    params.AgentIDs,
		BrandIDs:    params.BrandIDs,
		Status:      knowledge.StatusProcessing,
		CreatedAt:   startTime,
		UpdatedAt:   startTime,
	}

	unit.Chunks = s.chunker.Split(params.Text)
	if len(unit.Chunks) == 0 {
		return nil, ErrEmptyText
	}

	s.logger.Info("ingesting knowledge unit",
		"unitID", unit.ID,
		"tenantID", params.TenantID,
		"chunks", len(unit.Chunks),
	)

	embeddings, provider, err := s.embedChunks(ctx, unit.Chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	unit.Embeddings = embeddings
	unit.Provider = provider

	// 書き込み前の整合性検証。違反したユニットは保存しない。
	if err := knowledge.Validate(unit); err != nil {
		s.logger.Error("correlation check failed, rejecting write",
			"unitID", unit.ID,
			"error", err,
		)
		unit.Status = knowledge.StatusFailed
		unit.Embeddings = nil
		if saveErr := s.repository.SaveUnit(ctx, unit); saveErr != nil {
			s.logger.Warn("failed to record failed unit", "unitID", unit.ID, "error", saveErr)
		}
		return nil, fmt.Errorf("correlation check failed: %w", err)
	}

	unit.Status = knowledge.StatusReady
	unit.UpdatedAt = time.Now()
	if err := s.repository.SaveUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to save unit: %w", err)
	}

	totalTokens := 0
	for _, ch := range unit.Chunks {
		totalTokens += ch.TokenCount
	}

	duration := time.Since(startTime)
	s.logger.Info("knowledge unit ingested",
		"unitID", unit.ID,
		"chunks", len(unit.Chunks),
		"provider", provider.Provider,
		"model", provider.Model,
		"duration", duration,
	)

	return &IngestResult{
		UnitID:      unit.ID,
		ChunkCount:  len(unit.Chunks),
		TotalTokens: totalTokens,
		Provider:    provider,
		Duration:    duration,
	}, nil
}

// Reindex は既存ユニットのベクトルを現行プロバイダで再生成して置き換える。
func (s *Service) Reindex(ctx context.Context, unitID uuid.UUID) error {
	unitOpt, err := s.repository.GetUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("failed to get unit: %w", err)
	}
	if unitOpt.IsAbsent() {
		return fmt.Errorf("unit not found: %s", unitID)
	}
	unit := unitOpt.MustGet()

	if err := s.repository.UpdateStatus(ctx, unitID, knowledge.StatusProcessing); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	embeddings, provider, err := s.embedChunks(ctx, unit.Chunks)
	if err != nil {
		if statusErr := s.repository.UpdateStatus(ctx, unitID, knowledge.StatusFailed); statusErr != nil {
			s.logger.Warn("failed to mark unit failed", "unitID", unitID, "error", statusErr)
		}
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	unit.Embeddings = embeddings
	unit.Provider = provider

	if err := knowledge.Validate(unit); err != nil {
		if statusErr := s.repository.UpdateStatus(ctx, unitID, knowledge.StatusFailed); statusErr != nil {
			s.logger.Warn("failed to mark unit failed", "unitID", unitID, "error", statusErr)
		}
		return fmt.Errorf("correlation check failed: %w", err)
	}

	unit.Status = knowledge.StatusReady
	unit.UpdatedAt = time.Now()
	if err := s.repository.SaveUnit(ctx, unit); err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}

	s.logger.Info("knowledge unit reindexed",
		"unitID", unitID,
		"provider", provider.Provider,
		"model", provider.Model,
	)
	return nil
}

// RemoveEmbeddings はユニットのベクトルを破棄して status=pending に戻す。
// ユニット本体は残るため、後から Reindex で再登録できる。
func (s *Service) RemoveEmbeddings(ctx context.Context, unitID uuid.UUID) error {
	unitOpt, err := s.repository.GetUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("failed to get unit: %w", err)
	}
	if unitOpt.IsAbsent() {
		return fmt.Errorf("unit not found: %s", unitID)
	}
	unit := unitOpt.MustGet()

	unit.Embeddings = nil
	unit.Provider = knowledge.ProviderMetadata{}
	unit.Status = knowledge.StatusPending
	unit.UpdatedAt = time.Now()

	if err := s.repository.SaveUnit(ctx, unit); err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

// Delete はユニットを完全に削除する
func (s *Service) Delete(ctx context.Context, unitID uuid.UUID) error {
	if err := s.repository.DeleteUnit(ctx, unitID); err != nil {
		return fmt.Errorf("failed to delete unit: %w", err)
	}
	return nil
}

// embedChunks は全チャンクをゲートウェイの上限以下のバッチに分けてベクトル化する。
// 返すメタデータは実際に応答したプロバイダのもの（設定名義ではなく実測値）。
func (s *Service) embedChunks(ctx context.Context, chunks []knowledge.Chunk) ([][]float32, knowledge.ProviderMetadata, error) {
	batchSize := s.gateway.MaxBatchSize()
	embeddings := make([][]float32, 0, len(chunks))
	var provider knowledge.ProviderMetadata

	for offset := 0; offset < len(chunks); offset += batchSize {
		end := offset + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-offset)
		for _, ch := range chunks[offset:end] {
			texts = append(texts, ch.Content)
		}

		embedded, err := s.gateway.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, knowledge.ProviderMetadata{}, err
		}

		for _, e := range embedded {
			embeddings = append(embeddings, e.Vector)
			meta := knowledge.ProviderMetadata{
				Provider:  string(e.Provider),
				Model:     e.Model,
				Dimension: e.Dimension,
			}
			if provider.IsZero() {
				provider = meta
			} else if provider != meta {
				// フォールバックがバッチ途中で発生すると次元の混在が起きうる
				return nil, knowledge.ProviderMetadata{}, fmt.Errorf(
					"provider changed mid-ingestion: %s/%s -> %s/%s",
					provider.Provider, provider.Model, meta.Provider, meta.Model,
				)
			}
		}
	}

	return embeddings, provider, nil
}
