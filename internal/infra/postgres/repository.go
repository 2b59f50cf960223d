package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
	"github.com/hayasaka/kb-rag/internal/platform/database"
)

// UnitRepository は knowledge.Repository を実装する PostgreSQL リポジトリ。
// ユニット本体と所属チャンクはトランザクション内で常に一括置換する。
type UnitRepository struct {
	pool *pgxpool.Pool
}

// NewUnitRepository は新しい UnitRepository を返す。
func NewUnitRepository(pool *pgxpool.Pool) *UnitRepository {
	return &UnitRepository{pool: pool}
}

var _ knowledge.Repository = (*UnitRepository)(nil)

// GetUnit はIDでユニットを取得する
func (r *UnitRepository) GetUnit(ctx context.Context, id uuid.UUID) (mo.Option[*knowledge.KnowledgeUnit], error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, title, content_type, agent_ids, brand_ids,
		       provider, model, dimension, status, created_at, updated_at
		FROM knowledge_units
		WHERE id = $1`,
		UUIDToPgtype(id),
	)

	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*knowledge.KnowledgeUnit](), nil
		}
		return mo.None[*knowledge.KnowledgeUnit](), fmt.Errorf("failed to get unit: %w", err)
	}

	if err := r.loadChunks(ctx, unit); err != nil {
		return mo.None[*knowledge.KnowledgeUnit](), err
	}
	return mo.Some(unit), nil
}

// ListUnitsByTenant はテナント内の全ユニットを返す（チャンク・ベクトル込み）
func (r *UnitRepository) ListUnitsByTenant(ctx context.Context, tenantID string) ([]*knowledge.KnowledgeUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, title, content_type, agent_ids, brand_ids,
		       provider, model, dimension, status, created_at, updated_at
		FROM knowledge_units
		WHERE tenant_id = $1
		ORDER BY created_at, id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []*knowledge.KnowledgeUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate units: %w", err)
	}

	for _, unit := range units {
		if err := r.loadChunks(ctx, unit); err != nil {
			return nil, err
		}
	}
	return units, nil
}

// SaveUnit はユニット全体を置き換える。チャンクとベクトルの部分更新は行わず、
// 既存行を削除してから挿入する（不整合な中間状態を外部に見せない）。
func (r *UnitRepository) SaveUnit(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	agentIDs, err := StringSliceToJSON(unit.AgentIDs)
	if err != nil {
		return err
	}
	brandIDs, err := StringSliceToJSON(unit.BrandIDs)
	if err != nil {
		return err
	}

	_, err = database.Transact(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		var zero struct{}

		// 同一ユニットへの並行書き込みを直列化する（置換中の削除済み状態を
		// 別の書き込みが上書きしないように）
		if err := database.AcquireLock(ctx, tx, database.LockID("knowledge_unit", unit.ID.String())); err != nil {
			return zero, err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO knowledge_units
				(id, tenant_id, title, content_type, agent_ids, brand_ids,
				 provider, model, dimension, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				tenant_id = EXCLUDED.tenant_id,
				title = EXCLUDED.title,
				content_type = EXCLUDED.content_type,
				agent_ids = EXCLUDED.agent_ids,
				brand_ids = EXCLUDED.brand_ids,
				provider = EXCLUDED.provider,
				model = EXCLUDED.model,
				dimension = EXCLUDED.dimension,
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at`,
			UUIDToPgtype(unit.ID),
			unit.TenantID,
			unit.Title,
			unit.ContentType,
			agentIDs,
			brandIDs,
			unit.Provider.Provider,
			unit.Provider.Model,
			unit.Provider.Dimension,
			string(unit.Status),
			TimeToPgtype(unit.CreatedAt),
			TimeToPgtype(unit.UpdatedAt),
		)
		if err != nil {
			return zero, fmt.Errorf("failed to upsert unit: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM unit_chunks WHERE unit_id = $1`, UUIDToPgtype(unit.ID)); err != nil {
			return zero, fmt.Errorf("failed to clear unit chunks: %w", err)
		}

		for i, ch := range unit.Chunks {
			var embedding any
			if i < len(unit.Embeddings) && unit.Embeddings[i] != nil {
				embedding = pgvector.NewVector(unit.Embeddings[i])
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO unit_chunks (unit_id, ordinal, content, token_count, embedding)
				VALUES ($1, $2, $3, $4, $5)`,
				UUIDToPgtype(unit.ID),
				ch.Ordinal,
				ch.Content,
				ch.TokenCount,
				embedding,
			)
			if err != nil {
				return zero, fmt.Errorf("failed to insert chunk %d: %w", ch.Ordinal, err)
			}
		}

		return zero, nil
	})
	return err
}

// UpdateStatus はユニットの処理状態のみを更新する
func (r *UnitRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.IndexingStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE knowledge_units SET status = $2, updated_at = now() WHERE id = $1`,
		UUIDToPgtype(id),
		string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unit not found: %s", id)
	}
	return nil
}

// DeleteUnit はユニットと所属チャンクを削除する（チャンクはCASCADE）
func (r *UnitRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM knowledge_units WHERE id = $1`, UUIDToPgtype(id)); err != nil {
		return fmt.Errorf("failed to delete unit: %w", err)
	}
	return nil
}

// loadChunks はユニットのチャンクとベクトルを順序付きで読み込む
func (r *UnitRepository) loadChunks(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	rows, err := r.pool.Query(ctx, `
		SELECT ordinal, content, token_count, embedding
		FROM unit_chunks
		WHERE unit_id = $1
		ORDER BY ordinal`,
		UUIDToPgtype(unit.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var hasEmbeddings bool
	for rows.Next() {
		var (
			ch        knowledge.Chunk
			embedding *pgvector.Vector
		)
		if err := rows.Scan(&ch.Ordinal, &ch.Content, &ch.TokenCount, &embedding); err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		unit.Chunks = append(unit.Chunks, ch)
		if embedding != nil {
			unit.Embeddings = append(unit.Embeddings, embedding.Slice())
			hasEmbeddings = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate chunks: %w", err)
	}

	if !hasEmbeddings {
		unit.Embeddings = nil
	}
	return nil
}

// scanUnit はユニット行を読み取る。チャンクは含まない。
func scanUnit(row pgx.Row) (*knowledge.KnowledgeUnit, error) {
	var (
		unit     knowledge.KnowledgeUnit
		id       [16]byte
		agentIDs []byte
		brandIDs []byte
		status   string
	)

	err := row.Scan(
		&id,
		&unit.TenantID,
		&unit.Title,
		&unit.ContentType,
		&agentIDs,
		&brandIDs,
		&unit.Provider.Provider,
		&unit.Provider.Model,
		&unit.Provider.Dimension,
		&status,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	unit.ID = id
	unit.Status = knowledge.IndexingStatus(status)

	if unit.AgentIDs, err = JSONToStringSlice(agentIDs); err != nil {
		return nil, err
	}
	if unit.BrandIDs, err = JSONToStringSlice(brandIDs); err != nil {
		return nil, err
	}
	return &unit, nil
}
