package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// スキーマ定義。ベクトル列は次元を固定しない（プロバイダごとに次元が異なるため）。
// 次元固定が必要な ivfflat / hnsw インデックスは使わず、総当たり探索で検索する。
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS knowledge_units (
		id uuid PRIMARY KEY,
		tenant_id text NOT NULL,
		title text NOT NULL DEFAULT '',
		content_type text NOT NULL DEFAULT '',
		agent_ids jsonb NOT NULL DEFAULT '[]'::jsonb,
		brand_ids jsonb NOT NULL DEFAULT '[]'::jsonb,
		provider text NOT NULL DEFAULT '',
		model text NOT NULL DEFAULT '',
		dimension integer NOT NULL DEFAULT 0,
		status text NOT NULL,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS knowledge_units_tenant_idx
		ON knowledge_units (tenant_id)`,

	`CREATE TABLE IF NOT EXISTS unit_chunks (
		unit_id uuid NOT NULL REFERENCES knowledge_units(id) ON DELETE CASCADE,
		ordinal integer NOT NULL,
		content text NOT NULL,
		token_count integer NOT NULL DEFAULT 0,
		embedding vector,
		tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
		PRIMARY KEY (unit_id, ordinal)
	)`,

	`CREATE INDEX IF NOT EXISTS unit_chunks_tsv_idx
		ON unit_chunks USING gin (tsv)`,
}

// Migrate はスキーマを適用する。全文は冪等で、繰り返し実行できる。
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
