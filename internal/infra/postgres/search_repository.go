package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
	"github.com/hayasaka/kb-rag/internal/core/search"
)

// SearchStore は pgvector によるANN検索と tsvector による全文検索を提供する。
// 生スコアの規約: cosine は `<=>`（コサイン距離）、innerproduct は `<#>`
// （負の内積）の値をそのまま返し、正規化は呼び出し側が行う。
type SearchStore struct {
	pool   *pgxpool.Pool
	metric search.Metric
}

// SearchStoreOption は SearchStore のオプション設定
type SearchStoreOption func(*SearchStore)

// WithMetric は距離種別を設定する（デフォルト cosine）
func WithMetric(metric search.Metric) SearchStoreOption {
	return func(s *SearchStore) {
		s.metric = metric
	}
}

// NewSearchStore は新しい SearchStore を返す。
func NewSearchStore(pool *pgxpool.Pool, opts ...SearchStoreOption) *SearchStore {
	s := &SearchStore{
		pool:   pool,
		metric: search.MetricCosine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ search.VectorStore  = (*SearchStore)(nil)
	_ search.LexicalStore = (*SearchStore)(nil)
)

// IndexInfo は検索対象ベクトルの構成を返す。次元は ready なユニットの宣言値。
func (s *SearchStore) IndexInfo(ctx context.Context) (search.IndexInfo, error) {
	info := search.IndexInfo{Metric: s.metric}

	row := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((
				SELECT u.dimension FROM knowledge_units u
				WHERE u.status = 'ready' AND u.dimension > 0
				ORDER BY u.created_at, u.id
				LIMIT 1
			), 0),
			(
				SELECT count(*) FROM unit_chunks c
				JOIN knowledge_units u ON u.id = c.unit_id
				WHERE u.status = 'ready' AND c.embedding IS NOT NULL
			)`)

	var size int64
	if err := row.Scan(&info.Dimension, &size); err != nil {
		return search.IndexInfo{}, fmt.Errorf("failed to inspect index: %w", err)
	}
	info.Size = int(size)
	return info, nil
}

// ANNQuery は距離演算子による近傍検索を実行する。
// フィルタとプロバイダ一致はSQL側で適用し、候補数で打ち切る。
func (s *SearchStore) ANNQuery(ctx context.Context, query search.ANNQuery) ([]search.Candidate, error) {
	operator := "<=>"
	if query.Metric == search.MetricInnerProduct {
		operator = "<#>"
	}

	agentIDs, err := StringSliceToJSON(query.Filter.AgentIDs)
	if err != nil {
		return nil, err
	}
	brandIDs, err := StringSliceToJSON(query.Filter.BrandIDs)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT c.unit_id, c.ordinal, u.title, c.content,
		       c.embedding %s $1 AS raw_score,
		       u.updated_at
		FROM unit_chunks c
		JOIN knowledge_units u ON u.id = c.unit_id
		WHERE u.status = 'ready'
		  AND c.embedding IS NOT NULL
		  AND u.provider = $2
		  AND u.model = $3
		  AND u.dimension = $4
		  AND ($5 OR u.tenant_id = $6)
		  AND ($7 = '' OR u.content_type = $7)
		  AND (jsonb_array_length($8::jsonb) = 0 OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(u.agent_ids) a
				WHERE a.value IN (SELECT jsonb_array_elements_text($8::jsonb))
		  ))
		  AND (jsonb_array_length($9::jsonb) = 0 OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(u.brand_ids) b
				WHERE b.value IN (SELECT jsonb_array_elements_text($9::jsonb))
		  ))
		ORDER BY raw_score
		LIMIT $10`, operator)

	rows, err := s.pool.Query(ctx, sql,
		pgvector.NewVector(query.Vector),
		query.Provider,
		query.Model,
		query.Dimension,
		query.Filter.SearchAllTenants(),
		query.Filter.TenantID,
		query.Filter.ContentType,
		agentIDs,
		brandIDs,
		query.Candidates,
	)
	if err != nil {
		return nil, fmt.Errorf("ann query failed: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// LexicalQuery は plainto_tsquery + ts_rank による全文検索を実行する。
// 生スコアは ts_rank の値（順位付けのみに使われ、正規化はしない）。
func (s *SearchStore) LexicalQuery(ctx context.Context, text string, filter search.Filter, limit int) ([]search.Candidate, error) {
	agentIDs, err := StringSliceToJSON(filter.AgentIDs)
	if err != nil {
		return nil, err
	}
	brandIDs, err := StringSliceToJSON(filter.BrandIDs)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.unit_id, c.ordinal, u.title, c.content,
		       ts_rank(c.tsv, plainto_tsquery('english', $1)) AS raw_score,
		       u.updated_at
		FROM unit_chunks c
		JOIN knowledge_units u ON u.id = c.unit_id
		WHERE u.status = 'ready'
		  AND c.tsv @@ plainto_tsquery('english', $1)
		  AND ($2 OR u.tenant_id = $3)
		  AND ($4 = '' OR u.content_type = $4)
		  AND (jsonb_array_length($5::jsonb) = 0 OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(u.agent_ids) a
				WHERE a.value IN (SELECT jsonb_array_elements_text($5::jsonb))
		  ))
		  AND (jsonb_array_length($6::jsonb) = 0 OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(u.brand_ids) b
				WHERE b.value IN (SELECT jsonb_array_elements_text($6::jsonb))
		  ))
		ORDER BY raw_score DESC, u.updated_at DESC, c.unit_id, c.ordinal
		LIMIT $7`,
		text,
		filter.SearchAllTenants(),
		filter.TenantID,
		filter.ContentType,
		agentIDs,
		brandIDs,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lexical query failed: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

type candidateRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandidates(rows candidateRows) ([]search.Candidate, error) {
	var candidates []search.Candidate
	for rows.Next() {
		var (
			c       search.Candidate
			unitID  [16]byte
			ordinal int
		)
		if err := rows.Scan(&unitID, &ordinal, &c.Title, &c.Content, &c.RawScore, &c.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.UnitID = unitID
		c.Ref = knowledge.ChunkRef{UnitID: c.UnitID, Ordinal: ordinal}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return candidates, nil
}
