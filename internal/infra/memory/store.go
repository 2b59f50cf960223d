package memory

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
	"github.com/hayasaka/kb-rag/internal/core/search"
)

// Store はメモリ上の総当たりナレッジストア。
// ベクトル検索・全文検索・ユニットリポジトリを1つの構造体で提供する。
// ローカル実行とシナリオテスト用であり、永続化はしない。
type Store struct {
	mu     sync.RWMutex
	units  map[uuid.UUID]*knowledge.KnowledgeUnit
	logger *slog.Logger
}

// StoreOption は Store のオプション設定
type StoreOption func(*Store)

// WithStoreLogger は Store にロガーを設定する
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore は新しい Store を作成する
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		units:  make(map[uuid.UUID]*knowledge.KnowledgeUnit),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// --- knowledge.Repository ---

// GetUnit はIDでユニットを取得する
func (s *Store) GetUnit(ctx context.Context, id uuid.UUID) (mo.Option[*knowledge.KnowledgeUnit], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.units[id]
	if !ok {
		return mo.None[*knowledge.KnowledgeUnit](), nil
	}
	clone := *unit
	return mo.Some(&clone), nil
}

// ListUnitsByTenant はテナント内の全ユニットを返す
func (s *Store) ListUnitsByTenant(ctx context.Context, tenantID string) ([]*knowledge.KnowledgeUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*knowledge.KnowledgeUnit
	for _, unit := range s.units {
		if unit.TenantID == tenantID {
			clone := *unit
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// SaveUnit はユニット全体を置き換える（部分更新はしない）
func (s *Store) SaveUnit(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *unit
	s.units[unit.ID] = &clone
	return nil
}

// UpdateStatus はユニットの処理状態のみを更新する
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.IndexingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit, ok := s.units[id]
	if !ok {
		return errors.New("unit not found")
	}
	unit.Status = status
	return nil
}

// DeleteUnit はユニットを削除する
func (s *Store) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.units, id)
	return nil
}

// --- search.VectorStore ---

// IndexInfo はストア内のベクトル構成を返す。次元は最古の有効ユニットの
// 宣言次元に従う（ユニット間の混在は Validate が防ぐ前提。混在時も
// CreatedAt・ID 順で決定的に選ぶ）。
func (s *Store) IndexInfo(ctx context.Context) (search.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := search.IndexInfo{Metric: search.MetricCosine}
	var oldest *knowledge.KnowledgeUnit
	for _, unit := range s.units {
		if unit.Status != knowledge.StatusReady || len(unit.Embeddings) == 0 {
			continue
		}
		if oldest == nil || unit.CreatedAt.Before(oldest.CreatedAt) ||
			(unit.CreatedAt.Equal(oldest.CreatedAt) && unit.ID.String() < oldest.ID.String()) {
			oldest = unit
		}
		info.Size += len(unit.Embeddings)
	}
	if oldest != nil {
		info.Dimension = oldest.Provider.Dimension
	}
	return info, nil
}

// ANNQuery は全ベクトルとの総当たりでコサイン距離の近い順に候補を返す。
// 読み出し時に整合性検証を行い、違反ユニットはスキップして警告を残す。
func (s *Store) ANNQuery(ctx context.Context, query search.ANNQuery) ([]search.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []search.Candidate
	for _, unit := range s.units {
		if !s.visible(unit, query.Filter) {
			continue
		}
		// クエリと異なるプロバイダ・モデルのベクトルとは比較しない
		if query.Provider != "" && unit.Provider.Provider != query.Provider {
			continue
		}
		if query.Model != "" && unit.Provider.Model != query.Model {
			continue
		}

		if err := knowledge.Validate(unit); err != nil {
			s.logger.Warn("skipping unit with correlation violation",
				"unitID", unit.ID,
				"error", err,
			)
			continue
		}

		for i, vec := range unit.Embeddings {
			candidates = append(candidates, search.Candidate{
				Ref:        knowledge.ChunkRef{UnitID: unit.ID, Ordinal: unit.Chunks[i].Ordinal},
				UnitID:     unit.ID,
				Title:      unit.Title,
				Content:    unit.Chunks[i].Content,
				RawScore:   cosineDistance(query.Vector, vec),
				IngestedAt: unit.UpdatedAt,
			})
		}
	}

	// 距離の近い順。同距離は ChunkRef で安定化する。
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RawScore != candidates[j].RawScore {
			return candidates[i].RawScore < candidates[j].RawScore
		}
		return candidates[i].Ref.String() < candidates[j].Ref.String()
	})

	if query.Candidates > 0 && len(candidates) > query.Candidates {
		candidates = candidates[:query.Candidates]
	}
	return candidates, nil
}

// --- search.LexicalStore ---

// LexicalQuery は大文字小文字を無視した語一致で候補を返す。
// 一致語数の多い順、同数なら取り込みの新しい順。
func (s *Store) LexicalQuery(ctx context.Context, text string, filter search.Filter, limit int) ([]search.Candidate, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		candidate search.Candidate
		matches   int
	}

	var hits []scored
	for _, unit := range s.units {
		if !s.visible(unit, filter) {
			continue
		}
		for _, ch := range unit.Chunks {
			content := strings.ToLower(ch.Content)
			matches := 0
			for _, term := range terms {
				if strings.Contains(content, term) {
					matches++
				}
			}
			if matches == 0 {
				continue
			}
			hits = append(hits, scored{
				candidate: search.Candidate{
					Ref:        knowledge.ChunkRef{UnitID: unit.ID, Ordinal: ch.Ordinal},
					UnitID:     unit.ID,
					Title:      unit.Title,
					Content:    ch.Content,
					RawScore:   float64(matches),
					IngestedAt: unit.UpdatedAt,
				},
				matches: matches,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		if !hits[i].candidate.IngestedAt.Equal(hits[j].candidate.IngestedAt) {
			return hits[i].candidate.IngestedAt.After(hits[j].candidate.IngestedAt)
		}
		return hits[i].candidate.Ref.String() < hits[j].candidate.Ref.String()
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	candidates := make([]search.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = h.candidate
	}
	return candidates, nil
}

// visible はユニットが検索フィルタの対象かを判定する
func (s *Store) visible(unit *knowledge.KnowledgeUnit, filter search.Filter) bool {
	if unit.Status != knowledge.StatusReady {
		return false
	}
	if !filter.SearchAllTenants() && unit.TenantID != filter.TenantID {
		return false
	}
	if filter.ContentType != "" && unit.ContentType != filter.ContentType {
		return false
	}
	if len(filter.AgentIDs) > 0 && !intersects(unit.AgentIDs, filter.AgentIDs) {
		return false
	}
	if len(filter.BrandIDs) > 0 && !intersects(unit.BrandIDs, filter.BrandIDs) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// cosineDistance は 1 - cosine類似度 を返す（値域 0〜2）
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// インターフェース実装の確認
var (
	_ knowledge.Repository = (*Store)(nil)
	_ search.VectorStore   = (*Store)(nil)
	_ search.LexicalStore  = (*Store)(nil)
)
