package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/hayasaka/kb-rag/internal/core/retrieval"
	"github.com/hayasaka/kb-rag/internal/core/search"
)

var (
	// ErrGenerationUnavailable は再試行後も生成バックエンドが失敗した場合のエラー
	ErrGenerationUnavailable = errors.New("generation unavailable: backend failed after retry")

	// ErrInvalidQuery は空クエリの同期的な拒否
	ErrInvalidQuery = errors.New("query must not be empty")

	// ErrInvalidTenantID はテナントID書式の同期的な拒否
	ErrInvalidTenantID = errors.New("invalid tenant id format")
)

var tenantIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

const (
	// DefaultMaxContextTokens はグラウンディングコンテキストのトークン予算デフォルト
	DefaultMaxContextTokens = 3000
	// DefaultMaxAnswerTokens は生成される回答のトークン上限デフォルト
	DefaultMaxAnswerTokens = 1000

	// InsufficientKnowledgeAnswer は検索0件時の決定的な回答文
	InsufficientKnowledgeAnswer = "I couldn't find any relevant information in the knowledge base to answer your question. " +
		"Please try rephrasing your question or ask about topics that have been added to the knowledge base."

	// GenerationFailedAnswer は生成失敗時の説明文。出典は併せて返却される。
	GenerationFailedAnswer = "I'm unable to generate an answer right now. " +
		"The sources listed below may still be relevant to your question."
)

// Generator はテキスト生成バックエンドのインターフェース
type Generator interface {
	GenerateCompletion(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// TokenCounter はコンテキスト予算管理用のトークンカウンタ
type TokenCounter interface {
	Count(text string) int
}

// Service は検索結果から出典付き回答を合成する
type Service struct {
	orchestrator     *retrieval.Orchestrator
	generator        Generator
	tokens           TokenCounter
	maxContextTokens int
	maxAnswerTokens  int
	logger           *slog.Logger
}

// ServiceOption は Service 構築時のオプション
type ServiceOption func(*Service)

// WithAnswerLogger は Service にロガーを設定する
func WithAnswerLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxContextTokens はコンテキストのトークン予算を設定する
func WithMaxContextTokens(tokens int) ServiceOption {
	return func(s *Service) {
		s.maxContextTokens = tokens
	}
}

// WithMaxAnswerTokens は回答のトークン上限を設定する
func WithMaxAnswerTokens(tokens int) ServiceOption {
	return func(s *Service) {
		s.maxAnswerTokens = tokens
	}
}

// NewService は新しい Service を作成する
func NewService(orchestrator *retrieval.Orchestrator, generator Generator, tokens TokenCounter, opts ...ServiceOption) *Service {
	s := &Service{
		orchestrator:     orchestrator,
		generator:        generator,
		tokens:           tokens,
		maxContextTokens: DefaultMaxContextTokens,
		maxAnswerTokens:  DefaultMaxAnswerTokens,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer は質問に対して検索・フォールバック・回答合成を実行する。
// 不正入力以外では常に構造化された RetrievalAnswer を返し、
// 生成失敗時も出典と success=false を返す（例外化しない）。
func (s *Service) Answer(ctx context.Context, params AnswerParams) (*RetrievalAnswer, error) {
	// 外部呼び出し前の同期バリデーション
	if params.Query == "" {
		return nil, ErrInvalidQuery
	}
	if params.TenantID == "" || !tenantIDPattern.MatchString(params.TenantID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTenantID, params.TenantID)
	}
	strategy, err := retrieval.ParseStrategy(params.Strategy)
	if err != nil {
		return nil, err
	}

	result, err := s.orchestrator.Retrieve(ctx, retrieval.Params{
		Query: params.Query,
		Filter: search.Filter{
			TenantID:    params.TenantID,
			AgentIDs:    params.AgentIDs,
			BrandIDs:    params.BrandIDs,
			ContentType: params.ContentType,
		},
		Strategy:  strategy,
		TopK:      params.TopK,
		Threshold: params.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	if result.State == retrieval.DoneEmpty {
		s.logger.Info("no relevant knowledge found",
			"tenantID", params.TenantID,
			"emptyReason", string(result.EmptyReason),
		)
		return &RetrievalAnswer{
			Answer:   InsufficientKnowledgeAnswer,
			Sources:  []Source{},
			Success:  false,
			Strategy: result.State.StrategyUsed(),
		}, nil
	}

	answerText, sources, genErr := s.synthesize(ctx, params.Query, result.Results)
	if genErr != nil {
		s.logger.Error("answer generation failed after retry", "error", genErr)
		return &RetrievalAnswer{
			Answer:   GenerationFailedAnswer,
			Sources:  sources,
			Success:  false,
			Strategy: result.State.StrategyUsed(),
		}, nil
	}

	return &RetrievalAnswer{
		Answer:   answerText,
		Sources:  sources,
		Success:  true,
		Strategy: result.State.StrategyUsed(),
	}, nil
}

// synthesize はトークン予算内でコンテキストを構築し、生成を実行する。
// 失敗時は予算を半減して1回だけ再試行する。
func (s *Service) synthesize(ctx context.Context, query string, results []search.SearchResult) (string, []Source, error) {
	contexts, sources := s.buildContext(query, results, s.maxContextTokens)

	prompt := BuildAnswerPrompt(query, contexts)
	answerText, err := s.generator.GenerateCompletion(ctx, prompt, s.maxAnswerTokens)
	if err == nil {
		return answerText, sources, nil
	}

	if ctx.Err() != nil {
		return "", sources, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	s.logger.Warn("generation failed, retrying with halved context budget", "error", err)

	contexts, sources = s.buildContext(query, results, s.maxContextTokens/2)
	prompt = BuildAnswerPrompt(query, contexts)
	answerText, retryErr := s.generator.GenerateCompletion(ctx, prompt, s.maxAnswerTokens)
	if retryErr != nil {
		return "", sources, fmt.Errorf("%w: %v", ErrGenerationUnavailable, retryErr)
	}

	return answerText, sources, nil
}

// buildContext はスコア順にソーステキストを予算いっぱいまで連結する。
// 予算超過による切り捨ては発生件数をログに残す（呼び出し側から観測可能な事象）。
func (s *Service) buildContext(query string, results []search.SearchResult, budget int) ([]search.SearchResult, []Source) {
	queryTokens := s.tokens.Count(query)
	used := queryTokens

	contexts := make([]search.SearchResult, 0, len(results))
	sources := make([]Source, 0, len(results))

	dropped := 0
	for _, r := range results {
		cost := s.tokens.Count(r.Content)
		if used+cost > budget && len(contexts) > 0 {
			dropped++
			continue
		}
		if used+cost > budget {
			// 先頭チャンク単体で予算超過の場合も1件は必ず含める（回答不能を避ける）
			s.logger.Warn("first source exceeds context budget, including it anyway",
				"ref", r.Ref.String(), "tokens", cost, "budget", budget)
		}
		used += cost
		contexts = append(contexts, r)
		sources = append(sources, Source{
			Ref:      r.Ref,
			UnitID:   r.UnitID,
			Title:    r.Title,
			Score:    r.Score,
			Strategy: r.Strategy,
		})
	}

	if dropped > 0 {
		s.logger.Info("context budget exhausted, sources dropped",
			"included", len(contexts),
			"dropped", dropped,
			"budgetTokens", budget,
		)
	}

	return contexts, sources
}
