package retrieval

import (
	"fmt"

	"github.com/hayasaka/kb-rag/internal/core/search"
)

// RequestedStrategy は呼び出し側が指定する検索戦略を表す
type RequestedStrategy string

const (
	StrategyAuto    RequestedStrategy = "auto"
	StrategyVector  RequestedStrategy = "vector"
	StrategyLexical RequestedStrategy = "lexical"
	StrategyHybrid  RequestedStrategy = "hybrid"
)

// ParseStrategy は戦略名を検証して RequestedStrategy を返す
func ParseStrategy(name string) (RequestedStrategy, error) {
	switch RequestedStrategy(name) {
	case StrategyAuto, StrategyVector, StrategyLexical, StrategyHybrid:
		return RequestedStrategy(name), nil
	case "":
		return StrategyAuto, nil
	default:
		return "", fmt.Errorf("unsupported search strategy: %q", name)
	}
}

// State は1クエリの検索状態遷移の終端状態を表す
type State string

const (
	DoneVector  State = "done_vector"
	DoneLexical State = "done_lexical"
	DoneHybrid  State = "done_hybrid"
	DoneEmpty   State = "done_empty"
)

// StrategyUsed は終端状態に対応する戦略名を返す（empty は戦略なしの明示値）
func (s State) StrategyUsed() string {
	switch s {
	case DoneVector:
		return string(search.StrategyVector)
	case DoneLexical:
		return string(search.StrategyLexical)
	case DoneHybrid:
		return string(search.StrategyHybrid)
	default:
		return "empty"
	}
}

// Params は検索オーケストレーション1回分のパラメータ
type Params struct {
	Query     string
	Filter    search.Filter
	Strategy  RequestedStrategy
	TopK      int
	Threshold float64
}

// Result は検索オーケストレーションの結果を表す
type Result struct {
	Results     []search.SearchResult
	State       State
	EmptyReason search.EmptyReason // DoneEmpty のときの診断
}
