package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hayasaka/kb-rag/internal/core/retrieval"
	"github.com/hayasaka/kb-rag/internal/core/search"
)

// SearchAction は回答生成なしの検索コマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	strategy, err := retrieval.ParseStrategy(cmd.String("strategy"))
	if err != nil {
		return fmt.Errorf("検索戦略の指定が不正です: %w", err)
	}

	params := retrieval.Params{
		Query: cmd.String("query"),
		Filter: search.Filter{
			TenantID:    cmd.String("tenant"),
			AgentIDs:    splitCSV(cmd.String("agents")),
			BrandIDs:    splitCSV(cmd.String("brands")),
			ContentType: cmd.String("content-type"),
		},
		Strategy:  strategy,
		TopK:      int(cmd.Int("top-k")),
		Threshold: cmd.Float("threshold"),
	}
	if params.TopK <= 0 {
		params.TopK = appCtx.Config.Search.TopK
	}
	if params.Threshold <= 0 {
		params.Threshold = appCtx.Config.Search.SimilarityThreshold
	}

	appCtx.Logger().Info("executing search",
		"tenant", params.Filter.TenantID,
		"strategy", string(strategy),
		"topK", params.TopK,
	)

	result, err := appCtx.Container.Orchestrator.Retrieve(ctx, params)
	if err != nil {
		appCtx.Logger().Error("search failed", "error", err)
		return err
	}

	if cmd.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Results) == 0 {
		fmt.Printf("No results (reason: %s)\n", result.EmptyReason)
		return nil
	}

	fmt.Printf("Strategy: %s\n\n", result.State.StrategyUsed())
	for i, r := range result.Results {
		fmt.Printf("[%d] %s (score=%.3f, strategy=%s)\n", i+1, r.Title, r.Score, r.Strategy)
		fmt.Printf("    unit=%s chunk=%d\n", r.UnitID, r.Ref.Ordinal)
		fmt.Printf("    %s\n\n", truncate(r.Content, 200))
	}
	return nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
