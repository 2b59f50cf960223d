package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hayasaka/kb-rag/internal/core/answer"
)

// AskAction はナレッジベースへの質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	params := answer.AnswerParams{
		Query:       cmd.String("query"),
		TenantID:    cmd.String("tenant"),
		AgentIDs:    splitCSV(cmd.String("agents")),
		BrandIDs:    splitCSV(cmd.String("brands")),
		ContentType: cmd.String("content-type"),
		TopK:        int(cmd.Int("top-k")),
		Threshold:   cmd.Float("threshold"),
		Strategy:    cmd.String("strategy"),
	}
	if params.TopK <= 0 {
		params.TopK = appCtx.Config.Search.TopK
	}
	if params.Threshold <= 0 {
		params.Threshold = appCtx.Config.Search.SimilarityThreshold
	}

	appCtx.Logger().Info("answering question",
		"tenant", params.TenantID,
		"strategy", params.Strategy,
		"topK", params.TopK,
	)

	result, err := appCtx.Container.AnswerService.Answer(ctx, params)
	if err != nil {
		appCtx.Logger().Error("failed to answer question", "error", err)
		return err
	}

	if cmd.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, source := range result.Sources {
			fmt.Printf("  [%d] %s (score=%.3f, strategy=%s, unit=%s)\n",
				i+1, source.Title, source.Score, source.Strategy, source.UnitID)
		}
	}
	return nil
}
