package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hayasaka/kb-rag/internal/core/ingestion"
)

// ErrTextSourceRequired は取り込み対象のテキストが指定されていない場合のエラー
var ErrTextSourceRequired = errors.New("either --file or --text must be specified")

// IngestAction はドキュメント取り込みコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	filePath := cmd.String("file")
	text := cmd.String("text")

	if filePath == "" && text == "" {
		return ErrTextSourceRequired
	}
	if filePath != "" && text != "" {
		return errors.New("--file and --text are mutually exclusive")
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
		}
		text = string(data)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	params := ingestion.IngestParams{
		TenantID:    cmd.String("tenant"),
		Title:       cmd.String("title"),
		ContentType: cmd.String("content-type"),
		AgentIDs:    splitCSV(cmd.String("agents")),
		BrandIDs:    splitCSV(cmd.String("brands")),
		Text:        text,
	}

	appCtx.Logger().Info("ingesting document",
		"tenant", params.TenantID,
		"title", params.Title,
		"contentType", params.ContentType,
	)

	result, err := appCtx.Container.IngestService.Ingest(ctx, params)
	if err != nil {
		appCtx.Logger().Error("ingestion failed", "error", err)
		return err
	}

	fmt.Printf("Ingested: %s\n", result.UnitID)
	fmt.Printf("  chunks:   %d\n", result.ChunkCount)
	fmt.Printf("  tokens:   %d\n", result.TotalTokens)
	fmt.Printf("  provider: %s/%s (dim=%d)\n", result.Provider.Provider, result.Provider.Model, result.Provider.Dimension)
	fmt.Printf("  duration: %s\n", result.Duration)
	return nil
}
