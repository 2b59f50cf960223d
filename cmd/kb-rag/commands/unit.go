package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// UnitListAction はテナント内のユニット一覧を表示するコマンドのアクション
func UnitListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	tenantID := cmd.String("tenant")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	units, err := appCtx.Container.Repository.ListUnitsByTenant(ctx, tenantID)
	if err != nil {
		appCtx.Logger().Error("failed to list units", "error", err)
		return err
	}

	if len(units) == 0 {
		fmt.Println("No knowledge units found")
		return nil
	}

	for _, unit := range units {
		fmt.Printf("%s  %-10s  %-30s  chunks=%d  %s\n",
			unit.ID, unit.Status, unit.Title, len(unit.Chunks), unit.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// UnitShowAction はユニット詳細を表示するコマンドのアクション
func UnitShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	unitID, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("ユニットIDの形式が不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	maybeUnit, err := appCtx.Container.Repository.GetUnit(ctx, unitID)
	if err != nil {
		appCtx.Logger().Error("failed to get unit", "error", err)
		return err
	}
	unit, ok := maybeUnit.Get()
	if !ok {
		return fmt.Errorf("knowledge unit not found: %s", unitID)
	}

	fmt.Printf("ID:           %s\n", unit.ID)
	fmt.Printf("Tenant:       %s\n", unit.TenantID)
	fmt.Printf("Title:        %s\n", unit.Title)
	fmt.Printf("ContentType:  %s\n", unit.ContentType)
	fmt.Printf("Status:       %s\n", unit.Status)
	fmt.Printf("AgentIDs:     %v\n", unit.AgentIDs)
	fmt.Printf("BrandIDs:     %v\n", unit.BrandIDs)
	fmt.Printf("Chunks:       %d\n", len(unit.Chunks))
	fmt.Printf("Embeddings:   %d\n", len(unit.Embeddings))
	if !unit.Provider.IsZero() {
		fmt.Printf("Provider:     %s/%s (dim=%d)\n", unit.Provider.Provider, unit.Provider.Model, unit.Provider.Dimension)
	}
	fmt.Printf("CreatedAt:    %s\n", unit.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("UpdatedAt:    %s\n", unit.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

// UnitReindexAction はユニットのEmbeddingを再生成するコマンドのアクション
func UnitReindexAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	unitID, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("ユニットIDの形式が不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	appCtx.Logger().Info("reindexing unit", "unitID", unitID)

	if err := appCtx.Container.IngestService.Reindex(ctx, unitID); err != nil {
		appCtx.Logger().Error("reindex failed", "error", err)
		return err
	}

	fmt.Printf("Reindexed: %s\n", unitID)
	return nil
}

// UnitForgetAction はユニットのEmbeddingのみを削除するコマンドのアクション
func UnitForgetAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	unitID, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("ユニットIDの形式が不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.IngestService.RemoveEmbeddings(ctx, unitID); err != nil {
		appCtx.Logger().Error("failed to remove embeddings", "error", err)
		return err
	}

	fmt.Printf("Removed embeddings: %s\n", unitID)
	return nil
}

// UnitDeleteAction はユニットを完全に削除するコマンドのアクション
func UnitDeleteAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	unitID, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("ユニットIDの形式が不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.IngestService.Delete(ctx, unitID); err != nil {
		appCtx.Logger().Error("failed to delete unit", "error", err)
		return err
	}

	fmt.Printf("Deleted: %s\n", unitID)
	return nil
}
