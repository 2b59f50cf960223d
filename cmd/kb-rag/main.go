package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/hayasaka/kb-rag/cmd/kb-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "kb-rag",
		Usage: "マルチテナント向けナレッジベース検索・質問応答システム",
		Commands: []*cli.Command{
			{
				Name:  "ask",
				Usage: "ナレッジベースに質問し、出典付き回答を生成",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "tenant",
						Usage:    "テナントID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "質問文",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "検索戦略 (auto/vector/lexical/hybrid)",
						Value: "auto",
					},
					&cli.StringFlag{
						Name:  "agents",
						Usage: "エージェントID (カンマ区切り)",
					},
					&cli.StringFlag{
						Name:  "brands",
						Usage: "ブランドID (カンマ区切り)",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "コンテンツ種別で絞り込み",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "利用する検索結果の件数（省略時は設定値）",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "類似度閾値（省略時は設定値）",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
				},
				Action: commands.AskAction,
			},
			{
				Name:  "search",
				Usage: "回答生成なしで検索結果のみを表示",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "tenant",
						Usage:    "テナントID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "検索戦略 (auto/vector/lexical/hybrid)",
						Value: "auto",
					},
					&cli.StringFlag{
						Name:  "agents",
						Usage: "エージェントID (カンマ区切り)",
					},
					&cli.StringFlag{
						Name:  "brands",
						Usage: "ブランドID (カンマ区切り)",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "コンテンツ種別で絞り込み",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "返却件数（省略時は設定値）",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "類似度閾値（省略時は設定値）",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "ingest",
				Usage: "ドキュメントをナレッジベースに取り込む",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "tenant",
						Usage:    "テナントID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "title",
						Usage:    "ドキュメントのタイトル",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "取り込むテキストファイルのパス（--text と排他）",
					},
					&cli.StringFlag{
						Name:  "text",
						Usage: "取り込むテキスト本文（--file と排他）",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "コンテンツ種別",
						Value: "text/plain",
					},
					&cli.StringFlag{
						Name:  "agents",
						Usage: "閲覧を許可するエージェントID (カンマ区切り、空は全許可)",
					},
					&cli.StringFlag{
						Name:  "brands",
						Usage: "閲覧を許可するブランドID (カンマ区切り、空は全許可)",
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "unit",
				Usage: "ナレッジユニット管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "テナント内のユニット一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "tenant",
								Usage:    "テナントID",
								Required: true,
							},
						},
						Action: commands.UnitListAction,
					},
					{
						Name:  "show",
						Usage: "ユニット詳細を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ユニットID (UUID)",
								Required: true,
							},
						},
						Action: commands.UnitShowAction,
					},
					{
						Name:  "reindex",
						Usage: "ユニットのEmbeddingを再生成",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ユニットID (UUID)",
								Required: true,
							},
						},
						Action: commands.UnitReindexAction,
					},
					{
						Name:  "forget",
						Usage: "ユニットのEmbeddingを削除（チャンク本文は保持）",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ユニットID (UUID)",
								Required: true,
							},
						},
						Action: commands.UnitForgetAction,
					},
					{
						Name:  "delete",
						Usage: "ユニットを完全に削除",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ユニットID (UUID)",
								Required: true,
							},
						},
						Action: commands.UnitDeleteAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
