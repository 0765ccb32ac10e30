package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/AmanBhanse/agathon-backend/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "agathon-rag",
		Usage: "診療ガイドライン文書のインデックス化と RAG 質問応答",
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "ドキュメントをチャンク分割・Embeddingしてストアを作成",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "ドキュメントのパス（.pdf / .json / テキスト）",
						Required: true,
					},
				},
				Action: appcli.IndexAction,
			},
			{
				Name:  "reembed",
				Usage: "現在のストアを別モデルで再Embedding",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "model",
						Usage: "Embeddingモデル（省略時は OPENAI_EMBEDDING_MODEL）",
					},
				},
				Action: appcli.ReembedAction,
			},
			{
				Name:      "ask",
				Usage:     "質問に回答する",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照ソースを表示",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索件数（省略時は RETRIEVAL_TOP_K）",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "関連度の下限（省略時は RETRIEVAL_THRESHOLD）",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "生成モデル（省略時は OPENAI_LLM_MODEL）",
					},
					&cli.FloatFlag{
						Name:  "temperature",
						Usage: "生成温度（省略時は OPENAI_LLM_TEMPERATURE）",
					},
				},
				Action: appcli.AskAction,
			},
			{
				Name:  "chat",
				Usage: "対話形式で質問応答を行う",
				Flags: []cli.Flag{
					envFlag(),
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "関連度の下限",
						Value: appcli.DefaultChatThreshold,
					},
					&cli.BoolFlag{
						Name:  "hide-sources",
						Usage: "参照ソースを表示しない",
					},
				},
				Action: appcli.ChatAction,
			},
			{
				Name:      "search",
				Usage:     "回答生成を行わず検索結果のみ表示",
				ArgsUsage: "<検索文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索件数（省略時は RETRIEVAL_TOP_K）",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "関連度の下限",
					},
				},
				Action: appcli.SearchAction,
			},
			{
				Name:  "store",
				Usage: "ストア管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "inspect",
						Usage:  "ストアと近似インデックスの状態を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.StoreInspectAction,
					},
					{
						Name:  "export-pg",
						Usage: "ストアを pgvector ミラーへ書き出す",
						Flags: []cli.Flag{
							envFlag(),
							&cli.BoolFlag{
								Name:  "force",
								Usage: "ミラーが最新でも書き直す",
							},
						},
						Action: appcli.StoreExportPGAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}
