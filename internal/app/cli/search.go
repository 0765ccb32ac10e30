package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	coreask "github.com/AmanBhanse/agathon-backend/internal/core/ask"
)

// SearchAction は回答生成を行わずに検索結果のみを表示するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("検索文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if _, err := appCtx.Container.LoadSnapshot(ctx); err != nil {
		return fmt.Errorf("ストアの読み込みに失敗: %w", err)
	}

	params := coreask.RetrieveParams{
		Question:  question,
		TopK:      cmd.Int("top-k"),
		Threshold: mo.None[float64](),
	}
	if cmd.IsSet("threshold") {
		params.Threshold = mo.Some(cmd.Float("threshold"))
	}

	retrieval, err := appCtx.Container.AskService.Retrieve(ctx, params)
	if err != nil {
		return err
	}

	printRetrieval(os.Stdout, retrieval, appCtx.Config.Retrieval.PreviewLength)
	return nil
}

func printRetrieval(w io.Writer, retrieval *coreask.Retrieval, previewLength int) {
	fmt.Fprintf(w, "strategy: %s  build_id: %s\n", retrieval.Strategy, retrieval.BuildID)
	if len(retrieval.Ranked) == 0 {
		fmt.Fprintln(w, "該当するチャンクはありません")
		return
	}
	for _, r := range retrieval.Ranked {
		fmt.Fprintf(w, "%2d. %s  score=%.4f  chunk=%d\n", r.Rank, formatPages(r.Chunk.Pages()), r.Score, r.Chunk.ID())
		fmt.Fprintf(w, "    %s\n", truncate(oneLine(r.Chunk.Text()), previewLength))
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
