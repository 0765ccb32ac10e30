package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	coreask "github.com/AmanBhanse/agathon-backend/internal/core/ask"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	showSources := cmd.Bool("show-sources")
	asJSON := cmd.Bool("json")
	envFile := cmd.String("env")

	// 質問文の取得
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()
	logger := appCtx.Logger()

	if _, err := appCtx.Container.LoadSnapshot(ctx); err != nil {
		return fmt.Errorf("ストアの読み込みに失敗: %w", err)
	}

	logger.Info("質問応答を開始", "question", question, "showSources", showSources)

	result, err := appCtx.Container.AskService.Ask(ctx, askParamsFromFlags(cmd, question))
	if err != nil {
		logger.Error("質問応答に失敗しました", "error", err)
		return err
	}

	if asJSON {
		return writeJSON(os.Stdout, result.Response())
	}
	printAskResult(os.Stdout, result, showSources)

	logger.Info("質問応答が完了しました", "outcome", string(result.Outcome))
	return nil
}

func askParamsFromFlags(cmd *cli.Command, question string) coreask.AskParams {
	params := coreask.AskParams{
		Question: question,
		Model:    cmd.String("model"),
		TopK:     cmd.Int("top-k"),
	}
	if cmd.IsSet("temperature") {
		params.Temperature = mo.Some(cmd.Float("temperature"))
	}
	if cmd.IsSet("threshold") {
		params.Threshold = mo.Some(cmd.Float("threshold"))
	}
	return params
}

// printAskResult は回答と参照ソースを人が読む形式で出力する
func printAskResult(w io.Writer, result *coreask.AskResult, showSources bool) {
	switch result.Outcome {
	case coreask.OutcomeAnswered:
		fmt.Fprintln(w, result.Answer)
	default:
		fmt.Fprintln(w, result.Message)
	}

	if showSources && len(result.Sources) > 0 {
		fmt.Fprintln(w, "\n--- 参照ソース ---")
		for _, source := range result.Sources {
			fmt.Fprintf(w, "[%d] %s 類似度: %.4f (%.1f%%)\n",
				source.Rank,
				formatPages(source.Pages),
				source.Similarity,
				source.SimilarityPercentage,
			)
			fmt.Fprintf(w, "    %s\n", oneLine(source.Text))
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "p.?"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return "p." + strings.Join(parts, ",")
}

func oneLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
