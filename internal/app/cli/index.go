package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	coreingestion "github.com/AmanBhanse/agathon-backend/internal/core/ingestion"
	"github.com/AmanBhanse/agathon-backend/internal/infra/document"
)

// IndexAction はドキュメントをインデックス化するコマンドのアクション
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()
	logger := appCtx.Logger()

	doc, err := document.Load(path)
	if err != nil {
		return err
	}
	logger.Info("ドキュメントを読み込みました", "path", path, "pages", len(doc.Pages))

	result, err := appCtx.Container.IndexService.IndexDocument(ctx, doc)
	if err != nil {
		logger.Error("インデックス化に失敗しました", "error", err)
		return err
	}

	printIndexResult(os.Stdout, result)
	return nil
}

// ReembedAction は現在のストアを指定モデルで再Embeddingするコマンドのアクション
func ReembedAction(ctx context.Context, cmd *cli.Command) error {
	model := cmd.String("model")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.IndexService.Reembed(ctx, coreingestion.ReembedParams{Model: model})
	if err != nil {
		appCtx.Logger().Error("再Embeddingに失敗しました", "error", err)
		return err
	}

	printIndexResult(os.Stdout, result)
	return nil
}

func printIndexResult(w io.Writer, result *coreingestion.IndexResult) {
	fmt.Fprintf(w, "build_id:  %s\n", result.BuildID)
	fmt.Fprintf(w, "model:     %s\n", result.ModelID)
	fmt.Fprintf(w, "chunks:    %d (次元 %d)\n", result.Chunks, result.Dimension)
	fmt.Fprintf(w, "strategy:  %s\n", result.Strategy)
	fmt.Fprintf(w, "store:     %s\n", result.StorePath)
	fmt.Fprintf(w, "duration:  %s\n", result.Duration.Round(time.Millisecond))
	if n := result.FailureCount(); n > 0 {
		fmt.Fprintf(w, "警告: %d 件のチャンクはゼロベクトルで保存されました %v\n", n, result.Failed)
	}
}
