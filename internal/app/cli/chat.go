package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	coreask "github.com/AmanBhanse/agathon-backend/internal/core/ask"
)

// DefaultChatThreshold は対話モードの関連度の下限
const DefaultChatThreshold = 0.15

type asker interface {
	Ask(ctx context.Context, params coreask.AskParams) (*coreask.AskResult, error)
}

// ChatAction は対話形式で質問応答を繰り返すコマンドのアクション
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if _, err := appCtx.Container.LoadSnapshot(ctx); err != nil {
		return fmt.Errorf("ストアの読み込みに失敗: %w", err)
	}

	session := chatSession{
		svc:         appCtx.Container.AskService,
		threshold:   cmd.Float("threshold"),
		showSources: !cmd.Bool("hide-sources"),
	}
	return session.run(ctx, os.Stdin, os.Stdout)
}

type chatSession struct {
	svc         asker
	threshold   float64
	showSources bool
}

// run は入力が終わるか終了コマンドを受け取るまで質問を処理する
func (s chatSession) run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "質問を入力してください（終了: quit）")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		if err := s.ask(ctx, out, question); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 1件の失敗では対話を終了しない
			fmt.Fprintf(out, "エラー: %v\n", err)
		}
		fmt.Fprintln(out, strings.Repeat("-", 80))
	}
}

func (s chatSession) ask(ctx context.Context, out io.Writer, question string) error {
	result, err := s.svc.Ask(ctx, coreask.AskParams{
		Question:  question,
		Threshold: mo.Some(s.threshold),
	})
	if err != nil {
		return err
	}

	switch result.Outcome {
	case coreask.OutcomeNoRelevantContext:
		fmt.Fprintf(out, "関連する情報が見つかりませんでした（類似度 %.2f 未満）\n", s.threshold)
		return nil
	case coreask.OutcomeGenerationFailed:
		return errors.Join(errors.New(result.Message), result.Err)
	}

	printAskResult(out, result, s.showSources)
	return nil
}
