package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/AmanBhanse/agathon-backend/internal/core/search"
	"github.com/AmanBhanse/agathon-backend/internal/core/store"
	"github.com/AmanBhanse/agathon-backend/internal/infra/failurelog"
	"github.com/AmanBhanse/agathon-backend/internal/infra/postgres"
	"github.com/AmanBhanse/agathon-backend/internal/platform/container"
)

// StoreInspectAction は保存済みストアの概要を表示するコマンドのアクション
func StoreInspectAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewStoreContext(cmd.String("env"))
	if err != nil {
		return err
	}
	cfg := appCtx.Config
	logger := appCtx.Logger()

	s, err := store.Load(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("ストアの読み込みに失敗: %w", err)
	}

	report := storeReport{
		Path:      cfg.Store.Path,
		Store:     s,
		IndexPath: cfg.Store.IndexPath,
	}

	idx, err := search.LoadIndex(cfg.Store.IndexPath)
	switch {
	case err == nil:
		report.IndexStatus = "ok"
		report.IndexLists = len(idx.Lists)
		if idx.Stale(s) {
			report.IndexStatus = "stale"
		}
	case errors.Is(err, store.ErrNotFound):
		report.IndexStatus = "none"
	default:
		report.IndexStatus = "invalid"
		logger.Warn("近似検索インデックスの読み込みに失敗", "path", cfg.Store.IndexPath, "error", err)
	}

	entries, err := failurelog.ReadAll(failurelog.PathFor(cfg.Store.Path))
	if err != nil {
		logger.Warn("Embedding失敗ログの読み込みに失敗", "error", err)
	}
	report.Failures = failurelog.ForBuild(entries, s.BuildID().String())

	if cfg.Database.Enabled {
		db, err := container.OpenDatabase(ctx, cfg)
		if err != nil {
			logger.Warn("データベースに接続できません", "error", err)
		} else {
			defer db.Close()
			info, err := postgres.NewMirror(db, logger).Info(ctx)
			if err != nil {
				logger.Warn("ミラー情報の取得に失敗", "error", err)
			} else {
				report.Mirror = info
				report.MirrorChecked = true
			}
		}
	}

	report.print(os.Stdout)
	return nil
}

// StoreExportPGAction は保存済みストアを pgvector ミラーへ書き出すコマンドのアクション
func StoreExportPGAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewStoreContext(cmd.String("env"))
	if err != nil {
		return err
	}
	cfg := appCtx.Config
	logger := appCtx.Logger()

	s, err := store.Load(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("ストアの読み込みに失敗: %w", err)
	}

	db, err := container.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	mirror := postgres.NewMirror(db, logger)
	if !cmd.Bool("force") {
		ok, err := mirror.Matches(ctx, s)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(os.Stdout, "ミラーは最新です (build_id %s)\n", s.BuildID())
			return nil
		}
	}

	if err := mirror.Replace(ctx, s); err != nil {
		logger.Error("ミラーへの書き出しに失敗しました", "error", err)
		return err
	}
	fmt.Fprintf(os.Stdout, "%d 件のチャンクを書き出しました (build_id %s)\n", s.Len(), s.BuildID())
	return nil
}

type storeReport struct {
	Path          string
	Store         *store.Store
	IndexPath     string
	IndexStatus   string
	IndexLists    int
	Failures      []failurelog.Entry
	Mirror        mo.Option[postgres.MirrorInfo]
	MirrorChecked bool
}

func (r storeReport) print(w io.Writer) {
	s := r.Store
	fmt.Fprintf(w, "store:      %s\n", r.Path)
	fmt.Fprintf(w, "build_id:   %s\n", s.BuildID())
	fmt.Fprintf(w, "model:      %s\n", s.ModelID())
	fmt.Fprintf(w, "created_at: %s\n", s.CreatedAt().Format(time.RFC3339))
	fmt.Fprintf(w, "chunks:     %d\n", s.Len())
	fmt.Fprintf(w, "dimension:  %d\n", s.Dimension())

	switch r.IndexStatus {
	case "ok":
		fmt.Fprintf(w, "ivf:        %s (%d lists)\n", r.IndexPath, r.IndexLists)
	case "stale":
		fmt.Fprintf(w, "ivf:        %s (ストアと不一致、完全検索を使用)\n", r.IndexPath)
	case "invalid":
		fmt.Fprintf(w, "ivf:        %s (読み込み不可)\n", r.IndexPath)
	default:
		fmt.Fprintln(w, "ivf:        なし")
	}

	fmt.Fprintf(w, "failures:   %d\n", len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  chunk %d %s: %s\n", f.ChunkID, formatPages(f.Pages), f.Error)
	}

	if !r.MirrorChecked {
		return
	}
	info, ok := r.Mirror.Get()
	switch {
	case !ok:
		fmt.Fprintln(w, "pgvector:   未作成")
	case info.BuildID == s.BuildID():
		fmt.Fprintf(w, "pgvector:   最新 (%d chunks, %s)\n", info.Count, info.MirroredAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(w, "pgvector:   古い版 %s\n", info.BuildID)
	}
}
