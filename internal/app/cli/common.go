package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AmanBhanse/agathon-backend/internal/platform/config"
	"github.com/AmanBhanse/agathon-backend/internal/platform/container"
	"github.com/AmanBhanse/agathon-backend/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer // ストア操作のみのコマンドでは nil

	logger *slog.Logger
}

// NewAppContext は設定ファイルを読み込み、コンテナを初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, appLogger, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
		logger:    appLogger,
	}, nil
}

// NewStoreContext は API キーを必要としないストア操作用の AppContext を作成する
func NewStoreContext(envFile string) (*AppContext, error) {
	cfg, appLogger, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("%w: RAG_STORE_PATH", config.ErrMissingRequired)
	}
	return &AppContext{Config: cfg, logger: appLogger}, nil
}

func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	appLogger := logger.New(logger.Config{Level: level, Format: cfg.Log.Format})
	return cfg, appLogger, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.logger != nil {
		return ac.logger
	}
	return slog.Default()
}
