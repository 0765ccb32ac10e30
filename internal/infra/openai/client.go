package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/AmanBhanse/agathon-backend/internal/core/ask"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"
)

// Client は OpenAI API を使用した回答生成クライアント
type Client struct {
	client        openai.Client
	model         string
	timeout       time.Duration
	retry         retryPolicy
	tokens        *TokenCounter
	contextTokens int
	logger        *slog.Logger
}

// ClientOption は Client のオプション設定
type ClientOption func(*Client)

// WithModel はリクエストでモデルが指定されなかった場合のモデルを設定する
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithPromptTokenLimit はユーザープロンプトのトークン上限を設定する
// 上限を超えたプロンプトは末尾が切り詰められる
func WithPromptTokenLimit(counter *TokenCounter, maxTokens int) ClientOption {
	return func(c *Client) {
		c.tokens = counter
		c.contextTokens = maxTokens
	}
}

// WithClientRetry はレート制限時の再試行方針を上書きする
func WithClientRetry(maxRetries int, initial, max time.Duration) ClientOption {
	return func(c *Client) {
		c.retry = retryPolicy{maxRetries: uint64(maxRetries), initial: initial, max: max}
	}
}

// WithClientLogger はロガーを設定する
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient は新しい Client を作成する
func NewClient(creds Credentials, opts ...ClientOption) (*Client, error) {
	reqOpts, err := creds.requestOptions()
	if err != nil {
		return nil, err
	}

	c := &Client{
		client:  openai.NewClient(reqOpts...),
		model:   DefaultModel,
		timeout: DefaultTimeout,
		retry:   defaultRetryPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// fitPrompt はユーザープロンプトをトークン予算に収める。
// 構成要素がわかる場合は質問と指示を残してコンテキストだけを切り詰める
func (c *Client) fitPrompt(req ask.GenerationRequest) string {
	if c.tokens == nil || c.contextTokens <= 0 {
		return req.UserPrompt
	}
	original := c.tokens.CountTokens(req.UserPrompt)
	if original <= c.contextTokens {
		return req.UserPrompt
	}

	if req.Question == "" && req.Context == "" {
		truncated, _ := c.tokens.Truncate(req.UserPrompt, c.contextTokens)
		c.logger.Warn("user prompt exceeded token budget and was truncated",
			"maxTokens", c.contextTokens,
			"originalTokens", original,
		)
		return truncated
	}

	budget := c.contextTokens - c.tokens.CountTokens(ask.BuildUserPrompt(req.Question, ""))
	contextText := ""
	if budget > 0 {
		contextText, _ = c.tokens.Truncate(req.Context, budget)
	}
	c.logger.Warn("context exceeded token budget and was truncated",
		"maxTokens", c.contextTokens,
		"originalTokens", original,
		"contextTokens", max(budget, 0),
	)
	return ask.BuildUserPrompt(req.Question, contextText)
}

// Generate はシステムプロンプトとユーザープロンプトから回答を生成する
func (c *Client) Generate(ctx context.Context, req ask.GenerationRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	userPrompt := c.fitPrompt(req)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := retry(ctx, c.retry, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return c.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	c.logger.Debug("completion generated",
		"model", completion.Model,
		"totalTokens", completion.Usage.TotalTokens,
	)

	return completion.Choices[0].Message.Content, nil
}

// インターフェース実装の確認
var _ ask.Generator = (*Client)(nil)
