package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Credentials は OpenAI / Azure OpenAI への接続情報
// AzureEndpoint が設定されている場合は Azure OpenAI として接続する
type Credentials struct {
	APIKey          string
	BaseURL         string
	AzureEndpoint   string
	AzureAPIVersion string
}

// requestOptions は接続情報からクライアントのオプションを組み立てる
// リトライはこのパッケージの retry で行うため SDK 側のリトライは無効にする
func (c Credentials) requestOptions() ([]option.RequestOption, error) {
	if c.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	switch {
	case c.AzureEndpoint != "":
		if c.AzureAPIVersion == "" {
			return nil, fmt.Errorf("azure api version is required when azure endpoint is set")
		}
		opts = append(opts,
			azure.WithEndpoint(c.AzureEndpoint, c.AzureAPIVersion),
			azure.WithAPIKey(c.APIKey),
		)
	default:
		opts = append(opts, option.WithAPIKey(c.APIKey))
		if c.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(c.BaseURL))
		}
	}
	return opts, nil
}

// retryPolicy はレート制限・一時的なサーバーエラーに対する再試行方針
type retryPolicy struct {
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{maxRetries: MaxRetries, initial: BaseBackoff, max: MaxBackoff}
}

// retry は op を指数バックオフで再試行する。再試行対象外のエラーは即座に返す
func retry[T any](ctx context.Context, policy retryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.initial
	eb.MaxInterval = policy.max
	eb.MaxElapsedTime = 0

	var result T
	var lastErr error
	err := backoff.Retry(func() error {
		r, err := op(ctx)
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(eb, policy.maxRetries), ctx))
	if err != nil {
		if isRetryable(err) && ctx.Err() == nil {
			return result, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
		}
		return result, err
	}
	return result, nil
}

func statusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func isRetryable(err error) bool {
	code := statusCode(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// isMisconfigured は認証情報やモデル指定の誤りで、再試行しても成功しないエラーかを判定する
func isMisconfigured(err error) bool {
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
