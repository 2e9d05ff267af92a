// Package httpclient は外部API呼び出し用のリトライ付きHTTPクライアントを提供する。
// Slack Web APIとOCR APIの呼び出しで使用する。
package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// LeveledSlog はretryablehttp.LeveledLoggerをslogで実装したアダプタ。
// リトライ前提のため、クライアント内部のERRORはWARNとして記録する。
type LeveledSlog struct {
	inner *slog.Logger
}

func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

// Option はリトライクライアントのオプション設定関数。
type Option func(*retryablehttp.Client)

// WithMaxRetries は最大リトライ回数を設定する。
func WithMaxRetries(maxRetries int) Option {
	return func(client *retryablehttp.Client) {
		client.RetryMax = maxRetries
	}
}

// WithRetryWait はリトライ間隔の最小値と最大値を設定する。
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(client *retryablehttp.Client) {
		client.RetryWaitMin = waitMin
		client.RetryWaitMax = waitMax
	}
}

// WithAttemptTimeout は1回の試行あたりのタイムアウトを設定する。
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(client *retryablehttp.Client) {
		client.HTTPClient.Timeout = timeout
	}
}

// WithLogger はリトライログの出力先を設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(client *retryablehttp.Client) {
		client.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// WithTransport はトランスポートを差し替える。
func WithTransport(transport http.RoundTripper) Option {
	return func(client *retryablehttp.Client) {
		client.HTTPClient.Transport = transport
	}
}

// NewClient はリトライ付きのhttp.Clientを生成する。
// 接続エラーと5xx（501を除く）でリトライし、429はリトライしない。
// デフォルトは最大3回リトライ、1回あたり10秒のタイムアウト。
func NewClient(options ...Option) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.HTTPClient.Timeout = 10 * time.Second
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{
		inner: slog.Default().With(slog.String("component", "httpclient")),
	})
	retryClient.CheckRetry = DefaultRetryPolicy

	for _, option := range options {
		option(retryClient)
	}

	return retryClient.StandardClient()
}

// DefaultRetryPolicy はretryablehttp.DefaultRetryPolicyのラッパー。
// 429 Too Many Requestsはリトライせず、呼び出し元に判断を委ねる。
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
