// Package ocr は画像投稿の文字認識（OCR）APIの呼び出しと、
// 投稿作成時のOCR予約を提供する。
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/blossom/internal/metrics"
)

// DefaultEndpoints はOCR APIのエンドポイント。先頭から順に試行する。
var DefaultEndpoints = []string{
	"https://api.ocr.space/parse/image",
	"https://apipro1.ocr.space/parse/image",
	"https://apipro2.ocr.space/parse/image",
}

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 1 << 20

// ErrNoText は画像から文字が検出されなかったことを表す。
var ErrNoText = errors.New("no text detected")

// Result はOCRの結果。
type Result struct {
	Text     string
	Endpoint string
}

// Recognizer は画像URLから文字を認識するインターフェース。
type Recognizer interface {
	Recognize(ctx context.Context, imageURL string) (*Result, error)
}

// apiResponse はOCR APIのレスポンス。
type apiResponse struct {
	ParsedResults []struct {
		ParsedText        string `json:"ParsedText"`
		FileParseExitCode int    `json:"FileParseExitCode"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

// Client はOCR APIのクライアント。
// エンドポイントを順に試行し、最初に成功した結果を返す。
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoints  []string
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// ClientOption はClientのオプション設定関数。
type ClientOption func(*Client)

// WithEndpoints は試行するエンドポイントを差し替える。
func WithEndpoints(endpoints ...string) ClientOption {
	return func(c *Client) {
		c.endpoints = endpoints
	}
}

// WithMetrics はOCRのレイテンシの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, apiKey string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		endpoints:  DefaultEndpoints,
		logger:     logger,
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recognize は画像URLの文字を認識する。
// すべてのエンドポイントで失敗した場合は最後のエラーを返す。
func (c *Client) Recognize(ctx context.Context, imageURL string) (*Result, error) {
	if len(c.endpoints) == 0 {
		return nil, errors.New("OCRのエンドポイントが設定されていません")
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordOCRLatency(time.Since(start))
	}()

	var lastErr error
	for _, endpoint := range c.endpoints {
		text, err := c.call(ctx, endpoint, imageURL)
		if err == nil {
			return &Result{Text: text, Endpoint: endpoint}, nil
		}
		if errors.Is(err, ErrNoText) || ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("OCR APIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("image_url", imageURL),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("すべてのOCRエンドポイントで失敗しました: %w", lastErr)
}

func (c *Client) call(ctx context.Context, endpoint, imageURL string) (string, error) {
	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("url", imageURL)
	form.Set("OCREngine", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Blossom/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OCR APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.IsErroredOnProcessing {
		return "", fmt.Errorf("OCR APIが処理エラーを返しました: %s", string(result.ErrorMessage))
	}

	var texts []string
	for _, r := range result.ParsedResults {
		if t := strings.TrimSpace(r.ParsedText); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return "", ErrNoText
	}
	return strings.Join(texts, "\n"), nil
}

var _ Recognizer = (*Client)(nil)
