package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// MessageRef はSlack上のメッセージの座標。後続の更新はこの座標に対して行う。
type MessageRef struct {
	ChannelID string
	TS        string
}

// Poster はチャットへのメッセージ投稿・更新のインターフェース。
// 本番はClient、テストでは記録用の実装を使用する。
type Poster interface {
	// PostMessage は新規メッセージを投稿し、座標を返す。
	PostMessage(ctx context.Context, msg Message) (MessageRef, error)
	// UpdateMessage は既存メッセージを指定座標で更新する。
	UpdateMessage(ctx context.Context, ref MessageRef, msg Message) error
}

// APIError はSlack Web APIがok=falseを返した場合のエラー。
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
}

// maxResponseSize はレスポンスボディの最大読み取りサイズ。
const maxResponseSize = 1 << 20

// Client はSlack Web APIのクライアント。
// 送信レートはトークンバケットで制御する。
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// ClientOption はClientのオプション設定関数。
type ClientOption func(*Client)

// WithLimiter は送信レートのリミッターを差し替える。
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient はClientを生成する。baseURLは https://slack.com/api の形式。
// デフォルトの送信レートは毎秒1件、バースト3件。
func NewClient(httpClient *http.Client, baseURL, token string, logger *slog.Logger, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// PostMessage はchat.postMessageでメッセージを投稿する。
func (c *Client) PostMessage(ctx context.Context, msg Message) (MessageRef, error) {
	msg.TS = ""
	resp, err := c.call(ctx, "chat.postMessage", msg)
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{ChannelID: resp.Channel, TS: resp.TS}, nil
}

// UpdateMessage はchat.updateで既存メッセージを更新する。
func (c *Client) UpdateMessage(ctx context.Context, ref MessageRef, msg Message) error {
	msg.Channel = ref.ChannelID
	msg.TS = ref.TS
	msg.ThreadTS = ""
	_, err := c.call(ctx, "chat.update", msg)
	return err
}

func (c *Client) call(ctx context.Context, method string, payload any) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("slack rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Slack APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Slack APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("slack %s returned status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !result.OK {
		c.logger.Warn("Slack APIがエラーを返しました",
			slog.String("method", method),
			slog.String("slack_error", result.Error),
		)
		return nil, &APIError{Method: method, Code: result.Error}
	}
	return &result, nil
}

// compile-time interface check
var _ Poster = (*Client)(nil)
