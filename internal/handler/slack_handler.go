package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/sponsor"
)

// maxSlackBodySize はSlack・GitHubからのリクエストボディの上限。
const maxSlackBodySize = 1 << 20

// SlackBot はSlackのイベントとボタン操作を処理するインターフェース。
type SlackBot interface {
	HandleEvent(ctx context.Context, env *slack.EventEnvelope)
	HandleInteraction(ctx context.Context, p *slack.InteractionPayload)
}

// SponsorWebhook はGitHub Sponsorsのwebhookを処理するインターフェース。
type SponsorWebhook interface {
	Handle(ctx context.Context, signature string, body []byte) error
}

// SlackHandler はSlackとGitHub Sponsorsからのwebhookを受け付けるHTTPハンドラー。
// 不正なリクエストも200で応答し、処理はしない。
type SlackHandler struct {
	bot           SlackBot
	sponsors      SponsorWebhook
	signingSecret string
	logger        *slog.Logger
	now           func() time.Time
}

// NewSlackHandler はSlackHandlerを生成する。
func NewSlackHandler(bot SlackBot, sponsors SponsorWebhook, signingSecret string, logger *slog.Logger) *SlackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackHandler{
		bot:           bot,
		sponsors:      sponsors,
		signingSecret: signingSecret,
		logger:        logger,
		now:           time.Now,
	}
}

// Endpoint はEvents APIとインタラクションを受け付ける。
// URL検証にはchallengeをそのままtext/plainで返す。
// POST /slack/endpoint
func (h *SlackHandler) Endpoint(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSlackBodySize))
	if err != nil {
		h.logger.Warn("Slackリクエストの読み込みに失敗しました", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusOK)
		return
	}

	// URL検証はアプリ設定時のハンドシェイクのため署名検証の前に応答する
	if isJSON(r) {
		if env, err := slack.ParseEnvelope(body); err == nil && env.Type == slack.EnvelopeURLVerification {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, env.Challenge)
			return
		}
	}

	if err := slack.VerifySignature(
		h.signingSecret,
		r.Header.Get(slack.HeaderTimestamp),
		r.Header.Get(slack.HeaderSignature),
		body,
		h.now(),
	); err != nil {
		h.logger.Warn("Slackリクエストの署名検証に失敗しました", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusOK)
		return
	}

	// 再送は最初の配信で処理済みのため、受領だけ返す
	if retry := r.Header.Get(slack.HeaderRetryNum); retry != "" {
		h.logger.Info("Slackの再送を無視しました",
			slog.String("retry_num", retry),
			slog.String("retry_reason", r.Header.Get("X-Slack-Retry-Reason")),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	if isJSON(r) {
		env, err := slack.ParseEnvelope(body)
		if err != nil {
			h.logger.Warn("Slackイベントの解析に失敗しました", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusOK)
			return
		}
		h.bot.HandleEvent(r.Context(), env)
		w.WriteHeader(http.StatusOK)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil || form.Get("payload") == "" {
		h.logger.Warn("Slackインタラクションのpayloadがありません")
		w.WriteHeader(http.StatusOK)
		return
	}
	payload, err := slack.ParseInteraction(form.Get("payload"))
	if err != nil {
		h.logger.Warn("Slackインタラクションの解析に失敗しました", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusOK)
		return
	}
	h.bot.HandleInteraction(r.Context(), payload)
	w.WriteHeader(http.StatusOK)
}

// Sponsors はGitHub Sponsorsのwebhookを受け付ける。
// POST /slack/github/sponsors
func (h *SlackHandler) Sponsors(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSlackBodySize))
	if err == nil {
		err = h.sponsors.Handle(r.Context(), r.Header.Get(sponsor.HeaderSignature), body)
	}
	if err != nil {
		h.logger.Warn("スポンサーwebhookを無視しました", slog.String("error", err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"ok": err == nil})
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
