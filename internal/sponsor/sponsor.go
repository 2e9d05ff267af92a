// Package sponsor はGitHub Sponsorsのwebhookを検証し、通知メッセージに整形する。
package sponsor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/blossom/internal/slack"
)

// HeaderSignature はwebhook署名のヘッダー名。
const HeaderSignature = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrMissingSignature は署名ヘッダーがないことを表す。
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature は署名が一致しないことを表す。
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Event はsponsorshipイベントのうち通知に使う項目。
type Event struct {
	Action      string `json:"action"`
	Sponsorship struct {
		Sponsor struct {
			Login string `json:"login"`
		} `json:"sponsor"`
		Tier struct {
			Name string `json:"name"`
		} `json:"tier"`
	} `json:"sponsorship"`
}

// Sign はbodyに対する署名ヘッダーの値を返す。
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature は署名ヘッダーの値がbodyのHMAC-SHA256と一致するかを検証する。
func VerifySignature(secret, signature string, body []byte) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(secret, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent はwebhookのbodyをパースする。
func ParseEvent(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("parse sponsorship event: %w", err)
	}
	if e.Action == "" || e.Sponsorship.Sponsor.Login == "" {
		return nil, errors.New("sponsorship event is missing action or sponsor")
	}
	return &e, nil
}

// Message はイベントを通知メッセージに整形する。
func (e *Event) Message() slack.Message {
	tier := e.Sponsorship.Tier.Name
	if tier == "" {
		tier = "unknown tier"
	}
	return slack.Message{
		Text: fmt.Sprintf(":heart: %s has %s a sponsorship: %s",
			e.Sponsorship.Sponsor.Login, e.Action, tier),
	}
}

// Poster は通知メッセージの投稿を予約するインターフェース。
type Poster interface {
	Post(ctx context.Context, name, channel string, msg slack.Message)
}

// Handler はwebhookを検証し、有効なイベントを通知する。
type Handler struct {
	secret  string
	channel string
	poster  Poster
	logger  *slog.Logger
}

// NewHandler はHandlerを生成する。
func NewHandler(secret, channel string, poster Poster, logger *slog.Logger) *Handler {
	return &Handler{secret: secret, channel: channel, poster: poster, logger: logger}
}

// Handle は署名を検証してイベントを通知する。無効なリクエストはエラーを返すのみで通知しない。
func (h *Handler) Handle(ctx context.Context, signature string, body []byte) error {
	if h.secret == "" {
		return errors.New("GitHub Sponsorsのシークレットが未設定です")
	}
	if err := VerifySignature(h.secret, signature, body); err != nil {
		return err
	}
	event, err := ParseEvent(body)
	if err != nil {
		return err
	}
	h.logger.Info("スポンサーイベントを受信しました",
		slog.String("action", event.Action),
		slog.String("sponsor", event.Sponsorship.Sponsor.Login),
	)
	h.poster.Post(ctx, "notify_sponsor", h.channel, event.Message())
	return nil
}
