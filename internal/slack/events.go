package slack

import (
	"encoding/json"
	"fmt"
)

// Events APIのエンベロープ種別。
const (
	EnvelopeURLVerification = "url_verification"
	EnvelopeEventCallback   = "event_callback"
)

// イベント種別。
const (
	EventAppMention = "app_mention"
	EventMessage    = "message"
)

// InteractionBlockActions はボタン押下のインタラクション種別。
const InteractionBlockActions = "block_actions"

// EventEnvelope はEvents APIのJSONエンベロープ。
type EventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	EventID   string `json:"event_id"`
	Event     Event  `json:"event"`
}

// Event はevent_callbackに含まれるイベント本体。
type Event struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// ParseEnvelope はEvents APIのリクエストボディを解析する。
func ParseEnvelope(body []byte) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	return &env, nil
}

// InteractionUser はボタンを押したユーザー。
type InteractionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Handle はユーザー名を返す。usernameがない古い形式ではnameを使う。
func (u InteractionUser) Handle() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Name
}

// Action は押されたボタンの情報。
type Action struct {
	Type     string `json:"type"`
	ActionID string `json:"action_id"`
	BlockID  string `json:"block_id"`
	Value    string `json:"value"`
}

// InteractionPayload はインタラクティブコンポーネントのpayload。
type InteractionPayload struct {
	Type    string          `json:"type"`
	User    InteractionUser `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"message"`
	Actions []Action `json:"actions"`
}

// Ref はボタンが押されたメッセージの座標を返す。
func (p *InteractionPayload) Ref() MessageRef {
	return MessageRef{ChannelID: p.Channel.ID, TS: p.Message.TS}
}

// ParseInteraction はフォームのpayloadフィールドの値を解析する。
func ParseInteraction(payload string) (*InteractionPayload, error) {
	var p InteractionPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to decode interaction payload: %w", err)
	}
	return &p, nil
}
