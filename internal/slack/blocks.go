// Package slack はSlackとのやり取りに必要なワイヤ型、Web APIクライアント、
// リクエスト署名の検証を提供する。
package slack

import "strings"

// ボタンのスタイル。
const (
	StylePrimary = "primary"
	StyleDanger  = "danger"
)

// Text はSlackのテキストオブジェクト。
type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Markdown はmrkdwn形式のテキストオブジェクトを生成する。
func Markdown(text string) *Text {
	return &Text{Type: "mrkdwn", Text: text}
}

// PlainText はplain_text形式のテキストオブジェクトを生成する。
func PlainText(text string) *Text {
	return &Text{Type: "plain_text", Text: text, Emoji: true}
}

// Element はactionsブロックのボタン要素。
type Element struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	ActionID string `json:"action_id,omitempty"`
	Value    string `json:"value,omitempty"`
	Style    string `json:"style,omitempty"`
}

// Block はSlackのBlock Kitブロック。
type Block struct {
	Type     string  `json:"type"`
	Text     *Text   `json:"text,omitempty"`
	Fields   []*Text `json:"fields,omitempty"`
	Elements []any   `json:"elements,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	AltText  string  `json:"alt_text,omitempty"`
}

// Message はchat.postMessage / chat.updateで送信するメッセージ。
type Message struct {
	Channel  string  `json:"channel"`
	TS       string  `json:"ts,omitempty"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	Text     string  `json:"text"`
	Blocks   []Block `json:"blocks,omitempty"`
	// LinkNames はメンション（@user）を有効にする。
	LinkNames bool `json:"link_names,omitempty"`
	// UnfurlLinks はURLのプレビュー展開を制御する。
	UnfurlLinks bool `json:"unfurl_links"`
}

// SectionBlock はmrkdwnテキストのsectionブロックを生成する。
func SectionBlock(text string) Block {
	return Block{Type: "section", Text: Markdown(text)}
}

// FieldsBlock はフィールドを並べたsectionブロックを生成する。
func FieldsBlock(fields ...string) Block {
	texts := make([]*Text, 0, len(fields))
	for _, f := range fields {
		texts = append(texts, Markdown(f))
	}
	return Block{Type: "section", Fields: texts}
}

// ContextBlock はmrkdwnテキストのcontextブロックを生成する。
func ContextBlock(texts ...string) Block {
	elements := make([]any, 0, len(texts))
	for _, t := range texts {
		elements = append(elements, Markdown(t))
	}
	return Block{Type: "context", Elements: elements}
}

// DividerBlock は区切り線ブロックを生成する。
func DividerBlock() Block {
	return Block{Type: "divider"}
}

// ImageBlock は画像ブロックを生成する。
func ImageBlock(url, alt string) Block {
	return Block{Type: "image", ImageURL: url, AltText: alt}
}

// ActionsBlock はボタンを並べたactionsブロックを生成する。
func ActionsBlock(buttons ...Element) Block {
	elements := make([]any, 0, len(buttons))
	for _, b := range buttons {
		elements = append(elements, b)
	}
	return Block{Type: "actions", Elements: elements}
}

// Button はボタン要素を生成する。valueはaction_idとしても使用する。
func Button(label, value, style string) Element {
	return Element{
		Type:     "button",
		Text:     PlainText(label),
		ActionID: value,
		Value:    value,
		Style:    style,
	}
}

// ButtonValues はメッセージに含まれるボタンのvalueを出現順に返す。
func (m Message) ButtonValues() []string {
	var values []string
	for _, b := range m.Blocks {
		if b.Type != "actions" {
			continue
		}
		for _, e := range b.Elements {
			if el, ok := e.(Element); ok {
				values = append(values, el.Value)
			}
		}
	}
	return values
}

// BlockText はメッセージ内のテキストを改行区切りで連結して返す。
func (m Message) BlockText() string {
	var sb strings.Builder
	write := func(t *Text) {
		if t == nil {
			return
		}
		sb.WriteString(t.Text)
		sb.WriteByte('\n')
	}
	for _, b := range m.Blocks {
		write(b.Text)
		for _, f := range b.Fields {
			write(f)
		}
		for _, e := range b.Elements {
			if t, ok := e.(*Text); ok {
				write(t)
			}
		}
	}
	return sb.String()
}
