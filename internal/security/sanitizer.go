package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxTitleLength は投稿タイトルとして保存する最大文字数（rune）。
const maxTitleLength = 300

// TextSanitizer はフィード由来の文字列からHTMLを取り除き、プレーンテキストにする。
// bluemondayのポリシーはゴルーチン安全なので共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Title はタグを除去し、実体参照を戻し、空白を1つにまとめたタイトルを返す。
// maxTitleLengthを超える部分は切り詰める。
func (s *TextSanitizer) Title(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxTitleLength {
		text = strings.TrimSpace(string(runes[:maxTitleLength-1])) + "…"
	}
	return text
}
