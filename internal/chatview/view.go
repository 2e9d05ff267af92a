// Package chatview はチェック・レポート・アカウント移行のチャットメッセージを
// Block Kitのブロックとして描画する。描画は純粋関数でI/Oを行わない。
package chatview

import (
	"fmt"
	"strings"

	"github.com/hitoshi/blossom/internal/model"
)

// Renderer はメッセージの描画を行う。ワークスペースURLはメッセージへのリンク生成に使う。
type Renderer struct {
	workspaceURL string
}

// New はRendererを生成する。workspaceURLは https://example.slack.com の形式。
func New(workspaceURL string) *Renderer {
	return &Renderer{workspaceURL: strings.TrimRight(workspaceURL, "/")}
}

// MessageLink はメッセージへのディープリンクを返す。
// 形式は <workspace>/archives/<channel>/p<tsからドットを除いたもの>。
func (r *Renderer) MessageLink(channelID, messageTS string) string {
	return fmt.Sprintf("%s/archives/%s/p%s", r.workspaceURL, channelID, strings.ReplaceAll(messageTS, ".", ""))
}

// userLink はユーザー名を u/name 形式のリンクにする。
func userLink(u *model.User) string {
	if u == nil {
		return "_unknown_"
	}
	return fmt.Sprintf("<https://reddit.com/u/%s|u/%s>", u.Username, u.Username)
}

func username(u *model.User) string {
	if u == nil {
		return "unknown"
	}
	return "u/" + u.Username
}

// link はURLが空でなければSlackのリンク表記を返す。
func link(url, label string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf("<%s|%s>", url, label)
}

func joinLinks(links ...string) string {
	var present []string
	for _, l := range links {
		if l != "" {
			present = append(present, l)
		}
	}
	if len(present) == 0 {
		return "_none_"
	}
	return strings.Join(present, " | ")
}
