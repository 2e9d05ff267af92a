package slackbot

import (
	"fmt"
	"regexp"
	"strings"
)

// コマンド応答の文言。キーはエラー原因やコマンドの結果に対応する。
var replies = map[string]string{
	"missing_username":   "I don't see a username in your request. Usage: `%s`",
	"unknown_username":   "I couldn't find a volunteer named u/%s.",
	"too_many_params":    "That's too many parameters. Usage: `%s`",
	"missing_params":     "That's not enough parameters. Usage: `%s`",
	"invalid_url":        "I couldn't make sense of that link: `%s`",
	"invalid_percentage": "The percentage must be a whole number between 1 and 100, not `%s`.",
	"percentage_too_low": "That percentage is too low: u/%s is already checked at %s%% automatically.",
	"no_transcription":   "I couldn't find a transcription for that link.",
	"not_found":          "I couldn't find anything for that link.",
	"unknown_command":    "I don't know the command `%s`. Try `@blossom help`.",
	"empty_command":      "Hi! Try `@blossom help` to see what I can do.",
	"internal_error":     "Something went wrong while handling that. The error has been logged.",
}

// reply は文言を引数で埋めて返す。
func reply(key string, args ...any) string {
	return fmt.Sprintf(replies[key], args...)
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// parseCommand はメンション付きの本文からコマンド名と引数を取り出す。
// コマンド名は小文字化し、引数は空白区切りのまま返す。
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(mentionPattern.ReplaceAllString(text, " "))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// normalizeUsername はコマンド引数のユーザー名を正規化する。
// name, u/name, /u/name, *name* のような装飾、<url|text> 形式のリンクを受け付ける。
func normalizeUsername(token string) string {
	name := strings.TrimSpace(token)
	if strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">") {
		inner := name[1 : len(name)-1]
		if i := strings.LastIndex(inner, "|"); i >= 0 {
			inner = inner[i+1:]
		} else {
			inner = strings.TrimSuffix(inner, "/")
			inner = inner[strings.LastIndex(inner, "/")+1:]
		}
		name = inner
	}
	name = strings.Trim(name, "*_`")
	name = strings.TrimPrefix(name, "/")
	if len(name) > 2 && strings.EqualFold(name[:2], "u/") {
		name = name[2:]
	}
	return strings.ToLower(name)
}

// unwrapLink はSlackが <url> や <url|text> に変換したリンクからURLを取り出す。
func unwrapLink(token string) string {
	if strings.HasPrefix(token, "<") && strings.HasSuffix(token, ">") {
		inner := token[1 : len(token)-1]
		if i := strings.Index(inner, "|"); i >= 0 {
			inner = inner[:i]
		}
		return inner
	}
	return token
}
