// Package find はredditのURLから投稿と書き起こしを逆引きする。
package find

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// ErrInvalidURL はredditのURLとして解釈できないことを表す。
var ErrInvalidURL = errors.New("invalid reddit url")

// LinkKind はURLが指す対象の種類。
type LinkKind int

const (
	LinkSubmission LinkKind = iota + 1
	LinkComment
)

// ReviewSubreddit はToR投稿が置かれるsubreddit名。
const ReviewSubreddit = "transcribersofreddit"

// 正規化後のURLを"/"で分割したときの要素数。
// https://reddit.com/r/<sub>/comments/<id>/<slug>/ が9、コメントIDが付くと10以上になる。
const (
	submissionSegments  = 9
	minCommentSegments  = 10
	maxCommentSegments  = 11
	subredditSegmentIdx = 4
)

// redditHosts は同一サイトとして扱うホスト名。
var redditHosts = map[string]bool{
	"reddit.com":     true,
	"www.reddit.com": true,
	"old.reddit.com": true,
	"new.reddit.com": true,
}

// Link は正規化済みのredditのURL。
type Link struct {
	URL       string
	Kind      LinkKind
	Subreddit string
}

// IsReview はToRのsubredditを指すURLかを返す。
func (l Link) IsReview() bool {
	return strings.EqualFold(l.Subreddit, ReviewSubreddit)
}

// Normalize はredditのURLを https://reddit.com<path>/ の形式に正規化する。
// スキームとホスト名の表記揺れ、クエリ、フラグメントは取り除く。
func Normalize(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	clean, err := purell.NormalizeURLString(raw,
		purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagRemoveDuplicateSlashes|purell.FlagRemoveWWW)
	if err != nil {
		return Link{}, ErrInvalidURL
	}
	u, err := url.Parse(clean)
	if err != nil || !redditHosts[u.Hostname()] {
		return Link{}, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Link{}, ErrInvalidURL
	}

	path := u.EscapedPath()
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	normalized := "https://reddit.com" + path

	parts := strings.Split(normalized, "/")
	var kind LinkKind
	switch n := len(parts); {
	case n == submissionSegments:
		kind = LinkSubmission
	case n >= minCommentSegments && n <= maxCommentSegments:
		kind = LinkComment
	default:
		return Link{}, ErrInvalidURL
	}
	if parts[3] != "r" || parts[5] != "comments" {
		return Link{}, ErrInvalidURL
	}

	return Link{URL: normalized, Kind: kind, Subreddit: parts[subredditSegmentIdx]}, nil
}
