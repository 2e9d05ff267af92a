package ingest

import (
	"net/url"
	"path"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// imageExtensions はOCR対象とみなす画像の拡張子。
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// imageHosts は拡張子なしでも画像を直接返すホスト。
var imageHosts = map[string]bool{
	"i.redd.it":       true,
	"i.imgur.com":     true,
	"preview.redd.it": true,
}

// isImageURL はURLが画像を直接指しているかを返す。
func isImageURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if imageHosts[strings.ToLower(u.Hostname())] {
		return true
	}
	return imageExtensions[strings.ToLower(path.Ext(u.Path))]
}

// ExtractImageURL はエントリ本文のHTMLから画像へのリンクを取り出す。
// 画像を指す<a href>を<img src>（サムネイル）より優先する。見つからなければ空文字を返す。
func ExtractImageURL(body string) string {
	var thumbnail string
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return thumbnail

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			if !hasAttr {
				continue
			}
			tag := string(name)
			if tag != "a" && tag != "img" {
				continue
			}
			for {
				key, val, more := tokenizer.TagAttr()
				k := string(key)
				v := html.UnescapeString(string(val))
				if tag == "a" && k == "href" && isImageURL(v) {
					return v
				}
				if tag == "img" && k == "src" && thumbnail == "" && isImageURL(v) {
					thumbnail = v
				}
				if !more {
					break
				}
			}
		}
	}
}

// imageOf はフィードエントリの画像URLを返す。本文、エンクロージャー、エントリ画像の順に探す。
func imageOf(item *gofeed.Item) string {
	for _, body := range []string{item.Content, item.Description} {
		if img := ExtractImageURL(body); img != "" {
			return img
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && (strings.HasPrefix(enc.Type, "image/") || isImageURL(enc.URL)) {
			return enc.URL
		}
	}
	if item.Image != nil && isImageURL(item.Image.URL) {
		return item.Image.URL
	}
	if isImageURL(item.Link) {
		return item.Link
	}
	return ""
}

// originalIDOf はエントリの外部IDを返す。
// redditのパーマリンクからは投稿IDを、GUIDからは"t3_"接頭辞を除いたIDを取り出す。
func originalIDOf(item *gofeed.Item) string {
	if u, err := url.Parse(item.Link); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i+1 < len(parts); i++ {
			if parts[i] == "comments" && parts[i+1] != "" {
				return parts[i+1]
			}
		}
	}
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return strings.TrimPrefix(guid, "t3_")
	}
	return strings.TrimSpace(item.Link)
}

// isNSFW はエントリにNSFWのカテゴリが付いているかを返す。
func isNSFW(item *gofeed.Item) bool {
	for _, c := range item.Categories {
		if strings.EqualFold(strings.TrimSpace(c), "nsfw") {
			return true
		}
	}
	return false
}
