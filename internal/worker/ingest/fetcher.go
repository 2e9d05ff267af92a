package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/blossom/internal/config"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/submission"
)

// SubmissionCreator は投稿作成のインターフェース。submission.Serviceが実装する。
type SubmissionCreator interface {
	Create(ctx context.Context, in submission.CreateInput) (*model.Submission, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	Validate(rawURL string) error
	Client() *http.Client
}

// TitleSanitizer はタイトルからHTMLを除去するインターフェース。
type TitleSanitizer interface {
	Title(raw string) string
}

// IngestRecorder は取り込み件数を記録するインターフェース。
type IngestRecorder interface {
	RecordSubmissionsIngested(count int)
}

// Result は1フィード分の取り込み結果。
type Result struct {
	Created    int
	Duplicates int
	Failed     int
	// NotModified は304により本文を取得しなかった場合にtrue。
	NotModified bool
}

// validators は条件付きGET用のキャッシュ検証子。
type validators struct {
	etag         string
	lastModified string
}

// Fetcher はフィードを取得し、未登録のエントリを投稿として作成する。
// 作成はsubmission.Serviceを通すため、OCRの予約はAPIからの作成と同じ経路で行われる。
type Fetcher struct {
	creator     SubmissionCreator
	guard       SSRFValidator
	sanitizer   TitleSanitizer
	recorder    IngestRecorder
	logger      *slog.Logger
	maxBodySize int64

	mu    sync.Mutex
	cache map[string]validators
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	creator SubmissionCreator,
	guard SSRFValidator,
	sanitizer TitleSanitizer,
	recorder IngestRecorder,
	logger *slog.Logger,
	maxBodySize int64,
) *Fetcher {
	return &Fetcher{
		creator:     creator,
		guard:       guard,
		sanitizer:   sanitizer,
		recorder:    recorder,
		logger:      logger,
		maxBodySize: maxBodySize,
		cache:       make(map[string]validators),
	}
}

// Fetch はフィードを1回取得して取り込む。
// 取得・解析に失敗した場合はエラーを返す。エントリ単位の作成失敗は件数に数えて継続する。
func (f *Fetcher) Fetch(ctx context.Context, src config.FeedSource) (*Result, error) {
	start := time.Now()

	if err := f.guard.Validate(src.URL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Blossom/1.0 feed ingest")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	f.mu.Lock()
	cached := f.cache[src.URL]
	f.mu.Unlock()
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	resp, err := f.guard.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		f.logger.Info("フィードは未変更です（304）",
			slog.String("source", src.Source),
			slog.String("feed_url", src.URL),
		)
		return &Result{NotModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	f.mu.Lock()
	f.cache[src.URL] = validators{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	f.mu.Unlock()

	res := &Result{}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		f.ingest(ctx, src, item, res)
	}
	if res.Created > 0 {
		f.recorder.RecordSubmissionsIngested(res.Created)
	}

	f.logger.Info("フィードの取り込みが完了しました",
		slog.String("source", src.Source),
		slog.String("feed_url", src.URL),
		slog.Int("entries", len(parsed.Items)),
		slog.Int("created", res.Created),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("failed", res.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// ingest は1エントリを投稿として作成する。既存の投稿は重複として数える。
func (f *Fetcher) ingest(ctx context.Context, src config.FeedSource, item *gofeed.Item, res *Result) {
	in := toCreateInput(src.Source, item, f.sanitizer)
	if in.OriginalID == "" {
		res.Failed++
		return
	}

	_, err := f.creator.Create(ctx, in)
	switch {
	case err == nil:
		res.Created++
	case model.ReasonOf(err) == "DUPLICATE":
		res.Duplicates++
	default:
		res.Failed++
		f.logger.Warn("エントリの取り込みに失敗しました",
			slog.String("source", src.Source),
			slog.String("original_id", in.OriginalID),
			slog.String("error", err.Error()),
		)
	}
}

// toCreateInput はgofeedのエントリを投稿作成の入力に変換する。
// 画像が見つからないエントリはOCR不可として作成する。
func toCreateInput(source string, item *gofeed.Item, sanitizer TitleSanitizer) submission.CreateInput {
	link := strings.TrimSpace(item.Link)
	image := imageOf(item)

	in := submission.CreateInput{
		OriginalID: originalIDOf(item),
		Source:     source,
		URL:        link,
		Title:      sanitizer.Title(item.Title),
		NSFW:       isNSFW(item),
		ContentURL: image,
	}
	if image == "" {
		in.ContentURL = link
		in.CannotOCR = true
	}
	return in
}
