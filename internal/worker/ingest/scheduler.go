// Package ingest は提携サブレディットのフィードを巡回し、新しい画像投稿を取り込むワーカーを提供する。
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/blossom/internal/config"
)

// FeedFetcher は1フィードの取り込みのインターフェース。
type FeedFetcher interface {
	Fetch(ctx context.Context, src config.FeedSource) (*Result, error)
}

// Scheduler は一定間隔で全フィードを取り込む。
// semaphoreパターンで同時に取得するフィード数を制限する。
type Scheduler struct {
	feeds          []config.FeedSource
	fetcher        FeedFetcher
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は4を使用する。
func NewScheduler(feeds []config.FeedSource, fetcher FeedFetcher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		feeds:          feeds,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔で取り込みを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("feeds", len(s.feeds)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は全フィードを並列に1回取り込み、作成した投稿の合計数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if len(s.feeds) == 0 {
		return 0
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for _, feed := range s.feeds {
		wg.Add(1)
		sem <- struct{}{}

		go func(src config.FeedSource) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.fetcher.Fetch(ctx, src)
			if err != nil {
				s.logger.Error("フィードの取り込みに失敗しました",
					slog.String("source", src.Source),
					slog.String("feed_url", src.URL),
					slog.String("error", err.Error()),
				)
				return
			}
			mu.Lock()
			created += res.Created
			mu.Unlock()
		}(feed)
	}
	wg.Wait()
	return created
}
