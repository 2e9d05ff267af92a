// Package notify はモデレーター向けチャンネルへの運用通知（ランクアップ、タスク異常、スポンサー）を提供する。
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// panicPostTimeout はpanic通知の投稿に使うタイムアウト。
const panicPostTimeout = 10 * time.Second

// Notifier はチャンネルへの通知をワーカーキュー経由で投稿する。
type Notifier struct {
	poster     slack.Poster
	queue      queue.Enqueuer
	modChannel string
	logger     *slog.Logger
}

// New はNotifierを生成する。modChannelはランクアップ通知の投稿先。
func New(poster slack.Poster, q queue.Enqueuer, modChannel string, logger *slog.Logger) *Notifier {
	return &Notifier{
		poster:     poster,
		queue:      q,
		modChannel: modChannel,
		logger:     logger,
	}
}

// NotifyRankUp はgammaに到達したユーザーのランクアップを通知する。
func (n *Notifier) NotifyRankUp(ctx context.Context, user *model.User, gamma int) {
	msg := chatview.RankUp(user, policy.RankOf(gamma-1), policy.RankOf(gamma), gamma)
	n.Post(ctx, "notify_rank_up", n.modChannel, msg)
}

// Post はメッセージをchannelに投稿するタスクを予約する。channelが空の場合は何もしない。
func (n *Notifier) Post(ctx context.Context, name, channel string, msg slack.Message) {
	if channel == "" {
		n.logger.Debug("通知先チャンネルが未設定のため通知しません", slog.String("task", name))
		return
	}
	msg.Channel = channel
	err := n.queue.Enqueue(ctx, name, func(ctx context.Context) error {
		_, err := n.poster.PostMessage(ctx, msg)
		return err
	})
	if err != nil {
		n.logger.Error("通知の予約に失敗しました",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
	}
}

// PanicReporter はワーカータスクのpanicをchannelに直接投稿するqueue.PanicReporterを返す。
// キューを経由しないため、キューの停止中も通知できる。
func PanicReporter(poster slack.Poster, channel string, logger *slog.Logger) queue.PanicReporter {
	return func(ctx context.Context, task queue.Task, recovered any, stack []byte) {
		if channel == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), panicPostTimeout)
		defer cancel()

		msg := chatview.TaskPanic(task.Name, recovered, stack)
		msg.Channel = channel
		if _, err := poster.PostMessage(ctx, msg); err != nil {
			logger.Error("panic通知の投稿に失敗しました",
				slog.String("task", task.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}
