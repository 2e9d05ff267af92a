// Package reddit はreddit上の投稿に対するモデレーション操作のポートを定義する。
package reddit

import (
	"context"
	"log/slog"

	"github.com/hitoshi/blossom/internal/model"
)

// Actions はreddit上の投稿に対する承認・削除のインターフェース。
type Actions interface {
	Approve(ctx context.Context, sub *model.Submission) error
	Remove(ctx context.Context, sub *model.Submission) error
}

// LogActions は操作をログに記録するだけのActions実装。
// redditの認証情報がない環境で使う。
type LogActions struct {
	logger *slog.Logger
}

// NewLogActions はLogActionsを生成する。
func NewLogActions(logger *slog.Logger) *LogActions {
	return &LogActions{logger: logger}
}

// Approve は承認操作をログに記録する。
func (a *LogActions) Approve(_ context.Context, sub *model.Submission) error {
	a.logger.Info("reddit approve", slog.Int64("submission_id", sub.ID), slog.String("url", sub.URL))
	return nil
}

// Remove は削除操作をログに記録する。
func (a *LogActions) Remove(_ context.Context, sub *model.Submission) error {
	a.logger.Info("reddit remove", slog.Int64("submission_id", sub.ID), slog.String("url", sub.URL))
	return nil
}

var _ Actions = (*LogActions)(nil)
