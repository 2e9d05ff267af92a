// Package slackbot はSlackから届くコマンドとボタン操作を各サービスに振り分ける。
// チャットへの応答はすべてワーカーキュー経由で投稿する。
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/find"
	"github.com/hitoshi/blossom/internal/metrics"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/volunteer"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// VolunteerService はコマンドが使うボランティア操作のインターフェース。
type VolunteerService interface {
	Summary(ctx context.Context, username string) (*volunteer.Summary, error)
	Watch(ctx context.Context, username string, percentage int) (*model.User, error)
	Unwatch(ctx context.Context, username string) (*model.User, error)
	ListWatched(ctx context.Context) ([]*model.User, error)
	Block(ctx context.Context, username string) (*model.User, error)
	Unblock(ctx context.Context, username string) (*model.User, error)
	ResetCoC(ctx context.Context, username string) (*model.User, error)
}

// CheckService はチェックの作成と操作のインターフェース。
type CheckService interface {
	Create(ctx context.Context, transcriptionID int64, trigger string) (*model.TranscriptionCheck, bool, error)
	Act(ctx context.Context, checkID int64, action model.CheckAction, actorName string) (*model.TranscriptionCheck, error)
	Publish(ctx context.Context, checkID int64)
	ListForUser(ctx context.Context, username string, statuses []model.CheckStatus) ([]*model.TranscriptionCheck, error)
	MessageLink(c *model.TranscriptionCheck) string
}

// MigrationService はアカウント移行のインターフェース。
type MigrationService interface {
	Start(ctx context.Context, oldName, newName, channel string) (*model.AccountMigration, error)
	Approve(ctx context.Context, id int64, actorName string) (*model.AccountMigration, error)
	Revert(ctx context.Context, id int64, actorName string) (*model.AccountMigration, error)
	Cancel(ctx context.Context, id int64, actorName string) (*model.AccountMigration, error)
	Publish(ctx context.Context, id int64, channel string)
}

// ReportService はレポート対応のインターフェース。
type ReportService interface {
	Act(ctx context.Context, verb string, id int64, actorName string) (*model.Submission, error)
	Publish(ctx context.Context, id int64)
}

// Finder はURLから投稿と書き起こしを探すインターフェース。
type Finder interface {
	Find(ctx context.Context, raw string) (*find.Result, error)
}

// Deps はBotの依存関係。
type Deps struct {
	Volunteers VolunteerService
	Checks     CheckService
	Migrations MigrationService
	Reports    ReportService
	Finder     Finder
	Renderer   *chatview.Renderer
	Poster     slack.Poster
	Queue      queue.Enqueuer
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
}

// Bot はSlackのイベントとインタラクションを処理する。
type Bot struct {
	volunteers VolunteerService
	checks     CheckService
	migrations MigrationService
	reports    ReportService
	finder     Finder
	renderer   *chatview.Renderer
	poster     slack.Poster
	queue      queue.Enqueuer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	registry   map[string]command
}

// New はBotの新しいインスタンスを生成する。
func New(deps Deps) *Bot {
	b := &Bot{
		volunteers: deps.Volunteers,
		checks:     deps.Checks,
		migrations: deps.Migrations,
		reports:    deps.Reports,
		finder:     deps.Finder,
		renderer:   deps.Renderer,
		poster:     deps.Poster,
		queue:      deps.Queue,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if b.metrics == nil {
		b.metrics = metrics.Nop{}
	}
	b.registry = make(map[string]command)
	for _, cmd := range b.commands() {
		b.registry[cmd.name] = cmd
	}
	return b
}

// HandleEvent はevent_callbackのイベントを処理する。
// botのメンションのみをコマンドとして扱い、応答はスレッドに投稿する。
func (b *Bot) HandleEvent(ctx context.Context, env *slack.EventEnvelope) {
	ev := env.Event
	if env.Type != slack.EnvelopeEventCallback || ev.Type != slack.EventAppMention || ev.BotID != "" {
		b.metrics.RecordSlackRequest("event", "ignored")
		return
	}

	name, args := parseCommand(ev.Text)
	b.logger.Info("コマンドを受信しました",
		slog.String("command", name),
		slog.String("user", ev.User),
		slog.String("channel", ev.Channel),
	)
	text := b.runCommand(ctx, name, commandRequest{channel: ev.Channel, user: ev.User, args: args})
	b.metrics.RecordSlackRequest("command", "ok")
	if text == "" {
		return
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}
	b.post(ctx, "slack_command_reply", slack.Message{Channel: ev.Channel, ThreadTS: threadTS, Text: text})
}

// HandleInteraction はボタン操作を解析し、対象のサービスに振り分ける。
// 操作が失敗した場合は押した人にスレッドで理由を伝え、メッセージを現在の状態で描画し直す。
func (b *Bot) HandleInteraction(ctx context.Context, p *slack.InteractionPayload) {
	if p.Type != slack.InteractionBlockActions {
		b.metrics.RecordSlackRequest("action", "ignored")
		return
	}
	for _, action := range p.Actions {
		b.dispatch(ctx, p, action)
	}
}

func (b *Bot) dispatch(ctx context.Context, p *slack.InteractionPayload, action slack.Action) {
	actor := p.User.Handle()
	value, err := chatview.ParseActionValue(action.Value)
	if err != nil {
		b.logger.Warn("未知のボタン操作を受信しました",
			slog.String("value", action.Value),
			slog.String("user", actor),
		)
		b.metrics.RecordSlackRequest("action", "unknown")
		b.post(ctx, "slack_action_error", chatview.ActionError(p.Ref(), p.User.ID,
			fmt.Sprintf("I don't know how to handle the button `%s`.", action.Value)))
		return
	}

	logger := b.logger.With(
		slog.String("kind", value.Kind.String()),
		slog.Int64("id", value.ID),
		slog.String("user", actor),
	)

	switch value.Kind {
	case chatview.ActionKindCheck:
		_, err = b.checks.Act(ctx, value.ID, value.CheckAction, actor)
	case chatview.ActionKindReport:
		_, err = b.reports.Act(ctx, value.Verb, value.ID, actor)
	case chatview.ActionKindMigration:
		switch value.Verb {
		case chatview.VerbApprove:
			_, err = b.migrations.Approve(ctx, value.ID, actor)
		case chatview.VerbRevert:
			_, err = b.migrations.Revert(ctx, value.ID, actor)
		case chatview.VerbCancel:
			_, err = b.migrations.Cancel(ctx, value.ID, actor)
		}
	}
	if err == nil {
		logger.Info("ボタン操作を処理しました", slog.String("value", action.Value))
		b.metrics.RecordSlackRequest("action", "ok")
		return
	}

	reason := reply("internal_error")
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		reason = apiErr.Message
		logger.Info("ボタン操作を受け付けませんでした", slog.String("reason", apiErr.Reason))
	} else {
		logger.Error("ボタン操作の処理に失敗しました", slog.String("error", err.Error()))
	}
	b.metrics.RecordSlackRequest("action", "rejected")
	b.post(ctx, "slack_action_error", chatview.ActionError(p.Ref(), p.User.ID, reason))
	b.rerender(ctx, value)
}

// rerender はボタン操作の対象メッセージを現在の状態で描画し直す。
func (b *Bot) rerender(ctx context.Context, value chatview.ActionValue) {
	switch value.Kind {
	case chatview.ActionKindCheck:
		b.checks.Publish(ctx, value.ID)
	case chatview.ActionKindReport:
		b.reports.Publish(ctx, value.ID)
	case chatview.ActionKindMigration:
		b.migrations.Publish(ctx, value.ID, "")
	}
}

// post はメッセージの投稿をワーカーキューに予約する。
func (b *Bot) post(ctx context.Context, name string, msg slack.Message) {
	err := b.queue.Enqueue(ctx, name, func(ctx context.Context) error {
		if _, err := b.poster.PostMessage(ctx, msg); err != nil {
			return fmt.Errorf("応答の投稿に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		b.logger.Error("応答の予約に失敗しました", slog.String("task", name), slog.String("error", err.Error()))
	}
}
