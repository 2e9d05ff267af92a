// Package report は投稿のレポートと、モデレーターによる承認・削除の対応を提供する。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/reddit"
	"github.com/hitoshi/blossom/internal/repository"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// Service はレポートのサービス層。
type Service struct {
	submissions repository.SubmissionRepository
	users       repository.UserRepository
	actions     reddit.Actions
	renderer    *chatview.Renderer
	poster      slack.Poster
	queue       queue.Enqueuer
	channel     string
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// channelはレポートメッセージを投稿するチャンネル。
func NewService(
	submissions repository.SubmissionRepository,
	users repository.UserRepository,
	actions reddit.Actions,
	renderer *chatview.Renderer,
	poster slack.Poster,
	q queue.Enqueuer,
	channel string,
	logger *slog.Logger,
) *Service {
	return &Service{
		submissions: submissions,
		users:       users,
		actions:     actions,
		renderer:    renderer,
		poster:      poster,
		queue:       q,
		channel:     channel,
		logger:      logger,
	}
}

func (s *Service) get(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewNotFoundError("submission", fmt.Sprint(id))
	}
	return sub, nil
}

// Report はレポート理由を記録し、レポートメッセージの投稿を予約する。
// レポート済みの投稿に対しては何もしない。
func (s *Service) Report(ctx context.Context, id int64, reason string) (*model.Submission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, model.NewBadRequestError("reason is required")
	}
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}

	ok, err := s.submissions.SetReport(ctx, id, reason)
	if err != nil {
		return nil, fmt.Errorf("レポートの記録に失敗しました: %w", err)
	}
	if ok {
		s.logger.Info("投稿がレポートされました", slog.Int64("submission_id", id), slog.String("reason", reason))
		s.Publish(ctx, id)
	}
	return s.get(ctx, id)
}

// Act はレポートへの対応（approve・remove・revert）を記録し、redditへの反映とメッセージの更新を予約する。
// 操作できるのはスタッフのみで、レポートされていない投稿は対象外。
func (s *Service) Act(ctx context.Context, verb string, id int64, actorName string) (*model.Submission, error) {
	var approved, removed bool
	switch verb {
	case chatview.VerbApprove:
		approved = true
	case chatview.VerbRemove:
		removed = true
	case chatview.VerbRevert:
	default:
		return nil, model.NewBadRequestError("unknown report action: " + verb)
	}
	if actorName == "" {
		return nil, model.NewBadRequestError("username is required")
	}
	actor, err := s.users.FindByUsername(ctx, actorName)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if actor == nil {
		return nil, model.NewNotFoundError("user", actorName)
	}
	if !policy.IsMod(actor) {
		return nil, model.NewForbiddenError("NOT_STAFF", "only staff can "+verb+" reported submissions")
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ReportReason == "" {
		return nil, model.NewPreconditionFailedError("NOT_REPORTED",
			fmt.Sprintf("submission %d has not been reported", id))
	}

	if err := s.submissions.SetModeration(ctx, id, approved, removed); err != nil {
		return nil, fmt.Errorf("レポート対応の記録に失敗しました: %w", err)
	}
	sub, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("レポートに対応しました",
		slog.Int64("submission_id", id),
		slog.String("action", verb),
		slog.String("moderator", actor.Username),
	)

	if approved || removed {
		s.enqueue(ctx, "reddit_"+verb, id, func(ctx context.Context) error {
			if approved {
				return s.actions.Approve(ctx, sub)
			}
			return s.actions.Remove(ctx, sub)
		})
	}
	s.Publish(ctx, id)
	return sub, nil
}

// Publish はレポートメッセージの描画をワーカーキューに予約する。
func (s *Service) Publish(ctx context.Context, id int64) {
	s.enqueue(ctx, "sync_report_message", id, func(ctx context.Context) error {
		return s.Sync(ctx, id)
	})
}

func (s *Service) enqueue(ctx context.Context, name string, id int64, fn queue.TaskFunc) {
	if err := s.queue.Enqueue(ctx, name, fn); err != nil {
		s.logger.Error("タスクの予約に失敗しました",
			slog.String("task", name),
			slog.Int64("submission_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Sync は投稿の現在の状態でレポートメッセージを描画し、座標があれば更新、なければ新規投稿する。
// レポートされていない投稿のメッセージは新規投稿しない。
func (s *Service) Sync(ctx context.Context, id int64) error {
	sub, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	d, err := s.detail(ctx, sub)
	if err != nil {
		return err
	}
	msg := s.renderer.Report(d)

	if sub.ReportChannelID != "" && sub.ReportMessageTS != "" {
		ref := slack.MessageRef{ChannelID: sub.ReportChannelID, TS: sub.ReportMessageTS}
		if err := s.poster.UpdateMessage(ctx, ref, msg); err != nil {
			return fmt.Errorf("レポートメッセージの更新に失敗しました: %w", err)
		}
		return nil
	}

	if sub.ReportReason == "" {
		return nil
	}
	if s.channel == "" {
		s.logger.Warn("レポート用チャンネルが未設定のためメッセージを投稿しません", slog.Int64("submission_id", id))
		return nil
	}
	msg.Channel = s.channel
	ref, err := s.poster.PostMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("レポートメッセージの投稿に失敗しました: %w", err)
	}
	if err := s.submissions.SetReportMessage(ctx, id, ref.ChannelID, ref.TS); err != nil {
		return fmt.Errorf("レポートメッセージの座標の保存に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) detail(ctx context.Context, sub *model.Submission) (*model.ReportDetail, error) {
	d := &model.ReportDetail{Submission: sub}
	var err error
	if sub.ClaimedBy != nil {
		if d.ClaimedBy, err = s.users.FindByID(ctx, *sub.ClaimedBy); err != nil {
			return nil, fmt.Errorf("担当者の取得に失敗しました: %w", err)
		}
	}
	if sub.CompletedBy != nil {
		if d.CompletedBy, err = s.users.FindByID(ctx, *sub.CompletedBy); err != nil {
			return nil, fmt.Errorf("完了者の取得に失敗しました: %w", err)
		}
	}
	return d, nil
}
