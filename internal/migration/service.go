// Package migration はアカウント移行（旧ユーザーの実績を新ユーザーに付け替える操作）を提供する。
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/repository"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// Startで旧・新ユーザーが見つからない場合のエラーのReason。
const (
	ReasonOldUserNotFound = "OLD_USER_NOT_FOUND"
	ReasonNewUserNotFound = "NEW_USER_NOT_FOUND"
)

// Service はアカウント移行のサービス層。
type Service struct {
	migrations repository.MigrationRepository
	users      repository.UserRepository
	renderer   *chatview.Renderer
	poster     slack.Poster
	queue      queue.Enqueuer
	channel    string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// channelは投稿先の指定がない場合に移行メッセージを投稿するチャンネル。
func NewService(
	migrations repository.MigrationRepository,
	users repository.UserRepository,
	renderer *chatview.Renderer,
	poster slack.Poster,
	q queue.Enqueuer,
	channel string,
	logger *slog.Logger,
) *Service {
	return &Service{
		migrations: migrations,
		users:      users,
		renderer:   renderer,
		poster:     poster,
		queue:      q,
		channel:    channel,
		logger:     logger,
		now:        time.Now,
	}
}

// Get は指定IDの移行を返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.AccountMigration, error) {
	m, err := s.migrations.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("移行の取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewNotFoundError("migration", fmt.Sprint(id))
	}
	return m, nil
}

func (s *Service) lookupUser(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, model.NewBadRequestError("username is required")
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", username)
	}
	return user, nil
}

// Start は移行をPENDING状態で作成し、承認用のメッセージをchannelに投稿する。
func (s *Service) Start(ctx context.Context, oldName, newName, channel string) (*model.AccountMigration, error) {
	oldUser, err := s.lookupUser(ctx, oldName)
	if err != nil {
		return nil, withNotFoundReason(err, ReasonOldUserNotFound)
	}
	newUser, err := s.lookupUser(ctx, newName)
	if err != nil {
		return nil, withNotFoundReason(err, ReasonNewUserNotFound)
	}
	if oldUser.ID == newUser.ID {
		return nil, model.NewInvalidParameterError("SAME_USER", "old and new usernames must differ")
	}

	m := &model.AccountMigration{
		OldUserID:  oldUser.ID,
		NewUserID:  newUser.ID,
		CreateTime: s.now(),
	}
	if err := s.migrations.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("移行の作成に失敗しました: %w", err)
	}

	s.logger.Info("アカウント移行を作成しました",
		slog.Int64("migration_id", m.ID),
		slog.String("old_username", oldUser.Username),
		slog.String("new_username", newUser.Username),
	)
	s.Publish(ctx, m.ID, channel)
	return m, nil
}

// withNotFoundReason はユーザー未検出のエラーであれば、どちらのユーザーかを示すReasonに置き換える。
func withNotFoundReason(err error, reason string) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotFound {
		e := *apiErr
		e.Reason = reason
		return &e
	}
	return err
}

// Approve は移行を承認し、旧ユーザーの実績を新ユーザーに付け替える。承認済みの場合は何もしない。
// 新ユーザーが旧ユーザーの書き起こしのチェックを担当している場合は承認できない。
func (s *Service) Approve(ctx context.Context, id int64, actorName string) (*model.AccountMigration, error) {
	return s.act(ctx, id, actorName, "approve", model.MigrationApproved, model.MigrationPending,
		func(m *model.AccountMigration, actor *model.User) (bool, error) {
			ok, err := s.migrations.Approve(ctx, m.ID, actor.ID)
			if errors.Is(err, repository.ErrMigrationSelfReview) {
				return false, model.NewPreconditionFailedError("MIGRATION_SELF_REVIEW",
					fmt.Sprintf("migration %d would make the new user the moderator of their own transcription; unclaim those checks first", m.ID))
			}
			return ok, err
		})
}

// Revert は承認済みの移行を取り消し、付け替えた実績を旧ユーザーに戻す。取り消し済みの場合は何もしない。
func (s *Service) Revert(ctx context.Context, id int64, actorName string) (*model.AccountMigration, error) {
	return s.act(ctx, id, actorName, "revert", model.MigrationReverted, model.MigrationApproved,
		func(m *model.AccountMigration, _ *model.User) (bool, error) {
			return s.migrations.Revert(ctx, m.ID)
		})
}

// Cancel はPENDINGの移行を取り消す。キャンセル済みの場合は何もしない。
func (s *Service) Cancel(ctx context.Context, id int64, actorName string) (*model.AccountMigration, error) {
	return s.act(ctx, id, actorName, "cancel", model.MigrationCancelled, model.MigrationPending,
		func(m *model.AccountMigration, actor *model.User) (bool, error) {
			return s.migrations.Cancel(ctx, m.ID, actor.ID)
		})
}

// act は操作者が移行の当事者でないスタッフであることを確認し、fromの状態であればapplyで遷移させる。
// 既にtoの状態であれば遷移せず、どちらの場合もメッセージを現在の状態で描画し直す。
func (s *Service) act(
	ctx context.Context,
	id int64,
	actorName, verb string,
	to, from model.MigrationStatus,
	apply func(*model.AccountMigration, *model.User) (bool, error),
) (*model.AccountMigration, error) {
	actor, err := s.lookupUser(ctx, actorName)
	if err != nil {
		return nil, err
	}
	if !policy.IsMod(actor) {
		return nil, model.NewForbiddenError("NOT_STAFF", "only staff can "+verb+" account migrations")
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID == m.OldUserID || actor.ID == m.NewUserID {
		return nil, model.NewForbiddenError("OWN_MIGRATION", "cannot "+verb+" a migration of your own account")
	}
	switch m.Status {
	case to:
		s.Publish(ctx, id, "")
		return m, nil
	case from:
	default:
		return nil, model.NewPreconditionFailedError("INVALID_MIGRATION_STATE",
			fmt.Sprintf("cannot %s a migration in state %s", verb, m.Status))
	}

	ok, err := apply(m, actor)
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return nil, apiErr
	}
	if err != nil {
		return nil, fmt.Errorf("移行の更新に失敗しました: %w", err)
	}
	if !ok {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == to {
			s.Publish(ctx, id, "")
			return current, nil
		}
		return nil, model.NewPreconditionFailedError("MIGRATION_MODIFIED",
			fmt.Sprintf("migration %d was modified concurrently", id))
	}

	s.logger.Info("アカウント移行を更新しました",
		slog.Int64("migration_id", id),
		slog.String("action", verb),
		slog.String("moderator", actor.Username),
	)
	s.Publish(ctx, id, "")
	return s.Get(ctx, id)
}

// Publish は移行メッセージの描画をワーカーキューに予約する。
// channelは座標が未保存の場合の投稿先で、空の場合はデフォルトのチャンネルを使う。
func (s *Service) Publish(ctx context.Context, id int64, channel string) {
	err := s.queue.Enqueue(ctx, "sync_migration_message", func(ctx context.Context) error {
		return s.Sync(ctx, id, channel)
	})
	if err != nil {
		s.logger.Error("移行メッセージの予約に失敗しました",
			slog.Int64("migration_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Sync は移行の現在の状態でメッセージを描画し、保存済みの座標があれば更新、なければ新規投稿する。
func (s *Service) Sync(ctx context.Context, id int64, channel string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	d, err := s.Detail(ctx, m)
	if err != nil {
		return err
	}
	msg := s.renderer.Migration(d)

	if m.SlackChannelID != "" && m.SlackMessageTS != "" {
		ref := slack.MessageRef{ChannelID: m.SlackChannelID, TS: m.SlackMessageTS}
		if err := s.poster.UpdateMessage(ctx, ref, msg); err != nil {
			return fmt.Errorf("移行メッセージの更新に失敗しました: %w", err)
		}
		return nil
	}

	if channel == "" {
		channel = s.channel
	}
	if channel == "" {
		s.logger.Warn("投稿先チャンネルが未設定のため移行メッセージを投稿しません", slog.Int64("migration_id", id))
		return nil
	}
	msg.Channel = channel
	ref, err := s.poster.PostMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("移行メッセージの投稿に失敗しました: %w", err)
	}
	if err := s.migrations.SetMessage(ctx, id, ref.ChannelID, ref.TS); err != nil {
		return fmt.Errorf("移行メッセージの座標の保存に失敗しました: %w", err)
	}
	return nil
}

// Detail は移行メッセージの描画に必要なユーザーを取得する。
func (s *Service) Detail(ctx context.Context, m *model.AccountMigration) (*model.MigrationDetail, error) {
	d := &model.MigrationDetail{Migration: m}
	var err error
	if d.OldUser, err = s.users.FindByID(ctx, m.OldUserID); err != nil {
		return nil, fmt.Errorf("旧ユーザーの取得に失敗しました: %w", err)
	}
	if d.NewUser, err = s.users.FindByID(ctx, m.NewUserID); err != nil {
		return nil, fmt.Errorf("新ユーザーの取得に失敗しました: %w", err)
	}
	if m.ModeratorID != nil {
		if d.Moderator, err = s.users.FindByID(ctx, *m.ModeratorID); err != nil {
			return nil, fmt.Errorf("モデレーターの取得に失敗しました: %w", err)
		}
	}
	return d, nil
}
