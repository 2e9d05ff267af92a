// Package check は書き起こしチェック（モデレーターレビュー）の状態遷移と
// チャットメッセージへの反映を提供する。
package check

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/metrics"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/repository"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// transition はモデレーター確定後の操作による状態遷移。
type transition struct {
	from model.CheckStatus
	to   model.CheckStatus
}

var forwardTransitions = map[model.CheckAction]transition{
	model.CheckActionApprove:         {from: model.CheckPending, to: model.CheckApproved},
	model.CheckActionCommentPending:  {from: model.CheckPending, to: model.CheckCommentPending},
	model.CheckActionWarningPending:  {from: model.CheckPending, to: model.CheckWarningPending},
	model.CheckActionCommentResolved: {from: model.CheckCommentPending, to: model.CheckCommentResolved},
	model.CheckActionCommentUnfixed:  {from: model.CheckCommentPending, to: model.CheckCommentUnfixed},
	model.CheckActionWarningResolved: {from: model.CheckWarningPending, to: model.CheckWarningResolved},
	model.CheckActionWarningUnfixed:  {from: model.CheckWarningPending, to: model.CheckWarningUnfixed},
}

// revertTargets はrevertで戻る先の状態。
var revertTargets = map[model.CheckStatus]model.CheckStatus{
	model.CheckApproved:        model.CheckPending,
	model.CheckCommentPending:  model.CheckPending,
	model.CheckWarningPending:  model.CheckPending,
	model.CheckCommentResolved: model.CheckCommentPending,
	model.CheckCommentUnfixed:  model.CheckCommentPending,
	model.CheckWarningResolved: model.CheckWarningPending,
	model.CheckWarningUnfixed:  model.CheckWarningPending,
}

// WarningStatuses は警告として扱うチェック状態。
var WarningStatuses = []model.CheckStatus{
	model.CheckWarningPending,
	model.CheckWarningResolved,
	model.CheckWarningUnfixed,
}

// Service は書き起こしチェックのサービス層。
// 状態遷移は比較交換で確定させ、チャットメッセージの更新はワーカーキューに委ねる。
type Service struct {
	checks         repository.CheckRepository
	transcriptions repository.TranscriptionRepository
	submissions    repository.SubmissionRepository
	users          repository.UserRepository
	renderer       *chatview.Renderer
	poster         slack.Poster
	queue          queue.Enqueuer
	channel        string
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	now            func() time.Time
}

// Option はServiceのオプション設定関数。
type Option func(*Service)

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService はServiceの新しいインスタンスを生成する。
// channelはチェックメッセージを新規投稿するチャンネル。
func NewService(
	checks repository.CheckRepository,
	transcriptions repository.TranscriptionRepository,
	submissions repository.SubmissionRepository,
	users repository.UserRepository,
	renderer *chatview.Renderer,
	poster slack.Poster,
	q queue.Enqueuer,
	channel string,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		checks:         checks,
		transcriptions: transcriptions,
		submissions:    submissions,
		users:          users,
		renderer:       renderer,
		poster:         poster,
		queue:          q,
		channel:        channel,
		logger:         logger,
		metrics:        metrics.Nop{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get は指定IDのチェックを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.TranscriptionCheck, error) {
	c, err := s.checks.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("チェックの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewNotFoundError("check", fmt.Sprint(id))
	}
	return c, nil
}

// Create は書き起こしに対するチェックを作成し、メッセージの投稿を予約する。
// 既にチェックが存在する場合は既存のチェックとfalseを返し、投稿は行わない。
func (s *Service) Create(ctx context.Context, transcriptionID int64, trigger string) (*model.TranscriptionCheck, bool, error) {
	t, err := s.transcriptions.FindByID(ctx, transcriptionID)
	if err != nil {
		return nil, false, fmt.Errorf("書き起こしの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, false, model.NewNotFoundError("transcription", fmt.Sprint(transcriptionID))
	}

	c, created, err := s.checks.Create(ctx, &model.TranscriptionCheck{
		TranscriptionID: t.ID,
		Status:          model.CheckPending,
		Trigger:         trigger,
	})
	if err != nil {
		return nil, false, fmt.Errorf("チェックの作成に失敗しました: %w", err)
	}
	if created {
		s.Created(ctx, c)
	}
	return c, created, nil
}

// Created は新規作成されたチェックのメトリクスを記録し、メッセージの投稿を予約する。
// 投稿の完了処理で作成されたチェックもここを通る。
func (s *Service) Created(ctx context.Context, c *model.TranscriptionCheck) {
	s.metrics.RecordCheckCreated(c.Trigger)
	s.logger.Info("チェックを作成しました",
		slog.Int64("check_id", c.ID),
		slog.Int64("transcription_id", c.TranscriptionID),
		slog.String("trigger", c.Trigger),
	)
	s.Publish(ctx, c.ID)
}

// Act はチェックに対する操作を実行する。
// 未担当のチェックはclaimのみ受け付け、担当済みのチェックは担当モデレーター本人の操作のみ受け付ける。
// 状態の確定後にメッセージの更新を予約する。更新の失敗は状態遷移に影響しない。
func (s *Service) Act(ctx context.Context, checkID int64, action model.CheckAction, actorName string) (*model.TranscriptionCheck, error) {
	actor, err := s.users.FindByUsername(ctx, actorName)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if actor == nil {
		return nil, model.NewNotFoundError("user", actorName)
	}

	c, err := s.Get(ctx, checkID)
	if err != nil {
		return nil, err
	}

	t, err := s.transcriptions.FindByID(ctx, c.TranscriptionID)
	if err != nil {
		return nil, fmt.Errorf("書き起こしの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewNotFoundError("transcription", fmt.Sprint(c.TranscriptionID))
	}

	next, err := s.plan(c, t, actor, action)
	if err != nil {
		return nil, err
	}

	ok, err := s.checks.Transition(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("チェックの更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewPreconditionFailedError("CHECK_MODIFIED",
			fmt.Sprintf("check %d was updated by someone else", c.ID))
	}

	s.metrics.RecordCheckTransition(string(action))
	s.logger.Info("チェックの状態を更新しました",
		slog.Int64("check_id", c.ID),
		slog.String("action", string(action)),
		slog.String("from", string(c.Status)),
		slog.String("to", string(next.ToStatus)),
		slog.String("username", actor.Username),
	)
	s.Publish(ctx, c.ID)

	return s.Get(ctx, c.ID)
}

// plan は操作の前提条件を検証し、比較交換の入力を組み立てる。
func (s *Service) plan(c *model.TranscriptionCheck, t *model.Transcription, actor *model.User, action model.CheckAction) (repository.CheckTransition, error) {
	next := repository.CheckTransition{
		ID:            c.ID,
		FromStatus:    c.Status,
		FromModerator: c.ModeratorID,
		ToStatus:      c.Status,
		ToModerator:   c.ModeratorID,
		ClaimTime:     c.ClaimTime,
		CompleteTime:  c.CompleteTime,
	}
	now := s.now()

	if action == model.CheckActionClaim {
		if c.ModeratorID != nil {
			return next, model.NewConflictError("CHECK_ALREADY_CLAIMED",
				fmt.Sprintf("check %d has already been claimed", c.ID))
		}
		if policy.IsSelfReview(actor, t) {
			return next, model.NewForbiddenError("SELF_REVIEW", "You cannot claim your own transcription.")
		}
		next.ToStatus = model.CheckPending
		next.ToModerator = &actor.ID
		next.ClaimTime = &now
		return next, nil
	}

	if c.ModeratorID == nil {
		return next, model.NewPreconditionFailedError("CHECK_NOT_CLAIMED",
			fmt.Sprintf("check %d must be claimed first", c.ID))
	}
	if *c.ModeratorID != actor.ID {
		return next, model.NewNotAcceptableError("NOT_CHECK_MODERATOR",
			fmt.Sprintf("check %d is claimed by another moderator", c.ID))
	}

	invalid := model.NewPreconditionFailedError("INVALID_TRANSITION",
		fmt.Sprintf("cannot %s a check in state %s", action, c.Status))

	switch action {
	case model.CheckActionUnclaim:
		if c.Status != model.CheckPending {
			return next, invalid
		}
		next.ToModerator = nil
		next.ClaimTime = nil
	case model.CheckActionRevert:
		to, ok := revertTargets[c.Status]
		if !ok {
			return next, invalid
		}
		next.ToStatus = to
		next.CompleteTime = nil
	default:
		tr, ok := forwardTransitions[action]
		if !ok {
			return next, model.NewBadRequestError(fmt.Sprintf("unknown check action %q", action))
		}
		if c.Status != tr.from {
			return next, invalid
		}
		next.ToStatus = tr.to
		if tr.to.Terminal() {
			next.CompleteTime = &now
		}
	}
	return next, nil
}

// Publish はチェックメッセージの投稿または更新をワーカーキューに予約する。
func (s *Service) Publish(ctx context.Context, checkID int64) {
	err := s.queue.Enqueue(ctx, "sync_check_message", func(ctx context.Context) error {
		return s.Sync(ctx, checkID)
	})
	if err != nil {
		s.logger.Error("チェックメッセージの予約に失敗しました",
			slog.Int64("check_id", checkID),
			slog.String("error", err.Error()),
		)
	}
}

// Sync はチェックの現在の状態でメッセージを描画し、保存済みの座標があれば更新、なければ新規投稿する。
// 新規投稿した場合は返された座標を保存する。
func (s *Service) Sync(ctx context.Context, checkID int64) error {
	c, err := s.Get(ctx, checkID)
	if err != nil {
		return err
	}
	d, err := s.Detail(ctx, c)
	if err != nil {
		return err
	}
	msg := s.renderer.Check(d)

	if c.HasMessage() {
		ref := slack.MessageRef{ChannelID: c.SlackChannelID, TS: c.SlackMessageTS}
		if err := s.poster.UpdateMessage(ctx, ref, msg); err != nil {
			return fmt.Errorf("チェックメッセージの更新に失敗しました: %w", err)
		}
		return nil
	}

	if s.channel == "" {
		s.logger.Warn("チェック用チャンネルが未設定のためメッセージを投稿しません", slog.Int64("check_id", c.ID))
		return nil
	}
	msg.Channel = s.channel
	ref, err := s.poster.PostMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("チェックメッセージの投稿に失敗しました: %w", err)
	}
	if err := s.checks.SetMessage(ctx, c.ID, ref.ChannelID, ref.TS); err != nil {
		return fmt.Errorf("チェックメッセージの座標の保存に失敗しました: %w", err)
	}
	return nil
}

// Detail はチェックメッセージの描画に必要な関連エンティティを取得する。
func (s *Service) Detail(ctx context.Context, c *model.TranscriptionCheck) (*model.CheckDetail, error) {
	t, err := s.transcriptions.FindByID(ctx, c.TranscriptionID)
	if err != nil {
		return nil, fmt.Errorf("書き起こしの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewNotFoundError("transcription", fmt.Sprint(c.TranscriptionID))
	}
	sub, err := s.submissions.FindByID(ctx, t.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewNotFoundError("submission", fmt.Sprint(t.SubmissionID))
	}
	author, err := s.users.FindByID(ctx, t.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("作者の取得に失敗しました: %w", err)
	}

	var moderator *model.User
	if c.ModeratorID != nil {
		moderator, err = s.users.FindByID(ctx, *c.ModeratorID)
		if err != nil {
			return nil, fmt.Errorf("モデレーターの取得に失敗しました: %w", err)
		}
	}

	gamma, err := s.transcriptions.CountByAuthorUpTo(ctx, t.AuthorID, t.ID)
	if err != nil {
		return nil, fmt.Errorf("gammaの取得に失敗しました: %w", err)
	}

	return &model.CheckDetail{
		Check:         c,
		Transcription: t,
		Submission:    sub,
		Author:        author,
		Moderator:     moderator,
		AuthorGamma:   gamma,
	}, nil
}

// ListForUser は指定ユーザーの書き起こしに対するチェックのうち、指定状態のものを返す。
func (s *Service) ListForUser(ctx context.Context, username string, statuses []model.CheckStatus) ([]*model.TranscriptionCheck, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", username)
	}
	checks, err := s.checks.ListByAuthor(ctx, user.ID, statuses)
	if err != nil {
		return nil, fmt.Errorf("チェック一覧の取得に失敗しました: %w", err)
	}
	return checks, nil
}

// MessageLink はチェックメッセージへのリンクを返す。座標が未保存の場合は空文字を返す。
func (s *Service) MessageLink(c *model.TranscriptionCheck) string {
	if !c.HasMessage() {
		return ""
	}
	return s.renderer.MessageLink(c.SlackChannelID, c.SlackMessageTS)
}
