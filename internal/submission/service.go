// Package submission は投稿のライフサイクル（作成・担当・担当解除・完了）と
// キュー照会のドメインロジックを提供する。
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/blossom/internal/find"
	"github.com/hitoshi/blossom/internal/metrics"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/repository"
	"github.com/hitoshi/blossom/internal/sampler"
)

// Decider は完了した書き起こしをレビューに回すかを決定するインターフェース。
type Decider interface {
	Decide(ctx context.Context, author *model.User, t *model.Transcription, gamma int) (sampler.Decision, error)
}

// CheckCreatedHandler は新規作成されたチェックの後処理（メッセージ投稿）のインターフェース。
type CheckCreatedHandler interface {
	Created(ctx context.Context, c *model.TranscriptionCheck)
}

// RankNotifier はランクアップ通知のインターフェース。
type RankNotifier interface {
	NotifyRankUp(ctx context.Context, user *model.User, gamma int)
}

// OCRScheduler は投稿作成時のOCR予約のインターフェース。
type OCRScheduler interface {
	ScheduleOCR(ctx context.Context, sub *model.Submission)
}

// CreateInput は投稿作成の入力。
type CreateInput struct {
	OriginalID string
	Source     string
	ContentURL string
	URL        string
	TorURL     string
	Title      string
	NSFW       bool
	CannotOCR  bool
}

// DoneInput は投稿完了の入力。
type DoneInput struct {
	Username    string
	ModOverride bool
	// Requester はmod_overrideを要求した利用者。スタッフの場合のみ担当者チェックを迂回する。
	Requester string
}

// ExpiredQuery は期限切れキュー照会の条件。
type ExpiredQuery struct {
	Source string
	// Hours はこの時間より前に作成された投稿を対象にする。nilの場合はデフォルト値を使う。
	Hours *int
	// CTQ（clear the queue）が指定された場合は現在時刻より前の全投稿を対象にする。
	CTQ bool
}

// Service は投稿のサービス層。
type Service struct {
	users          repository.UserRepository
	sources        repository.SourceRepository
	submissions    repository.SubmissionRepository
	transcriptions repository.TranscriptionRepository
	decider        Decider
	checks         CheckCreatedHandler
	logger         *slog.Logger

	ocr            OCRScheduler
	rankNotifier   RankNotifier
	metrics        metrics.MetricsCollector
	now            func() time.Time
	expiredHours   int
	archivistDelay time.Duration
}

// Option はServiceのオプション設定関数。
type Option func(*Service)

// WithOCR は投稿作成時のOCR予約先を設定する。
func WithOCR(o OCRScheduler) Option {
	return func(s *Service) {
		s.ocr = o
	}
}

// WithRankNotifier はランクアップの通知先を設定する。
func WithRankNotifier(n RankNotifier) Option {
	return func(s *Service) {
		s.rankNotifier = n
	}
}

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

// WithQueueWindows は期限切れキューのデフォルト時間とアーカイブまでの待ち時間を設定する。
func WithQueueWindows(expiredHours int, archivistDelay time.Duration) Option {
	return func(s *Service) {
		s.expiredHours = expiredHours
		s.archivistDelay = archivistDelay
	}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	sources repository.SourceRepository,
	submissions repository.SubmissionRepository,
	transcriptions repository.TranscriptionRepository,
	decider Decider,
	checks CheckCreatedHandler,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		users:          users,
		sources:        sources,
		submissions:    submissions,
		transcriptions: transcriptions,
		decider:        decider,
		checks:         checks,
		logger:         logger,
		metrics:        metrics.Nop{},
		now:            time.Now,
		expiredHours:   18,
		archivistDelay: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get は指定IDの投稿を返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewNotFoundError("submission", fmt.Sprint(id))
	}
	return sub, nil
}

// List は条件に一致する投稿を返す。
func (s *Service) List(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error) {
	subs, err := s.submissions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}

// Create は投稿を作成する。ソースは登録済みでなければならない。
// OCR可能な画像の場合はOCRを予約する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Submission, error) {
	in.OriginalID = strings.TrimSpace(in.OriginalID)
	in.Source = strings.TrimSpace(in.Source)
	in.ContentURL = strings.TrimSpace(in.ContentURL)

	var missing []string
	if in.OriginalID == "" {
		missing = append(missing, "original_id")
	}
	if in.Source == "" {
		missing = append(missing, "source")
	}
	if in.ContentURL == "" {
		missing = append(missing, "content_url")
	}
	if len(missing) > 0 {
		return nil, model.NewBadRequestError("missing required fields: " + strings.Join(missing, ", "))
	}

	src, err := s.sources.FindByName(ctx, in.Source)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, model.NewNotFoundError("source", in.Source)
	}

	sub := &model.Submission{
		OriginalID: in.OriginalID,
		Source:     src.Name,
		URL:        canonicalURL(in.URL),
		TorURL:     canonicalURL(in.TorURL),
		ContentURL: in.ContentURL,
		Title:      in.Title,
		NSFW:       in.NSFW,
		CannotOCR:  in.CannotOCR,
		CreateTime: s.now(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateError("submission", in.Source+"/"+in.OriginalID)
		}
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	s.logger.Info("投稿を作成しました",
		slog.Int64("submission_id", sub.ID),
		slog.String("source", sub.Source),
		slog.String("original_id", sub.OriginalID),
	)

	if s.ocr != nil && !sub.CannotOCR {
		s.ocr.ScheduleOCR(ctx, sub)
	}
	return sub, nil
}

// canonicalURL はredditのURLであれば正規化し、それ以外はそのまま返す。
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if link, err := find.Normalize(raw); err == nil {
		return link.URL
	}
	return raw
}

func (s *Service) loadUser(ctx context.Context, username string) (*model.User, error) {
	if strings.TrimSpace(username) == "" {
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

// Claim は投稿を指定ユーザーの担当にする。
// 同じユーザーによる再claimも含め、担当済みの投稿にはCONFLICTを返す。
func (s *Service) Claim(ctx context.Context, id int64, username string) (*model.Submission, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.CanClaim(user, sub); err != nil {
		return nil, err
	}

	ok, err := s.submissions.Claim(ctx, id, user.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("投稿の担当に失敗しました: %w", err)
	}
	if !ok {
		// 判定後に他のリクエストが先に確定した
		return nil, model.NewAlreadyClaimedError(id)
	}

	s.metrics.RecordSubmissionTransition("claim")
	s.logger.Info("投稿を担当しました", slog.Int64("submission_id", id), slog.String("username", user.Username))
	return s.Get(ctx, id)
}

// Unclaim は投稿の担当を解除する。
func (s *Service) Unclaim(ctx context.Context, id int64, username string) (*model.Submission, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.CanUnclaim(user, sub); err != nil {
		return nil, err
	}

	ok, err := s.submissions.Unclaim(ctx, id, user.ID)
	if err != nil {
		return nil, fmt.Errorf("投稿の担当解除に失敗しました: %w", err)
	}
	if !ok {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := policy.CanUnclaim(user, current); err != nil {
			return nil, err
		}
		return nil, model.NewConflictError("SUBMISSION_MODIFIED", fmt.Sprintf("submission %d was modified concurrently", id))
	}

	s.metrics.RecordSubmissionTransition("unclaim")
	s.logger.Info("投稿の担当を解除しました", slog.Int64("submission_id", id), slog.String("username", user.Username))
	return s.Get(ctx, id)
}

// Done は投稿を完了する。
// 完了者による書き起こしが存在しない場合はPRECONDITION_REQUIREDを返す。
// レビュー抽出の判定は完了と同じトランザクションでチェックとして確定し、
// ランクアップ通知とチェックメッセージの投稿は確定後に予約する。
func (s *Service) Done(ctx context.Context, id int64, in DoneInput) (*model.Submission, error) {
	user, err := s.loadUser(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var requester *model.User
	if in.ModOverride && in.Requester != "" {
		requester, err = s.users.FindByUsername(ctx, in.Requester)
		if err != nil {
			return nil, fmt.Errorf("リクエスト元ユーザーの取得に失敗しました: %w", err)
		}
	}
	if err := policy.CanDone(user, sub, in.ModOverride, requester); err != nil {
		return nil, err
	}

	t, err := s.transcriptions.FindBySubmissionAndAuthor(ctx, sub.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("書き起こしの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewMissingTranscriptionError(sub.ID, user.Username)
	}

	gamma, err := s.transcriptions.CountByAuthor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("gammaの取得に失敗しました: %w", err)
	}

	decision, err := s.decider.Decide(ctx, user, t, gamma)
	if err != nil {
		return nil, fmt.Errorf("レビュー抽出の判定に失敗しました: %w", err)
	}
	var draft *model.TranscriptionCheck
	if decision.Sampled {
		draft = &model.TranscriptionCheck{
			TranscriptionID: t.ID,
			Status:          model.CheckPending,
			Trigger:         decision.Trigger,
		}
	}

	res, err := s.submissions.Complete(ctx, repository.CompleteParams{
		SubmissionID:      sub.ID,
		ExpectedClaimedBy: *sub.ClaimedBy,
		CompletedBy:       user.ID,
		At:                s.now(),
		Check:             draft,
	})
	if err != nil {
		return nil, fmt.Errorf("投稿の完了に失敗しました: %w", err)
	}
	if !res.Completed {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := policy.CanDone(user, current, in.ModOverride, requester); err != nil {
			return nil, err
		}
		return nil, model.NewConflictError("SUBMISSION_MODIFIED", fmt.Sprintf("submission %d was modified concurrently", id))
	}

	s.metrics.RecordSubmissionTransition("done")
	s.logger.Info("投稿を完了しました",
		slog.Int64("submission_id", id),
		slog.String("username", user.Username),
		slog.Int("gamma", gamma),
		slog.Bool("sampled", decision.Sampled),
	)

	if s.rankNotifier != nil && policy.IsRankUp(gamma) {
		s.rankNotifier.NotifyRankUp(ctx, user, gamma)
	}
	if res.CheckCreated {
		s.checks.Created(ctx, res.Check)
	}

	return s.Get(ctx, id)
}

// ExpiredQueue は未担当のまま指定時間を過ぎた投稿を返す。
func (s *Service) ExpiredQueue(ctx context.Context, q ExpiredQuery) ([]*model.Submission, error) {
	hours := s.expiredHours
	if q.Hours != nil {
		if *q.Hours < 0 {
			return nil, model.NewBadRequestError("hours must not be negative")
		}
		hours = *q.Hours
	}
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	if q.CTQ {
		cutoff = s.now()
	}

	subs, err := s.submissions.ExpiredQueue(ctx, q.Source, cutoff)
	if err != nil {
		return nil, fmt.Errorf("期限切れキューの取得に失敗しました: %w", err)
	}
	return subs, nil
}

// Unarchived は完了後アーカイブ待ち時間を過ぎた未アーカイブの投稿を返す。
func (s *Service) Unarchived(ctx context.Context, source string) ([]*model.Submission, error) {
	subs, err := s.submissions.UnarchivedCompleted(ctx, source, s.now().Add(-s.archivistDelay))
	if err != nil {
		return nil, fmt.Errorf("未アーカイブ投稿の取得に失敗しました: %w", err)
	}
	return subs, nil
}

// TranscribotQueue はOCRの書き起こしが外部投稿待ちの投稿を返す。
func (s *Service) TranscribotQueue(ctx context.Context, source string, limit int) ([]*model.Submission, error) {
	bot, err := s.users.FindByUsername(ctx, model.UsernameOCRBot)
	if err != nil {
		return nil, fmt.Errorf("OCRユーザーの取得に失敗しました: %w", err)
	}
	if bot == nil {
		return []*model.Submission{}, nil
	}
	subs, err := s.submissions.OCRQueue(ctx, source, bot.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("OCRキューの取得に失敗しました: %w", err)
	}
	return subs, nil
}
