// Package volunteer はボランティアの登録・集計・モデレーション用フラグの操作を提供する。
package volunteer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/repository"
)

// Inception はサービス開始日。全体集計の経過日数の起点になる。
var Inception = time.Date(2017, time.April, 1, 0, 0, 0, 0, time.UTC)

// DefaultWatchPercentage はwatchで確率を省略した場合の値（%）。
const DefaultWatchPercentage = 100

// Summary はボランティア個人の集計。
type Summary struct {
	Username    string     `json:"username"`
	Gamma       int        `json:"gamma"`
	Rank        string     `json:"rank"`
	AcceptedCoC bool       `json:"accepted_coc"`
	Blocked     bool       `json:"blocked"`
	Watched     bool       `json:"watched"`
	DateJoined  time.Time  `json:"date_joined"`
	LastActive  *time.Time `json:"last_active"`
	// WatchPercentage は抽出確率の上書き値（%）。上書きがない場合は自動確率。
	WatchPercentage float64 `json:"-"`
}

// GlobalSummary はサービス全体の集計。
type GlobalSummary struct {
	VolunteerCount     int `json:"volunteer_count"`
	TranscriptionCount int `json:"transcription_count"`
	DaysSinceInception int `json:"days_since_inception"`
}

// Service はボランティアのサービス層。
type Service struct {
	users          repository.UserRepository
	sources        repository.SourceRepository
	submissions    repository.SubmissionRepository
	transcriptions repository.TranscriptionRepository
	logger         *slog.Logger
	now            func() time.Time
}

// Option はServiceのオプション設定関数。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	sources repository.SourceRepository,
	submissions repository.SubmissionRepository,
	transcriptions repository.TranscriptionRepository,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		users:          users,
		sources:        sources,
		submissions:    submissions,
		transcriptions: transcriptions,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create はボランティアを登録する。
func (s *Service) Create(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.NewBadRequestError("username is required")
	}
	user := &model.User{
		Username:    username,
		IsVolunteer: true,
		DateJoined:  s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateError("volunteer", username)
		}
		return nil, fmt.Errorf("ボランティアの登録に失敗しました: %w", err)
	}
	s.logger.Info("ボランティアを登録しました", slog.String("username", username))
	return user, nil
}

// Get は指定IDのボランティアを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", fmt.Sprint(id))
	}
	return user, nil
}

// Lookup はユーザー名でボランティアを返す。
func (s *Service) Lookup(ctx context.Context, username string) (*model.User, error) {
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

// Summary はボランティア個人の集計を返す。
func (s *Service) Summary(ctx context.Context, username string) (*Summary, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	gamma, err := s.transcriptions.CountByAuthor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("gammaの取得に失敗しました: %w", err)
	}
	lastActive, err := s.transcriptions.LatestTime(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("最終活動時刻の取得に失敗しました: %w", err)
	}

	pct := policy.CheckProbability(gamma) * 100
	if user.OverwriteCheckPercentage != nil {
		pct = *user.OverwriteCheckPercentage * 100
	}
	return &Summary{
		Username:        user.Username,
		Gamma:           gamma,
		Rank:            policy.RankOf(gamma),
		AcceptedCoC:     user.AcceptedCoC,
		Blocked:         user.IsBlocked,
		Watched:         user.Watched(),
		DateJoined:      user.DateJoined,
		LastActive:      lastActive,
		WatchPercentage: pct,
	}, nil
}

// GlobalSummary はサービス全体の集計を返す。ボランティア数と書き起こし数はbotを除く。
func (s *Service) GlobalSummary(ctx context.Context) (*GlobalSummary, error) {
	volunteers, err := s.users.CountVolunteers(ctx)
	if err != nil {
		return nil, fmt.Errorf("ボランティア数の取得に失敗しました: %w", err)
	}
	transcriptions, err := s.transcriptions.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("書き起こし数の取得に失敗しました: %w", err)
	}
	return &GlobalSummary{
		VolunteerCount:     volunteers,
		TranscriptionCount: transcriptions,
		DaysSinceInception: int(s.now().Sub(Inception).Hours() / 24),
	}, nil
}

// GammaPlusOne はダミーの投稿と書き起こしを作成してgammaを1増やす。新しいgammaを返す。
func (s *Service) GammaPlusOne(ctx context.Context, id int64) (int, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	src, err := s.sources.Ensure(ctx, model.SourceBlossom)
	if err != nil {
		return 0, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}

	now := s.now()
	sub := &model.Submission{
		OriginalID: uuid.NewString(),
		Source:     src.Name,
		CreateTime: now,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return 0, fmt.Errorf("ダミー投稿の作成に失敗しました: %w", err)
	}
	if _, err := s.submissions.Claim(ctx, sub.ID, user.ID, now); err != nil {
		return 0, fmt.Errorf("ダミー投稿の担当に失敗しました: %w", err)
	}
	if _, err := s.submissions.Complete(ctx, repository.CompleteParams{
		SubmissionID:      sub.ID,
		ExpectedClaimedBy: user.ID,
		CompletedBy:       user.ID,
		At:                now,
	}); err != nil {
		return 0, fmt.Errorf("ダミー投稿の完了に失敗しました: %w", err)
	}
	if err := s.transcriptions.Create(ctx, &model.Transcription{
		SubmissionID: sub.ID,
		AuthorID:     user.ID,
		Source:       src.Name,
		Text:         "dummy transcription",
		CreateTime:   now,
	}); err != nil {
		return 0, fmt.Errorf("ダミー書き起こしの作成に失敗しました: %w", err)
	}

	gamma, err := s.transcriptions.CountByAuthor(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("gammaの取得に失敗しました: %w", err)
	}
	s.logger.Info("gammaを加算しました", slog.String("username", user.Username), slog.Int("gamma", gamma))
	return gamma, nil
}

// AcceptCoC は行動規範への同意を記録する。
func (s *Service) AcceptCoC(ctx context.Context, username string) (*model.User, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.AcceptedCoC {
		return nil, model.NewConflictError("COC_ALREADY_ACCEPTED", fmt.Sprintf("%s has already accepted the code of conduct", user.Username))
	}
	user.AcceptedCoC = true
	return s.save(ctx, user, "行動規範への同意を記録しました")
}

// ResetCoC は行動規範への同意を取り消す。
func (s *Service) ResetCoC(ctx context.Context, username string) (*model.User, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	user.AcceptedCoC = false
	return s.save(ctx, user, "行動規範への同意を取り消しました")
}

// Watch は抽出確率の上書きを設定する。percentageは1〜100の整数で、
// 0の場合はDefaultWatchPercentageを使う。gammaによる自動確率より低い値は設定できない。
func (s *Service) Watch(ctx context.Context, username string, percentage int) (*model.User, error) {
	if percentage == 0 {
		percentage = DefaultWatchPercentage
	}
	if percentage < 1 || percentage > 100 {
		return nil, model.NewInvalidParameterError("INVALID_PERCENTAGE", "percentage must be between 1 and 100")
	}
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	gamma, err := s.transcriptions.CountByAuthor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("gammaの取得に失敗しました: %w", err)
	}
	p := float64(percentage) / 100
	if p < policy.CheckProbability(gamma) {
		return nil, model.NewInvalidParameterError("PERCENTAGE_TOO_LOW",
			fmt.Sprintf("percentage %d%% is lower than the automatic percentage", percentage))
	}
	user.OverwriteCheckPercentage = &p
	return s.save(ctx, user, "抽出確率の上書きを設定しました")
}

// Unwatch は抽出確率の上書きを解除する。
func (s *Service) Unwatch(ctx context.Context, username string) (*model.User, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	user.OverwriteCheckPercentage = nil
	return s.save(ctx, user, "抽出確率の上書きを解除しました")
}

// ListWatched は抽出確率の上書きが設定されたボランティアを返す。
func (s *Service) ListWatched(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.ListWatched(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Block はボランティアをブロックする。
func (s *Service) Block(ctx context.Context, username string) (*model.User, error) {
	return s.setBlocked(ctx, username, true)
}

// Unblock はボランティアのブロックを解除する。
func (s *Service) Unblock(ctx context.Context, username string) (*model.User, error) {
	return s.setBlocked(ctx, username, false)
}

func (s *Service) setBlocked(ctx context.Context, username string, blocked bool) (*model.User, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	user.IsBlocked = blocked
	return s.save(ctx, user, "ブロック状態を更新しました")
}

func (s *Service) save(ctx context.Context, user *model.User, msg string) (*model.User, error) {
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	s.logger.Info(msg, slog.String("username", user.Username))
	return user, nil
}
