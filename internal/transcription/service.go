// Package transcription は書き起こしの登録・検索・外部投稿済みの記録を提供する。
package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/repository"
)

// CreateInput は書き起こし作成の入力。
type CreateInput struct {
	SubmissionID int64
	Username     string
	OriginalID   string
	Source       string
	URL          string
	Text         string
	OCRText      string
	// Removed はredditで削除済みの書き起こしとして登録する場合にtrue。
	Removed bool
}

// Service は書き起こしのサービス層。
type Service struct {
	transcriptions repository.TranscriptionRepository
	submissions    repository.SubmissionRepository
	users          repository.UserRepository
	sources        repository.SourceRepository
	logger         *slog.Logger
	now            func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	transcriptions repository.TranscriptionRepository,
	submissions repository.SubmissionRepository,
	users repository.UserRepository,
	sources repository.SourceRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		transcriptions: transcriptions,
		submissions:    submissions,
		users:          users,
		sources:        sources,
		logger:         logger,
		now:            time.Now,
	}
}

// Get は指定IDの書き起こしを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Transcription, error) {
	t, err := s.transcriptions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書き起こしの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewNotFoundError("transcription", fmt.Sprint(id))
	}
	return t, nil
}

// Create は書き起こしを登録する。外部IDが指定された場合は外部投稿済みとして扱う。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Transcription, error) {
	var missing []string
	if in.SubmissionID <= 0 {
		missing = append(missing, "submission_id")
	}
	if strings.TrimSpace(in.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(in.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(in.Text) == "" {
		missing = append(missing, "t_text")
	}
	if len(missing) > 0 {
		return nil, model.NewBadRequestError("missing required fields: " + strings.Join(missing, ", "))
	}

	sub, err := s.submissions.FindByID(ctx, in.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewNotFoundError("submission", fmt.Sprint(in.SubmissionID))
	}
	user, err := s.users.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", in.Username)
	}
	src, err := s.sources.FindByName(ctx, in.Source)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, model.NewNotFoundError("source", in.Source)
	}

	t := &model.Transcription{
		SubmissionID:      sub.ID,
		AuthorID:          user.ID,
		Source:            src.Name,
		OriginalID:        strings.TrimSpace(in.OriginalID),
		URL:               strings.TrimSpace(in.URL),
		Text:              in.Text,
		OCRText:           in.OCRText,
		PostedExternally:  strings.TrimSpace(in.OriginalID) != "",
		RemovedFromReddit: in.Removed,
		CreateTime:        s.now(),
	}
	if err := s.transcriptions.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("書き起こしの作成に失敗しました: %w", err)
	}

	s.logger.Info("書き起こしを登録しました",
		slog.Int64("transcription_id", t.ID),
		slog.Int64("submission_id", sub.ID),
		slog.String("username", user.Username),
	)
	return t, nil
}

// Search は外部IDで書き起こしを検索する。
func (s *Service) Search(ctx context.Context, originalID string) ([]*model.Transcription, error) {
	originalID = strings.TrimSpace(originalID)
	if originalID == "" {
		return nil, model.NewBadRequestError("original_id is required")
	}
	ts, err := s.transcriptions.ListByOriginalID(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("書き起こしの検索に失敗しました: %w", err)
	}
	return ts, nil
}

// MarkPosted は書き起こしを外部投稿済みにする。OCRの書き起こしを投稿したbotが呼び出す。
func (s *Service) MarkPosted(ctx context.Context, id int64, originalID, url string) (*model.Transcription, error) {
	originalID = strings.TrimSpace(originalID)
	if originalID == "" {
		return nil, model.NewBadRequestError("original_id is required")
	}
	ok, err := s.transcriptions.MarkPosted(ctx, id, originalID, strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("書き起こしの更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewNotFoundError("transcription", fmt.Sprint(id))
	}
	return s.Get(ctx, id)
}
