package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/repository"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// imageExtensions はOCR対象とする画像の拡張子。
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImageURL はURLが画像ファイルを指すかを拡張子で判定する。
func IsImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return imageExtensions[strings.ToLower(path.Ext(u.Path))]
}

// Scheduler は投稿のOCRをワーカーキューに予約し、結果を書き起こしとして保存する。
type Scheduler struct {
	recognizer     Recognizer
	submissions    repository.SubmissionRepository
	transcriptions repository.TranscriptionRepository
	users          repository.UserRepository
	queue          queue.Enqueuer
	logger         *slog.Logger
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	recognizer Recognizer,
	submissions repository.SubmissionRepository,
	transcriptions repository.TranscriptionRepository,
	users repository.UserRepository,
	q queue.Enqueuer,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		recognizer:     recognizer,
		submissions:    submissions,
		transcriptions: transcriptions,
		users:          users,
		queue:          q,
		logger:         logger,
		now:            time.Now,
	}
}

// ScheduleOCR は画像投稿のOCRを予約する。画像以外の投稿は対象外。
func (s *Scheduler) ScheduleOCR(ctx context.Context, sub *model.Submission) {
	if sub.CannotOCR || !IsImageURL(sub.ContentURL) {
		s.logger.Debug("OCR対象外の投稿です", slog.Int64("submission_id", sub.ID), slog.String("content_url", sub.ContentURL))
		return
	}
	id, contentURL := sub.ID, sub.ContentURL
	err := s.queue.Enqueue(ctx, "ocr_submission", func(ctx context.Context) error {
		return s.Run(ctx, id, contentURL)
	})
	if err != nil {
		s.logger.Error("OCRの予約に失敗しました",
			slog.Int64("submission_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Run は投稿画像のOCRを実行する。成功した場合はOCRユーザーの未投稿の書き起こしとして保存し、
// 失敗した場合は投稿をOCR不可にする。
func (s *Scheduler) Run(ctx context.Context, submissionID int64, contentURL string) error {
	result, err := s.recognizer.Recognize(ctx, contentURL)
	if err != nil {
		if markErr := s.submissions.SetCannotOCR(ctx, submissionID); markErr != nil {
			return fmt.Errorf("OCR不可フラグの設定に失敗しました: %w", errors.Join(err, markErr))
		}
		s.logger.Info("OCRに失敗したため投稿をOCR不可にしました",
			slog.Int64("submission_id", submissionID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	bot, err := s.users.FindByUsername(ctx, model.UsernameOCRBot)
	if err != nil {
		return fmt.Errorf("OCRユーザーの取得に失敗しました: %w", err)
	}
	if bot == nil {
		return fmt.Errorf("OCRユーザー %s が存在しません", model.UsernameOCRBot)
	}

	t := &model.Transcription{
		SubmissionID: submissionID,
		AuthorID:     bot.ID,
		Source:       model.SourceOCRBot,
		Text:         result.Text,
		OCRText:      result.Text,
		CreateTime:   s.now(),
	}
	if err := s.transcriptions.Create(ctx, t); err != nil {
		return fmt.Errorf("OCR結果の保存に失敗しました: %w", err)
	}
	s.logger.Info("OCR結果を保存しました",
		slog.Int64("submission_id", submissionID),
		slog.Int64("transcription_id", t.ID),
		slog.String("endpoint", result.Endpoint),
	)
	return nil
}
