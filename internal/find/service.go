package find

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/repository"
)

// Result はURLから見つかったエンティティ。見つからなかった項目はnil。
type Result struct {
	Submission    *model.Submission
	Author        *model.User
	Transcription *model.Transcription
	OCR           *model.Transcription
}

// Service はURL検索のサービス層。
type Service struct {
	submissions    repository.SubmissionRepository
	transcriptions repository.TranscriptionRepository
	users          repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	submissions repository.SubmissionRepository,
	transcriptions repository.TranscriptionRepository,
	users repository.UserRepository,
) *Service {
	return &Service{submissions: submissions, transcriptions: transcriptions, users: users}
}

// Find はredditのURLに対応する投稿と、完了者・書き起こし・OCR結果を返す。
// ToR側のURLはToR URLで、それ以外はpartner URLで投稿を検索する。
// コメントURLは書き起こしを先に検索し、見つからなければ投稿URLとして扱う。
func (s *Service) Find(ctx context.Context, raw string) (*Result, error) {
	link, err := Normalize(raw)
	if err != nil {
		if errors.Is(err, ErrInvalidURL) {
			return nil, model.NewBadRequestError("invalid url: " + raw)
		}
		return nil, err
	}

	sub, tr, err := s.lookup(ctx, link)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, model.NewNotFoundError("submission", link.URL)
	}

	res := &Result{Submission: sub, Transcription: tr}
	if sub.CompletedBy != nil {
		res.Author, err = s.users.FindByID(ctx, *sub.CompletedBy)
		if err != nil {
			return nil, fmt.Errorf("完了者の取得に失敗しました: %w", err)
		}
	}
	if res.Transcription == nil && res.Author != nil {
		res.Transcription, err = s.transcriptions.FindBySubmissionAndAuthor(ctx, sub.ID, res.Author.ID)
		if err != nil {
			return nil, fmt.Errorf("書き起こしの取得に失敗しました: %w", err)
		}
	}

	ocrUser, err := s.users.FindByUsername(ctx, model.UsernameOCRBot)
	if err != nil {
		return nil, fmt.Errorf("OCRユーザーの取得に失敗しました: %w", err)
	}
	if ocrUser != nil {
		res.OCR, err = s.transcriptions.FindBySubmissionAndAuthor(ctx, sub.ID, ocrUser.ID)
		if err != nil {
			return nil, fmt.Errorf("OCR結果の取得に失敗しました: %w", err)
		}
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, link Link) (*model.Submission, *model.Transcription, error) {
	if link.Kind == LinkComment && !link.IsReview() {
		tr, err := s.transcriptions.FindByURL(ctx, link.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("書き起こしの検索に失敗しました: %w", err)
		}
		if tr != nil {
			sub, err := s.submissions.FindByID(ctx, tr.SubmissionID)
			if err != nil {
				return nil, nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
			}
			return sub, tr, nil
		}
	}

	postURL := link.URL
	if link.Kind == LinkComment {
		postURL = submissionURL(link.URL)
	}

	var (
		sub *model.Submission
		err error
	)
	if link.IsReview() {
		sub, err = s.submissions.FindByTorURL(ctx, postURL)
	} else {
		sub, err = s.submissions.FindByURL(ctx, postURL)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("投稿の検索に失敗しました: %w", err)
	}
	return sub, nil, nil
}

// submissionURL はコメントURLから投稿部分のURLを取り出す。
func submissionURL(commentURL string) string {
	parts := strings.Split(commentURL, "/")
	return strings.Join(parts[:submissionSegments-1], "/") + "/"
}
