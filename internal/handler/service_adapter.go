package handler

import (
	"context"

	"github.com/hitoshi/blossom/internal/find"
)

// FindServiceAdapter は find.Service を FindServiceInterface に適合させるアダプタ。
type FindServiceAdapter struct {
	svc *find.Service
}

// NewFindServiceAdapter はFindServiceAdapterを生成する。
func NewFindServiceAdapter(svc *find.Service) *FindServiceAdapter {
	return &FindServiceAdapter{svc: svc}
}

// Find はURLを検索しhandlerレスポンス型で返す。
func (a *FindServiceAdapter) Find(ctx context.Context, url string) (*findResponse, error) {
	result, err := a.svc.Find(ctx, url)
	if err != nil {
		return nil, err
	}
	return toFindResponse(result), nil
}

// toFindResponse はドメインの検索結果をhandlerのレスポンス型に変換する。
func toFindResponse(result *find.Result) *findResponse {
	resp := &findResponse{}
	if result.Submission != nil {
		sub := toSubmissionResponse(result.Submission)
		resp.Submission = &sub
	}
	if result.Author != nil {
		author := toVolunteerResponse(result.Author)
		resp.Author = &author
	}
	if result.Transcription != nil {
		t := toTranscriptionResponse(result.Transcription)
		resp.Transcription = &t
	}
	if result.OCR != nil {
		ocr := toTranscriptionResponse(result.OCR)
		resp.OCR = &ocr
	}
	return resp
}

// コンパイル時にインターフェース準拠を検証
var _ FindServiceInterface = (*FindServiceAdapter)(nil)
