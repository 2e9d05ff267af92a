package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/transcription"
)

// TranscriptionServiceInterface は書き起こしハンドラーが必要とするサービスインターフェース。
type TranscriptionServiceInterface interface {
	Create(ctx context.Context, in transcription.CreateInput) (*model.Transcription, error)
	Search(ctx context.Context, originalID string) ([]*model.Transcription, error)
	MarkPosted(ctx context.Context, id int64, originalID, url string) (*model.Transcription, error)
}

// TranscriptionHandler は書き起こしのHTTPハンドラー。
type TranscriptionHandler struct {
	service TranscriptionServiceInterface
}

// NewTranscriptionHandler はTranscriptionHandlerを生成する。
func NewTranscriptionHandler(service TranscriptionServiceInterface) *TranscriptionHandler {
	return &TranscriptionHandler{service: service}
}

// createTranscriptionRequest は書き起こし登録リクエストのボディ。
type createTranscriptionRequest struct {
	SubmissionID int64  `json:"submission_id"`
	Username     string `json:"username"`
	OriginalID   string `json:"original_id"`
	Source       string `json:"source"`
	URL          string `json:"t_url"`
	Text         string `json:"t_text"`
	OCRText      string `json:"ocr_text"`
	Removed      bool   `json:"removed_from_reddit"`
}

// markPostedRequest は外部投稿済みの記録リクエストのボディ。
type markPostedRequest struct {
	OriginalID string `json:"original_id"`
	URL        string `json:"url"`
}

// transcriptionResponse は書き起こしのAPIレスポンス。
type transcriptionResponse struct {
	ID                int64     `json:"id"`
	SubmissionID      int64     `json:"submission_id"`
	AuthorID          int64     `json:"author_id"`
	Source            string    `json:"source"`
	OriginalID        string    `json:"original_id"`
	URL               string    `json:"url"`
	Text              string    `json:"text"`
	OCRText           string    `json:"ocr_text,omitempty"`
	PostedExternally  bool      `json:"posted_externally"`
	RemovedFromReddit bool      `json:"removed_from_reddit"`
	CreateTime        time.Time `json:"create_time"`
}

// Create は書き起こしを登録する。
// POST /transcription
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTranscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.service.Create(r.Context(), transcription.CreateInput{
		SubmissionID: req.SubmissionID,
		Username:     req.Username,
		OriginalID:   req.OriginalID,
		Source:       req.Source,
		URL:          req.URL,
		Text:         req.Text,
		OCRText:      req.OCRText,
		Removed:      req.Removed,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTranscriptionResponse(t))
}

// Search は外部IDで書き起こしを検索する。
// GET /transcription/search?original_id=
func (h *TranscriptionHandler) Search(w http.ResponseWriter, r *http.Request) {
	ts, err := h.service.Search(r.Context(), r.URL.Query().Get("original_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	results := make([]transcriptionResponse, len(ts))
	for i, t := range ts {
		results[i] = toTranscriptionResponse(t)
	}
	writeJSON(w, http.StatusOK, results)
}

// MarkPosted は書き起こしを外部投稿済みにする。
// PATCH /transcription/{id}/posted
func (h *TranscriptionHandler) MarkPosted(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req markPostedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.service.MarkPosted(r.Context(), id, req.OriginalID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTranscriptionResponse(t))
}

// toTranscriptionResponse はmodel.TranscriptionからAPIレスポンスに変換する。
func toTranscriptionResponse(t *model.Transcription) transcriptionResponse {
	return transcriptionResponse{
		ID:                t.ID,
		SubmissionID:      t.SubmissionID,
		AuthorID:          t.AuthorID,
		Source:            t.Source,
		OriginalID:        t.OriginalID,
		URL:               t.URL,
		Text:              t.Text,
		OCRText:           t.OCRText,
		PostedExternally:  t.PostedExternally,
		RemovedFromReddit: t.RemovedFromReddit,
		CreateTime:        t.CreateTime,
	}
}
