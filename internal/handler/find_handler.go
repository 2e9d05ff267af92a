package handler

import (
	"context"
	"net/http"
)

// FindServiceInterface はURL検索ハンドラーが必要とするサービスインターフェース。
type FindServiceInterface interface {
	Find(ctx context.Context, url string) (*findResponse, error)
}

// FindHandler はredditのURLから投稿と書き起こしを引くHTTPハンドラー。
type FindHandler struct {
	service FindServiceInterface
}

// NewFindHandler はFindHandlerを生成する。
func NewFindHandler(service FindServiceInterface) *FindHandler {
	return &FindHandler{service: service}
}

// findResponse は検索結果のAPIレスポンス。見つからなかった項目はnull。
type findResponse struct {
	Submission    *submissionResponse    `json:"submission"`
	Author        *volunteerResponse     `json:"author"`
	Transcription *transcriptionResponse `json:"transcription"`
	OCR           *transcriptionResponse `json:"ocr"`
}

// Find はURLに対応する投稿と関連エンティティを返す。
// GET /find?url=
func (h *FindHandler) Find(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Find(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
