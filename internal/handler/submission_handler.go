package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/blossom/internal/middleware"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/submission"
)

// defaultTranscribotLimit はOCRキュー取得件数の既定値。
const defaultTranscribotLimit = 10

// SubmissionServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type SubmissionServiceInterface interface {
	Get(ctx context.Context, id int64) (*model.Submission, error)
	List(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error)
	Create(ctx context.Context, in submission.CreateInput) (*model.Submission, error)
	Claim(ctx context.Context, id int64, username string) (*model.Submission, error)
	Unclaim(ctx context.Context, id int64, username string) (*model.Submission, error)
	Done(ctx context.Context, id int64, in submission.DoneInput) (*model.Submission, error)
	ExpiredQueue(ctx context.Context, q submission.ExpiredQuery) ([]*model.Submission, error)
	Unarchived(ctx context.Context, source string) ([]*model.Submission, error)
	TranscribotQueue(ctx context.Context, source string, limit int) ([]*model.Submission, error)
}

// ReportServiceInterface は投稿のレポートを受け付けるサービスインターフェース。
type ReportServiceInterface interface {
	Report(ctx context.Context, id int64, reason string) (*model.Submission, error)
}

// SubmissionHandler は投稿のHTTPハンドラー。
type SubmissionHandler struct {
	service SubmissionServiceInterface
	reports ReportServiceInterface
}

// NewSubmissionHandler はSubmissionHandlerを生成する。
func NewSubmissionHandler(service SubmissionServiceInterface, reports ReportServiceInterface) *SubmissionHandler {
	return &SubmissionHandler{service: service, reports: reports}
}

// createSubmissionRequest は投稿作成リクエストのボディ。
type createSubmissionRequest struct {
	OriginalID string `json:"original_id"`
	Source     string `json:"source"`
	ContentURL string `json:"content_url"`
	URL        string `json:"url"`
	TorURL     string `json:"tor_url"`
	Title      string `json:"title"`
	NSFW       bool   `json:"nsfw"`
	CannotOCR  bool   `json:"cannot_ocr"`
}

// usernameRequest はclaim・unclaimのボディ。
type usernameRequest struct {
	Username string `json:"username"`
}

// doneRequest はdoneのボディ。
type doneRequest struct {
	Username    string `json:"username"`
	ModOverride bool   `json:"mod_override"`
}

// reportRequest はレポートのボディ。
type reportRequest struct {
	Reason string `json:"reason"`
}

// submissionResponse は投稿のAPIレスポンス。
type submissionResponse struct {
	ID               int64      `json:"id"`
	OriginalID       string     `json:"original_id"`
	Source           string     `json:"source"`
	URL              string     `json:"url"`
	TorURL           string     `json:"tor_url"`
	ContentURL       string     `json:"content_url"`
	Title            string     `json:"title"`
	NSFW             bool       `json:"nsfw"`
	ClaimedBy        *int64     `json:"claimed_by"`
	CompletedBy      *int64     `json:"completed_by"`
	CreateTime       time.Time  `json:"create_time"`
	ClaimTime        *time.Time `json:"claim_time"`
	CompleteTime     *time.Time `json:"complete_time"`
	Archived         bool       `json:"archived"`
	RemovedFromQueue bool       `json:"removed_from_queue"`
	Approved         bool       `json:"approved"`
	CannotOCR        bool       `json:"cannot_ocr"`
	ReportReason     string     `json:"report_reason,omitempty"`
}

// Create は投稿を作成する。
// POST /submission
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.service.Create(r.Context(), submission.CreateInput{
		OriginalID: req.OriginalID,
		Source:     req.Source,
		ContentURL: req.ContentURL,
		URL:        req.URL,
		TorURL:     req.TorURL,
		Title:      req.Title,
		NSFW:       req.NSFW,
		CannotOCR:  req.CannotOCR,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

// List は条件に一致する投稿を返す。
// GET /submission?original_id=&source=&url=&tor_url=&limit=&offset=
func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SubmissionFilter{
		OriginalID: q.Get("original_id"),
		Source:     q.Get("source"),
		URL:        q.Get("url"),
		TorURL:     q.Get("tor_url"),
	}
	var ok bool
	if filter.Limit, ok = queryInt(w, r, "limit", 0); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, r, "offset", 0); !ok {
		return
	}

	subs, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponses(subs))
}

// Get は投稿を1件返す。
// GET /submission/{id}
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

// Claim は投稿を担当する。
// PATCH /submission/{id}/claim
func (h *SubmissionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req usernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.service.Claim(r.Context(), id, req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

// Unclaim は投稿の担当を解除する。
// PATCH /submission/{id}/unclaim
func (h *SubmissionHandler) Unclaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req usernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.service.Unclaim(r.Context(), id, req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

// Done は投稿を完了する。mod_overrideはAPIキーの主体がスタッフの場合のみ有効。
// PATCH /submission/{id}/done
func (h *SubmissionHandler) Done(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req doneRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.service.Done(r.Context(), id, submission.DoneInput{
		Username:    req.Username,
		ModOverride: req.ModOverride,
		Requester:   middleware.PrincipalFromContext(r.Context()),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

// Report は投稿のレポートを受け付ける。
// PATCH /submission/{id}/report
func (h *SubmissionHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.reports.Report(r.Context(), id, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

// Expired は期限切れキューを返す。
// GET /submission/expired?source=&hours=&ctq=
func (h *SubmissionHandler) Expired(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := submission.ExpiredQuery{Source: q.Get("source")}

	if raw := q.Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("INVALID_HOURS", "hours must be an integer"))
			return
		}
		query.Hours = &hours
	}
	if raw := q.Get("ctq"); raw != "" {
		ctq, err := strconv.ParseBool(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("INVALID_CTQ", "ctq must be a boolean"))
			return
		}
		query.CTQ = ctq
	}

	subs, err := h.service.ExpiredQueue(r.Context(), query)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponses(subs))
}

// Unarchived はアーカイブ待ちの完了済み投稿を返す。
// GET /submission/unarchived?source=
func (h *SubmissionHandler) Unarchived(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.Unarchived(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponses(subs))
}

// TranscribotQueue はOCR結果の投稿待ちの投稿を返す。
// GET /submission/get_transcribot_queue?source=&limit=
func (h *SubmissionHandler) TranscribotQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultTranscribotLimit)
	if !ok {
		return
	}
	subs, err := h.service.TranscribotQueue(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponses(subs))
}

// --- ヘルパー関数 ---

// queryInt はクエリパラメータを非負の整数として取り出す。未指定の場合はdefを返す。
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError(name+" must be a non-negative integer"))
		return 0, false
	}
	return v, true
}

// toSubmissionResponse はmodel.SubmissionからAPIレスポンスに変換する。
func toSubmissionResponse(sub *model.Submission) submissionResponse {
	return submissionResponse{
		ID:               sub.ID,
		OriginalID:       sub.OriginalID,
		Source:           sub.Source,
		URL:              sub.URL,
		TorURL:           sub.TorURL,
		ContentURL:       sub.ContentURL,
		Title:            sub.Title,
		NSFW:             sub.NSFW,
		ClaimedBy:        sub.ClaimedBy,
		CompletedBy:      sub.CompletedBy,
		CreateTime:       sub.CreateTime,
		ClaimTime:        sub.ClaimTime,
		CompleteTime:     sub.CompleteTime,
		Archived:         sub.Archived,
		RemovedFromQueue: sub.RemovedFromQueue,
		Approved:         sub.Approved,
		CannotOCR:        sub.CannotOCR,
		ReportReason:     sub.ReportReason,
	}
}

func toSubmissionResponses(subs []*model.Submission) []submissionResponse {
	results := make([]submissionResponse, len(subs))
	for i, sub := range subs {
		results[i] = toSubmissionResponse(sub)
	}
	return results
}
