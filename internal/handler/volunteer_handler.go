package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/volunteer"
)

// VolunteerServiceInterface はボランティアハンドラーが必要とするサービスインターフェース。
type VolunteerServiceInterface interface {
	Create(ctx context.Context, username string) (*model.User, error)
	Lookup(ctx context.Context, username string) (*model.User, error)
	Summary(ctx context.Context, username string) (*volunteer.Summary, error)
	GlobalSummary(ctx context.Context) (*volunteer.GlobalSummary, error)
	GammaPlusOne(ctx context.Context, id int64) (int, error)
	AcceptCoC(ctx context.Context, username string) (*model.User, error)
}

// VolunteerHandler はボランティアのHTTPハンドラー。
type VolunteerHandler struct {
	service VolunteerServiceInterface
}

// NewVolunteerHandler はVolunteerHandlerを生成する。
func NewVolunteerHandler(service VolunteerServiceInterface) *VolunteerHandler {
	return &VolunteerHandler{service: service}
}

// volunteerResponse はボランティアのAPIレスポンス。
type volunteerResponse struct {
	ID                       int64     `json:"id"`
	Username                 string    `json:"username"`
	IsVolunteer              bool      `json:"is_volunteer"`
	IsStaff                  bool      `json:"is_staff"`
	IsBlocked                bool      `json:"blocked"`
	AcceptedCoC              bool      `json:"accepted_coc"`
	OverwriteCheckPercentage *float64  `json:"overwrite_check_percentage"`
	DateJoined               time.Time `json:"date_joined"`
}

// gammaResponse はgamma_plusoneのレスポンス。
type gammaResponse struct {
	Gamma int `json:"gamma"`
}

// Create はボランティアを登録する。
// POST /volunteer
func (h *VolunteerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.service.Create(r.Context(), req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVolunteerResponse(user))
}

// Lookup はユーザー名でボランティアを返す。
// GET /volunteer?username=
func (h *VolunteerHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Lookup(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVolunteerResponse(user))
}

// Summary はボランティア個人の集計を返す。
// GET /volunteer/summary?username=
func (h *VolunteerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GammaPlusOne はボランティアのgammaを1増やす。
// PATCH /volunteer/{id}/gamma_plusone
func (h *VolunteerHandler) GammaPlusOne(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	gamma, err := h.service.GammaPlusOne(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gammaResponse{Gamma: gamma})
}

// AcceptCoC は行動規範への同意を記録する。
// POST /volunteer/accept_coc?username=
func (h *VolunteerHandler) AcceptCoC(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.AcceptCoC(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVolunteerResponse(user))
}

// GlobalSummary はサービス全体の集計を返す。
// GET /summary
func (h *VolunteerHandler) GlobalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GlobalSummary(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func toVolunteerResponse(u *model.User) volunteerResponse {
	return volunteerResponse{
		ID:                       u.ID,
		Username:                 u.Username,
		IsVolunteer:              u.IsVolunteer,
		IsStaff:                  u.IsStaff,
		IsBlocked:                u.IsBlocked,
		AcceptedCoC:              u.AcceptedCoC,
		OverwriteCheckPercentage: u.OverwriteCheckPercentage,
		DateJoined:               u.DateJoined,
	}
}
