package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blossom/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger        *slog.Logger
	APIKey        string
	RateLimiter   *middleware.RateLimiter
	StatusMetrics middleware.StatusRecorder

	// 投稿
	SubmissionService SubmissionServiceInterface
	ReportService     ReportServiceInterface

	// 書き起こし
	TranscriptionService TranscriptionServiceInterface

	// URL検索
	FindService FindServiceInterface

	// ボランティア
	VolunteerService VolunteerServiceInterface

	// Slack・GitHub Sponsors
	SlackBot           SlackBot
	SponsorWebhook     SponsorWebhook
	SlackSigningSecret string

	// Prometheusスクレイプ用ハンドラー。nilの場合は/metricsを公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → StatusMetrics → APIKey → RateLimit(General)
//
// Slackのルート（/slack/*）は署名で認証するためAPIキー認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.StatusMetrics != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusMetrics))
	}

	submissionHandler := NewSubmissionHandler(deps.SubmissionService, deps.ReportService)
	transcriptionHandler := NewTranscriptionHandler(deps.TranscriptionService)
	findHandler := NewFindHandler(deps.FindService)
	volunteerHandler := NewVolunteerHandler(deps.VolunteerService)
	slackHandler := NewSlackHandler(deps.SlackBot, deps.SponsorWebhook, deps.SlackSigningSecret, logger)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Slackからのwebhook（署名検証）
	r.Route("/slack", func(r chi.Router) {
		r.Post("/endpoint", slackHandler.Endpoint)
		r.Post("/github/sponsors", slackHandler.Sponsors)
	})

	// --- APIキー認証が必要なルート ---
	// ミドルウェアスタック: APIKey → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.APIKey))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		write := deps.RateLimiter.WriteMiddleware()

		// 投稿
		r.Route("/submission", func(r chi.Router) {
			r.Get("/", submissionHandler.List)
			r.Post("/", submissionHandler.Create)
			r.Get("/expired", submissionHandler.Expired)
			r.Get("/unarchived", submissionHandler.Unarchived)
			r.Get("/get_transcribot_queue", submissionHandler.TranscribotQueue)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", submissionHandler.Get)

				// 状態遷移系（状態遷移用レート制限を追加）
				r.With(write).Patch("/claim", submissionHandler.Claim)
				r.With(write).Patch("/unclaim", submissionHandler.Unclaim)
				r.With(write).Patch("/done", submissionHandler.Done)
				r.With(write).Patch("/report", submissionHandler.Report)
			})
		})

		// 書き起こし
		r.Route("/transcription", func(r chi.Router) {
			r.Post("/", transcriptionHandler.Create)
			r.Get("/search", transcriptionHandler.Search)
			r.Patch("/{id}/posted", transcriptionHandler.MarkPosted)
		})

		// URL検索
		r.Get("/find", findHandler.Find)

		// ボランティア
		r.Route("/volunteer", func(r chi.Router) {
			r.Get("/", volunteerHandler.Lookup)
			r.Post("/", volunteerHandler.Create)
			r.Get("/summary", volunteerHandler.Summary)
			r.Post("/accept_coc", volunteerHandler.AcceptCoC)
			r.Patch("/{id}/gamma_plusone", volunteerHandler.GammaPlusOne)
		})

		r.Get("/summary", volunteerHandler.GlobalSummary)
	})

	return r
}
