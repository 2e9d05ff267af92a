package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/find"
	"github.com/hitoshi/blossom/internal/middleware"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/reddit"
	"github.com/hitoshi/blossom/internal/report"
	"github.com/hitoshi/blossom/internal/sampler"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/submission"
	"github.com/hitoshi/blossom/internal/testutil"
	"github.com/hitoshi/blossom/internal/transcription"
	"github.com/hitoshi/blossom/internal/volunteer"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

const (
	testAPIKey        = "test-api-key"
	testSigningSecret = "test-signing-secret"
)

var routerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// noopChecks はチェック作成後の処理を何もしないCheckCreatedHandler。
type noopChecks struct{}

func (noopChecks) Created(context.Context, *model.TranscriptionCheck) {}

// mockSlackBot はSlackBotのモック。
type mockSlackBot struct {
	events       []*slack.EventEnvelope
	interactions []*slack.InteractionPayload
}

func (m *mockSlackBot) HandleEvent(_ context.Context, env *slack.EventEnvelope) {
	m.events = append(m.events, env)
}

func (m *mockSlackBot) HandleInteraction(_ context.Context, p *slack.InteractionPayload) {
	m.interactions = append(m.interactions, p)
}

// mockSponsorWebhook はSponsorWebhookのモック。
type mockSponsorWebhook struct {
	handleFn func(ctx context.Context, signature string, body []byte) error
}

func (m *mockSponsorWebhook) Handle(ctx context.Context, signature string, body []byte) error {
	if m.handleFn != nil {
		return m.handleFn(ctx, signature, body)
	}
	return nil
}

type routerFixture struct {
	store   *testutil.MemStore
	bot     *mockSlackBot
	sponsor *mockSponsorWebhook
	router  http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewMemStore()
	poster := &testutil.RecordingPoster{}
	q := queue.New(8, logger, queue.WithSynchronous(true))

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	subs := submission.NewService(store.Users, store.Sources, store.Submissions, store.Transcriptions,
		sampler.New(sampler.WithRand(func() float64 { return 1 })), noopChecks{}, logger,
		submission.WithClock(func() time.Time { return routerNow }),
	)

	f := &routerFixture{
		store:   store,
		bot:     &mockSlackBot{},
		sponsor: &mockSponsorWebhook{},
	}
	f.router = NewRouter(&RouterDeps{
		Logger:            logger,
		APIKey:            testAPIKey,
		RateLimiter:       rl,
		SubmissionService: subs,
		ReportService: report.NewService(store.Submissions, store.Users, reddit.NewLogActions(logger),
			chatview.New("https://blossom.slack.com"), poster, q, "C_REPORTS", logger),
		TranscriptionService: transcription.NewService(store.Transcriptions, store.Submissions, store.Users, store.Sources, logger),
		FindService:          NewFindServiceAdapter(find.NewService(store.Submissions, store.Transcriptions, store.Users)),
		VolunteerService:     volunteer.NewService(store.Users, store.Sources, store.Submissions, store.Transcriptions, logger),
		SlackBot:             f.bot,
		SponsorWebhook:       f.sponsor,
		SlackSigningSecret:   testSigningSecret,
	})
	return f
}

// do はAPIキー付きでリクエストを送る。
func (f *routerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Api-Key "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestRouter_ClaimDoneHappyPath(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.store.AddUser(model.User{Username: "alice", IsVolunteer: true, AcceptedCoC: true})
	if _, err := f.store.Sources.Ensure(context.Background(), "reddit"); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	w := f.do(t, http.MethodPost, "/submission", map[string]any{
		"original_id": "s1",
		"source":      "reddit",
		"content_url": "http://x/img.jpg",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /submission status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	sub := decodeBody[submissionResponse](t, w)
	id := strconv.FormatInt(sub.ID, 10)

	w = f.do(t, http.MethodPatch, "/submission/"+id+"/claim", map[string]string{"username": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("claim status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	claimed := decodeBody[submissionResponse](t, w)
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != alice.ID {
		t.Errorf("claimed_by = %v, want %d", claimed.ClaimedBy, alice.ID)
	}

	w = f.do(t, http.MethodPost, "/transcription", map[string]any{
		"submission_id": sub.ID,
		"username":      "alice",
		"original_id":   "t1",
		"source":        "reddit",
		"t_url":         "https://reddit.com/r/x/comments/s1/_/t1/",
		"t_text":        "Image Transcription",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /transcription status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	w = f.do(t, http.MethodPatch, "/submission/"+id+"/done", map[string]string{"username": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("done status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	done := decodeBody[submissionResponse](t, w)
	if done.CompletedBy == nil || *done.CompletedBy != alice.ID {
		t.Errorf("completed_by = %v, want %d", done.CompletedBy, alice.ID)
	}

	// 完了済みの投稿の再claimは409
	w = f.do(t, http.MethodPatch, "/submission/"+id+"/claim", map[string]string{"username": "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("reclaim status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRouter_ClaimErrors(t *testing.T) {
	f := newRouterFixture(t)
	f.store.AddUser(model.User{Username: "newbie", IsVolunteer: true})
	f.store.AddUser(model.User{Username: "blocked", IsVolunteer: true, AcceptedCoC: true, IsBlocked: true})
	sub := f.store.AddSubmission(model.Submission{OriginalID: "s1", Source: "reddit", CreateTime: routerNow})
	path := "/submission/" + strconv.FormatInt(sub.ID, 10) + "/claim"

	tests := []struct {
		name     string
		path     string
		username string
		want     int
	}{
		{name: "CoC未同意", path: path, username: "newbie", want: http.StatusForbidden},
		{name: "ブロック済み", path: path, username: "blocked", want: http.StatusLocked},
		{name: "存在しないユーザー", path: path, username: "ghost", want: http.StatusNotFound},
		{name: "ユーザー名なし", path: path, username: "", want: http.StatusBadRequest},
		{name: "存在しない投稿", path: "/submission/9999/claim", username: "newbie", want: http.StatusNotFound},
		{name: "不正なID", path: "/submission/abc/claim", username: "newbie", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPatch, tt.path, map[string]string{"username": tt.username})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_ExpiredQueue(t *testing.T) {
	f := newRouterFixture(t)
	recent := f.store.AddSubmission(model.Submission{OriginalID: "recent", Source: "reddit", CreateTime: routerNow.Add(-3 * time.Hour)})
	old := f.store.AddSubmission(model.Submission{OriginalID: "old", Source: "reddit", CreateTime: routerNow.Add(-24 * time.Hour)})

	w := f.do(t, http.MethodGet, "/submission/expired?source=reddit&hours=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decodeBody[[]submissionResponse](t, w)
	if len(got) != 2 {
		t.Fatalf("hours=2 returned %d submissions, want 2", len(got))
	}
	if got[0].ID != old.ID || got[1].ID != recent.ID {
		t.Errorf("order = [%d %d], want oldest first [%d %d]", got[0].ID, got[1].ID, old.ID, recent.ID)
	}

	w = f.do(t, http.MethodGet, "/submission/expired?source=reddit", nil)
	got = decodeBody[[]submissionResponse](t, w)
	if len(got) != 1 || got[0].ID != old.ID {
		t.Errorf("default hours returned %+v, want only %d", got, old.ID)
	}

	w = f.do(t, http.MethodGet, "/submission/expired?source=reddit&ctq=true", nil)
	got = decodeBody[[]submissionResponse](t, w)
	if len(got) != 2 {
		t.Errorf("ctq returned %d submissions, want 2", len(got))
	}

	w = f.do(t, http.MethodGet, "/submission/expired?source=reddit&hours=asdf", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("hours=asdf status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_SubmissionCreateErrors(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/submission", map[string]any{"source": "reddit"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = f.do(t, http.MethodPost, "/submission", map[string]any{
		"original_id": "s1",
		"source":      "nowhere",
		"content_url": "http://x/img.jpg",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown source status = %d, want %d", w.Code, http.StatusNotFound)
	}

	req := httptest.NewRequest(http.MethodPost, "/submission", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Api-Key "+testAPIKey)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRouter_ReportIsIdempotent(t *testing.T) {
	f := newRouterFixture(t)
	sub := f.store.AddSubmission(model.Submission{OriginalID: "s1", Source: "reddit"})
	path := "/submission/" + strconv.FormatInt(sub.ID, 10) + "/report"

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPatch, path, map[string]string{"reason": "spam"})
		if w.Code != http.StatusCreated {
			t.Fatalf("report #%d status = %d, want %d: %s", i+1, w.Code, http.StatusCreated, w.Body.String())
		}
	}
	got, _ := f.store.Submissions.FindByID(context.Background(), sub.ID)
	if got.ReportReason != "spam" {
		t.Errorf("report_reason = %q, want spam", got.ReportReason)
	}
}

func TestRouter_Volunteer(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/volunteer", map[string]string{"username": "carol"})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /volunteer status = %d, want %d", w.Code, http.StatusCreated)
	}
	carol := decodeBody[volunteerResponse](t, w)

	w = f.do(t, http.MethodPost, "/volunteer", map[string]string{"username": "carol"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate volunteer status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}

	w = f.do(t, http.MethodPost, "/volunteer/accept_coc?username=carol", nil)
	if w.Code != http.StatusOK {
		t.Errorf("accept_coc status = %d, want %d", w.Code, http.StatusOK)
	}
	w = f.do(t, http.MethodPost, "/volunteer/accept_coc?username=carol", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second accept_coc status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = f.do(t, http.MethodPatch, "/volunteer/"+strconv.FormatInt(carol.ID, 10)+"/gamma_plusone", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("gamma_plusone status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decodeBody[gammaResponse](t, w); got.Gamma != 1 {
		t.Errorf("gamma = %d, want 1", got.Gamma)
	}

	w = f.do(t, http.MethodGet, "/volunteer/summary?username=carol", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary status = %d, want %d", w.Code, http.StatusOK)
	}
	summary := decodeBody[map[string]any](t, w)
	if summary["gamma"] != float64(1) || summary["rank"] != "Initiate" {
		t.Errorf("summary = %v, want gamma 1 and rank Initiate", summary)
	}

	w = f.do(t, http.MethodGet, "/volunteer/summary?username=ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown summary status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = f.do(t, http.MethodGet, "/summary", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /summary status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_Find(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.store.AddUser(model.User{Username: "alice", IsVolunteer: true, AcceptedCoC: true})
	sub := f.store.AddSubmission(model.Submission{
		OriginalID:  "abc",
		Source:      "reddit",
		URL:         "https://reddit.com/r/pics/comments/abc/title/",
		CompletedBy: &alice.ID,
	})
	f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: alice.ID, Text: "text"})

	w := f.do(t, http.MethodGet, "/find?url="+url.QueryEscape("https://old.reddit.com/r/pics/comments/abc/title"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("find status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	got := decodeBody[findResponse](t, w)
	if got.Submission == nil || got.Submission.ID != sub.ID {
		t.Errorf("submission = %+v, want %d", got.Submission, sub.ID)
	}
	if got.Author == nil || got.Author.Username != "alice" {
		t.Errorf("author = %+v, want alice", got.Author)
	}

	w = f.do(t, http.MethodGet, "/find?url="+url.QueryEscape("https://reddit.com/r/pics/comments/zzz/other/"), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown url status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = f.do(t, http.MethodGet, "/find?url=not-a-url", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid url status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_RequiresAPIKey(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/submission", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no api key status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/submission", nil)
	req.Header.Set("Authorization", "Api-Key wrong")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong api key status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// ヘルスチェックは認証不要
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
}

// slackRequest は署名付きのSlackリクエストを生成する。
func slackRequest(body, contentType string, at time.Time, secret string) *http.Request {
	ts := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/endpoint", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(slack.HeaderTimestamp, ts)
	req.Header.Set(slack.HeaderSignature, slack.Sign(secret, ts, []byte(body)))
	return req
}

func TestSlackEndpoint_URLVerification(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/slack/endpoint",
		strings.NewReader(`{"type":"url_verification","challenge":"abc123"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "abc123" {
		t.Errorf("body = %q, want abc123", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestSlackEndpoint_IgnoresRetries(t *testing.T) {
	event := `{"type":"event_callback","event":{"type":"app_mention","text":"<@UBOT> help","channel":"C1","ts":"1.0"}}`
	interaction := url.Values{"payload": {`{"type":"block_actions","user":{"id":"U1","username":"mo"},"actions":[{"value":"check_claim_1"}]}`}}.Encode()

	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{name: "イベント", body: event, contentType: "application/json"},
		{name: "ボタン操作", body: interaction, contentType: "application/x-www-form-urlencoded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			req := slackRequest(tt.body, tt.contentType, time.Now(), testSigningSecret)
			req.Header.Set(slack.HeaderRetryNum, "1")
			req.Header.Set("X-Slack-Retry-Reason", "http_timeout")
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if len(f.bot.events) != 0 || len(f.bot.interactions) != 0 {
				t.Errorf("bot received events=%d interactions=%d, want none", len(f.bot.events), len(f.bot.interactions))
			}
		})
	}
}

func TestSlackEndpoint_SignedEvent(t *testing.T) {
	f := newRouterFixture(t)
	body := `{"type":"event_callback","event":{"type":"app_mention","text":"<@UBOT> help","channel":"C1","ts":"1.0"}}`

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, slackRequest(body, "application/json", time.Now(), testSigningSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(f.bot.events) != 1 || f.bot.events[0].Event.Text != "<@UBOT> help" {
		t.Errorf("events = %+v, want one app_mention", f.bot.events)
	}
}

func TestSlackEndpoint_SignedInteraction(t *testing.T) {
	f := newRouterFixture(t)
	payload := `{"type":"block_actions","user":{"id":"U1","username":"mo"},"actions":[{"value":"check_claim_1"}]}`
	body := url.Values{"payload": {payload}}.Encode()

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, slackRequest(body, "application/x-www-form-urlencoded", time.Now(), testSigningSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(f.bot.interactions) != 1 || f.bot.interactions[0].Actions[0].Value != "check_claim_1" {
		t.Errorf("interactions = %+v, want one check_claim_1", f.bot.interactions)
	}
}

func TestSlackEndpoint_RejectsSilently(t *testing.T) {
	body := `{"type":"event_callback","event":{"type":"app_mention","text":"<@UBOT> help"}}`

	tests := []struct {
		name string
		req  *http.Request
	}{
		{name: "秘密鍵が異なる", req: slackRequest(body, "application/json", time.Now(), "other-secret")},
		{name: "タイムスタンプが古い", req: slackRequest(body, "application/json", time.Now().Add(-5*time.Minute-time.Second), testSigningSecret)},
		{name: "署名なし", req: httptest.NewRequest(http.MethodPost, "/slack/endpoint", strings.NewReader(body))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, tt.req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if len(f.bot.events) != 0 {
				t.Errorf("bot received %d events, want 0", len(f.bot.events))
			}
		})
	}
}

func TestSponsorsEndpoint_AlwaysOK(t *testing.T) {
	f := newRouterFixture(t)
	var gotSig string
	f.sponsor.handleFn = func(_ context.Context, signature string, _ []byte) error {
		gotSig = signature
		return errors.New("invalid signature")
	}

	req := httptest.NewRequest(http.MethodPost, "/slack/github/sponsors", strings.NewReader(`{}`))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotSig != "sha256=deadbeef" {
		t.Errorf("signature = %q, want sha256=deadbeef", gotSig)
	}
}
