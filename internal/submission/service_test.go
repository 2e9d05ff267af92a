package submission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/sampler"
	"github.com/hitoshi/blossom/internal/testutil"
)

type recordingChecks struct {
	created []*model.TranscriptionCheck
}

func (r *recordingChecks) Created(_ context.Context, c *model.TranscriptionCheck) {
	r.created = append(r.created, c)
}

type recordingRanks struct {
	gammas []int
}

func (r *recordingRanks) NotifyRankUp(_ context.Context, _ *model.User, gamma int) {
	r.gammas = append(r.gammas, gamma)
}

type recordingOCR struct {
	scheduled []int64
}

func (r *recordingOCR) ScheduleOCR(_ context.Context, sub *model.Submission) {
	r.scheduled = append(r.scheduled, sub.ID)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *testutil.MemStore
	svc    *Service
	checks *recordingChecks
	ranks  *recordingRanks
	ocr    *recordingOCR
	alice  *model.User
	bob    *model.User
	mod    *model.User
}

func newFixture(t *testing.T, draw float64) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewMemStore()
	f := &fixture{
		store:  store,
		checks: &recordingChecks{},
		ranks:  &recordingRanks{},
		ocr:    &recordingOCR{},
		alice:  store.AddUser(model.User{Username: "alice", IsVolunteer: true, AcceptedCoC: true}),
		bob:    store.AddUser(model.User{Username: "bob", IsVolunteer: true, AcceptedCoC: true}),
		mod:    store.AddUser(model.User{Username: "admin", IsStaff: true, AcceptedCoC: true}),
	}
	f.svc = NewService(store.Users, store.Sources, store.Submissions, store.Transcriptions,
		sampler.New(sampler.WithRand(func() float64 { return draw })), f.checks, logger,
		WithOCR(f.ocr),
		WithRankNotifier(f.ranks),
		WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

func (f *fixture) openSubmission(originalID string) *model.Submission {
	return f.store.AddSubmission(model.Submission{
		OriginalID: originalID,
		Source:     "reddit",
		ContentURL: "https://i.redd.it/" + originalID + ".jpg",
		CreateTime: fixedNow.Add(-time.Hour),
	})
}

func errCode(err error) (string, string) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Reason
	}
	return "", ""
}

func ptr[T any](v T) *T { return &v }

// --- 作成 ---

func TestService_Create(t *testing.T) {
	f := newFixture(t, 0.99)
	f.store.AddSubmission(model.Submission{OriginalID: "seed", Source: "reddit"})
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, CreateInput{
		OriginalID: "abc",
		Source:     "reddit",
		ContentURL: "https://i.redd.it/abc.jpg",
		URL:        "https://old.reddit.com/r/pics/comments/abc/title?utm=x",
		Title:      "A picture",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected an ID to be assigned")
	}
	if sub.URL != "https://reddit.com/r/pics/comments/abc/title/" {
		t.Errorf("URL = %q, want normalized reddit URL", sub.URL)
	}
	if !sub.CreateTime.Equal(fixedNow) {
		t.Errorf("CreateTime = %v, want %v", sub.CreateTime, fixedNow)
	}
	if len(f.ocr.scheduled) != 1 || f.ocr.scheduled[0] != sub.ID {
		t.Errorf("ocr scheduled = %v, want [%d]", f.ocr.scheduled, sub.ID)
	}
}

func TestService_Create_Errors(t *testing.T) {
	f := newFixture(t, 0.99)
	f.store.AddSubmission(model.Submission{OriginalID: "dup", Source: "reddit"})
	ctx := context.Background()

	tests := []struct {
		name   string
		in     CreateInput
		code   string
		reason string
	}{
		{
			name: "必須項目が欠けている",
			in:   CreateInput{Source: "reddit"},
			code: model.ErrCodeBadRequest,
		},
		{
			name: "未知のソース",
			in:   CreateInput{OriginalID: "x", Source: "nowhere", ContentURL: "https://i.redd.it/x.jpg"},
			code: model.ErrCodeNotFound,
		},
		{
			name:   "重複",
			in:     CreateInput{OriginalID: "dup", Source: "reddit", ContentURL: "https://i.redd.it/d.jpg"},
			code:   model.ErrCodeUnprocessable,
			reason: "DUPLICATE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.in)
			code, reason := errCode(err)
			if code != tt.code {
				t.Fatalf("code = %q, want %q (err=%v)", code, tt.code, err)
			}
			if tt.reason != "" && reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestService_Create_CannotOCRSkipsScheduling(t *testing.T) {
	f := newFixture(t, 0.99)
	f.store.AddSubmission(model.Submission{OriginalID: "seed", Source: "reddit"})

	_, err := f.svc.Create(context.Background(), CreateInput{
		OriginalID: "abc", Source: "reddit", ContentURL: "https://i.redd.it/abc.jpg", CannotOCR: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.ocr.scheduled) != 0 {
		t.Errorf("ocr scheduled = %v, want none", f.ocr.scheduled)
	}
}

// --- 担当 ---

func TestService_Claim(t *testing.T) {
	f := newFixture(t, 0.99)
	sub := f.openSubmission("s1")
	ctx := context.Background()

	got, err := f.svc.Claim(ctx, sub.ID, "ALICE")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !got.IsClaimedBy(f.alice.ID) {
		t.Errorf("ClaimedBy = %v, want %d", got.ClaimedBy, f.alice.ID)
	}
	if got.ClaimTime == nil || !got.ClaimTime.Equal(fixedNow) {
		t.Errorf("ClaimTime = %v, want %v", got.ClaimTime, fixedNow)
	}

	// 同じユーザーによる再claimもCONFLICT
	_, err = f.svc.Claim(ctx, sub.ID, "alice")
	if code, reason := errCode(err); code != model.ErrCodeConflict || reason != "ALREADY_CLAIMED" {
		t.Errorf("reclaim = %s/%s, want CONFLICT/ALREADY_CLAIMED", code, reason)
	}
	_, err = f.svc.Claim(ctx, sub.ID, "bob")
	if code, _ := errCode(err); code != model.ErrCodeConflict {
		t.Errorf("claim by other = %q, want CONFLICT", code)
	}
}

func TestService_Claim_PolicyErrors(t *testing.T) {
	f := newFixture(t, 0.99)
	blocked := f.store.AddUser(model.User{Username: "blocked", AcceptedCoC: true, IsBlocked: true})
	noCoC := f.store.AddUser(model.User{Username: "newbie"})
	sub := f.openSubmission("s1")
	ctx := context.Background()

	tests := []struct {
		name     string
		id       int64
		username string
		code     string
	}{
		{name: "ブロック済み", id: sub.ID, username: blocked.Username, code: model.ErrCodeLocked},
		{name: "CoC未同意", id: sub.ID, username: noCoC.Username, code: model.ErrCodeForbidden},
		{name: "未知のユーザー", id: sub.ID, username: "ghost", code: model.ErrCodeNotFound},
		{name: "未知の投稿", id: 99999, username: "alice", code: model.ErrCodeNotFound},
		{name: "ユーザー名なし", id: sub.ID, username: "", code: model.ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Claim(ctx, tt.id, tt.username)
			if code, _ := errCode(err); code != tt.code {
				t.Errorf("code = %q, want %q (err=%v)", code, tt.code, err)
			}
		})
	}
}

func TestService_Unclaim(t *testing.T) {
	f := newFixture(t, 0.99)
	sub := f.openSubmission("s1")
	ctx := context.Background()

	_, err := f.svc.Unclaim(ctx, sub.ID, "alice")
	if code, _ := errCode(err); code != model.ErrCodePreconditionFailed {
		t.Errorf("unclaim of open submission = %q, want PRECONDITION_FAILED", code)
	}
	if _, err := f.svc.Claim(ctx, sub.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err = f.svc.Unclaim(ctx, sub.ID, "bob")
	if code, reason := errCode(err); code != model.ErrCodeNotAcceptable || reason != "WRONG_USER" {
		t.Errorf("unclaim by other = %s/%s, want NOT_ACCEPTABLE/WRONG_USER", code, reason)
	}

	got, err := f.svc.Unclaim(ctx, sub.ID, "alice")
	if err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if got.ClaimedBy != nil || got.ClaimTime != nil {
		t.Errorf("after unclaim: ClaimedBy=%v ClaimTime=%v, want nil", got.ClaimedBy, got.ClaimTime)
	}
	if got.State() != model.SubmissionOpen {
		t.Errorf("State = %s, want OPEN", got.State())
	}
}

// --- 完了 ---

func TestService_Done_ClaimThenDone(t *testing.T) {
	f := newFixture(t, 0.99)
	sub := f.openSubmission("s1")
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, sub.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err := f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice"})
	if code, reason := errCode(err); code != model.ErrCodePreconditionRequired || reason != "MISSING_TRANSCRIPTION" {
		t.Fatalf("done without transcription = %s/%s, want PRECONDITION_REQUIRED", code, reason)
	}

	f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID, Source: "reddit"})
	got, err := f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice"})
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	if got.CompletedBy == nil || *got.CompletedBy != f.alice.ID {
		t.Errorf("CompletedBy = %v, want %d", got.CompletedBy, f.alice.ID)
	}
	if got.CompleteTime == nil || !got.CompleteTime.Equal(fixedNow) {
		t.Errorf("CompleteTime = %v, want %v", got.CompleteTime, fixedNow)
	}
	// 初めての書き起こしでVisitorからInitiateに上がる
	if len(f.ranks.gammas) != 1 || f.ranks.gammas[0] != 1 {
		t.Errorf("rank-ups = %v, want [1]", f.ranks.gammas)
	}
	// 乱数0.99は80%の自動確率を超えるため抽出されない
	if len(f.checks.created) != 0 || f.store.CheckCount() != 0 {
		t.Errorf("checks created = %d, want 0", f.store.CheckCount())
	}

	_, err = f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice"})
	if code, reason := errCode(err); code != model.ErrCodeConflict || reason != "ALREADY_COMPLETED" {
		t.Errorf("second done = %s/%s, want CONFLICT/ALREADY_COMPLETED", code, reason)
	}
}

func TestService_Done_SampledCreatesCheck(t *testing.T) {
	f := newFixture(t, 0.1)
	sub := f.openSubmission("s1")
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, sub.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	tr := f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID})
	if _, err := f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice"}); err != nil {
		t.Fatalf("Done: %v", err)
	}

	if len(f.checks.created) != 1 {
		t.Fatalf("checks created = %d, want 1", len(f.checks.created))
	}
	c := f.checks.created[0]
	if c.TranscriptionID != tr.ID {
		t.Errorf("TranscriptionID = %d, want %d", c.TranscriptionID, tr.ID)
	}
	if c.Status != model.CheckPending {
		t.Errorf("Status = %s, want PENDING", c.Status)
	}
	if c.Trigger != "Automatic (80%)" {
		t.Errorf("Trigger = %q, want %q", c.Trigger, "Automatic (80%)")
	}
}

func TestService_Done_WatchedAlwaysSampled(t *testing.T) {
	f := newFixture(t, 0.999)
	alice := *f.alice
	alice.OverwriteCheckPercentage = ptr(1.0)
	if err := f.store.Users.Update(context.Background(), &alice); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ctx := context.Background()

	for i := range 10 {
		sub := f.openSubmission("w" + string(rune('a'+i)))
		if _, err := f.svc.Claim(ctx, sub.ID, "alice"); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID})
		if _, err := f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice"}); err != nil {
			t.Fatalf("Done: %v", err)
		}
	}
	if got := f.store.CheckCount(); got != 10 {
		t.Errorf("checks = %d, want 10", got)
	}
	for _, c := range f.checks.created {
		if c.Trigger != "Watched (100%)" {
			t.Errorf("Trigger = %q, want %q", c.Trigger, "Watched (100%)")
		}
	}
}

func TestService_Done_ModOverride(t *testing.T) {
	f := newFixture(t, 0.99)
	sub := f.openSubmission("s1")
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, sub.ID, "bob"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID})

	_, err := f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice"})
	if code, reason := errCode(err); code != model.ErrCodePreconditionFailed || reason != "CLAIMED_BY_OTHER" {
		t.Fatalf("done by non-claimant = %s/%s, want PRECONDITION_FAILED/CLAIMED_BY_OTHER", code, reason)
	}
	// スタッフ以外の要求ではmod_overrideは効かない
	_, err = f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice", ModOverride: true, Requester: "bob"})
	if code, _ := errCode(err); code != model.ErrCodePreconditionFailed {
		t.Fatalf("override by non-staff = %q, want PRECONDITION_FAILED", code)
	}

	got, err := f.svc.Done(ctx, sub.ID, DoneInput{Username: "alice", ModOverride: true, Requester: model.UsernameAdmin})
	if err != nil {
		t.Fatalf("Done with override: %v", err)
	}
	if got.CompletedBy == nil || *got.CompletedBy != f.alice.ID {
		t.Errorf("CompletedBy = %v, want %d", got.CompletedBy, f.alice.ID)
	}
	if !got.IsClaimedBy(f.bob.ID) {
		t.Errorf("ClaimedBy = %v, want unchanged %d", got.ClaimedBy, f.bob.ID)
	}
}

func TestService_Done_Unclaimed(t *testing.T) {
	f := newFixture(t, 0.99)
	sub := f.openSubmission("s1")

	_, err := f.svc.Done(context.Background(), sub.ID, DoneInput{Username: "alice"})
	if code, reason := errCode(err); code != model.ErrCodePreconditionFailed || reason != "NOT_CLAIMED" {
		t.Errorf("done on open = %s/%s, want PRECONDITION_FAILED/NOT_CLAIMED", code, reason)
	}
}

// --- キュー照会 ---

func TestService_ExpiredQueue(t *testing.T) {
	f := newFixture(t, 0.99)
	old := f.store.AddSubmission(model.Submission{OriginalID: "old", Source: "reddit", CreateTime: fixedNow.Add(-20 * time.Hour)})
	f.store.AddSubmission(model.Submission{OriginalID: "fresh", Source: "reddit", CreateTime: fixedNow.Add(-2 * time.Hour)})
	f.store.AddSubmission(model.Submission{OriginalID: "claimed", Source: "reddit", CreateTime: fixedNow.Add(-30 * time.Hour), ClaimedBy: &f.alice.ID})
	f.store.AddSubmission(model.Submission{OriginalID: "removed", Source: "reddit", CreateTime: fixedNow.Add(-30 * time.Hour), RemovedFromQueue: true})
	ctx := context.Background()

	tests := []struct {
		name string
		q    ExpiredQuery
		want int
	}{
		{name: "デフォルト18時間", q: ExpiredQuery{}, want: 1},
		{name: "1時間", q: ExpiredQuery{Hours: ptr(1)}, want: 2},
		{name: "ctq", q: ExpiredQuery{CTQ: true}, want: 2},
		{name: "ソース絞り込み", q: ExpiredQuery{Source: "blossom", CTQ: true}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs, err := f.svc.ExpiredQueue(ctx, tt.q)
			if err != nil {
				t.Fatalf("ExpiredQueue: %v", err)
			}
			if len(subs) != tt.want {
				t.Fatalf("len = %d, want %d", len(subs), tt.want)
			}
			if len(subs) > 0 && subs[0].ID != old.ID {
				t.Errorf("first = %d, want oldest %d", subs[0].ID, old.ID)
			}
		})
	}

	_, err := f.svc.ExpiredQueue(ctx, ExpiredQuery{Hours: ptr(-1)})
	if code, _ := errCode(err); code != model.ErrCodeBadRequest {
		t.Errorf("negative hours = %q, want BAD_REQUEST", code)
	}
}

func TestService_Unarchived(t *testing.T) {
	f := newFixture(t, 0.99)
	f.store.AddSubmission(model.Submission{
		OriginalID: "done-long-ago", Source: "reddit",
		ClaimedBy: &f.alice.ID, CompletedBy: &f.alice.ID, CompleteTime: ptr(fixedNow.Add(-time.Hour)),
	})
	f.store.AddSubmission(model.Submission{
		OriginalID: "just-done", Source: "reddit",
		ClaimedBy: &f.alice.ID, CompletedBy: &f.alice.ID, CompleteTime: ptr(fixedNow.Add(-time.Minute)),
	})
	f.store.AddSubmission(model.Submission{
		OriginalID: "archived", Source: "reddit", Archived: true,
		ClaimedBy: &f.alice.ID, CompletedBy: &f.alice.ID, CompleteTime: ptr(fixedNow.Add(-time.Hour)),
	})

	subs, err := f.svc.Unarchived(context.Background(), "")
	if err != nil {
		t.Fatalf("Unarchived: %v", err)
	}
	if len(subs) != 1 || subs[0].OriginalID != "done-long-ago" {
		t.Errorf("got %d submissions, want only done-long-ago", len(subs))
	}
}

func TestService_TranscribotQueue(t *testing.T) {
	f := newFixture(t, 0.99)
	ctx := context.Background()

	subs, err := f.svc.TranscribotQueue(ctx, "", 0)
	if err != nil {
		t.Fatalf("TranscribotQueue without bot: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("len = %d, want 0 without the OCR user", len(subs))
	}

	bot := f.store.AddUser(model.User{Username: model.UsernameOCRBot, IsBot: true})
	pending := f.openSubmission("ocr1")
	posted := f.openSubmission("ocr2")
	f.store.AddTranscription(model.Transcription{SubmissionID: pending.ID, AuthorID: bot.ID})
	f.store.AddTranscription(model.Transcription{SubmissionID: posted.ID, AuthorID: bot.ID, PostedExternally: true})

	subs, err = f.svc.TranscribotQueue(ctx, "", 0)
	if err != nil {
		t.Fatalf("TranscribotQueue: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != pending.ID {
		t.Errorf("got %v, want only submission %d", subs, pending.ID)
	}
}
