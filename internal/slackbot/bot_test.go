package slackbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/check"
	"github.com/hitoshi/blossom/internal/find"
	"github.com/hitoshi/blossom/internal/migration"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/reddit"
	"github.com/hitoshi/blossom/internal/report"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/testutil"
	"github.com/hitoshi/blossom/internal/volunteer"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

type fixture struct {
	store  *testutil.MemStore
	poster *testutil.RecordingPoster
	bot    *Bot
	alice  *model.User
	mod    *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewMemStore()
	poster := &testutil.RecordingPoster{}
	q := queue.New(8, logger, queue.WithSynchronous(true))
	renderer := chatview.New("https://blossom.slack.com")

	bot := New(Deps{
		Volunteers: volunteer.NewService(store.Users, store.Sources, store.Submissions, store.Transcriptions, logger),
		Checks: check.NewService(store.Checks, store.Transcriptions, store.Submissions, store.Users,
			renderer, poster, q, "C_CHECKS", logger),
		Migrations: migration.NewService(store.Migrations, store.Users, renderer, poster, q, "C_MODS", logger),
		Reports: report.NewService(store.Submissions, store.Users, reddit.NewLogActions(logger),
			renderer, poster, q, "C_REPORTS", logger),
		Finder:   find.NewService(store.Submissions, store.Transcriptions, store.Users),
		Renderer: renderer,
		Poster:   poster,
		Queue:    q,
		Logger:   logger,
	})

	return &fixture{
		store:  store,
		poster: poster,
		bot:    bot,
		alice:  store.AddUser(model.User{Username: "alice", IsVolunteer: true, AcceptedCoC: true}),
		mod:    store.AddUser(model.User{Username: "mo", IsStaff: true, AcceptedCoC: true}),
	}
}

// mention はbotへのメンションを送信し、スレッドに投稿された応答を返す。応答がなければ空文字を返す。
func (f *fixture) mention(t *testing.T, text string) string {
	t.Helper()
	const ts = "1699999999.000100"
	before := f.poster.PostCount()
	f.bot.HandleEvent(context.Background(), &slack.EventEnvelope{
		Type: slack.EnvelopeEventCallback,
		Event: slack.Event{
			Type:    slack.EventAppMention,
			User:    "UMO",
			Text:    "<@UBOT> " + text,
			Channel: "C_CMD",
			TS:      ts,
		},
	})
	for _, post := range f.poster.Posts[before:] {
		if post.ThreadTS == ts {
			if post.Channel != "C_CMD" {
				t.Errorf("reply channel = %q, want C_CMD", post.Channel)
			}
			return post.Text
		}
	}
	return ""
}

// press はmoとしてボタンを押す。
func (f *fixture) press(value string) {
	p := &slack.InteractionPayload{
		Type:    slack.InteractionBlockActions,
		User:    slack.InteractionUser{ID: "UMO", Username: "mo"},
		Actions: []slack.Action{{Type: "button", Value: value}},
	}
	p.Channel.ID = "C_CHECKS"
	p.Message.TS = "1700000000.000001"
	f.bot.HandleInteraction(context.Background(), p)
}

func (f *fixture) addGamma(t *testing.T, user *model.User, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		sub := f.store.AddSubmission(model.Submission{
			OriginalID:  fmt.Sprintf("g%d_%d", user.ID, i),
			Source:      "reddit",
			ClaimedBy:   &user.ID,
			CompletedBy: &user.ID,
		})
		f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: user.ID, PostedExternally: true})
	}
}

func TestParseCommand(t *testing.T) {
	name, args := parseCommand("<@U123ABC>   WATCH  u/Alice 50 ")
	if name != "watch" {
		t.Errorf("name = %q, want watch", name)
	}
	if len(args) != 2 || args[0] != "u/Alice" || args[1] != "50" {
		t.Errorf("args = %v", args)
	}

	if name, _ := parseCommand("<@U123ABC>"); name != "" {
		t.Errorf("empty mention should give no command, got %q", name)
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "alice", want: "alice"},
		{in: "Alice", want: "alice"},
		{in: "u/alice", want: "alice"},
		{in: "/u/alice", want: "alice"},
		{in: "U/alice", want: "alice"},
		{in: "*alice*", want: "alice"},
		{in: "_alice_", want: "alice"},
		{in: "<https://reddit.com/u/alice|u/alice>", want: "alice"},
		{in: "<https://reddit.com/user/alice/>", want: "alice"},
		{in: "snake_case_name", want: "snake_case_name"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := normalizeUsername(tt.in); got != tt.want {
				t.Errorf("normalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnwrapLink(t *testing.T) {
	if got := unwrapLink("<https://reddit.com/r/x/|label>"); got != "https://reddit.com/r/x/" {
		t.Errorf("unwrapLink = %q", got)
	}
	if got := unwrapLink("https://reddit.com/r/x/"); got != "https://reddit.com/r/x/" {
		t.Errorf("unwrapLink = %q", got)
	}
}

// --- コマンド ---

func TestBot_Help(t *testing.T) {
	f := newFixture(t)
	text := f.mention(t, "help")
	for _, name := range []string{"info", "watch", "unwatch", "watchlist", "block", "unblock", "reset", "check", "migrate", "warnings"} {
		if !strings.Contains(text, "`"+name) {
			t.Errorf("help should mention %q:\n%s", name, text)
		}
	}
}

func TestBot_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	if text := f.mention(t, "dance"); !strings.Contains(text, "don't know the command `dance`") {
		t.Errorf("reply = %q", text)
	}
}

func TestBot_ArgumentErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		text string
		want string
	}{
		{text: "watch", want: "I don't see a username"},
		{text: "block alice bob", want: "too many parameters"},
		{text: "migrate alice", want: "not enough parameters"},
		{text: "info ghost", want: "couldn't find a volunteer named u/ghost"},
		{text: "watch alice lots", want: "whole number between 1 and 100"},
		{text: "check not-a-link", want: "couldn't make sense of that link"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if text := f.mention(t, tt.text); !strings.Contains(text, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", text, tt.want)
			}
		})
	}
}

func TestBot_IgnoresBotMessages(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleEvent(context.Background(), &slack.EventEnvelope{
		Type:  slack.EnvelopeEventCallback,
		Event: slack.Event{Type: slack.EventAppMention, BotID: "B1", Text: "<@UBOT> help", Channel: "C_CMD", TS: "1.1"},
	})
	if f.poster.PostCount() != 0 {
		t.Errorf("bot messages must be ignored, got %d posts", f.poster.PostCount())
	}
}

func TestBot_WatchAndUnwatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if text := f.mention(t, "watch *u/Alice*"); !strings.Contains(text, "100%") {
		t.Errorf("watch reply = %q", text)
	}
	u, _ := f.store.Users.FindByID(ctx, f.alice.ID)
	if u.OverwriteCheckPercentage == nil || *u.OverwriteCheckPercentage != 1 {
		t.Fatalf("override = %v, want 1", u.OverwriteCheckPercentage)
	}

	if text := f.mention(t, "watchlist"); !strings.Contains(text, "u/alice: 100%") {
		t.Errorf("watchlist reply = %q", text)
	}

	f.mention(t, "unwatch alice")
	u, _ = f.store.Users.FindByID(ctx, f.alice.ID)
	if u.OverwriteCheckPercentage != nil {
		t.Error("unwatch should clear the override")
	}
	if text := f.mention(t, "watchlist"); !strings.Contains(text, "Nobody") {
		t.Errorf("watchlist reply = %q", text)
	}
}

func TestBot_WatchPercentageTooLow(t *testing.T) {
	f := newFixture(t)
	f.addGamma(t, f.alice, 60)

	text := f.mention(t, "watch alice 50")
	if !strings.Contains(text, "percentage is too low") || !strings.Contains(text, "70%") {
		t.Errorf("reply = %q", text)
	}
	u, _ := f.store.Users.FindByID(context.Background(), f.alice.ID)
	if u.OverwriteCheckPercentage != nil {
		t.Error("override must stay unchanged")
	}
}

func TestBot_BlockUnblockReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mention(t, "block alice")
	if u, _ := f.store.Users.FindByID(ctx, f.alice.ID); !u.IsBlocked {
		t.Error("alice should be blocked")
	}
	f.mention(t, "unblock alice")
	if u, _ := f.store.Users.FindByID(ctx, f.alice.ID); u.IsBlocked {
		t.Error("alice should be unblocked")
	}
	f.mention(t, "reset alice")
	if u, _ := f.store.Users.FindByID(ctx, f.alice.ID); u.AcceptedCoC {
		t.Error("CoC acceptance should be reset")
	}
}

func TestBot_Info(t *testing.T) {
	f := newFixture(t)
	f.addGamma(t, f.alice, 3)

	text := f.mention(t, "info u/alice")
	for _, want := range []string{"u/alice", "3 Γ", "Initiate", "accepted"} {
		if !strings.Contains(text, want) {
			t.Errorf("info reply should contain %q:\n%s", want, text)
		}
	}
}

func TestBot_CheckCommand(t *testing.T) {
	f := newFixture(t)
	sub := f.store.AddSubmission(model.Submission{
		OriginalID:  "abc",
		Source:      "reddit",
		URL:         "https://reddit.com/r/pics/comments/abc/title/",
		ClaimedBy:   &f.alice.ID,
		CompletedBy: &f.alice.ID,
	})
	f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID, PostedExternally: true})

	text := f.mention(t, "check <https://old.reddit.com/r/pics/comments/abc/title/>")
	if !strings.Contains(text, "created a check") || !strings.Contains(text, "u/alice") {
		t.Errorf("reply = %q", text)
	}
	if f.store.CheckCount() != 1 {
		t.Fatalf("checks = %d, want 1", f.store.CheckCount())
	}
	posted := false
	for _, p := range f.poster.Posts {
		if p.Channel == "C_CHECKS" {
			posted = true
		}
	}
	if !posted {
		t.Error("check message should be posted to the check channel")
	}

	if text := f.mention(t, "check https://reddit.com/r/pics/comments/abc/title/"); !strings.Contains(text, "already been checked") {
		t.Errorf("second check reply = %q", text)
	}
	if f.store.CheckCount() != 1 {
		t.Errorf("checks = %d, a second check must not be created", f.store.CheckCount())
	}
}

func TestBot_CheckCommand_NotFound(t *testing.T) {
	f := newFixture(t)
	if text := f.mention(t, "check https://reddit.com/r/pics/comments/zzz/title/"); !strings.Contains(text, "couldn't find anything") {
		t.Errorf("reply = %q", text)
	}
}

func TestBot_Warnings(t *testing.T) {
	f := newFixture(t)
	sub := f.store.AddSubmission(model.Submission{OriginalID: "w1", Source: "reddit", ClaimedBy: &f.alice.ID, CompletedBy: &f.alice.ID})
	tr := f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID})
	f.store.AddCheck(model.TranscriptionCheck{
		TranscriptionID: tr.ID,
		Status:          model.CheckWarningResolved,
		ModeratorID:     &f.mod.ID,
		SlackChannelID:  "C_CHECKS",
		SlackMessageTS:  "1700000000.000042",
	})

	text := f.mention(t, "warnings alice")
	if !strings.Contains(text, "WARNING_RESOLVED") || !strings.Contains(text, "https://blossom.slack.com/") {
		t.Errorf("reply = %q", text)
	}

	if text := f.mention(t, "warnings mo"); !strings.Contains(text, "no warnings") {
		t.Errorf("reply = %q", text)
	}
}

// --- ボタン操作 ---

func TestBot_SelfReviewIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.store.AddSubmission(model.Submission{OriginalID: "m1", Source: "reddit", ClaimedBy: &f.mod.ID, CompletedBy: &f.mod.ID})
	tr := f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.mod.ID})
	c, _, err := f.bot.checks.Create(ctx, tr.ID, "Automatic (80%)")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updates := f.poster.UpdateCount()

	f.press(chatview.CheckValue(model.CheckActionClaim, c.ID))

	post, _ := f.poster.LastPost()
	if !strings.Contains(post.Text, "<@UMO>") || !strings.Contains(post.Text, "cannot claim your own") {
		t.Errorf("error reply = %q", post.Text)
	}
	if post.ThreadTS != "1700000000.000001" {
		t.Errorf("error reply should be threaded on the pressed message, ThreadTS = %q", post.ThreadTS)
	}
	if f.poster.UpdateCount() != updates+1 {
		t.Error("the check message should be re-rendered after a refused action")
	}
	stored, _ := f.store.Checks.FindByID(ctx, c.ID)
	if stored.ModeratorID != nil {
		t.Error("moderator must stay empty")
	}
}

func TestBot_CheckClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.store.AddSubmission(model.Submission{OriginalID: "a1", Source: "reddit", ClaimedBy: &f.alice.ID, CompletedBy: &f.alice.ID})
	tr := f.store.AddTranscription(model.Transcription{SubmissionID: sub.ID, AuthorID: f.alice.ID})
	c, _, _ := f.bot.checks.Create(ctx, tr.ID, "Automatic (80%)")
	posts := f.poster.PostCount()

	f.press(chatview.CheckValue(model.CheckActionClaim, c.ID))

	stored, _ := f.store.Checks.FindByID(ctx, c.ID)
	if stored.ModeratorID == nil || *stored.ModeratorID != f.mod.ID {
		t.Errorf("moderator = %v, want mo", stored.ModeratorID)
	}
	if f.poster.PostCount() != posts {
		t.Error("a successful action must not post an error reply")
	}
	last, _ := f.poster.LastUpdate()
	if !strings.Contains(strings.Join(last.Message.ButtonValues(), ","), "check_unclaim_") {
		t.Errorf("updated buttons = %v", last.Message.ButtonValues())
	}
}

func TestBot_UnknownButton(t *testing.T) {
	f := newFixture(t)
	f.press("frobnicate_thing_1")

	post, ok := f.poster.LastPost()
	if !ok || !strings.Contains(post.Text, "don't know how to handle") {
		t.Errorf("unknown values must be reported, got %q", post.Text)
	}
}

func TestBot_ReportActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.store.AddSubmission(model.Submission{OriginalID: "r1", Source: "reddit", ReportReason: "spam"})

	f.press(chatview.ReportValue(chatview.VerbRemove, sub.ID))
	stored, _ := f.store.Submissions.FindByID(ctx, sub.ID)
	if !stored.RemovedFromQueue || stored.Approved {
		t.Errorf("after remove: removed=%v approved=%v", stored.RemovedFromQueue, stored.Approved)
	}

	f.press(chatview.ReportValue(chatview.VerbRevert, sub.ID))
	stored, _ = f.store.Submissions.FindByID(ctx, sub.ID)
	if stored.RemovedFromQueue || stored.Approved {
		t.Errorf("after revert: removed=%v approved=%v", stored.RemovedFromQueue, stored.Approved)
	}
}

func TestBot_ReportActionOnUnreportedSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.store.AddSubmission(model.Submission{OriginalID: "r2", Source: "reddit"})

	f.press(chatview.ReportValue(chatview.VerbApprove, sub.ID))
	stored, _ := f.store.Submissions.FindByID(ctx, sub.ID)
	if stored.Approved {
		t.Error("an unreported submission must not be approved")
	}
	post, ok := f.poster.LastPost()
	if !ok || !strings.Contains(post.Text, "has not been reported") {
		t.Errorf("error reply = %q", post.Text)
	}
}

func TestBot_MigrationRoundTrip(t *testing.T) {
	f := newFixture(t)
	paddington := f.store.AddUser(model.User{Username: "paddington", AcceptedCoC: true})
	moddington := f.store.AddUser(model.User{Username: "moddington", AcceptedCoC: true})
	f.addGamma(t, paddington, 3)
	f.addGamma(t, moddington, 1)
	before := f.store.SubmissionsCompletedBy(paddington.ID)

	if text := f.mention(t, "migrate u/paddington /u/moddington"); text != "" {
		t.Fatalf("migrate should only post the migration message, got reply %q", text)
	}
	msg, _ := f.poster.LastPost()
	if msg.Channel != "C_CMD" {
		t.Errorf("migration message channel = %q, want the command channel", msg.Channel)
	}
	values := msg.ButtonValues()
	if len(values) != 2 {
		t.Fatalf("buttons = %v", values)
	}

	f.press(values[0])
	if got := len(f.store.SubmissionsCompletedBy(moddington.ID)); got != 4 {
		t.Errorf("moddington after approve = %d, want 4", got)
	}
	if got := len(f.store.SubmissionsCompletedBy(paddington.ID)); got != 0 {
		t.Errorf("paddington after approve = %d, want 0", got)
	}

	last, _ := f.poster.LastUpdate()
	revert := last.Message.ButtonValues()
	if len(revert) != 1 {
		t.Fatalf("buttons after approve = %v", revert)
	}
	f.press(revert[0])

	if got := len(f.store.SubmissionsCompletedBy(moddington.ID)); got != 1 {
		t.Errorf("moddington after revert = %d, want 1", got)
	}
	after := f.store.SubmissionsCompletedBy(paddington.ID)
	if fmt.Sprint(after) != fmt.Sprint(before) {
		t.Errorf("paddington after revert = %v, want %v", after, before)
	}
}

func TestBot_MigrationUnknownUser(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		text string
		want string
	}{
		{text: "migrate alice ghost", want: "u/ghost"},
		{text: "migrate ghost alice", want: "u/ghost"},
		{text: "migrate phantom ghost", want: "u/phantom"},
		// 新しい名前が旧ユーザー名の末尾と一致しても取り違えない
		{text: "migrate host ost", want: "u/host"},
	}
	for _, tt := range tests {
		text := f.mention(t, tt.text)
		if !strings.Contains(text, tt.want) {
			t.Errorf("%s: reply = %q, want %s", tt.text, text, tt.want)
		}
	}
}
