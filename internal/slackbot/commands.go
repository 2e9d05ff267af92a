package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/blossom/internal/check"
	"github.com/hitoshi/blossom/internal/find"
	"github.com/hitoshi/blossom/internal/migration"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
	"github.com/hitoshi/blossom/internal/sampler"
)

// commandRequest はコマンド実行時の入力。
type commandRequest struct {
	channel string
	user    string
	args    []string
}

// command はチャットコマンドの定義。
type command struct {
	name        string
	usage       string
	description string
	minArgs     int
	maxArgs     int
	// firstIsUser は最初の引数がユーザー名であることを示す。不足時の文言に使う。
	firstIsUser bool
	run         func(ctx context.Context, req commandRequest) string
}

// commands は登録済みのコマンドを定義順に返す。
func (b *Bot) commands() []command {
	return []command{
		{name: "help", usage: "help", description: "Show this list of commands.", run: b.help},
		{name: "info", usage: "info <username>", description: "Show a volunteer's stats.",
			minArgs: 1, maxArgs: 1, firstIsUser: true, run: b.info},
		{name: "watch", usage: "watch <username> [percentage]", description: "Check a volunteer's transcriptions at the given rate (default 100%).",
			minArgs: 1, maxArgs: 2, firstIsUser: true, run: b.watch},
		{name: "unwatch", usage: "unwatch <username>", description: "Return a volunteer to automatic checks.",
			minArgs: 1, maxArgs: 1, firstIsUser: true, run: b.unwatch},
		{name: "watchlist", usage: "watchlist", description: "List all watched volunteers.", run: b.watchlist},
		{name: "block", usage: "block <username>", description: "Block a volunteer from claiming posts.",
			minArgs: 1, maxArgs: 1, firstIsUser: true, run: b.block},
		{name: "unblock", usage: "unblock <username>", description: "Lift a block.",
			minArgs: 1, maxArgs: 1, firstIsUser: true, run: b.unblock},
		{name: "reset", usage: "reset <username>", description: "Reset a volunteer's code of conduct acceptance.",
			minArgs: 1, maxArgs: 1, firstIsUser: true, run: b.reset},
		{name: "check", usage: "check <url>", description: "Create a check for the transcription behind a link.",
			minArgs: 1, maxArgs: 1, run: b.check},
		{name: "migrate", usage: "migrate <old username> <new username>", description: "Move all posts from one account to another.",
			minArgs: 2, maxArgs: 2, firstIsUser: true, run: b.migrate},
		{name: "warnings", usage: "warnings <username>", description: "List checks of a volunteer that ended with a warning.",
			minArgs: 1, maxArgs: 1, firstIsUser: true, run: b.warnings},
	}
}

// runCommand はコマンドを引数検証のうえ実行し、応答文を返す。
func (b *Bot) runCommand(ctx context.Context, name string, req commandRequest) string {
	if name == "" {
		return reply("empty_command")
	}
	cmd, ok := b.registry[name]
	if !ok {
		return reply("unknown_command", name)
	}
	if len(req.args) < cmd.minArgs {
		if cmd.firstIsUser && len(req.args) == 0 {
			return reply("missing_username", cmd.usage)
		}
		return reply("missing_params", cmd.usage)
	}
	if len(req.args) > cmd.maxArgs {
		return reply("too_many_params", cmd.usage)
	}
	return cmd.run(ctx, req)
}

// errorReply はサービス層のエラーを応答文に変換する。
// APIError以外のエラーはログに記録し、汎用の文言を返す。
func (b *Bot) errorReply(ctx context.Context, err error, username string) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		b.logger.Error("コマンドの実行に失敗しました", slog.String("error", err.Error()))
		return reply("internal_error")
	}
	switch apiErr.Reason {
	case "user_NOT_FOUND":
		return reply("unknown_username", username)
	case "PERCENTAGE_TOO_LOW":
		summary, sErr := b.volunteers.Summary(ctx, username)
		if sErr != nil {
			return apiErr.Message
		}
		return reply("percentage_too_low", username, sampler.FormatPercentage(policy.CheckProbability(summary.Gamma)))
	}
	return apiErr.Message
}

func (b *Bot) help(_ context.Context, _ commandRequest) string {
	var sb strings.Builder
	sb.WriteString("*Available commands:*\n")
	for _, cmd := range b.commands() {
		fmt.Fprintf(&sb, "• `%s`: %s\n", cmd.usage, cmd.description)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (b *Bot) info(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	s, err := b.volunteers.Summary(ctx, username)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}

	lastActive := "never"
	if s.LastActive != nil {
		lastActive = s.LastActive.Format("2006-01-02")
	}
	watched := "no"
	if s.Watched {
		watched = sampler.FormatPercentage(s.WatchPercentage/100) + "%"
	}
	return fmt.Sprintf("*Info for u/%s:*\n"+
		"• Gamma: %d Γ (%s)\n"+
		"• Joined: %s\n"+
		"• Last active: %s\n"+
		"• Code of conduct: %s\n"+
		"• Blocked: %s\n"+
		"• Watched: %s",
		s.Username, s.Gamma, s.Rank,
		s.DateJoined.Format("2006-01-02"), lastActive,
		yesNo(s.AcceptedCoC, "accepted", "not accepted"),
		yesNo(s.Blocked, "yes", "no"),
		watched)
}

func (b *Bot) watch(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	percentage := 0
	if len(req.args) == 2 {
		raw := strings.TrimSuffix(req.args[1], "%")
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 || p > 100 {
			return reply("invalid_percentage", req.args[1])
		}
		percentage = p
	}

	user, err := b.volunteers.Watch(ctx, username, percentage)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}
	return fmt.Sprintf("u/%s is now watched: %s%% of their transcriptions will be checked.",
		user.Username, sampler.FormatPercentage(*user.OverwriteCheckPercentage))
}

func (b *Bot) unwatch(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	user, err := b.volunteers.Unwatch(ctx, username)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}
	return fmt.Sprintf("u/%s is no longer watched and is back to automatic checks.", user.Username)
}

func (b *Bot) watchlist(ctx context.Context, _ commandRequest) string {
	users, err := b.volunteers.ListWatched(ctx)
	if err != nil {
		return b.errorReply(ctx, err, "")
	}
	if len(users) == 0 {
		return "Nobody is being watched right now."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Watched volunteers (%d):*", len(users))
	for _, u := range users {
		fmt.Fprintf(&sb, "\n• u/%s: %s%%", u.Username, sampler.FormatPercentage(*u.OverwriteCheckPercentage))
	}
	return sb.String()
}

func (b *Bot) block(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	user, err := b.volunteers.Block(ctx, username)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}
	return fmt.Sprintf("u/%s has been blocked.", user.Username)
}

func (b *Bot) unblock(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	user, err := b.volunteers.Unblock(ctx, username)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}
	return fmt.Sprintf("u/%s has been unblocked.", user.Username)
}

func (b *Bot) reset(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	user, err := b.volunteers.ResetCoC(ctx, username)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}
	return fmt.Sprintf("u/%s will have to accept the code of conduct again.", user.Username)
}

func (b *Bot) check(ctx context.Context, req commandRequest) string {
	raw := unwrapLink(req.args[0])
	res, err := b.finder.Find(ctx, raw)
	if err != nil {
		switch model.ReasonOf(err) {
		case "INVALID_REQUEST":
			return reply("invalid_url", raw)
		case "submission_NOT_FOUND":
			return reply("not_found")
		}
		return b.errorReply(ctx, err, "")
	}
	if res.Transcription == nil {
		return reply("no_transcription")
	}

	c, created, err := b.checks.Create(ctx, res.Transcription.ID, sampler.TriggerManual)
	if err != nil {
		return b.errorReply(ctx, err, "")
	}
	if !created {
		return b.renderer.AlreadyChecked(c)
	}
	author := "unknown"
	if res.Author != nil {
		author = "u/" + res.Author.Username
	}
	return fmt.Sprintf("I've created a check for the transcription by %s.", author)
}

func (b *Bot) migrate(ctx context.Context, req commandRequest) string {
	oldName := normalizeUsername(req.args[0])
	newName := normalizeUsername(req.args[1])
	if _, err := b.migrations.Start(ctx, oldName, newName, req.channel); err != nil {
		switch model.ReasonOf(err) {
		case migration.ReasonOldUserNotFound:
			return reply("unknown_username", oldName)
		case migration.ReasonNewUserNotFound:
			return reply("unknown_username", newName)
		}
		return b.errorReply(ctx, err, oldName)
	}
	return ""
}

func (b *Bot) warnings(ctx context.Context, req commandRequest) string {
	username := normalizeUsername(req.args[0])
	checks, err := b.checks.ListForUser(ctx, username, check.WarningStatuses)
	if err != nil {
		return b.errorReply(ctx, err, username)
	}
	if len(checks) == 0 {
		return fmt.Sprintf("u/%s has no warnings.", username)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Warnings for u/%s (%d):*", username, len(checks))
	for _, c := range checks {
		label := fmt.Sprintf("check %d: %s", c.ID, c.Status)
		if link := b.checks.MessageLink(c); link != "" {
			label = fmt.Sprintf("<%s|%s>", link, label)
		}
		sb.WriteString("\n• " + label)
	}
	return sb.String()
}

func yesNo(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

var _ Finder = (*find.Service)(nil)
