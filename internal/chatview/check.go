package chatview

import (
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/slack"
)

// checkStatusLabels は担当モデレーターがいる場合の状態表示。
var checkStatusLabels = map[model.CheckStatus]string{
	model.CheckPending:         ":hourglass_flowing_sand: Claimed by %s",
	model.CheckApproved:        ":heavy_check_mark: Approved by %s",
	model.CheckCommentPending:  ":speech_balloon: Comment pending by %s",
	model.CheckCommentResolved: ":speech_balloon: Comment resolved by %s",
	model.CheckCommentUnfixed:  ":speech_balloon: Comment unfixed by %s",
	model.CheckWarningPending:  ":warning: Warning pending by %s",
	model.CheckWarningResolved: ":warning: Warning resolved by %s",
	model.CheckWarningUnfixed:  ":warning: Warning unfixed by %s",
}

// Check はチェックメッセージを描画する。
// NSFWの投稿では画像プレビューを表示しない。
func (r *Renderer) Check(d *model.CheckDetail) slack.Message {
	check, sub, t := d.Check, d.Submission, d.Transcription

	header := fmt.Sprintf("*Transcription check* for %s (%d Γ)", userLink(d.Author), d.AuthorGamma)

	links := joinLinks(
		link(sub.URL, "Partner"),
		link(sub.TorURL, "ToR"),
		link(t.URL, "Transcription"),
	)
	fields := []string{
		"*Links*\n" + links,
		"*Source*\n" + sub.Source,
		"*Trigger*\n" + check.Trigger,
	}
	if sub.NSFW {
		fields = append(fields, "*NSFW*\n:underage: Yes")
	}

	blocks := []slack.Block{
		slack.SectionBlock(header),
		slack.FieldsBlock(fields...),
	}
	if !sub.NSFW && sub.ContentURL != "" {
		blocks = append(blocks, slack.ImageBlock(sub.ContentURL, "Submission image"))
	}
	blocks = append(blocks,
		slack.ContextBlock(checkStatusLine(d)),
		slack.DividerBlock(),
	)
	if buttons := checkButtons(check); len(buttons) > 0 {
		blocks = append(blocks, slack.ActionsBlock(buttons...))
	}

	return slack.Message{
		Text:   fmt.Sprintf("Check for %s (%s)", username(d.Author), check.Trigger),
		Blocks: blocks,
	}
}

func checkStatusLine(d *model.CheckDetail) string {
	if d.Check.ModeratorID == nil {
		return ":grey_question: Unclaimed"
	}
	format, ok := checkStatusLabels[d.Check.Status]
	if !ok {
		return string(d.Check.Status)
	}
	return fmt.Sprintf(format, username(d.Moderator))
}

// checkButtons は状態に応じて押せるボタンを返す。
func checkButtons(c *model.TranscriptionCheck) []slack.Element {
	btn := func(label string, action model.CheckAction, style string) slack.Element {
		return slack.Button(label, CheckValue(action, c.ID), style)
	}

	if c.ModeratorID == nil {
		return []slack.Element{btn("Claim", model.CheckActionClaim, slack.StylePrimary)}
	}

	switch c.Status {
	case model.CheckPending:
		return []slack.Element{
			btn("Approve", model.CheckActionApprove, slack.StylePrimary),
			btn("Comment", model.CheckActionCommentPending, ""),
			btn("Warning", model.CheckActionWarningPending, slack.StyleDanger),
			btn("Unclaim", model.CheckActionUnclaim, ""),
		}
	case model.CheckCommentPending:
		return []slack.Element{
			btn("Resolved", model.CheckActionCommentResolved, slack.StylePrimary),
			btn("Unfixed", model.CheckActionCommentUnfixed, slack.StyleDanger),
			btn("Revert", model.CheckActionRevert, ""),
		}
	case model.CheckWarningPending:
		return []slack.Element{
			btn("Resolved", model.CheckActionWarningResolved, slack.StylePrimary),
			btn("Unfixed", model.CheckActionWarningUnfixed, slack.StyleDanger),
			btn("Revert", model.CheckActionRevert, ""),
		}
	case model.CheckApproved,
		model.CheckCommentResolved, model.CheckCommentUnfixed,
		model.CheckWarningResolved, model.CheckWarningUnfixed:
		return []slack.Element{btn("Revert", model.CheckActionRevert, "")}
	}
	return nil
}

// AlreadyChecked は既存チェックがある場合の通知文を返す。
func (r *Renderer) AlreadyChecked(check *model.TranscriptionCheck) string {
	if !check.HasMessage() {
		return "This transcription has already been checked."
	}
	return fmt.Sprintf("This transcription has already been checked: <%s|view check>.",
		r.MessageLink(check.SlackChannelID, check.SlackMessageTS))
}
