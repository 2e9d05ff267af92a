package chatview

import (
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/slack"
)

// Report はレポートメッセージを描画する。
func (r *Renderer) Report(d *model.ReportDetail) slack.Message {
	sub := d.Submission

	title := sub.Title
	if title == "" {
		title = "(untitled)"
	}

	var postStatus string
	switch {
	case sub.CompletedBy != nil:
		postStatus = "Completed by " + username(d.CompletedBy)
	case sub.ClaimedBy != nil:
		postStatus = "Claimed by " + username(d.ClaimedBy)
	default:
		postStatus = "Unclaimed"
	}

	var statusLine string
	var buttons []slack.Element
	switch {
	case sub.RemovedFromQueue:
		statusLine = ":no_entry_sign: This post has been removed."
		buttons = []slack.Element{slack.Button("Revert", ReportValue(VerbRevert, sub.ID), "")}
	case sub.Approved:
		statusLine = ":heavy_check_mark: This post has been approved."
		buttons = []slack.Element{slack.Button("Revert", ReportValue(VerbRevert, sub.ID), "")}
	default:
		statusLine = ":grey_question: What should we do with this post?"
		buttons = []slack.Element{
			slack.Button("Approve", ReportValue(VerbApprove, sub.ID), slack.StylePrimary),
			slack.Button("Remove", ReportValue(VerbRemove, sub.ID), slack.StyleDanger),
		}
	}

	blocks := []slack.Block{
		slack.SectionBlock(fmt.Sprintf("*Submission reported*: %s", title)),
		slack.FieldsBlock(
			fmt.Sprintf("*ID*\n%d", sub.ID),
			"*Links*\n"+joinLinks(link(sub.TorURL, "ToR"), link(sub.URL, "Partner")),
			"*Status*\n"+postStatus,
			"*Reason*\n"+sub.ReportReason,
		),
		slack.SectionBlock(statusLine),
		slack.ActionsBlock(buttons...),
	}

	return slack.Message{
		Text:   fmt.Sprintf("Submission %d reported: %s", sub.ID, sub.ReportReason),
		Blocks: blocks,
	}
}
