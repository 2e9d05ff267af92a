package chatview

import (
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/slack"
)

// Migration はアカウント移行メッセージを描画する。
func (r *Renderer) Migration(d *model.MigrationDetail) slack.Message {
	m := d.Migration

	blocks := []slack.Block{
		slack.SectionBlock(fmt.Sprintf("*Account migration*: %s :arrow_right: %s",
			userLink(d.OldUser), userLink(d.NewUser))),
	}
	if d.Moderator != nil && m.Status != model.MigrationCancelled {
		blocks = append(blocks, slack.ContextBlock("Approved by "+username(d.Moderator)))
	}

	switch m.Status {
	case model.MigrationPending:
		blocks = append(blocks, slack.ActionsBlock(
			slack.Button("Approve", MigrationValue(VerbApprove, m.ID), slack.StylePrimary),
			slack.Button("Cancel", MigrationValue(VerbCancel, m.ID), slack.StyleDanger),
		))
	case model.MigrationApproved:
		blocks = append(blocks, slack.ActionsBlock(
			slack.Button("Revert", MigrationValue(VerbRevert, m.ID), ""),
		))
	case model.MigrationCancelled:
		blocks = append(blocks, slack.SectionBlock(
			fmt.Sprintf(":x: This migration was cancelled by %s.", username(d.Moderator))))
	case model.MigrationReverted:
		blocks = append(blocks, slack.SectionBlock(
			":leftwards_arrow_with_hook: This migration was reverted. No more actions available."))
	}

	return slack.Message{
		Text:   fmt.Sprintf("Account migration %s -> %s", username(d.OldUser), username(d.NewUser)),
		Blocks: blocks,
	}
}
