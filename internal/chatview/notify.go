package chatview

import (
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/slack"
)

// maxStackLength はエラー通知に含めるスタックトレースの最大長。
const maxStackLength = 2500

// RankUp はランクアップ通知を描画する。
func RankUp(user *model.User, oldRank, newRank string, gamma int) slack.Message {
	text := fmt.Sprintf(":tada: Congrats to %s on achieving the rank of *%s*! (%s → %s, %d Γ)",
		username(user), newRank, oldRank, newRank, gamma)
	return slack.Message{Text: text, LinkNames: true}
}

// TaskPanic はワーカータスクのpanic通知を描画する。
func TaskPanic(taskName string, recovered any, stack []byte) slack.Message {
	trace := string(stack)
	if len(trace) > maxStackLength {
		trace = trace[:maxStackLength] + "\n..."
	}
	text := fmt.Sprintf(":rotating_light: Worker task `%s` panicked: %v\n```%s```", taskName, recovered, trace)
	return slack.Message{Text: text}
}

// ActionError はボタン操作の失敗をスレッドで通知するメッセージを描画する。
// actorIDはSlackのユーザーIDで、メンションとして通知される。
func ActionError(ref slack.MessageRef, actorID, reason string) slack.Message {
	return slack.Message{
		Channel:   ref.ChannelID,
		ThreadTS:  ref.TS,
		Text:      fmt.Sprintf("<@%s> %s", actorID, reason),
		LinkNames: true,
	}
}
