package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/blossom/internal/slack"
)

// UpdatedMessage はRecordingPosterが記録したメッセージ更新。
type UpdatedMessage struct {
	Ref     slack.MessageRef
	Message slack.Message
}

// RecordingPoster はslack.Posterの記録用実装。
// 投稿ごとに連番のタイムスタンプを払い出す。
type RecordingPoster struct {
	mu      sync.Mutex
	seq     int
	Posts   []slack.Message
	Updates []UpdatedMessage

	// PostErr / UpdateErr が設定されている場合は記録せずにそのエラーを返す。
	PostErr   error
	UpdateErr error
}

// PostMessage は投稿を記録し、座標を払い出す。
func (p *RecordingPoster) PostMessage(_ context.Context, msg slack.Message) (slack.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PostErr != nil {
		return slack.MessageRef{}, p.PostErr
	}
	p.seq++
	p.Posts = append(p.Posts, msg)
	return slack.MessageRef{ChannelID: msg.Channel, TS: fmt.Sprintf("1700000000.%06d", p.seq)}, nil
}

// UpdateMessage は更新を記録する。
func (p *RecordingPoster) UpdateMessage(_ context.Context, ref slack.MessageRef, msg slack.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	p.Updates = append(p.Updates, UpdatedMessage{Ref: ref, Message: msg})
	return nil
}

// PostCount は記録された投稿数を返す。
func (p *RecordingPoster) PostCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Posts)
}

// UpdateCount は記録された更新数を返す。
func (p *RecordingPoster) UpdateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Updates)
}

// LastPost は最後の投稿を返す。投稿がない場合はゼロ値とfalseを返す。
func (p *RecordingPoster) LastPost() (slack.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Posts) == 0 {
		return slack.Message{}, false
	}
	return p.Posts[len(p.Posts)-1], true
}

// LastUpdate は最後の更新を返す。更新がない場合はゼロ値とfalseを返す。
func (p *RecordingPoster) LastUpdate() (UpdatedMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Updates) == 0 {
		return UpdatedMessage{}, false
	}
	return p.Updates[len(p.Updates)-1], true
}

var _ slack.Poster = (*RecordingPoster)(nil)
