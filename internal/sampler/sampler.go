// Package sampler は完了した書き起こしをモデレーターレビューに回すかどうかを決定する。
package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
)

// トリガー文字列。チェックメッセージにそのまま表示される。
const (
	TriggerLowActivity = "Low Activity"
	TriggerManual      = "Manual check"
)

// Decision はサンプリング結果。
type Decision struct {
	Sampled     bool
	Trigger     string
	Probability float64
}

// LowActivityFunc は低活動ユーザーとして必ずレビューに回すかどうかを判定する述語。
// tは完了したばかりの書き起こし。
type LowActivityFunc func(ctx context.Context, user *model.User, t *model.Transcription) (bool, error)

// Sampler は書き起こしのレビュー抽出を行う。
type Sampler struct {
	draw        func() float64
	lowActivity LowActivityFunc
}

// Option はSamplerのオプション設定関数。
type Option func(*Sampler)

// WithRand は一様乱数[0,1)の生成関数を差し替える（テスト用）。
func WithRand(draw func() float64) Option {
	return func(s *Sampler) {
		s.draw = draw
	}
}

// WithLowActivity は低活動判定の述語を設定する。未設定の場合は判定しない。
func WithLowActivity(fn LowActivityFunc) Option {
	return func(s *Sampler) {
		s.lowActivity = fn
	}
}

// New はSamplerを生成する。
func New(opts ...Option) *Sampler {
	s := &Sampler{draw: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide は作者の抽出確率上書き、低活動判定、gammaに基づく自動確率の順に判定する。
// 乱数は呼び出しごとに1回だけ引く。
func (s *Sampler) Decide(ctx context.Context, author *model.User, t *model.Transcription, gamma int) (Decision, error) {
	if o := author.OverwriteCheckPercentage; o != nil {
		p := *o
		return Decision{
			Sampled:     p >= 1 || s.draw() < p,
			Trigger:     fmt.Sprintf("Watched (%s%%)", FormatPercentage(p)),
			Probability: p,
		}, nil
	}

	if s.lowActivity != nil {
		low, err := s.lowActivity(ctx, author, t)
		if err != nil {
			return Decision{}, fmt.Errorf("low activity check: %w", err)
		}
		if low {
			return Decision{Sampled: true, Trigger: TriggerLowActivity, Probability: 1}, nil
		}
	}

	p := policy.CheckProbability(gamma)
	return Decision{
		Sampled:     s.draw() < p,
		Trigger:     fmt.Sprintf("Automatic (%s%%)", FormatPercentage(p)),
		Probability: p,
	}, nil
}

// FormatPercentage は0〜1の確率を小数点以下1桁までのパーセント表記にする。
// 末尾の0は省略する（1.0 → "100", 0.055 → "5.5"）。
func FormatPercentage(p float64) string {
	return strconv.FormatFloat(math.Round(p*1000)/10, 'f', -1, 64)
}

// PreviousActivityFinder は直前の書き起こし時刻を取得するインターフェース。
type PreviousActivityFinder interface {
	// PreviousTranscriptionTime はexcludeID以外で最も新しい書き起こしの作成時刻を返す。
	// 存在しない場合はnilを返す。
	PreviousTranscriptionTime(ctx context.Context, authorID, excludeID int64) (*time.Time, error)
}

// NewInactivityPredicate は直前の書き起こしがdays日以上前のユーザーを低活動とみなす述語を生成する。
// daysが0以下の場合はnilを返し、低活動判定は無効になる。
func NewInactivityPredicate(finder PreviousActivityFinder, days int, now func() time.Time) LowActivityFunc {
	if days <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	threshold := time.Duration(days) * 24 * time.Hour
	return func(ctx context.Context, user *model.User, t *model.Transcription) (bool, error) {
		prev, err := finder.PreviousTranscriptionTime(ctx, user.ID, t.ID)
		if err != nil {
			return false, err
		}
		// 初回の書き起こしは自動確率の対象とする
		if prev == nil {
			return false, nil
		}
		return now().Sub(*prev) >= threshold, nil
	}
}
