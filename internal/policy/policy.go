// Package policy はボランティア操作の可否判定とgammaに基づく各種算出を行う純粋関数群を提供する。
// I/Oは行わない。
package policy

import "github.com/hitoshi/blossom/internal/model"

// CheckProbability はgammaに対するレビュー抽出確率を返す。
// 各閾値は上限を含む。
func CheckProbability(gamma int) float64 {
	switch {
	case gamma <= 50:
		return 0.8
	case gamma <= 100:
		return 0.7
	case gamma <= 250:
		return 0.6
	case gamma <= 500:
		return 0.5
	case gamma <= 1000:
		return 0.3
	case gamma <= 5000:
		return 0.1
	default:
		return 0.05
	}
}

// Rank はgammaに対応するランクを表す。
type Rank struct {
	Name      string
	Threshold int // このランクに到達するための最小gamma
}

// ranks は閾値の昇順に並べたランク表。
var ranks = []Rank{
	{Name: "Visitor", Threshold: 0},
	{Name: "Initiate", Threshold: 1},
	{Name: "Green", Threshold: 51},
	{Name: "Teal", Threshold: 101},
	{Name: "Purple", Threshold: 251},
	{Name: "Gold", Threshold: 501},
	{Name: "Diamond", Threshold: 1001},
	{Name: "Ruby", Threshold: 2501},
	{Name: "Topaz", Threshold: 5001},
	{Name: "Jade", Threshold: 10001},
}

// RankOf はgammaに対応するランク名を返す。gammaに対して単調。
func RankOf(gamma int) string {
	name := ranks[0].Name
	for _, r := range ranks {
		if gamma < r.Threshold {
			break
		}
		name = r.Name
	}
	return name
}

// IsRankUp はgammaが1増えたことでランクが上がったかを返す。
// 直前のgammaは完了した書き起こしを除いた gamma-1 として扱う。
func IsRankUp(gamma int) bool {
	if gamma <= 0 {
		return false
	}
	return RankOf(gamma) != RankOf(gamma-1)
}

// CanClaim は投稿の担当可否を判定する。許可される場合はnilを返す。
func CanClaim(user *model.User, sub *model.Submission) error {
	if user.IsBlocked {
		return model.NewBlockedError(user.Username)
	}
	if !user.AcceptedCoC {
		return model.NewCoCNotAcceptedError(user.Username)
	}
	if sub.ClaimedBy != nil {
		return model.NewAlreadyClaimedError(sub.ID)
	}
	return nil
}

// CanDone は投稿の完了可否を判定する。
// modOverrideはrequesterがスタッフである場合のみ担当者チェックを迂回する。
func CanDone(user *model.User, sub *model.Submission, modOverride bool, requester *model.User) error {
	if user.IsBlocked {
		return model.NewBlockedError(user.Username)
	}
	if !user.AcceptedCoC {
		return model.NewCoCNotAcceptedError(user.Username)
	}
	if sub.CompletedBy != nil {
		return model.NewAlreadyCompletedError(sub.ID)
	}
	if sub.ClaimedBy == nil {
		return model.NewNotClaimedError(sub.ID)
	}
	if *sub.ClaimedBy != user.ID && !(modOverride && requester != nil && requester.IsStaff) {
		return model.NewClaimedByOtherError(sub.ID)
	}
	return nil
}

// CanUnclaim は投稿の担当解除可否を判定する。
func CanUnclaim(user *model.User, sub *model.Submission) error {
	if user.IsBlocked {
		return model.NewBlockedError(user.Username)
	}
	if sub.ClaimedBy == nil {
		return model.NewNotClaimedError(sub.ID)
	}
	if *sub.ClaimedBy != user.ID {
		return model.NewWrongUserError(sub.ID)
	}
	if sub.CompletedBy != nil {
		return model.NewAlreadyCompletedError(sub.ID)
	}
	return nil
}

// IsMod はユーザーがモデレーター（スタッフ）かどうかを返す。
func IsMod(user *model.User) bool {
	return user != nil && user.IsStaff
}

// IsSelfReview はモデレーターが自身の書き起こしをレビューしようとしているかを返す。
func IsSelfReview(moderator *model.User, transcription *model.Transcription) bool {
	return moderator.ID == transcription.AuthorID
}
