package model

import "time"

// CheckStatus は書き起こしチェックの状態を表す。
type CheckStatus string

const (
	CheckPending         CheckStatus = "PENDING"
	CheckApproved        CheckStatus = "APPROVED"
	CheckCommentPending  CheckStatus = "COMMENT_PENDING"
	CheckCommentResolved CheckStatus = "COMMENT_RESOLVED"
	CheckCommentUnfixed  CheckStatus = "COMMENT_UNFIXED"
	CheckWarningPending  CheckStatus = "WARNING_PENDING"
	CheckWarningResolved CheckStatus = "WARNING_RESOLVED"
	CheckWarningUnfixed  CheckStatus = "WARNING_UNFIXED"
)

// Valid は既知の状態かどうかを返す。
func (s CheckStatus) Valid() bool {
	switch s {
	case CheckPending, CheckApproved,
		CheckCommentPending, CheckCommentResolved, CheckCommentUnfixed,
		CheckWarningPending, CheckWarningResolved, CheckWarningUnfixed:
		return true
	}
	return false
}

// Terminal は完了時刻を持つ終端状態かどうかを返す。
func (s CheckStatus) Terminal() bool {
	switch s {
	case CheckApproved, CheckCommentResolved, CheckCommentUnfixed,
		CheckWarningResolved, CheckWarningUnfixed:
		return true
	}
	return false
}

// CheckAction はチェックに対する操作（ボタン）を表す。
type CheckAction string

const (
	CheckActionClaim           CheckAction = "claim"
	CheckActionUnclaim         CheckAction = "unclaim"
	CheckActionApprove         CheckAction = "approved"
	CheckActionCommentPending  CheckAction = "comment-pending"
	CheckActionCommentResolved CheckAction = "comment-resolved"
	CheckActionCommentUnfixed  CheckAction = "comment-unfixed"
	CheckActionWarningPending  CheckAction = "warning-pending"
	CheckActionWarningResolved CheckAction = "warning-resolved"
	CheckActionWarningUnfixed  CheckAction = "warning-unfixed"
	CheckActionRevert          CheckAction = "revert"
)

// TranscriptionCheck はモデレーターによる書き起こしレビューを表す。
// 1つの書き起こしに対してチェックは高々1つ。
type TranscriptionCheck struct {
	ID              int64
	TranscriptionID int64
	ModeratorID     *int64
	Status          CheckStatus
	Trigger         string
	ClaimTime       *time.Time
	CompleteTime    *time.Time
	SlackChannelID  string
	SlackMessageTS  string
	CreateTime      time.Time
}

// HasMessage はチャットメッセージの座標が保存済みかを返す。
func (c *TranscriptionCheck) HasMessage() bool {
	return c.SlackChannelID != "" && c.SlackMessageTS != ""
}

// CheckDetail はチェックメッセージの描画に必要な関連エンティティをまとめたもの。
type CheckDetail struct {
	Check         *TranscriptionCheck
	Transcription *Transcription
	Submission    *Submission
	Author        *User
	Moderator     *User
	// AuthorGamma はレビュー対象の書き起こし時点での作者のgamma。
	AuthorGamma int
}
