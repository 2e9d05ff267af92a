package model

import "time"

// 組み込みのソース名。bootstrapコマンドで作成される。
const (
	SourceReddit   = "reddit"
	SourceBlossom  = "blossom"
	SourceTORBot   = "transcribersofreddit"
	SourceOCRBot   = "transcribot"
	SourceArchiver = "tor_archivist"
)

// BuiltinSources はbootstrap時に作成されるソース名の一覧。
var BuiltinSources = []string{SourceReddit, SourceBlossom, SourceTORBot, SourceOCRBot, SourceArchiver}

// Source は投稿・書き起こしの由来を表すタグ。初回使用時に作成される。
type Source struct {
	Name      string
	CreatedAt time.Time
}

// SubmissionState は投稿のライフサイクル状態を表す。
type SubmissionState string

const (
	SubmissionOpen      SubmissionState = "OPEN"
	SubmissionClaimed   SubmissionState = "CLAIMED"
	SubmissionCompleted SubmissionState = "COMPLETED"
	SubmissionRemoved   SubmissionState = "REMOVED"
)

// Submission は書き起こし対象の画像投稿を表す。
type Submission struct {
	ID               int64
	OriginalID       string
	Source           string
	URL              string // partner URL
	TorURL           string
	ContentURL       string
	Title            string
	NSFW             bool
	ClaimedBy        *int64
	CompletedBy      *int64
	CreateTime       time.Time
	ClaimTime        *time.Time
	CompleteTime     *time.Time
	Archived         bool
	RemovedFromQueue bool
	Approved         bool
	CannotOCR        bool
	ReportReason     string
	// レポートメッセージのチャット上の座標
	ReportChannelID string
	ReportMessageTS string
}

// State は投稿の現在のライフサイクル状態を返す。
// REMOVEDは他の状態と直交し、removed_from_queueが優先される。
func (s *Submission) State() SubmissionState {
	switch {
	case s.RemovedFromQueue:
		return SubmissionRemoved
	case s.CompletedBy != nil:
		return SubmissionCompleted
	case s.ClaimedBy != nil:
		return SubmissionClaimed
	default:
		return SubmissionOpen
	}
}

// IsClaimedBy は投稿が指定ユーザーに担当されているかを返す。
func (s *Submission) IsClaimedBy(userID int64) bool {
	return s.ClaimedBy != nil && *s.ClaimedBy == userID
}

// SubmissionFilter は投稿一覧の絞り込み条件。空文字のフィールドは条件に含めない。
type SubmissionFilter struct {
	OriginalID string
	Source     string
	URL        string
	TorURL     string
	Limit      int
	Offset     int
}

// ReportDetail はレポートメッセージの描画に必要な関連エンティティをまとめたもの。
type ReportDetail struct {
	Submission  *Submission
	ClaimedBy   *User
	CompletedBy *User
}
