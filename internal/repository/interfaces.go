// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/blossom/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate entry")

// ErrMigrationSelfReview は移行によってチェックのモデレーターが書き起こしの作者になることを表す。
var ErrMigrationSelfReview = errors.New("migration would make a moderator review their own transcription")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名で大文字小文字を区別せずに検索する。
	// 保存されている表記のユーザーを返す。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDを設定する。
	// 同名のユーザーが存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーのフラグと抽出確率の上書き値を更新する。
	Update(ctx context.Context, user *model.User) error

	// ListWatched は抽出確率の上書きが設定されたユーザーをユーザー名順に返す。
	ListWatched(ctx context.Context) ([]*model.User, error)

	// CountVolunteers はボランティア数を返す。bot属性のユーザーは含めない。
	CountVolunteers(ctx context.Context) (int, error)
}

// SourceRepository はソースタグの永続化インターフェース。
type SourceRepository interface {
	// FindByName は指定名のソースを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Source, error)

	// Ensure は指定名のソースを取得し、存在しない場合は作成する。
	Ensure(ctx context.Context, name string) (*model.Source, error)
}

// SubmissionRepository は投稿データの永続化インターフェース。
// 状態遷移はすべて条件付きUPDATEで行い、前提状態を満たさない場合はfalseを返す。
type SubmissionRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Submission, error)

	// FindByURL はpartner URLで投稿を検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Submission, error)

	// FindByTorURL はToR URLで投稿を検索する。見つからない場合はnilを返す。
	FindByTorURL(ctx context.Context, torURL string) (*model.Submission, error)

	// List は条件に一致する投稿をID順に返す。
	List(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error)

	// Create は投稿を作成し、採番されたIDを設定する。
	// (original_id, source)が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, sub *model.Submission) error

	// Claim は未担当の投稿を指定ユーザーの担当にする。
	Claim(ctx context.Context, id, userID int64, at time.Time) (bool, error)

	// Unclaim は指定ユーザーが担当中かつ未完了の投稿を未担当に戻す。
	Unclaim(ctx context.Context, id, userID int64) (bool, error)

	// Complete は投稿を完了状態にし、チェックの下書きがあれば同一トランザクションで作成する。
	Complete(ctx context.Context, params CompleteParams) (*CompleteResult, error)

	// ExpiredQueue は未担当・未削除・未アーカイブかつcutoffより前に作成された投稿を返す。
	// sourceが空の場合はソースで絞り込まない。
	ExpiredQueue(ctx context.Context, source string, cutoff time.Time) ([]*model.Submission, error)

	// UnarchivedCompleted は完了済み・未アーカイブかつcutoffより前に完了した投稿を返す。
	UnarchivedCompleted(ctx context.Context, source string, cutoff time.Time) ([]*model.Submission, error)

	// OCRQueue はOCRユーザーによる未投稿の書き起こしを持つ投稿を返す。
	// キューから削除済みの投稿とOCR不可の投稿は除く。
	OCRQueue(ctx context.Context, source string, ocrUserID int64, limit int) ([]*model.Submission, error)

	// SetReport はレポート理由を記録する。既にレポート済みの場合はfalseを返す。
	SetReport(ctx context.Context, id int64, reason string) (bool, error)

	// SetReportMessage はレポートメッセージのチャット座標を保存する。
	SetReportMessage(ctx context.Context, id int64, channelID, messageTS string) error

	// SetModeration はレポートの対応結果（承認・削除）を保存する。
	SetModeration(ctx context.Context, id int64, approved, removed bool) error

	// SetCannotOCR はOCR不可フラグを立てる。
	SetCannotOCR(ctx context.Context, id int64) error
}

// CompleteParams は投稿完了の入力。
type CompleteParams struct {
	SubmissionID int64
	// ExpectedClaimedBy は判定時点で観測した担当者。他の担当者に変わっていた場合は更新しない。
	ExpectedClaimedBy int64
	CompletedBy       int64
	At                time.Time
	// Check はサンプリングで選ばれた場合のみ設定する。
	Check *model.TranscriptionCheck
}

// CompleteResult は投稿完了の結果。
type CompleteResult struct {
	Completed bool
	// Check は作成または既存のチェック。CompleteParams.Checkがnilの場合はnil。
	Check *model.TranscriptionCheck
	// CheckCreated はチェックが新規作成された場合にtrue。
	CheckCreated bool
}

// TranscriptionRepository は書き起こしデータの永続化インターフェース。
type TranscriptionRepository interface {
	// FindByID は指定IDの書き起こしを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Transcription, error)

	// FindByURL は書き起こしのURLで検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Transcription, error)

	// FindBySubmissionAndAuthor は指定投稿に対する指定ユーザーの最新の書き起こしを返す。
	// 見つからない場合はnilを返す。
	FindBySubmissionAndAuthor(ctx context.Context, submissionID, authorID int64) (*model.Transcription, error)

	// ListByOriginalID は外部IDで書き起こしを検索する。
	ListByOriginalID(ctx context.Context, originalID string) ([]*model.Transcription, error)

	// Create は書き起こしを作成し、採番されたIDを設定する。
	Create(ctx context.Context, t *model.Transcription) error

	// MarkPosted は書き起こしを外部投稿済みにし、外部IDとURLを保存する。
	MarkPosted(ctx context.Context, id int64, originalID, url string) (bool, error)

	// CountByAuthor は指定ユーザーが作成した書き起こし数（gamma）を返す。
	CountByAuthor(ctx context.Context, authorID int64) (int, error)

	// CountByAuthorUpTo は指定書き起こし以前に作成された書き起こし数を返す。
	CountByAuthorUpTo(ctx context.Context, authorID, transcriptionID int64) (int, error)

	// CountAll はbot以外のユーザーによる書き起こし総数を返す。
	CountAll(ctx context.Context) (int, error)

	// LatestTime は指定ユーザーの最新の書き起こし時刻を返す。存在しない場合はnilを返す。
	LatestTime(ctx context.Context, authorID int64) (*time.Time, error)

	// PreviousTranscriptionTime はexcludeID以外で最新の書き起こし時刻を返す。存在しない場合はnilを返す。
	PreviousTranscriptionTime(ctx context.Context, authorID, excludeID int64) (*time.Time, error)
}

// CheckRepository は書き起こしチェックの永続化インターフェース。
type CheckRepository interface {
	// FindByID は指定IDのチェックを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.TranscriptionCheck, error)

	// FindByTranscriptionID は書き起こしに紐づくチェックを取得する。見つからない場合はnilを返す。
	FindByTranscriptionID(ctx context.Context, transcriptionID int64) (*model.TranscriptionCheck, error)

	// Create はチェックを作成する。同じ書き起こしのチェックが既に存在する場合は
	// 既存のチェックとfalseを返す。
	Create(ctx context.Context, check *model.TranscriptionCheck) (*model.TranscriptionCheck, bool, error)

	// Transition はチェックの状態とモデレーターを比較交換で更新する。
	// 現在の状態がFromStatus/FromModeratorと一致しない場合はfalseを返す。
	Transition(ctx context.Context, params CheckTransition) (bool, error)

	// SetMessage はチェックメッセージのチャット座標を保存する。
	SetMessage(ctx context.Context, id int64, channelID, messageTS string) error

	// ListByAuthor は指定ユーザーの書き起こしに対するチェックのうち、指定状態のものを新しい順に返す。
	ListByAuthor(ctx context.Context, authorID int64, statuses []model.CheckStatus) ([]*model.TranscriptionCheck, error)
}

// CheckTransition はチェックの比較交換更新の入力。
type CheckTransition struct {
	ID            int64
	FromStatus    model.CheckStatus
	FromModerator *int64
	ToStatus      model.CheckStatus
	ToModerator   *int64
	ClaimTime     *time.Time
	CompleteTime  *time.Time
}

// MigrationRepository はアカウント移行の永続化インターフェース。
type MigrationRepository interface {
	// FindByID は指定IDの移行を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.AccountMigration, error)

	// Create は移行をPENDING状態で作成し、採番されたIDを設定する。
	Create(ctx context.Context, m *model.AccountMigration) error

	// SetMessage は移行メッセージのチャット座標を保存する。
	SetMessage(ctx context.Context, id int64, channelID, messageTS string) error

	// Approve はPENDINGの移行を承認し、旧ユーザーの担当・完了・作者を新ユーザーに付け替える。
	// 付け替えた参照はMigrationItemとして記録する。PENDINGでない場合はfalseを返す。
	// 旧ユーザーの書き起こしのチェックを新ユーザーが担当している場合は何も変更せずErrMigrationSelfReviewを返す。
	Approve(ctx context.Context, id, moderatorID int64) (bool, error)

	// Revert はAPPROVEDの移行を取り消し、記録した参照だけを旧ユーザーに戻す。
	// APPROVEDでない場合はfalseを返す。
	Revert(ctx context.Context, id int64) (bool, error)

	// Cancel はPENDINGの移行を取り消す。PENDINGでない場合はfalseを返す。
	Cancel(ctx context.Context, id, moderatorID int64) (bool, error)
}
