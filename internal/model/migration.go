package model

import "time"

// MigrationStatus はアカウント移行の状態を表す。
type MigrationStatus string

const (
	MigrationPending   MigrationStatus = "PENDING"
	MigrationApproved  MigrationStatus = "APPROVED"
	MigrationReverted  MigrationStatus = "REVERTED"
	MigrationCancelled MigrationStatus = "CANCELLED"
)

// AccountMigration は旧アカウントから新アカウントへの実績移行を表す。
type AccountMigration struct {
	ID             int64
	OldUserID      int64
	NewUserID      int64
	ModeratorID    *int64
	Status         MigrationStatus
	SlackChannelID string
	SlackMessageTS string
	CreateTime     time.Time
}

// 移行対象の項目種別。
const (
	MigrationFieldClaimedBy   = "claimed_by"
	MigrationFieldCompletedBy = "completed_by"
	MigrationFieldAuthor      = "author"
)

// MigrationItem は移行で書き換えた1件の参照を記録する。revert時にこの記録を元に復元する。
type MigrationItem struct {
	MigrationID int64
	Entity      string // "submission" または "transcription"
	EntityID    int64
	Field       string
}

// MigrationDetail は移行メッセージの描画に必要な関連エンティティをまとめたもの。
type MigrationDetail struct {
	Migration *AccountMigration
	OldUser   *User
	NewUser   *User
	Moderator *User
}
