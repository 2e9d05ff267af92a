package model

import (
	"strings"
	"time"
)

// システムユーザー名。bootstrapコマンドで作成される。
const (
	UsernameTOR       = "transcribersofreddit"
	UsernameOCRBot    = "transcribot"
	UsernameArchivist = "tor_archivist"
	UsernameAdmin     = "admin"
)

// User はボランティアおよびモデレーターを表す。
type User struct {
	ID          int64
	Username    string
	IsVolunteer bool
	IsStaff     bool
	IsBlocked   bool
	AcceptedCoC bool
	IsBot       bool
	// OverwriteCheckPercentage はレビュー抽出確率の個別上書き値（0〜1）。nilの場合は自動。
	OverwriteCheckPercentage *float64
	DateJoined               time.Time
}

// Watched はユーザーに抽出確率の上書きが設定されているかを返す。
func (u *User) Watched() bool {
	return u.OverwriteCheckPercentage != nil
}

// NormalizeUsername はユーザー名の比較用キーを返す。
// ユーザー名の照合は大文字小文字を区別しない。
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
