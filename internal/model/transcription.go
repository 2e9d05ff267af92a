package model

import "time"

// Transcription は投稿に対する書き起こしを表す。
// 1つの投稿は複数の書き起こし（人間によるものとOCRによるもの）を持ちうる。
type Transcription struct {
	ID           int64
	SubmissionID int64
	AuthorID     int64
	Source       string
	// OriginalID は外部サービス上のID。外部投稿前は空。
	OriginalID string
	URL        string
	Text       string
	OCRText    string
	// PostedExternally は外部サービスに投稿済みかどうか。
	// OCRのプレースホルダー書き起こしはfalseのまま作成される。
	PostedExternally  bool
	RemovedFromReddit bool
	CreateTime        time.Time
}
