// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Codeはエラー分類（HTTPステータスと1対1に対応する）、
// Reasonは同一分類内の詳細な原因を表す。
type APIError struct {
	Code     string // エラー分類
	Reason   string // 詳細な原因（例: ALREADY_CLAIMED）
	Message  string // エラーメッセージ
	Category string // カテゴリ: submission, check, volunteer, validation, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラー分類。具体度の高い順ではなく、HTTPステータスとの対応順に並べる。
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeNotAcceptable        = "NOT_ACCEPTABLE"
	ErrCodePreconditionFailed   = "PRECONDITION_FAILED"
	ErrCodePreconditionRequired = "PRECONDITION_REQUIRED"
	ErrCodeLocked               = "LOCKED"
	ErrCodeUnprocessable        = "UNPROCESSABLE"
)

// NewNotFoundError はエンティティ未検出エラーを生成する。
func NewNotFoundError(entity, key string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Reason:   entity + "_NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", entity, key),
		Category: "validation",
		Action:   "識別子を確認してください。",
	}
}

// NewBadRequestError は入力不備エラーを生成する。
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Reason:   "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewInvalidParameterError は値の範囲や形式が不正なパラメータのエラーを生成する。
func NewInvalidParameterError(reason, message string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Reason:   reason,
		Message:  message,
		Category: "validation",
		Action:   "パラメータの値を確認してください。",
	}
}

// NewCoCNotAcceptedError は行動規範（CoC）未同意エラーを生成する。
func NewCoCNotAcceptedError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Reason:   "COC_NOT_ACCEPTED",
		Message:  fmt.Sprintf("user %s has not accepted the code of conduct", username),
		Category: "volunteer",
		Action:   "行動規範に同意してから再度お試しください。",
	}
}

// NewAlreadyClaimedError は投稿が既に担当済みであるエラーを生成する。
func NewAlreadyClaimedError(submissionID int64) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Reason:   "ALREADY_CLAIMED",
		Message:  fmt.Sprintf("submission %d is already claimed", submissionID),
		Category: "submission",
		Action:   "別の投稿を選択してください。",
	}
}

// NewAlreadyCompletedError は投稿が既に完了済みであるエラーを生成する。
func NewAlreadyCompletedError(submissionID int64) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Reason:   "ALREADY_COMPLETED",
		Message:  fmt.Sprintf("submission %d is already completed", submissionID),
		Category: "submission",
		Action:   "この投稿に対する操作は不要です。",
	}
}

// NewNotClaimedError は投稿が未担当であるエラーを生成する。
func NewNotClaimedError(submissionID int64) *APIError {
	return &APIError{
		Code:     ErrCodePreconditionFailed,
		Reason:   "NOT_CLAIMED",
		Message:  fmt.Sprintf("submission %d has not been claimed", submissionID),
		Category: "submission",
		Action:   "先に投稿を担当（claim）してください。",
	}
}

// NewClaimedByOtherError は他のボランティアが担当している投稿を完了しようとした場合のエラーを生成する。
func NewClaimedByOtherError(submissionID int64) *APIError {
	return &APIError{
		Code:     ErrCodePreconditionFailed,
		Reason:   "CLAIMED_BY_OTHER",
		Message:  fmt.Sprintf("submission %d is claimed by another user", submissionID),
		Category: "submission",
		Action:   "担当者本人のみが完了できます。",
	}
}

// NewWrongUserError は担当者以外が担当解除しようとした場合のエラーを生成する。
func NewWrongUserError(submissionID int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotAcceptable,
		Reason:   "WRONG_USER",
		Message:  fmt.Sprintf("submission %d is claimed by another user", submissionID),
		Category: "submission",
		Action:   "担当者本人のみが担当解除できます。",
	}
}

// NewMissingTranscriptionError は完了時に書き起こしが存在しない場合のエラーを生成する。
func NewMissingTranscriptionError(submissionID int64, username string) *APIError {
	return &APIError{
		Code:     ErrCodePreconditionRequired,
		Reason:   "MISSING_TRANSCRIPTION",
		Message:  fmt.Sprintf("no transcription by %s found for submission %d", username, submissionID),
		Category: "submission",
		Action:   "書き起こしを投稿してから完了してください。",
	}
}

// NewBlockedError はブロック済みユーザーによる操作のエラーを生成する。
func NewBlockedError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeLocked,
		Reason:   "BLOCKED",
		Message:  fmt.Sprintf("user %s is blocked", username),
		Category: "volunteer",
		Action:   "モデレーターに連絡してください。",
	}
}

// NewDuplicateError は作成時の重複エラーを生成する。
func NewDuplicateError(entity, key string) *APIError {
	return &APIError{
		Code:     ErrCodeUnprocessable,
		Reason:   "DUPLICATE",
		Message:  fmt.Sprintf("%s already exists: %s", entity, key),
		Category: "validation",
		Action:   "既存のデータを利用してください。",
	}
}

// NewConflictError は状態が既に要求された操作の終端にあるエラーを生成する。
func NewConflictError(reason, message string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Reason:   reason,
		Message:  message,
		Category: "validation",
		Action:   "現在の状態を確認してください。",
	}
}

// NewPreconditionFailedError は前提状態を満たしていないエラーを生成する。
func NewPreconditionFailedError(reason, message string) *APIError {
	return &APIError{
		Code:     ErrCodePreconditionFailed,
		Reason:   reason,
		Message:  message,
		Category: "check",
		Action:   "最新の状態を確認してから再度お試しください。",
	}
}

// NewNotAcceptableError は所有者以外による操作のエラーを生成する。
func NewNotAcceptableError(reason, message string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAcceptable,
		Reason:   reason,
		Message:  message,
		Category: "check",
		Action:   "担当者本人が操作してください。",
	}
}

// NewForbiddenError はポリシーにより拒否された操作のエラーを生成する。
func NewForbiddenError(reason, message string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Reason:   reason,
		Message:  message,
		Category: "check",
		Action:   "権限を確認してください。",
	}
}

// ReasonOf はerrがAPIErrorであればReasonを、そうでなければ空文字を返す。
func ReasonOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ""
}
