package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// リクエスト署名のヘッダー名。
const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"
)

// HeaderRetryNum はSlackが配信を再送した際に付与するヘッダー名。
const HeaderRetryNum = "X-Slack-Retry-Num"

// ReplayWindow はリクエストのタイムスタンプとして許容するローカル時刻との差。
const ReplayWindow = 5 * time.Minute

var (
	// ErrMissingSignature は署名またはタイムスタンプのヘッダーが存在しない場合のエラー。
	ErrMissingSignature = errors.New("missing slack signature headers")
	// ErrStaleTimestamp はタイムスタンプが許容範囲外の場合のエラー。
	ErrStaleTimestamp = errors.New("slack request timestamp outside replay window")
	// ErrInvalidSignature は署名が一致しない場合のエラー。
	ErrInvalidSignature = errors.New("invalid slack signature")
)

// Sign は "v0:<timestamp>:<body>" をsecretでHMAC-SHA256した署名を "v0=<hex>" 形式で返す。
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature はSlackからのリクエスト署名を検証する。
// タイムスタンプはnowの前後ReplayWindow以内でなければならない。
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	diff := now.Sub(time.Unix(sec, 0))
	if diff > ReplayWindow || diff < -ReplayWindow {
		return ErrStaleTimestamp
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
