// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/blossom/internal/model"
)

// apiKeyScheme はAuthorizationヘッダーのスキーム。
const apiKeyScheme = "Api-Key "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// principalContextKey はリクエストコンテキストに認証済みの主体名を格納するためのキー。
	principalContextKey = contextKey("principal")
	// principalHolderKey はロギングミドルウェアに主体名を伝えるための入れ物のキー。
	principalHolderKey = contextKey("principal_holder")
)

// principalHolder は後段の認証結果を前段のミドルウェアに渡す。
type principalHolder struct {
	principal string
}

// NewAPIKeyMiddleware は Authorization: Api-Key <key> ヘッダーを検証するミドルウェアを返す。
// キーは定数時間で比較し、一致した場合は管理ユーザーを主体としてコンテキストに注入する。
// 不一致や欠落の場合は401 Unauthorizedを返す。
func NewAPIKeyMiddleware(apiKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, apiKeyScheme) {
				writeUnauthorized(w)
				return
			}
			given := strings.TrimSpace(strings.TrimPrefix(header, apiKeyScheme))
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				slog.Warn("invalid api key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), model.UsernameAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証済みの主体名を取得する。
// APIキーミドルウェアを通過していない場合は空文字を返す。
func PrincipalFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(principalContextKey).(string)
	return principal
}

// ContextWithPrincipal はコンテキストに主体名を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal string) context.Context {
	if holder, ok := ctx.Value(principalHolderKey).(*principalHolder); ok {
		holder.principal = principal
	}
	return context.WithValue(ctx, principalContextKey, principal)
}

func writeUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "A valid API key is required.",
		Category: "auth",
		Action:   "Authorization: Api-Key <key> ヘッダーを付与してください。",
	})
}
