// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/loginlog/internal/cookie"
	"github.com/hitoshi/loginlog/internal/metrics"
	"github.com/hitoshi/loginlog/internal/model"
)

// AnonymousEntryPath は未認証時のリダイレクト先。
const AnonymousEntryPath = "/"

// ResponseKind は認証失敗時のレスポンス形式を表す。
type ResponseKind int

const (
	// ResponseHTML はブラウザ向けエンドポイント。未認証時は匿名トップへ303リダイレクトする。
	ResponseHTML ResponseKind = iota
	// ResponseJSON はAPIエンドポイント。未認証時は401のJSONエラーを返す。
	ResponseJSON
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey  = contextKey("identity")
	sessionIDContextKey = contextKey("session_id")
)

// TokenReader はリクエストからセッショントークンを取り出す。
// Cookieがない場合はcookie.ErrMissing、署名が不正な場合はそれ以外のエラーを返す。
type TokenReader interface {
	Read(r *http.Request) (string, error)
}

// SessionAuthenticator はトークンから有効なセッションを解決する。
// 存在しない・期限切れの場合は(nil, nil)を返す。
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はセッションCookieを検証し、
// 認証済みのIdentityをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieの欠落・改ざん・期限切れ・ストアのエラーはいずれも未認証として扱い、
// kindに応じて同一のレスポンスを返す。
func NewSessionMiddleware(tokens TokenReader, auth SessionAuthenticator, kind ResponseKind, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得（署名検証を含む）
			token, err := tokens.Read(r)
			if err != nil {
				result := metrics.ResolveAbsent
				if !errors.Is(err, cookie.ErrMissing) {
					result = metrics.ResolveInvalid
					slog.Warn("rejected session cookie", slog.String("error", err.Error()))
				}
				collector.RecordSessionResolve(result)
				denyUnauthenticated(w, r, kind)
				return
			}

			// 2. セッションの有効性を検証
			session, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				slog.Error("failed to resolve session", slog.String("error", err.Error()))
				collector.RecordSessionResolve(metrics.ResolveError)
				denyUnauthenticated(w, r, kind)
				return
			}
			if session == nil {
				collector.RecordSessionResolve(metrics.ResolveAbsent)
				denyUnauthenticated(w, r, kind)
				return
			}

			collector.RecordSessionResolve(metrics.ResolveOK)

			// 3. IdentityとセッションIDをコンテキストに注入
			ctx := ContextWithIdentity(r.Context(), session.Identity)
			ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
			setLogUserID(ctx, session.Identity.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// denyUnauthenticated は未認証レスポンスを書き込む。
func denyUnauthenticated(w http.ResponseWriter, r *http.Request, kind ResponseKind) {
	if kind == ResponseJSON {
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	http.Redirect(w, r, AnonymousEntryPath, http.StatusSeeOther)
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.ID == "" {
		return model.Identity{}, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.ID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}
