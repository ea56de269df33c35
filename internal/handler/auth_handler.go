// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/loginlog/internal/auth"
	"github.com/hitoshi/loginlog/internal/middleware"
	"github.com/hitoshi/loginlog/internal/model"
)

// 認証後のリダイレクト先
const (
	profilePath = "/profile"
	landingPath = middleware.AnonymousEntryPath
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(state string) string
	CompleteLogin(ctx context.Context, code string) (*model.Session, error)
	FailLogin(err error) error
	Logout(ctx context.Context, token string) error
}

// SessionCookieCodec はセッションCookieの読み書きを行う。
type SessionCookieCodec interface {
	Write(w http.ResponseWriter, token string) error
	Read(r *http.Request) (string, error)
	Clear(w http.ResponseWriter)
}

// OAuthStateStore はOAuthのstateを一時的に保持する。
type OAuthStateStore interface {
	Save(w http.ResponseWriter, r *http.Request, state string) error
	Consume(w http.ResponseWriter, r *http.Request) (string, error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies SessionCookieCodec
	states  OAuthStateStore
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies SessionCookieCodec, states OAuthStateStore) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		states:  states,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateを署名付きCookieに保存（CSRF対策）
	if err := h.states.Save(w, r, state); err != nil {
		slog.Error("failed to save oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.service.BeginLogin(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
// 失敗時はすべてランディングページへリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）。Cookieは成否にかかわらず消費する
	saved, err := h.states.Consume(w, r)
	if err != nil || saved != query.Get("state") {
		cause := auth.ErrStateMismatch
		if err != nil {
			cause = errors.Join(auth.ErrStateMismatch, err)
		}
		h.service.FailLogin(cause)
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}

	// 2. 同意画面での拒否などプロバイダーからのエラー通知
	if providerErr := query.Get("error"); providerErr != "" {
		h.service.FailLogin(auth.ErrAccessDenied)
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}

	// 3. 認証処理（認可コードの検証はサービス層で行う）
	session, err := h.service.CompleteLogin(r.Context(), query.Get("code"))
	if err != nil {
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	previous, _ := h.cookies.Read(r)
	if err := h.cookies.Write(w, session.ID); err != nil {
		slog.Error("failed to write session cookie", slog.String("error", err.Error()))
		if logoutErr := h.service.Logout(r.Context(), session.ID); logoutErr != nil {
			slog.Error("failed to discard session", slog.String("error", logoutErr.Error()))
		}
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}

	// 5. 再ログインで置き換えた古いセッションを破棄する
	if previous != "" && previous != session.ID {
		if err := h.service.Logout(r.Context(), previous); err != nil {
			slog.Error("failed to discard previous session", slog.String("error", err.Error()))
		}
	}

	http.Redirect(w, r, profilePath, http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// GET /logout
// セッションの有無にかかわらず同じ結果を返す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, err := h.cookies.Read(r); err == nil {
		if logoutErr := h.service.Logout(r.Context(), token); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.cookies.Clear(w)
	http.Redirect(w, r, landingPath, http.StatusSeeOther)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
