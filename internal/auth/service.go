// Package auth はOAuth認証フローとセッションの発行・破棄を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/loginlog/internal/metrics"
	"github.com/hitoshi/loginlog/internal/model"
	"github.com/hitoshi/loginlog/internal/profile"
)

// State は認証フローの状態を表す。
type State string

// 認証フローの状態
const (
	StateAnonymous       State = "anonymous"
	StateRedirecting     State = "redirecting"
	StateCallbackPending State = "callback_pending"
	StateAuthenticated   State = "authenticated"
	StateAuthFailed      State = "auth_failed"
)

// 認証フローのエラー
var (
	// ErrMissingCode はコールバックに認可コードが含まれない場合に返される。
	ErrMissingCode = errors.New("authorization code is missing")
	// ErrProviderHandshake はプロバイダーとのトークン交換・プロフィール取得の失敗を表す。
	ErrProviderHandshake = errors.New("provider handshake failed")
	// ErrAccessDenied はユーザーが同意画面で拒否した場合に返される。
	ErrAccessDenied = errors.New("access denied by user")
	// ErrStateMismatch はstateパラメータがCookieの値と一致しない場合に返される。
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrSessionCreate はセッションの作成に失敗した場合に返される。
	ErrSessionCreate = errors.New("failed to create session")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// HistoryRecorder はログイン履歴の記録先。
type HistoryRecorder interface {
	Record(ctx context.Context, userID, email string) error
}

// SessionManager はセッションの発行・解決・破棄を行う。
type SessionManager interface {
	Create(ctx context.Context, identity model.Identity) (*model.Session, error)
	Resolve(ctx context.Context, token string) (*model.Session, error)
	Destroy(ctx context.Context, token string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	history  HistoryRecorder
	sessions SessionManager
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	history HistoryRecorder,
	sessions SessionManager,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		oauth:    oauth,
		history:  history,
		sessions: sessions,
		metrics:  collector,
	}
}

// BeginLogin はプロバイダーの認証URLを返す。副作用はない。
func (s *Service) BeginLogin(state string) string {
	logTransition(StateAnonymous, StateRedirecting)
	return s.oauth.GetLoginURL(state)
}

// CompleteLogin はOAuthコールバックを処理し、セッションを発行する。
// 成功時はログイン履歴を1件追記してからセッションを作成する。
// 履歴の書き込み失敗はログに記録するのみで、ログインは継続する。
// 失敗時は履歴もセッションも作成しない。
func (s *Service) CompleteLogin(ctx context.Context, code string) (*model.Session, error) {
	logTransition(StateRedirecting, StateCallbackPending)

	if code == "" {
		return nil, s.FailLogin(ErrMissingCode)
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, s.FailLogin(fmt.Errorf("%w: %w", ErrProviderHandshake, err))
	}
	if info == nil || strings.TrimSpace(info.ProviderUserID) == "" {
		return nil, s.FailLogin(fmt.Errorf("%w: profile has no subject id", ErrProviderHandshake))
	}

	identity := identityFromUserInfo(info)

	// 2. ログイン履歴を追記（失敗してもログインは継続）
	if err := s.history.Record(ctx, identity.ID, identity.Email); err != nil {
		s.metrics.RecordHistoryWriteFailure()
		slog.Error("failed to record login history",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	// 3. セッションを発行
	session, err := s.sessions.Create(ctx, identity)
	if err != nil {
		return nil, s.FailLogin(fmt.Errorf("%w: %w", ErrSessionCreate, err))
	}

	s.metrics.RecordLoginSuccess()
	logTransition(StateCallbackPending, StateAuthenticated,
		slog.String("user_id", identity.ID),
		slog.String("provider", info.Provider),
	)
	return session, nil
}

// FailLogin は認証失敗を記録し、渡されたエラーをそのまま返す。
// ハンドラーで検出したstate不一致や同意拒否もここを通して記録する。
func (s *Service) FailLogin(err error) error {
	reason := FailureReason(err)
	s.metrics.RecordLoginFailure(reason)
	slog.Warn("login failed",
		slog.String("from", string(StateCallbackPending)),
		slog.String("to", string(StateAuthFailed)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return err
}

// Logout はセッションを破棄する。
// 空または未知のトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	s.metrics.RecordLogout()
	logTransition(StateAuthenticated, StateAnonymous)
	return nil
}

// Authenticate はトークンに対応する有効なセッションを返す。
// 存在しない、または期限切れの場合はnilを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	return s.sessions.Resolve(ctx, token)
}

// FailureReason は認証エラーをメトリクス用の理由ラベルに変換する。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCode):
		return "missing_code"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrProviderHandshake):
		return "provider"
	case errors.Is(err, ErrSessionCreate):
		return "session"
	default:
		return "unknown"
	}
}

// identityFromUserInfo はプロバイダーのユーザー情報からIdentityを生成する。
// 欠けている項目は既定値で補う。
func identityFromUserInfo(info *OAuthUserInfo) model.Identity {
	avatar := info.Picture
	if avatar == "" {
		avatar = profile.PlaceholderAvatarURL
	}
	return model.Identity{
		ID:          strings.TrimSpace(info.ProviderUserID),
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   avatar,
	}
}

func logTransition(from, to State, attrs ...any) {
	args := append([]any{slog.String("from", string(from)), slog.String("to", string(to))}, attrs...)
	slog.Info("auth state transition", args...)
}
