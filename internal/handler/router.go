package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/loginlog/internal/metrics"
	"github.com/hitoshi/loginlog/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator  middleware.SessionAuthenticator
	RateLimiter    *middleware.RateLimiter
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilの場合は /metrics を公開しない
	Logger         *slog.Logger
	HealthChecker  HealthChecker

	// 認証
	AuthService AuthServiceInterface
	Cookies     SessionCookieCodec
	States      OAuthStateStore

	// プロフィール
	History   HistoryReader
	Assembler ProfileAssembler
	Renderer  *Renderer // nilの場合は埋め込みテンプレートから生成する
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → RequestID → Logging → Metrics → Recovery → SecurityHeaders
//
// 認証ルート（/auth/*）にはIP単位のレート制限を追加し、
// /profile と /api/user-data はセッションミドルウェアの内側に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = MustNewRenderer()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.States)
	profileHandler := NewProfileHandler(deps.History, deps.Assembler, renderer)
	homeHandler := NewHomeHandler(renderer)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---

	r.Get("/", homeHandler.Index)
	r.Get("/health", healthHandler.Health)
	r.Get("/logout", authHandler.Logout)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthMiddleware())
		}
		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
	})

	// --- 認証が必要なルート ---

	// HTMLページ: 未認証はランディングページへリダイレクト
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Cookies, deps.Authenticator, middleware.ResponseHTML, collector))
		r.Get("/profile", profileHandler.Page)
	})

	// JSON API: 未認証は401
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Cookies, deps.Authenticator, middleware.ResponseJSON, collector))
		r.Get("/api/user-data", profileHandler.UserData)
	})

	return r
}
