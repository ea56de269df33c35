package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hitoshi/loginlog/internal/auth"
	"github.com/hitoshi/loginlog/internal/config"
	"github.com/hitoshi/loginlog/internal/cookie"
	"github.com/hitoshi/loginlog/internal/database"
	"github.com/hitoshi/loginlog/internal/handler"
	"github.com/hitoshi/loginlog/internal/history"
	"github.com/hitoshi/loginlog/internal/logger"
	"github.com/hitoshi/loginlog/internal/metrics"
	"github.com/hitoshi/loginlog/internal/middleware"
	"github.com/hitoshi/loginlog/internal/profile"
	"github.com/hitoshi/loginlog/internal/repository"
	"github.com/hitoshi/loginlog/internal/security"
	"github.com/hitoshi/loginlog/internal/session"
	"github.com/hitoshi/loginlog/internal/worker/cleanup"
)

const (
	// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
	dbPingTimeout = 5 * time.Second
	// providerTimeout はOAuthプロバイダーへのHTTPリクエストのタイムアウト。
	providerTimeout = 10 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、.envファイルと環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, envFiles ...string) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定を読み込む（ファイル指定がなければカレントディレクトリの.env）
	var (
		cfg *config.Config
		err error
	)
	if len(envFiles) == 0 {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFiles(envFiles...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで終了する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runWithConfig は設定を読み込んでからサブコマンドを実行する。
func runWithConfig(cmd *cobra.Command, w io.Writer, opts *rootOptions, command Command) error {
	cfg, err := Init(w, opts.envFile)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_backend", cfg.SessionBackend),
	)

	ctx := cmd.Context()
	switch command {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// serveRuntime はserveコマンドが外部資源に触れる処理をまとめたもの。
// テストではDB接続・マイグレーション・待ち受けを差し替える。
type serveRuntime struct {
	openDB        func(databaseURL string) (*sql.DB, error)
	pingDB        func(ctx context.Context, db *sql.DB) error
	migrate       func(databaseURL string) error
	schemaVersion func(databaseURL string) (uint, bool, error)
	listen        func(ctx context.Context, server *http.Server) error
}

// defaultServeRuntime は本番用のserveRuntimeを返す。
func defaultServeRuntime() serveRuntime {
	return serveRuntime{
		openDB: func(databaseURL string) (*sql.DB, error) {
			return database.Open(databaseURL, database.DefaultPoolConfig())
		},
		pingDB: func(ctx context.Context, db *sql.DB) error {
			return database.Ping(ctx, db, dbPingTimeout)
		},
		migrate:       database.RunMigrations,
		schemaVersion: database.SchemaVersion,
		listen:        serveUntilDone,
	}
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	return defaultServeRuntime().serve(ctx, cfg)
}

// serve はserveコマンドの本体。
// Postgresバックエンド以外ではDBに到達できなくても起動し、履歴表示とヘルスチェックが縮退する。
func (rt serveRuntime) serve(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続（接続プールは遅延接続のため、復旧後は自動的に再接続する）
	db, err := rt.openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reachable := true
	if err := rt.pingDB(ctx, db); err != nil {
		if cfg.SessionBackend == config.SessionBackendPostgres {
			return err
		}
		reachable = false
		slog.Error("database unreachable, login history will be unavailable",
			slog.String("session_backend", cfg.SessionBackend),
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("database connection established")
	}

	// 2. スキーマの自動作成（失敗してもサーバーは起動し、履歴表示が縮退する）
	if cfg.AutoMigrate && reachable {
		rt.migrateOnStartup(cfg.DatabaseURL)
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. セッションとログイン履歴
	sessionRepo, closeSessions, err := newSessionRepository(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	store := session.NewStore(sessionRepo, cfg.SessionTTL())
	ledger := history.NewLedger(repository.NewPostgresHistoryRepo(db))

	// 5. 認証
	guard := security.NewURLGuard()
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   guard.NewSafeClient(providerTimeout),
	})
	authService := auth.NewService(provider, ledger, store, collector)

	// 6. ルーターの構築
	renderer, err := handler.NewRenderer()
	if err != nil {
		return err
	}
	rateLimiter := middleware.NewRateLimiter(middleware.NewAuthRateLimiterConfig(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:  authService,
		RateLimiter:    rateLimiter,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		Logger:         slog.Default(),
		HealthChecker:  db,
		AuthService:    authService,
		Cookies: cookie.NewSessionCookie(cfg.SessionSecret, cookie.Config{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.SessionMaxAge,
		}),
		States:    cookie.NewStateStore(cfg.SessionSecret, cfg.CookieSecure),
		History:   ledger,
		Assembler: profile.NewAssembler(security.NewTextSanitizer(), guard, cfg.HistoryLocation),
		Renderer:  renderer,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return rt.listen(ctx, server)
}

// serveUntilDone はサーバーを起動し、コンテキストのキャンセルでグレースフルシャットダウンする。
// 待ち受けに失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// migrateOnStartup はマイグレーションを適用する。
// 失敗はログに記録するのみで、起動は継続する。
func (rt serveRuntime) migrateOnStartup(databaseURL string) {
	if err := rt.migrate(databaseURL); err != nil {
		slog.Error("auto migration failed, login history will be unavailable",
			slog.String("error", err.Error()),
		)
		return
	}

	version, dirty, err := rt.schemaVersion(databaseURL)
	if err != nil {
		slog.Warn("failed to read schema version", slog.String("error", err.Error()))
		return
	}
	slog.Info("database schema is up to date",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
}

// newSessionRepository は設定に応じたセッションリポジトリと終了処理を返す。
func newSessionRepository(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, func(), error) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		slog.Info("redis session backend connected", slog.String("addr", opts.Addr))
		return repository.NewRedisSessionRepo(client, ""), func() { client.Close() }, nil

	case config.SessionBackendMemory:
		repo := repository.NewMemorySessionRepo()
		slog.Warn("in-memory session backend is not shared between processes")
		return repo, repo.Stop, nil

	default:
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	}
}

// runWorker はワーカーモードで起動する。
// Postgresバックエンドの期限切れセッションを定期的に削除する。
// コンテキストがキャンセルされると終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.SessionBackend != config.SessionBackendPostgres {
		slog.Info("session sweeper is only needed for the postgres backend",
			slog.String("session_backend", cfg.SessionBackend),
		)
		return nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewSessionSweepJob(db, slog.Default(), nil)

	// コンテキストがキャンセルされるまでブロックする
	job.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// defaultHealthcheckPort はヘルスチェック対象のポートを環境変数から決める。
func defaultHealthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	target := "http://" + net.JoinHostPort("localhost", port) + "/health"
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
