package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/loginlog/internal/config"
	"github.com/hitoshi/loginlog/internal/database"
	"github.com/hitoshi/loginlog/internal/logger"
)

// fakeServeRuntime はserveRuntimeの各処理を記録・差し替えるテスト用ランタイム。
type fakeServeRuntime struct {
	pingErr    error
	migrateErr error

	migrated      int
	versionChecks int
	listened      bool
	handler       http.Handler
}

func (f *fakeServeRuntime) runtime() serveRuntime {
	return serveRuntime{
		openDB: func(databaseURL string) (*sql.DB, error) {
			return database.Open(databaseURL, database.DefaultPoolConfig())
		},
		pingDB: func(ctx context.Context, db *sql.DB) error {
			return f.pingErr
		},
		migrate: func(databaseURL string) error {
			f.migrated++
			return f.migrateErr
		},
		schemaVersion: func(databaseURL string) (uint, bool, error) {
			f.versionChecks++
			return 2, false, nil
		},
		listen: func(ctx context.Context, server *http.Server) error {
			f.listened = true
			f.handler = server.Handler
			return nil
		},
	}
}

func (f *fakeServeRuntime) get(t *testing.T, path string) *http.Response {
	t.Helper()
	if f.handler == nil {
		t.Fatal("server handler was not built")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Result()
}

// loadServeConfig はテスト用環境変数から設定を読み込み、ログをbufに向ける。
func loadServeConfig(t *testing.T, backend string) (*config.Config, *bytes.Buffer) {
	t.Helper()
	setTestEnv(t)
	t.Setenv("SESSION_BACKEND", backend)

	var buf bytes.Buffer
	logger.SetupDefault(&buf)

	cfg, err := config.LoadFiles()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg, &buf
}

func TestServe_UnreachableDatabase_MemoryBackendKeepsServing(t *testing.T) {
	cfg, logs := loadServeConfig(t, config.SessionBackendMemory)
	fake := &fakeServeRuntime{pingErr: errors.New("dial tcp 127.0.0.1:1: connect: connection refused")}

	if err := fake.runtime().serve(context.Background(), cfg); err != nil {
		t.Fatalf("serve should keep running without the database, got %v", err)
	}

	if !fake.listened {
		t.Fatal("server should start listening")
	}
	if fake.migrated != 0 {
		t.Errorf("migrations = %d, want 0 while the database is unreachable", fake.migrated)
	}
	if !strings.Contains(logs.String(), "database unreachable, login history will be unavailable") {
		t.Errorf("expected degraded startup log, got %s", logs.String())
	}

	if resp := fake.get(t, "/health"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /health status = %d, want 503", resp.StatusCode)
	}
	if resp := fake.get(t, "/"); resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
	if resp := fake.get(t, "/auth/google"); resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("GET /auth/google status = %d, want 307", resp.StatusCode)
	}
}

func TestServe_UnreachableDatabase_PostgresBackendFails(t *testing.T) {
	cfg, _ := loadServeConfig(t, config.SessionBackendPostgres)
	pingErr := errors.New("failed to connect to database: connection refused")
	fake := &fakeServeRuntime{pingErr: pingErr}

	err := fake.runtime().serve(context.Background(), cfg)
	if !errors.Is(err, pingErr) {
		t.Fatalf("serve error = %v, want %v", err, pingErr)
	}
	if fake.listened {
		t.Error("server should not start when sessions live in the unreachable database")
	}
}

func TestServe_MigrationFailure_KeepsServing(t *testing.T) {
	cfg, logs := loadServeConfig(t, config.SessionBackendPostgres)
	fake := &fakeServeRuntime{migrateErr: errors.New("permission denied for schema public")}

	if err := fake.runtime().serve(context.Background(), cfg); err != nil {
		t.Fatalf("serve should continue after a migration failure, got %v", err)
	}

	if fake.migrated != 1 {
		t.Errorf("migrations = %d, want 1", fake.migrated)
	}
	if fake.versionChecks != 0 {
		t.Errorf("schema version should not be read after a failed migration")
	}
	if !fake.listened {
		t.Error("server should start listening after a migration failure")
	}
	if !strings.Contains(logs.String(), "auto migration failed, login history will be unavailable") {
		t.Errorf("expected migration failure log, got %s", logs.String())
	}
}

func TestServe_MigrationSuccess_LogsSchemaVersion(t *testing.T) {
	cfg, logs := loadServeConfig(t, config.SessionBackendPostgres)
	fake := &fakeServeRuntime{}

	if err := fake.runtime().serve(context.Background(), cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if fake.migrated != 1 || fake.versionChecks != 1 {
		t.Errorf("migrated = %d, versionChecks = %d, want 1 and 1", fake.migrated, fake.versionChecks)
	}
	if !strings.Contains(logs.String(), "database schema is up to date") {
		t.Errorf("expected schema version log, got %s", logs.String())
	}
}

func TestServe_AutoMigrateDisabled_SkipsMigration(t *testing.T) {
	t.Setenv("AUTO_MIGRATE", "false")
	cfg, _ := loadServeConfig(t, config.SessionBackendPostgres)
	fake := &fakeServeRuntime{}

	if err := fake.runtime().serve(context.Background(), cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if fake.migrated != 0 {
		t.Errorf("migrations = %d, want 0", fake.migrated)
	}
}
