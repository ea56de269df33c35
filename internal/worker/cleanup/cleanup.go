// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// Postgresバックエンドのsessionsテーブルから、expires_atを過ぎた行を定期的に削除する。
// 期限切れセッションは削除前でも認可に使われないため、このジョブは容量管理のためのもの。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/loginlog/internal/metrics"
)

// DefaultInterval はスイープの既定の実行間隔。
const DefaultInterval = time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionSweepJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理のため、複数のワーカーが同時に実行しても問題ない。
type SessionSweepJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewSessionSweepJob は新しいSessionSweepJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewSessionSweepJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector) *SessionSweepJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &SessionSweepJob{
		db:      db,
		logger:  logger,
		metrics: collector,
	}
}

// Run は期限切れセッションを削除し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionSweepJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	query := `DELETE FROM sessions WHERE expires_at <= now()`
	result, err := j.db.ExecContext(ctx, query)
	if err != nil {
		j.logger.Error("session sweep failed",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read swept session count",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to read swept session count: %w", err)
	}

	j.metrics.RecordSessionsSwept(deletedCount)

	duration := time.Since(start)
	j.logger.Info("session sweep completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return deletedCount, nil
}

// Start は指定間隔でスイープを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *SessionSweepJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session sweeper started", slog.Duration("interval", interval))

	// 失敗はRun内でログ出力済みのため、次の周期で再試行する
	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
