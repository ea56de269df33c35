package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/loginlog/internal/model"
)

// PostgresHistoryRepo はPostgreSQLを使用したログイン履歴リポジトリ。
// login_historyテーブルへのINSERTとSELECTのみを行う。
type PostgresHistoryRepo struct {
	db *sql.DB
}

// NewPostgresHistoryRepo はPostgresHistoryRepoを生成する。
func NewPostgresHistoryRepo(db *sql.DB) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{db: db}
}

// Append はログイン履歴を1件追記する。
// ユーザー単位のロックは取らない。同一ユーザーの同時追記もすべて別行として保存される。
func (r *PostgresHistoryRepo) Append(ctx context.Context, userID, email string) (*model.LoginEvent, error) {
	event := &model.LoginEvent{
		UserID: userID,
		Email:  email,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO login_history (user_id, email)
		 VALUES ($1, $2)
		 RETURNING id, login_time`,
		userID, email,
	).Scan(&event.ID, &event.LoginTime)
	if err != nil {
		return nil, fmt.Errorf("failed to insert login history: %w", err)
	}
	return event, nil
}

// ListRecentByUserID は指定ユーザーのログイン履歴をlogin_time降順で最大limit件返す。
// 同一時刻の場合はidの降順で並べ、表示順を安定させる。
func (r *PostgresHistoryRepo) ListRecentByUserID(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error) {
	if limit <= 0 {
		return []model.LoginEvent{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, COALESCE(email, ''), login_time
		 FROM login_history
		 WHERE user_id = $1
		 ORDER BY login_time DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list login history: %w", err)
	}
	defer rows.Close()

	events := make([]model.LoginEvent, 0, limit)
	for rows.Next() {
		var e model.LoginEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.LoginTime); err != nil {
			return nil, fmt.Errorf("failed to scan login history: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate login history: %w", err)
	}

	return events, nil
}

// compile-time interface check
var _ HistoryRepository = (*PostgresHistoryRepo)(nil)
