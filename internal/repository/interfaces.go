// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/loginlog/internal/model"
)

// HistoryRepository はログイン履歴の永続化インターフェース。
// 追記と参照のみを提供し、更新・削除は提供しない。
type HistoryRepository interface {
	// Append はログイン履歴を1件追記する。login_timeはDBサーバーの現在時刻で記録される。
	Append(ctx context.Context, userID, email string) (*model.LoginEvent, error)

	// ListRecentByUserID は指定ユーザーのログイン履歴をlogin_time降順で最大limit件返す。
	// 履歴がない場合は空スライスを返す。
	ListRecentByUserID(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// Postgres、Redis、インメモリの各バックエンドが実装する。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}
