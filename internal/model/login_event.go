package model

import "time"

// LoginEvent は1回の認証成功を記録したログイン履歴を表す。
// 追記専用で、作成後に更新・削除されることはない。
type LoginEvent struct {
	ID        int64
	UserID    string
	Email     string
	LoginTime time.Time
}
