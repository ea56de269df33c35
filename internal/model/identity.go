// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は外部IdPから取得した認証済みユーザーの識別情報を表す。
// コールバック時に生成され、セッションの有効期間中は変更されない。
type Identity struct {
	ID          string `json:"id"` // プロバイダー内で一意かつ不変のID
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Session はサーバー側で保持するログインセッションを表す。
// IDはCookieで運ばれる不透明なセッショントークン。
type Session struct {
	ID        string
	Identity  Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
