package model

// ProfileView はプロフィール画面およびユーザーデータAPIに渡すビューモデル。
// すべてのフィールドは常に値を持つ（FormattedHistoryは空でもnilにならない）。
type ProfileView struct {
	AvatarURL        string   `json:"photoUrl"`
	DisplayName      string   `json:"displayName"`
	FormattedHistory []string `json:"loginHistory"`
	HistoryMessage   string   `json:"historyMessage"`
}
