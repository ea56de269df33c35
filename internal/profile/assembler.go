// Package profile はセッションのIdentityとログイン履歴から表示用のビューモデルを組み立てる。
package profile

import (
	"time"

	"github.com/hitoshi/loginlog/internal/model"
	"github.com/hitoshi/loginlog/internal/security"
)

// 表示用の既定値
const (
	PlaceholderAvatarURL      = "https://www.gravatar.com/avatar/?d=mp"
	AnonymousName             = "Anonymous"
	NoHistoryMessage          = "No login history available"
	HistoryUnavailableMessage = "Login history is currently unavailable"
)

// TimeLayout はログイン時刻の表示形式。
const TimeLayout = "1/2/2006, 3:04:05 PM"

// Assembler はProfileViewを組み立てる。
// 入力の欠損はすべて既定値で補い、エラーは返さない。
type Assembler struct {
	sanitizer security.TextSanitizerService
	guard     security.URLGuardService
	loc       *time.Location
}

// NewAssembler はAssemblerを生成する。locがnilの場合はUTCで表示する。
func NewAssembler(sanitizer security.TextSanitizerService, guard security.URLGuardService, loc *time.Location) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	return &Assembler{
		sanitizer: sanitizer,
		guard:     guard,
		loc:       loc,
	}
}

// Assemble はIdentityと履歴からProfileViewを生成する。
// historyAvailableがfalseの場合は、履歴の読み出しに失敗したものとして扱う。
func (a *Assembler) Assemble(identity model.Identity, events []model.LoginEvent, historyAvailable bool) model.ProfileView {
	view := model.ProfileView{
		AvatarURL:        a.avatarURL(identity.AvatarURL),
		DisplayName:      a.displayName(identity.DisplayName),
		FormattedHistory: make([]string, 0, len(events)),
	}

	switch {
	case !historyAvailable:
		view.HistoryMessage = HistoryUnavailableMessage
	case len(events) == 0:
		view.HistoryMessage = NoHistoryMessage
	default:
		for _, e := range events {
			view.FormattedHistory = append(view.FormattedHistory, a.FormatTime(e.LoginTime))
		}
	}

	return view
}

// FormatTime はログイン時刻を表示用の文字列に変換する。
func (a *Assembler) FormatTime(t time.Time) string {
	return t.In(a.loc).Format(TimeLayout)
}

func (a *Assembler) avatarURL(raw string) string {
	if raw == "" || a.guard.ValidateURL(raw) != nil {
		return PlaceholderAvatarURL
	}
	return raw
}

func (a *Assembler) displayName(raw string) string {
	if name := a.sanitizer.Sanitize(raw); name != "" {
		return name
	}
	return AnonymousName
}
