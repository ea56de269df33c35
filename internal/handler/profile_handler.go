package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/loginlog/internal/history"
	"github.com/hitoshi/loginlog/internal/middleware"
	"github.com/hitoshi/loginlog/internal/model"
)

// HistoryReader はプロフィール表示用のログイン履歴を読み出す。
type HistoryReader interface {
	RecentFor(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error)
}

// ProfileAssembler はIdentityと履歴からビューモデルを組み立てる。
type ProfileAssembler interface {
	Assemble(identity model.Identity, events []model.LoginEvent, historyAvailable bool) model.ProfileView
}

// ProfileHandler はプロフィール画面とユーザーデータAPIのHTTPハンドラー。
// どちらもセッションミドルウェアの内側に配置される。
type ProfileHandler struct {
	history   HistoryReader
	assembler ProfileAssembler
	renderer  *Renderer
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(history HistoryReader, assembler ProfileAssembler, renderer *Renderer) *ProfileHandler {
	return &ProfileHandler{
		history:   history,
		assembler: assembler,
		renderer:  renderer,
	}
}

// Page はプロフィール画面を返す。
// GET /profile
func (h *ProfileHandler) Page(w http.ResponseWriter, r *http.Request) {
	view, ok := h.buildView(r)
	if !ok {
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, http.StatusOK, profileTemplate, view)
}

// UserData はプロフィールのビューモデルをJSONで返す。
// GET /api/user-data
func (h *ProfileHandler) UserData(w http.ResponseWriter, r *http.Request) {
	view, ok := h.buildView(r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		slog.Error("failed to encode user data", slog.String("error", err.Error()))
	}
}

// buildView はリクエストのIdentityからビューモデルを生成する。
// 履歴の読み出しに失敗した場合は「利用不可」の表示に縮退する。
// Identityがコンテキストにない場合のみfalseを返す。
func (h *ProfileHandler) buildView(r *http.Request) (model.ProfileView, bool) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		slog.Error("identity missing behind session gate",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		return model.ProfileView{}, false
	}

	events, err := h.history.RecentFor(r.Context(), identity.ID, history.MaxRecent)
	historyAvailable := err == nil
	if err != nil {
		slog.Error("failed to load login history",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		events = nil
	}

	return h.assembler.Assemble(identity, events, historyAvailable), true
}
