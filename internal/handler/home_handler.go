package handler

import (
	"net/http"
)

// HomeHandler はランディングページのHTTPハンドラー。
type HomeHandler struct {
	renderer *Renderer
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(renderer *Renderer) *HomeHandler {
	return &HomeHandler{renderer: renderer}
}

// Index はサインインへの導線を持つランディングページを返す。
// GET /
func (h *HomeHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, http.StatusOK, indexTemplate, nil)
}
