package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/DukeRupert/chartlens/internal/storage"
)

// FileHandler serves stored charts when the local storage backend is used.
// R2 hands out its own URLs instead. Users only ever see their own charts.
//
// Route:
//   - GET /files/charts/{owner}/{name} -> ServeChart
type FileHandler struct {
	store  storage.Storage
	logger *slog.Logger
}

func NewFileHandler(store storage.Storage, logger *slog.Logger) *FileHandler {
	return &FileHandler{store: store, logger: logger}
}

func (h *FileHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /files/charts/{owner}/{name}", requireUser(http.HandlerFunc(h.ServeChart)))
}

func (h *FileHandler) ServeChart(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	if r.PathValue("owner") != user.ID.String() {
		NotFoundResponse(w, r, h.logger)
		return
	}

	key := "charts/" + r.PathValue("owner") + "/" + r.PathValue("name")
	body, info, err := h.store.Get(r.Context(), key)
	if err != nil {
		if storage.IsNotFound(err) || storage.IsInvalidKey(err) {
			NotFoundResponse(w, r, h.logger)
			return
		}
		h.logger.Error("failed to read chart", "error", err, "key", key)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("chart download interrupted", "error", err, "key", key)
	}
}
