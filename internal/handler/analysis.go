package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
	"github.com/google/uuid"
)

// multipartOverhead is the slack allowed on top of the image for the
// multipart envelope and the small text fields.
const multipartOverhead = 1 << 20

// AnalysisHandler serves chart uploads and analysis history.
//
// Routes handled:
//   - POST /api/analyses      -> Analyze
//   - GET  /api/analyses      -> List
//   - GET  /api/analyses/{id} -> Get
type AnalysisHandler struct {
	analyses      service.AnalysisService
	maxUploadSize int64
	logger        *slog.Logger
}

func NewAnalysisHandler(analyses service.AnalysisService, maxUploadSize int64, logger *slog.Logger) *AnalysisHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = service.DefaultMaxUploadSize
	}
	return &AnalysisHandler{
		analyses:      analyses,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// MaxRequestSize is the body limit the upload route should be wrapped with.
func (h *AnalysisHandler) MaxRequestSize() int64 {
	return h.maxUploadSize + multipartOverhead
}

// RegisterRoutes registers the analysis routes. upload wraps the POST route
// (rate limit, CSRF); requireUser guards all of them.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, requireUser, upload func(http.Handler) http.Handler) {
	mux.Handle("POST /api/analyses", requireUser(upload(http.HandlerFunc(h.Analyze))))
	mux.Handle("GET /api/analyses", requireUser(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/analyses/{id}", requireUser(http.HandlerFunc(h.Get)))
}

// Analyze expects a multipart form with the image in "chart" and an
// optional "style".
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	const op = "AnalysisHandler.Analyze"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxRequestSize())
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		if isBodyTooLarge(err) {
			ErrorResponse(w, r, h.logger, domain.Errorf(domain.ETOOLARGE, op, "Image must be %d MB or smaller", h.maxUploadSize>>20))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, "Expected a multipart form with a chart image"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	style, ok := domain.ParseTradingStyle(r.FormValue("style"))
	if !ok {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "style", "Must be one of: scalp, day, swing, general"))
		return
	}

	file, header, err := r.FormFile("chart")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "chart", "A chart image is required"))
		return
	}
	defer file.Close()

	// One byte past the limit is enough for the service to reject it.
	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, "Failed to read the uploaded image"))
		return
	}

	outcome, err := h.analyses.Analyze(r.Context(), service.AnalyzeParams{
		User:        user,
		Image:       data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
		Style:       style,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, analyzeBody(outcome))
}

// List accepts ?limit= and ?offset=.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "AnalysisHandler.List"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	page, err := pageFromQuery(op, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	items, total, err := h.analyses.List(r.Context(), user, page)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := AnalysisListResponse{
		Analyses: make([]AnalysisResponse, 0, len(items)),
		Total:    total,
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	for i := range items {
		resp.Analyses = append(resp.Analyses, analysisBody(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	a, err := h.analyses.Get(r.Context(), user, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisBody(a))
}

// isBodyTooLarge reports whether err came from http.MaxBytesReader. The
// multipart reader does not always keep the original error in the chain.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func pageFromQuery(op string, r *http.Request) (domain.Page, error) {
	var page domain.Page
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.NewValidationError(op, "limit", "Must be a number")
		}
		page.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.NewValidationError(op, "offset", "Must be a number")
		}
		page.Offset = n
	}
	return page.Normalize(), nil
}
