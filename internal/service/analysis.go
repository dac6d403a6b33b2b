// Package service contains the business logic behind the chartlens API.
package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/chartlens/internal/ai"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/metrics"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/DukeRupert/chartlens/internal/storage"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Steps that run after the model answered. Their failures are reported as
// warnings on the outcome instead of failing the request.
const (
	StepStoreImage      = "store_image"
	StepStoreThumbnail  = "store_thumbnail"
	StepPersistAnalysis = "persist_analysis"
	StepRecordAIUsage   = "record_ai_usage"
)

const (
	DefaultMaxUploadSize     = 10 << 20
	DefaultMaxImageDimension = 1568

	// postModelTimeout bounds the bookkeeping after a paid model call. It runs
	// detached from the request so a disconnecting client doesn't lose it.
	postModelTimeout = 15 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// AnalyzeParams is one chart upload.
type AnalyzeParams struct {
	User        *domain.User
	Image       []byte
	ContentType string // as declared by the client, may be empty
	Filename    string
	Style       domain.TradingStyle
}

// StepResult is the outcome of one best-effort step.
type StepResult struct {
	Step string
	Err  error
}

func (r StepResult) Failed() bool { return r.Err != nil }

// AnalysisOutcome is what a successful Analyze returns. Warnings lists the
// post-model steps that failed; the setup is valid regardless.
type AnalysisOutcome struct {
	Analysis *domain.Analysis
	Quota    domain.QuotaDecision
	Warnings []StepResult
}

// AnalysisConfig tunes the orchestrator.
type AnalysisConfig struct {
	MaxUploadSize     int64
	MaxImageDimension int

	// FreeHistoryAccess lets free users read their past analyses.
	FreeHistoryAccess bool

	// Now is overridden in tests.
	Now func() time.Time
}

// AnalysisService runs chart analyses and serves analysis history.
type AnalysisService interface {
	// Analyze checks the usage policy, reserves one unit of quota, calls the
	// model and records the result.
	// Returns *domain.QuotaError when the policy denies the request.
	// Returns domain.EINVALID or domain.ETOOLARGE for a bad upload.
	// Returns EUPSTREAM, ERATELIMIT, EUNAVAILABLE or ETIMEOUT for model
	// failures; the reservation is released first.
	Analyze(ctx context.Context, params AnalyzeParams) (*AnalysisOutcome, error)

	// List returns a page of the user's analyses, newest first, and the total.
	// Returns domain.EPAYMENT for free users when history is premium-only.
	List(ctx context.Context, user *domain.User, page domain.Page) ([]domain.Analysis, int64, error)

	// Get returns one of the user's analyses.
	// Returns domain.ENOTFOUND if it doesn't exist or belongs to someone else.
	Get(ctx context.Context, user *domain.User, id uuid.UUID) (*domain.Analysis, error)
}

// =============================================================================
// Implementation
// =============================================================================

type analysisService struct {
	analyses AnalysisStore
	quota    QuotaService
	usage    UsageRecorder
	provider ai.AIProvider
	images   ImageProcessor
	storage  storage.Storage // nil disables chart storage
	config   AnalysisConfig
	logger   *slog.Logger
}

var _ AnalysisService = (*analysisService)(nil)

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	analyses AnalysisStore,
	quota QuotaService,
	usage UsageRecorder,
	provider ai.AIProvider,
	images ImageProcessor,
	store storage.Storage,
	config AnalysisConfig,
	logger *slog.Logger,
) AnalysisService {
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = DefaultMaxUploadSize
	}
	if config.MaxImageDimension <= 0 {
		config.MaxImageDimension = DefaultMaxImageDimension
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &analysisService{
		analyses: analyses,
		quota:    quota,
		usage:    usage,
		provider: provider,
		images:   images,
		storage:  store,
		config:   config,
		logger:   logger,
	}
}

// =============================================================================
// Analyze
// =============================================================================

func (s *analysisService) Analyze(ctx context.Context, params AnalyzeParams) (*AnalysisOutcome, error) {
	const op = "AnalysisService.Analyze"

	user := params.User
	if user == nil {
		return nil, domain.Unauthorized(op, "Please log in to analyze charts")
	}

	style, ok := domain.ParseTradingStyle(string(params.Style))
	if !ok {
		return nil, domain.Invalid(op, "Trading style must be one of scalp, day, swing or general")
	}

	contentType, err := s.validateUpload(op, params)
	if err != nil {
		return nil, err
	}

	prepared, err := s.images.Prepare(params.Image, contentType, s.config.MaxImageDimension)
	if err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "The chart image could not be read")
	}

	now := s.config.Now()

	decision := s.quota.Evaluate(ctx, user, now, QuotaOptions{})
	if !decision.Allowed {
		return nil, domain.QuotaExceeded(op, decision)
	}

	// Reserve before the paid call; a concurrent request may have taken the
	// last unit since Evaluate read the log.
	if _, err := s.usage.Record(ctx, user.ID, decision.ReservationCap(), now); err != nil {
		var qe *domain.QuotaError
		if errors.As(err, &qe) {
			metrics.ReservationLost()
			return nil, err
		}
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to reserve usage")
	}

	start := time.Now()
	resp, err := s.provider.AnalyzeChart(ctx, ai.ChartParams{
		ImageData:   prepared.Data,
		ContentType: prepared.ContentType,
		Style:       style,
		UserID:      user.ID,
	})
	if err != nil {
		relErr := s.usage.Release(context.WithoutCancel(ctx), user.ID, now)
		metrics.ReservationReleased(relErr)
		if relErr != nil {
			s.logger.Error("failed to release usage reservation",
				"user_id", user.ID,
				"error", relErr,
			)
		}
		return nil, s.modelError(op, user.ID, err, time.Since(start))
	}
	metrics.AICallSucceeded(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CostCents, time.Since(start))

	result := ai.Parse(resp.Text)
	if result.Quality.Degraded() {
		s.logger.Warn("model reply needed fallback parsing",
			"user_id", user.ID,
			"quality", result.Quality,
			"reply_len", len(resp.Text),
		)
	}

	analysis := &domain.Analysis{
		ID:           uuid.New(),
		UserID:       user.ID,
		CreatedAt:    now,
		TradingStyle: style,
		Pattern:      result.Setup.Pattern,
		Confidence:   result.Setup.Confidence,
		Trend:        result.Setup.Trend,
		Timeframe:    result.Setup.Timeframe,
		EntryPoint:   result.Setup.EntryPoint,
		StopLoss:     result.Setup.StopLoss,
		Target:       result.Setup.Target,
		RiskReward:   result.Setup.RiskReward,
		Explanation:  result.Setup.Explanation,
		ParseQuality: string(result.Quality),
		Model:        resp.Usage.Model,
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), postModelTimeout)
	defer cancel()

	var steps []StepResult
	key, stepErr := s.storeImage(bg, analysis, params.Image, contentType)
	steps = append(steps, StepResult{Step: StepStoreImage, Err: stepErr})
	if stepErr == nil && key != "" {
		analysis.ImageKey = key
		steps = append(steps, StepResult{Step: StepStoreThumbnail, Err: s.storeThumbnail(bg, analysis, prepared)})
	}

	steps = append(steps, StepResult{Step: StepPersistAnalysis, Err: s.persist(bg, analysis, resp.Text)})
	steps = append(steps, StepResult{Step: StepRecordAIUsage, Err: s.recordAIUsage(bg, analysis, resp.Usage, steps)})

	outcome := &AnalysisOutcome{
		Analysis: analysis,
		Quota:    decision.AfterUse(),
	}
	for _, step := range steps {
		if !step.Failed() {
			continue
		}
		metrics.StepFailed(step.Step)
		s.logger.Error("post-analysis step failed",
			"step", step.Step,
			"analysis_id", analysis.ID,
			"user_id", user.ID,
			"error", step.Err,
		)
		outcome.Warnings = append(outcome.Warnings, step)
	}

	metrics.AnalysisCompleted(string(style), string(result.Quality))
	s.logger.Info("chart analyzed",
		"analysis_id", analysis.ID,
		"user_id", user.ID,
		"style", style,
		"quality", result.Quality,
		"pattern", analysis.Pattern,
		"warnings", len(outcome.Warnings),
	)

	return outcome, nil
}

// validateUpload checks size and sniffs the real content type. The
// client's declared type is only trusted when sniffing is inconclusive.
func (s *analysisService) validateUpload(op string, params AnalyzeParams) (string, error) {
	if len(params.Image) == 0 {
		return "", domain.Invalid(op, "Please upload a chart image")
	}
	if int64(len(params.Image)) > s.config.MaxUploadSize {
		return "", domain.Errorf(domain.ETOOLARGE, op, "Chart images must be smaller than %d MB", s.config.MaxUploadSize>>20)
	}

	contentType := storage.NormalizeContentType(http.DetectContentType(params.Image))
	if !storage.IsAllowedImageType(contentType) {
		declared := storage.NormalizeContentType(params.ContentType)
		if contentType != "application/octet-stream" || !storage.IsAllowedImageType(declared) {
			return "", domain.Invalid(op, "Unsupported image type. Upload a PNG, JPEG, GIF or WebP chart.")
		}
		contentType = declared
	}
	return contentType, nil
}

// modelError turns a provider failure into the error the client sees.
func (s *analysisService) modelError(op string, userID uuid.UUID, err error, elapsed time.Duration) error {
	var (
		code, kind, message string
	)
	switch {
	case errors.Is(err, ai.EAIInsufficientCredit):
		code, kind, message = domain.EUPSTREAM, "insufficient_credit", "Chart analysis is temporarily unavailable. Please try again later."
	case errors.Is(err, ai.EAIInvalidImage):
		code, kind, message = domain.EINVALID, "invalid_image", "The chart image could not be processed. Try a clearer screenshot."
	case errors.Is(err, ai.EAIContentPolicy):
		code, kind, message = domain.EINVALID, "content_policy", "This image can't be analyzed. Please upload a trading chart."
	case errors.Is(err, ai.EAIRateLimit):
		code, kind, message = domain.ERATELIMIT, "rate_limited", "The analysis service is busy. Please try again in a minute."
	case errors.Is(err, ai.EAIOverloaded):
		code, kind, message = domain.EUNAVAILABLE, "overloaded", "The analysis service is overloaded. Please try again shortly."
	case errors.Is(err, ai.EAIUnavailable):
		code, kind, message = domain.EUNAVAILABLE, "unavailable", "The analysis service is unavailable. Please try again shortly."
	case errors.Is(err, ai.EAITimeout), errors.Is(err, context.DeadlineExceeded):
		code, kind, message = domain.ETIMEOUT, "timeout", "The analysis took too long. Please try again."
	case errors.Is(err, ai.EAIUnauthorized):
		code, kind, message = domain.EINTERNAL, "unauthorized", "Chart analysis failed"
	default:
		code, kind, message = domain.EINTERNAL, "error", "Chart analysis failed"
	}

	metrics.AICallFailed(kind, elapsed)

	level := slog.LevelWarn
	if code == domain.EINTERNAL || code == domain.EUPSTREAM {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "model call failed",
		"user_id", userID,
		"kind", kind,
		"error", err,
	)

	return domain.Wrap(err, code, op, message)
}

// =============================================================================
// Post-model steps
// =============================================================================

func (s *analysisService) storeImage(ctx context.Context, a *domain.Analysis, data []byte, contentType string) (string, error) {
	if s.storage == nil {
		return "", nil
	}
	key := storage.ChartKey(a.UserID, a.ID, contentType)
	err := s.storage.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType: contentType,
		MaxSize:     s.config.MaxUploadSize,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *analysisService) storeThumbnail(ctx context.Context, a *domain.Analysis, img *PreparedImage) error {
	if !s.images.CanDecode(img.ContentType) {
		return nil
	}
	thumb, err := s.images.Thumbnail(img.Data, ThumbnailMaxWidth, ThumbnailMaxHeight)
	if err != nil {
		return err
	}
	return s.storage.Put(ctx, storage.ChartThumbnailKey(a.UserID, a.ID), bytes.NewReader(thumb), storage.PutOptions{
		ContentType: "image/jpeg",
	})
}

// persist appends the analysis event. The stored ID and timestamp replace
// the provisional ones.
func (s *analysisService) persist(ctx context.Context, a *domain.Analysis, reply string) error {
	raw, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	row, err := s.analyses.CreateAnalysis(ctx, repository.CreateAnalysisParams{
		UserID:       a.UserID,
		TradingStyle: string(a.TradingStyle),
		Pattern:      domain.ToNullString(a.Pattern),
		Confidence:   domain.ToNullString(string(a.Confidence)),
		Trend:        domain.ToNullString(string(a.Trend)),
		Timeframe:    domain.ToNullString(a.Timeframe),
		EntryPoint:   domain.ToNullFloat(a.EntryPoint),
		StopLoss:     domain.ToNullFloat(a.StopLoss),
		Target:       domain.ToNullFloat(a.Target),
		RiskReward:   domain.ToNullFloat(a.RiskReward),
		Explanation:  a.Explanation,
		ParseQuality: a.ParseQuality,
		RawResponse:  pqtype.NullRawMessage{RawMessage: raw, Valid: true},
		Model:        a.Model,
		ImageKey:     domain.ToNullString(a.ImageKey),
	})
	if err != nil {
		return err
	}

	a.ID = row.ID
	a.CreatedAt = row.CreatedAt
	return nil
}

// recordAIUsage writes the cost ledger row, linked to the analysis when it
// was persisted.
func (s *analysisService) recordAIUsage(ctx context.Context, a *domain.Analysis, usage ai.UsageInfo, steps []StepResult) error {
	var analysisID uuid.NullUUID
	for _, step := range steps {
		if step.Step == StepPersistAnalysis && !step.Failed() {
			analysisID = uuid.NullUUID{UUID: a.ID, Valid: true}
		}
	}

	_, err := s.analyses.CreateAIUsage(ctx, repository.CreateAIUsageParams{
		UserID:       a.UserID,
		AnalysisID:   analysisID,
		Model:        usage.Model,
		InputTokens:  int32(usage.InputTokens),
		OutputTokens: int32(usage.OutputTokens),
		CostCents:    int32(usage.CostCents),
		RequestType:  "chart_analysis",
	})
	return err
}

// =============================================================================
// History
// =============================================================================

func (s *analysisService) List(ctx context.Context, user *domain.User, page domain.Page) ([]domain.Analysis, int64, error) {
	const op = "AnalysisService.List"

	if err := s.checkHistoryAccess(op, user); err != nil {
		return nil, 0, err
	}
	page = page.Normalize()

	rows, err := s.analyses.ListAnalysesByUser(ctx, repository.ListAnalysesByUserParams{
		UserID: user.ID,
		Limit:  int32(page.Limit),
		Offset: int32(page.Offset),
	})
	if err != nil {
		return nil, 0, domain.Internal(err, op, "Failed to load analyses")
	}

	total, err := s.analyses.CountAnalysesByUser(ctx, user.ID)
	if err != nil {
		return nil, 0, domain.Internal(err, op, "Failed to count analyses")
	}

	out := make([]domain.Analysis, 0, len(rows))
	for _, row := range rows {
		out = append(out, *analysisFromRow(row))
	}
	return out, total, nil
}

func (s *analysisService) Get(ctx context.Context, user *domain.User, id uuid.UUID) (*domain.Analysis, error) {
	const op = "AnalysisService.Get"

	if err := s.checkHistoryAccess(op, user); err != nil {
		return nil, err
	}

	row, err := s.analyses.GetAnalysisForUser(ctx, repository.GetAnalysisForUserParams{
		ID:     id,
		UserID: user.ID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "analysis", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to load analysis")
	}
	return analysisFromRow(row), nil
}

func (s *analysisService) checkHistoryAccess(op string, user *domain.User) error {
	if user == nil {
		return domain.Unauthorized(op, "Please log in to view your analyses")
	}
	if !user.IsPremium && !s.config.FreeHistoryAccess {
		return domain.PaymentRequired(op, "Analysis history is available on the premium plan")
	}
	return nil
}

func analysisFromRow(row repository.Analysis) *domain.Analysis {
	return &domain.Analysis{
		ID:           row.ID,
		UserID:       row.UserID,
		CreatedAt:    row.CreatedAt,
		TradingStyle: domain.TradingStyle(row.TradingStyle),
		Pattern:      domain.NullStringValue(row.Pattern),
		Confidence:   domain.Confidence(domain.NullStringValue(row.Confidence)),
		Trend:        domain.Trend(domain.NullStringValue(row.Trend)),
		Timeframe:    domain.NullStringValue(row.Timeframe),
		EntryPoint:   domain.NullFloatValue(row.EntryPoint),
		StopLoss:     domain.NullFloatValue(row.StopLoss),
		Target:       domain.NullFloatValue(row.Target),
		RiskReward:   domain.NullFloatValue(row.RiskReward),
		Explanation:  row.Explanation,
		ParseQuality: row.ParseQuality,
		Model:        row.Model,
		ImageKey:     domain.NullStringValue(row.ImageKey),
	}
}
