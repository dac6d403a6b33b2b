// Package ai defines the contract with the vision model that reads charts,
// the errors it can fail with, and the parser that turns its free-text reply
// into a TradeSetup.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/google/uuid"
)

// AIProvider sends a chart to a vision model and returns its raw reply.
// Parsing is deliberately not the provider's job; see Parse.
type AIProvider interface {
	AnalyzeChart(ctx context.Context, params ChartParams) (*ChartResponse, error)
}

// ChartParams contains parameters for one chart analysis.
type ChartParams struct {
	ImageData   []byte              // Raw image bytes, already downscaled
	ContentType string              // MIME type (e.g., "image/png")
	Style       domain.TradingStyle // Selects the instruction prompt
	UserID      uuid.UUID           // For logging only
}

// ChartResponse is the model's unparsed answer.
type ChartResponse struct {
	Text  string
	Usage UsageInfo
}

// UsageInfo tracks API usage for billing and monitoring.
type UsageInfo struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostCents    int
	Duration     time.Duration
}

// ProviderConfig contains common configuration for AI providers.
type ProviderConfig struct {
	MaxRetries     int           // Maximum attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error values for AI provider operations. Providers wrap these so callers
// can branch with errors.Is.
var (
	// EAIRateLimit indicates the provider throttled us.
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIOverloaded indicates the provider is temporarily over capacity.
	EAIOverloaded = errors.New("ai provider overloaded")

	// EAIInvalidImage indicates the image was rejected as malformed input.
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAIInsufficientCredit indicates our provider account is out of credit.
	EAIInsufficientCredit = errors.New("ai provider credit balance too low")

	// EAIContentPolicy indicates the image violates the provider's content policy.
	EAIContentPolicy = errors.New("image violates content policy")

	// EAITimeout indicates the request timed out.
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service could not be reached.
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials.
	EAIUnauthorized = errors.New("ai provider authentication failed")
)

// IsRetryable returns true if the error is transient and the call may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAIOverloaded) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
