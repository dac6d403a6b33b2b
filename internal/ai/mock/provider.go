package mock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/chartlens/internal/ai"
)

// CannedReply is what the mock returns when no custom response is set. It
// is well-formed so development builds exercise the strict parser path.
const CannedReply = `{
  "pattern": "Bull Flag",
  "confidence": "Medium",
  "timeframe": "1H",
  "trend": "Bullish",
  "entryPoint": 101.25,
  "stopLoss": 98.5,
  "target": 107,
  "riskReward": 2.1,
  "explanation": "Price consolidated in a tight downward channel after a strong impulse leg. A break above the flag high on rising volume would confirm continuation; a close below the flag low invalidates the setup."
}`

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	AnalyzeChartResponse *ai.ChartResponse
	AnalyzeChartError    error

	// Call tracking for testing
	AnalyzeChartCalls int
	LastParams        ai.ChartParams
}

var _ ai.AIProvider = (*Provider)(nil)

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// AnalyzeChart returns the configured response or error, or CannedReply.
func (p *Provider) AnalyzeChart(ctx context.Context, params ai.ChartParams) (*ai.ChartResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.AnalyzeChartCalls++
	p.LastParams = params

	if p.AnalyzeChartError != nil {
		return nil, p.AnalyzeChartError
	}
	if p.AnalyzeChartResponse != nil {
		return p.AnalyzeChartResponse, nil
	}

	if p.logger != nil {
		p.logger.Debug("mock chart analysis", "user_id", params.UserID, "style", params.Style)
	}

	return &ai.ChartResponse{
		Text: CannedReply,
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  1250,
			OutputTokens: 180,
			CostCents:    1,
			Duration:     250 * time.Millisecond,
		},
	}, nil
}

// Calls returns the number of AnalyzeChart calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AnalyzeChartCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeChartCalls = 0
	p.LastParams = ai.ChartParams{}
	p.AnalyzeChartResponse = nil
	p.AnalyzeChartError = nil
}
