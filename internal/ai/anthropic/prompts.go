package anthropic

import (
	"github.com/DukeRupert/chartlens/internal/domain"
)

const promptPreamble = `You are an experienced technical analyst reviewing a trading chart screenshot.
Read only what is visible in the image: price action, candlestick structure, indicators and drawn levels.
If the image is not a price chart, say so in the explanation and leave the numeric fields null.`

var styleFocus = map[domain.TradingStyle]string{
	domain.TradingStyleScalp: `**Trading Style: Scalping**
Focus on the lowest visible timeframe. Look for micro-structure breaks, order-flow clues and tight
momentum bursts. Stops should be tight and targets close to entry. Ignore higher-timeframe narratives
unless they clearly dominate the chart.`,
	domain.TradingStyleDay: `**Trading Style: Day Trading**
Focus on intraday structure: session highs and lows, opening range, VWAP if shown and intraday
support and resistance. Assume the position is closed before the session ends.`,
	domain.TradingStyleSwing: `**Trading Style: Swing Trading**
Focus on multi-day structure: higher highs and lows, major support and resistance zones, moving
average alignment and classic continuation or reversal patterns. Stops may be wider to survive noise.`,
	domain.TradingStyleGeneral: `**Trading Style: General**
Identify the most significant pattern on the chart and describe the setup a disciplined trader
would consider, whatever the holding period.`,
}

const responseFormat = `**Response Format:**
Return your analysis as a JSON object with this exact structure:

{
  "pattern": "Name of the chart pattern, e.g. Bull Flag",
  "confidence": "High|Medium|Low",
  "timeframe": "Chart timeframe as shown, e.g. 15m, 4H, 1D",
  "trend": "Bullish|Bearish|Sideways",
  "entryPoint": 0.0,
  "stopLoss": 0.0,
  "target": 0.0,
  "riskReward": 0.0,
  "explanation": "Two to four sentences explaining the setup and what would invalidate it"
}

Use plain numbers for prices, without currency symbols or thousands separators. Use null for any
value you cannot read from the chart.

**Important:** Return ONLY the JSON object, no additional text or explanation.`

// buildChartPrompt returns the instruction text for a trading style. Unknown
// styles get the general instruction.
func buildChartPrompt(style domain.TradingStyle) string {
	focus, ok := styleFocus[style]
	if !ok {
		focus = styleFocus[domain.TradingStyleGeneral]
	}
	return promptPreamble + "\n\n" + focus + "\n\n" + responseFormat
}
