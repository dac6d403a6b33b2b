package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/DukeRupert/chartlens/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ParseQuality records which stage of Parse produced a TradeSetup.
type ParseQuality string

const (
	// ParseQualityStrict: a JSON object with canonical keys and native types.
	ParseQualityStrict ParseQuality = "strict"
	// ParseQualityTolerant: a JSON object that needed key or value normalization.
	ParseQualityTolerant ParseQuality = "tolerant"
	// ParseQualityRegex: no decodable object; fields were scraped from text.
	ParseQualityRegex ParseQuality = "regex"
	// ParseQualityRaw: nothing recognizable; the reply is kept as the explanation.
	ParseQualityRaw ParseQuality = "raw"
)

// Degraded reports whether the setup came from a fallback stage.
func (q ParseQuality) Degraded() bool {
	return q == ParseQualityRegex || q == ParseQualityRaw
}

// TradeSetup is the normalized reading of a chart. The JSON tags are the
// canonical field names the model is asked to produce.
type TradeSetup struct {
	Pattern     string            `json:"pattern"`
	Confidence  domain.Confidence `json:"confidence"`
	Timeframe   string            `json:"timeframe"`
	Trend       domain.Trend      `json:"trend"`
	EntryPoint  *float64          `json:"entryPoint,omitempty"`
	StopLoss    *float64          `json:"stopLoss,omitempty"`
	Target      *float64          `json:"target,omitempty"`
	RiskReward  *float64          `json:"riskReward,omitempty"`
	Explanation string            `json:"explanation"`
}

// ParseResult is a TradeSetup plus the stage that produced it.
type ParseResult struct {
	Setup   TradeSetup
	Quality ParseQuality
}

const (
	emptyReplyExplanation   = "The analysis service returned an empty response. Please try again with a clearer chart."
	missingFieldExplanation = "No explanation was provided for this setup."
)

// Parse converts a model reply into a TradeSetup. It never fails: input that
// defeats every stage comes back as a raw-quality setup whose explanation is
// the reply itself.
//
// Stages, in order: strip code fences, isolate the first balanced JSON
// object, tolerant decode with key synonyms and value coercion, per-field
// regex scraping, raw text.
func Parse(raw string) ParseResult {
	text := stripCodeFence(raw)

	if m, ok := decodeObject(text); ok {
		if setup, known, exact := setupFromMap(m); known > 0 {
			quality := ParseQualityTolerant
			if exact {
				quality = ParseQualityStrict
			}
			return ParseResult{Setup: finish(setup, ""), Quality: quality}
		}
	}

	if setup, found := scrapeFields(text); found > 0 {
		return ParseResult{Setup: finish(setup, strings.TrimSpace(raw)), Quality: ParseQualityRegex}
	}

	return ParseResult{Setup: finish(TradeSetup{}, strings.TrimSpace(raw)), Quality: ParseQualityRaw}
}

// finish applies neutral defaults and guarantees a non-empty explanation.
func finish(s TradeSetup, fallbackExplanation string) TradeSetup {
	if s.Confidence == "" {
		s.Confidence = domain.ConfidenceMedium
	}
	if s.Trend == "" {
		s.Trend = domain.TrendSideways
	}
	if s.Explanation == "" {
		s.Explanation = fallbackExplanation
	}
	if s.Explanation == "" {
		if s == (TradeSetup{Confidence: s.Confidence, Trend: s.Trend}) {
			s.Explanation = emptyReplyExplanation
		} else {
			s.Explanation = missingFieldExplanation
		}
	}
	return s
}

// =============================================================================
// Stage 1-2: fences and object extraction
// =============================================================================

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")

// stripCodeFence returns the body of the first fenced block, or the text
// itself when there is none. An unterminated fence loses its opening line.
func stripCodeFence(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			return strings.TrimSpace(trimmed[nl+1:])
		}
		return ""
	}
	return trimmed
}

// decodeObject decodes text as a JSON object, falling back to the first
// balanced {...} inside it when the text carries surrounding prose.
func decodeObject(text string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil && m != nil {
		return m, true
	}
	obj, ok := firstObject(text)
	if !ok {
		return nil, false
	}
	m = nil
	if err := json.Unmarshal([]byte(obj), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// firstObject returns the first brace-balanced substring starting at '{'.
// Braces inside string literals are ignored.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// =============================================================================
// Stage 3-4: tolerant decode
// =============================================================================

type field int

const (
	fieldPattern field = iota
	fieldConfidence
	fieldTimeframe
	fieldTrend
	fieldEntryPoint
	fieldStopLoss
	fieldTarget
	fieldRiskReward
	fieldExplanation
)

// canonicalKeys are the exact keys a well-behaved reply uses.
var canonicalKeys = map[string]field{
	"pattern":     fieldPattern,
	"confidence":  fieldConfidence,
	"timeframe":   fieldTimeframe,
	"trend":       fieldTrend,
	"entryPoint":  fieldEntryPoint,
	"stopLoss":    fieldStopLoss,
	"target":      fieldTarget,
	"riskReward":  fieldRiskReward,
	"explanation": fieldExplanation,
}

// synonyms maps each field to the spellings seen in replies, as word lists.
// Longer spellings come first so the regex alternation prefers them.
var synonyms = map[field][][]string{
	fieldPattern:     {{"chart", "pattern"}, {"pattern", "name"}, {"pattern"}, {"setup"}},
	fieldConfidence:  {{"confidence", "level"}, {"confidence"}, {"certainty"}},
	fieldTimeframe:   {{"time", "frame"}, {"chart", "interval"}, {"interval"}},
	fieldTrend:       {{"market", "trend"}, {"trend", "direction"}, {"trend"}, {"direction"}, {"bias"}},
	fieldEntryPoint:  {{"entry", "point"}, {"entry", "price"}, {"entry", "level"}, {"entry"}},
	fieldStopLoss:    {{"stop", "loss", "price"}, {"stop", "loss"}, {"stop"}, {"sl"}},
	fieldTarget:      {{"take", "profit"}, {"profit", "target"}, {"target", "price"}, {"target"}, {"tp"}},
	fieldRiskReward:  {{"risk", "reward", "ratio"}, {"risk", "to", "reward"}, {"risk", "reward"}, {"rr"}},
	fieldExplanation: {{"explanation"}, {"reasoning"}, {"rationale"}, {"analysis"}, {"summary"}, {"description"}},
}

// keyIndex maps a folded key (lowercase alphanumerics only) to its field.
var keyIndex = func() map[string]field {
	idx := make(map[string]field)
	for f, spellings := range synonyms {
		for _, words := range spellings {
			idx[strings.Join(words, "")] = f
		}
	}
	return idx
}()

func foldKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// setupFromMap reads known keys out of a decoded object. known counts the
// fields that produced a value; exact is true when nothing needed fixing.
func setupFromMap(m map[string]any) (setup TradeSetup, known int, exact bool) {
	exact = true
	seen := make(map[field]bool)

	for key, value := range m {
		f, canonical := canonicalKeys[key]
		if !canonical {
			var ok bool
			f, ok = keyIndex[foldKey(key)]
			if !ok {
				exact = false
				continue
			}
		}
		if seen[f] {
			exact = false
			continue
		}
		native, ok := assign(&setup, f, value)
		if !ok {
			if value != nil && value != "" {
				exact = false
			}
			continue
		}
		seen[f] = true
		known++
		if !canonical || !native {
			exact = false
		}
	}

	// Some replies nest the setup one level down, e.g. {"analysis": {...}}.
	if known == 0 {
		for _, value := range m {
			if nested, ok := value.(map[string]any); ok {
				if s, k, _ := setupFromMap(nested); k > 0 {
					return s, k, false
				}
			}
		}
	}

	if setup.Explanation == "" {
		exact = false
	}
	return setup, known, exact
}

// assign stores value into field f. native reports whether the value
// already had the canonical type and spelling.
func assign(s *TradeSetup, f field, value any) (native bool, ok bool) {
	switch f {
	case fieldPattern:
		str, isString := stringValue(value)
		if str == "" {
			return false, false
		}
		titled := titleCase(str)
		s.Pattern = titled
		return isString && titled == str, true
	case fieldTimeframe:
		str, isString := stringValue(value)
		if str == "" {
			return false, false
		}
		s.Timeframe = str
		return isString, true
	case fieldExplanation:
		str, isString := stringValue(value)
		if str == "" {
			return false, false
		}
		s.Explanation = str
		return isString, true
	case fieldConfidence:
		str, isString := stringValue(value)
		if str == "" {
			return false, false
		}
		s.Confidence = clampConfidence(str)
		return isString && string(s.Confidence) == str, true
	case fieldTrend:
		str, isString := stringValue(value)
		if str == "" {
			return false, false
		}
		s.Trend = clampTrend(str)
		return isString && string(s.Trend) == str, true
	case fieldEntryPoint, fieldStopLoss, fieldTarget, fieldRiskReward:
		n, isNumber := numberValue(value, f == fieldRiskReward)
		if n == nil {
			return false, false
		}
		switch f {
		case fieldEntryPoint:
			s.EntryPoint = n
		case fieldStopLoss:
			s.StopLoss = n
		case fieldTarget:
			s.Target = n
		case fieldRiskReward:
			s.RiskReward = n
		}
		return isNumber, true
	}
	return false, false
}

// stringValue renders scalars as trimmed text. isString is false when the
// value had to be converted.
func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		t := strings.TrimSpace(x)
		return t, t == x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), false
	case bool:
		return strconv.FormatBool(x), false
	default:
		return "", false
	}
}

// numberValue coerces JSON numbers and numeric-looking strings. isNumber is
// false when a string had to be parsed.
func numberValue(v any, ratio bool) (*float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return &x, true
	case string:
		if ratio {
			if r := parseRatio(x); r != nil {
				return r, false
			}
		}
		return parseNumber(x), false
	default:
		return nil, false
	}
}

// =============================================================================
// Value coercion
// =============================================================================

// leadingNumber matches a number at the start of cleaned text, after at
// most a hedge word like "approx." or "~".
var leadingNumber = regexp.MustCompile(`^(?i:approximately|approx\.?|about|around|near|above|below|at|~|≈|@)?([-+]?\d+(?:\.\d+)?)`)

// parseNumber extracts a finite number from text like "$1,234.50" or
// "approx. 42.1". Text that does not start with a number yields nil, as
// does a number too large for float64.
func parseNumber(s string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == ',' || r == '$' || r == '€' || r == '£' || r == '¥' || r == '₹':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimSuffix(cleaned, "%")
	if cleaned == "" {
		return nil
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	switch {
	case err == nil && isFinite(f) && hasDigit(cleaned):
		return &f
	case errors.Is(err, strconv.ErrRange):
		return nil
	}

	m := leadingNumber.FindStringSubmatch(cleaned)
	if m == nil {
		return nil
	}
	f, err = strconv.ParseFloat(m[1], 64)
	if err != nil || !isFinite(f) {
		return nil
	}
	return &f
}

// parseRatio reads "1:2.5" style risk/reward as reward per unit of risk.
func parseRatio(s string) *float64 {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil
	}
	risk := parseNumber(parts[0])
	reward := parseNumber(parts[1])
	if risk == nil || reward == nil || *risk <= 0 {
		return nil
	}
	r := *reward / *risk
	if !isFinite(r) {
		return nil
	}
	return &r
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func clampConfidence(s string) domain.Confidence {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "high"):
		return domain.ConfidenceHigh
	case strings.Contains(l, "low"):
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceMedium
	}
}

func clampTrend(s string) domain.Trend {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "bull"):
		return domain.TrendBullish
	case strings.Contains(l, "bear"):
		return domain.TrendBearish
	default:
		return domain.TrendSideways
	}
}

// titleCase capitalizes pattern names without lowering acronyms like "ABCD".
func titleCase(s string) string {
	return cases.Title(language.English, cases.NoLower).String(s)
}

// =============================================================================
// Stage 5: regex scraping
// =============================================================================

type fieldPatterns struct {
	quoted   *regexp.Regexp
	unquoted *regexp.Regexp
	loose    *regexp.Regexp
}

var scrapers = func() map[field]fieldPatterns {
	out := make(map[field]fieldPatterns, len(synonyms))
	for f, spellings := range synonyms {
		alts := make([]string, 0, len(spellings))
		for _, words := range spellings {
			quoted := make([]string, len(words))
			for i, w := range words {
				quoted[i] = regexp.QuoteMeta(w)
			}
			alts = append(alts, strings.Join(quoted, `[\s_/-]?`))
		}
		key := `(?:` + strings.Join(alts, "|") + `)`
		out[f] = fieldPatterns{
			quoted:   regexp.MustCompile(fmt.Sprintf(`(?i)["']?\b%s\b["']?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`, key)),
			unquoted: regexp.MustCompile(fmt.Sprintf(`(?i)["']?\b%s\b["']?\s*[:=]\s*["']?([^\s",}\]](?:[^",}\]\n]|,\d{3})*)`, key)),
			loose:    regexp.MustCompile(fmt.Sprintf(`(?im)^[\s>#*-]*[*_]*\b%s\b[*_]*\s*(?:[:=]|\s-\s)\s*(.+?)\s*$`, key)),
		}
	}
	return out
}()

var scrapeOrder = []field{
	fieldPattern,
	fieldConfidence,
	fieldTimeframe,
	fieldTrend,
	fieldEntryPoint,
	fieldStopLoss,
	fieldTarget,
	fieldRiskReward,
	fieldExplanation,
}

// scrapeFields pulls each field out of malformed text independently.
func scrapeFields(text string) (TradeSetup, int) {
	var setup TradeSetup
	found := 0
	for _, f := range scrapeOrder {
		p := scrapers[f]
		value, ok := firstSubmatch(text, p.quoted, p.unquoted, p.loose)
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'*`)
		if value == "" {
			continue
		}
		if _, ok := assign(&setup, f, value); ok {
			found++
		}
	}
	return setup, found
}

func firstSubmatch(text string, patterns ...*regexp.Regexp) (string, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
