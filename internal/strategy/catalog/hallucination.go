package catalog

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("hallucination", newHallucinationStrategy)
}

const maxHallucinationDepth = 10

var (
	numberPattern      = regexp.MustCompile(`-?\d+\.?\d*`)
	datePattern        = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	leadingDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	pricePattern       = regexp.MustCompile(`\$?\d+\.\d{2}`)

	dayShifts = []int{-7, -5, -3, 3, 5, 7}
)

// HallucinationStrategy injects false but plausible data into a completed
// tool response, per spec §4.5 "hallucination": every number, date, and
// price leaf reachable in a JSON response body is swapped for a nearby but
// different value, testing whether the agent blindly trusts tool output
// instead of verifying it. Non-JSON bodies get the same number/date
// substitutions applied directly to the raw text.
type HallucinationStrategy struct {
	*strategy.Base
}

func newHallucinationStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	return &HallucinationStrategy{
		Base: buildBase(logger, obs, cfg, strategy.PhaseResponse),
	}, nil
}

// Apply rewrites the response body's numeric, date, and price content.
func (s *HallucinationStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}
		if len(f.ResponseBody) == 0 {
			return false, nil
		}

		var doc any
		if err := json.Unmarshal(f.ResponseBody, &doc); err == nil {
			out, err := json.Marshal(hallucinateJSON(doc, 0))
			if err != nil {
				return false, nil
			}
			f.ResponseBody = out
			return true, nil
		}

		text := string(f.ResponseBody)
		mutated := numberPattern.ReplaceAllStringFunc(text, swapNumber)
		mutated = datePattern.ReplaceAllStringFunc(mutated, swapDate)
		if mutated == text {
			return false, nil
		}
		f.ResponseBody = []byte(mutated)
		return true, nil
	})
}

// hallucinateJSON recursively swaps every number, date, and price leaf
// reachable from data, bailing out past maxHallucinationDepth the same way
// a depth guard protects against pathologically nested or cyclic bodies.
func hallucinateJSON(data any, depth int) any {
	if depth > maxHallucinationDepth {
		return data
	}

	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = hallucinateValue(value, depth)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = hallucinateValue(item, depth)
		}
		return result
	default:
		return data
	}
}

// hallucinateValue dispatches a single JSON value to the matching leaf
// mutation, or recurses when it's itself a container.
func hallucinateValue(value any, depth int) any {
	switch t := value.(type) {
	case float64:
		return jsonNumberSwap(t)
	case string:
		switch {
		case leadingDatePattern.MatchString(t):
			if swapped, ok := tryswapDate(t); ok {
				return swapped
			}
			return t
		case pricePattern.MatchString(t):
			return swapPrice(t)
		case numberPattern.MatchString(t):
			return numberPattern.ReplaceAllStringFunc(t, swapNumber)
		default:
			return t
		}
	case map[string]any, []any:
		return hallucinateJSON(t, depth+1)
	default:
		return value
	}
}

// jsonNumberSwap mutates a decoded JSON number, preserving the ± max(20%,10)
// variation used for string-encoded numbers below.
func jsonNumberSwap(n float64) float64 {
	out, err := strconv.ParseFloat(swapNumber(formatJSONNumber(n)), 64)
	if err != nil {
		return n
	}
	return out
}

// formatJSONNumber renders a float64 leaf in its shortest decimal form
// (99.99 stays "99.99", 1.5 stays "1.5") when it has a fractional part, so
// swapNumber's decimal-preserving logic has something to preserve; whole
// numbers are rendered without a decimal point.
func formatJSONNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// swapNumber replaces a numeric token with a plausible but different value,
// varying it by ± max(20%, 10) and preserving the original's decimal
// precision. Non-numeric input is returned unchanged.
func swapNumber(value string) string {
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value
	}
	variation := num * 0.2
	if variation < 0 {
		variation = -variation
	}
	if variation < 10 {
		variation = 10
	}
	delta := variation*0.5 + rand.Float64()*(variation*0.5)
	if rand.Intn(2) == 0 {
		delta = -delta
	}
	newNum := num + delta

	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		decimals := len(value) - idx - 1
		return strconv.FormatFloat(newNum, 'f', decimals, 64)
	}
	return strconv.FormatInt(int64(newNum), 10)
}

// tryswapDate parses value as a bare YYYY-MM-DD date and shifts it by one
// of ±{3,5,7} days. It reports false (leaving value untouched) for any
// string that merely starts with a date-shaped prefix but isn't a clean
// date, matching strptime's whole-string requirement.
func tryswapDate(value string) (string, bool) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return value, false
	}
	shift := dayShifts[rand.Intn(len(dayShifts))]
	return t.AddDate(0, 0, shift).Format("2006-01-02"), true
}

// swapDate shifts a matched date substring by ±{3,5,7} days, used both for
// whole-string date leaves and for the non-JSON text fallback's regexp
// substitution.
func swapDate(value string) string {
	if swapped, ok := tryswapDate(value); ok {
		return swapped
	}
	return value
}

// swapPrice replaces a price with a different but plausible one, varying
// it by ±30% and preserving the presence (or absence) of a leading "$".
func swapPrice(value string) string {
	hadDollar := strings.Contains(value, "$")
	clean := strings.ReplaceAll(value, "$", "")
	price, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return value
	}
	variation := price * 0.3
	delta := variation*0.5 + rand.Float64()*(variation*0.5)
	if rand.Intn(2) == 0 {
		delta = -delta
	}
	newPrice := price + delta
	formatted := "$" + strconv.FormatFloat(newPrice, 'f', 2, 64)
	if !hadDollar {
		formatted = strings.TrimPrefix(formatted, "$")
	}
	return formatted
}

var _ strategy.Strategy = (*HallucinationStrategy)(nil)
