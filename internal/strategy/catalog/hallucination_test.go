package catalog

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapNumber_PreservesDecimals(t *testing.T) {
	out := swapNumber("99.99")
	assert.NotEqual(t, "99.99", out)
	assert.Contains(t, out, ".")
	assert.Equal(t, 2, len(out[indexOf(out, '.')+1:]))
}

func TestSwapNumber_WholeNumberHasNoDecimalPoint(t *testing.T) {
	out := swapNumber("42")
	assert.NotContains(t, out, ".")
}

func TestSwapNumber_NonNumericUnchanged(t *testing.T) {
	assert.Equal(t, "abc", swapNumber("abc"))
}

func TestSwapNumber_MinimumVariation(t *testing.T) {
	// A tiny number's ±20% is below the floor of 10, so the swap must
	// still move it by at least 5 (half of the floored variation).
	out := swapNumber("1")
	n, err := strconv.ParseFloat(out, 64)
	require.NoError(t, err)
	assert.True(t, n <= -4 || n >= 6, "expected at least a 5-unit shift from 1, got %v", n)
}

func TestTrySwapDate_ShiftsByNamedDelta(t *testing.T) {
	out, ok := tryswapDate("2025-06-15")
	require.True(t, ok)
	assert.NotEqual(t, "2025-06-15", out)

	shifted, err := time.Parse("2006-01-02", out)
	require.NoError(t, err)
	original, _ := time.Parse("2006-01-02", "2025-06-15")
	diff := int(shifted.Sub(original).Hours() / 24)

	found := false
	for _, d := range dayShifts {
		if d == diff {
			found = true
		}
	}
	assert.True(t, found, "shift of %d days not among %v", diff, dayShifts)
}

func TestTrySwapDate_RejectsPartialMatch(t *testing.T) {
	_, ok := tryswapDate("2025-06-15T10:00:00Z")
	assert.False(t, ok)
}

func TestSwapPrice_PreservesDollarSign(t *testing.T) {
	out := swapPrice("$19.99")
	assert.Contains(t, out, "$")
	assert.NotEqual(t, "$19.99", out)
}

func TestSwapPrice_NoDollarSignStaysBare(t *testing.T) {
	out := swapPrice("19.99")
	assert.NotContains(t, out, "$")
}

func TestHallucinateJSON_SwapsNestedNumberDateAndPrice(t *testing.T) {
	doc := map[string]any{
		"order": map[string]any{
			"total":     99.99,
			"ship_date": "2025-12-25",
			"items": []any{
				map[string]any{"price": "$14.50", "qty": float64(3)},
			},
			"note": "unrelated text with no entities",
		},
	}

	out := hallucinateJSON(doc, 0).(map[string]any)
	order := out["order"].(map[string]any)

	assert.NotEqual(t, 99.99, order["total"])
	assert.NotEqual(t, "2025-12-25", order["ship_date"])
	assert.Equal(t, "unrelated text with no entities", order["note"])

	item := order["items"].([]any)[0].(map[string]any)
	assert.Contains(t, item["price"], "$")
	assert.NotEqual(t, "$14.50", item["price"])
	assert.NotEqual(t, float64(3), item["qty"])
}

func TestHallucinateJSON_EmbeddedNumberInString(t *testing.T) {
	doc := map[string]any{"summary": "Order #1234 shipped in 5 boxes"}
	out := hallucinateJSON(doc, 0).(map[string]any)
	assert.NotEqual(t, "Order #1234 shipped in 5 boxes", out["summary"])
}

func TestHallucinateJSON_DepthLimitStopsRecursion(t *testing.T) {
	var nested any = float64(1)
	for i := 0; i < maxHallucinationDepth+5; i++ {
		nested = map[string]any{"child": nested}
	}
	// Should not panic or infinite-loop regardless of nesting depth.
	assert.NotPanics(t, func() { hallucinateJSON(nested, 0) })
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
