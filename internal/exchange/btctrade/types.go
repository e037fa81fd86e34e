package btctrade

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

// Endpoint layout of the exchange's REST API. The pair symbol ("btc_uah") is
// appended to most of them.
const (
	endpointOrderBook   = "trades"      // trades/<side>/<symbol>, public
	endpointRecentDeals = "deals"       // deals/<symbol>, public, top-level array
	endpointCandles     = "japan_stat"  // japan_stat/high/<symbol>, public
	endpointBalances    = "balance"     // signed
	endpointOpenOrders  = "my_orders"   // my_orders/<symbol>, signed
	endpointMyDeals     = "my_deals"    // my_deals/<symbol>, signed
	endpointOrderStatus = "order/status" // order/status/<id>, signed
	endpointCancelOrder = "remove/order" // remove/order/<id>, signed
)

// wireDate is the timestamp layout the exchange uses in order and deal rows.
const wireDate = "2006-01-02 15:04:05"

// rangeDate is the layout of the my_deals start/end parameters.
const rangeDate = "2006-01-02"

var serverStatuses = map[string]core.OrderStatus{
	"processing": core.OrderPending,
	"processed":  core.OrderCompleted,
	"canceled":   core.OrderCanceled,
}

// formatCrypto renders crypto amounts the way the server expects them signed:
// fixed-point with 8 decimals.
func formatCrypto(d decimal.Decimal) string {
	return d.StringFixed(8)
}

// formatFiat renders fiat prices with 2 decimals.
func formatFiat(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// toDecimal converts a loosely-typed JSON value. The exchange emits numbers
// both as JSON numbers and as quoted strings, sometimes within one response.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		// Numeric ids arrive as JSON numbers; render without exponent.
		return decimal.NewFromFloat(t).String(), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func toTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(wireDate, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// objectList extracts a list of JSON objects stored under key. The second
// return distinguishes "key absent" from "present but empty".
func objectList(parsed map[string]any, key string) ([]map[string]any, bool) {
	raw, ok := parsed[key]
	if !ok {
		return nil, false
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, true
}
