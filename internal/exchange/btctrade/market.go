package btctrade

import (
	"context"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

// MarketProvider fetches public market data. Stateless beyond the HTTP
// client; one instance serves all pairs.
type MarketProvider struct {
	client      *Client
	minNotional decimal.Decimal
}

func NewMarketProvider(client *Client, minNotional decimal.Decimal) *MarketProvider {
	return &MarketProvider{client: client, minNotional: minNotional}
}

// OrderBook fetches one side of the depth. Rows missing a numeric field are
// dropped instead of failing the whole call.
func (m *MarketProvider) OrderBook(ctx context.Context, pair core.CurrencyPair, side core.Side) ([]core.OrderInfo, error) {
	endpoint := endpointOrderBook + "/" + string(side) + "/" + pair.Symbol()
	parsed, err := m.client.Request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "order book %s %s", pair, side)
	}
	rows, ok := objectList(parsed, "list")
	if !ok {
		return nil, errors.Wrapf(core.ErrMalformedResponse, "order book %s %s: no list", pair, side)
	}
	book := make([]core.OrderInfo, 0, len(rows))
	for _, row := range rows {
		info, ok := parseOrderInfo(row, side == core.Buy)
		if !ok {
			continue
		}
		book = append(book, info)
	}
	return book, nil
}

// RecentDeals fetches the public trade tape. The endpoint answers with a bare
// JSON array, which the client surfaces under the "" key.
func (m *MarketProvider) RecentDeals(ctx context.Context, pair core.CurrencyPair) ([]core.OrderInfo, error) {
	parsed, err := m.client.Request(ctx, http.MethodGet, endpointRecentDeals+"/"+pair.Symbol(), nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "recent deals %s", pair)
	}
	items, ok := parsed[""].([]any)
	if !ok {
		return nil, errors.Wrapf(core.ErrMalformedResponse, "recent deals %s: not an array", pair)
	}
	deals := make([]core.OrderInfo, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		side, _ := row["type"].(string)
		info, ok := parseOrderInfo(row, side == string(core.Buy))
		if !ok {
			continue
		}
		deals = append(deals, info)
	}
	return deals, nil
}

// PriceRange computes the min and max price across buy-side deals whose fiat
// notional clears the configured threshold. When nothing qualifies it returns
// the (+inf, -inf) sentinel pair; callers must treat min > max as "no data".
func (m *MarketProvider) PriceRange(deals []core.OrderInfo) (float64, float64) {
	minPrice, maxPrice := math.Inf(1), math.Inf(-1)
	for _, deal := range deals {
		if !deal.IsBuy || deal.FiatAmount.LessThan(m.minNotional) {
			continue
		}
		price, _ := deal.Price.Float64()
		if price < minPrice {
			minPrice = price
		}
		if price > maxPrice {
			maxPrice = price
		}
	}
	return minPrice, maxPrice
}

// DailyCandles fetches intraday OHLCV buckets and folds them into one candle
// per UTC calendar day.
func (m *MarketProvider) DailyCandles(ctx context.Context, pair core.CurrencyPair) ([]core.CandleInfo, error) {
	endpoint := endpointCandles + "/high/" + pair.Symbol()
	parsed, err := m.client.Request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "candles %s", pair)
	}
	raw, ok := parsed["trades"].([]any)
	if !ok {
		return nil, errors.Wrapf(core.ErrMalformedResponse, "candles %s: no trades", pair)
	}
	buckets := make([]candleBucket, 0, len(raw))
	for _, item := range raw {
		bucket, ok := parseCandleBucket(item)
		if !ok {
			continue
		}
		buckets = append(buckets, bucket)
	}
	return foldDaily(buckets), nil
}

type candleBucket struct {
	ts                     time.Time
	open, high, low, close decimal.Decimal
}

// parseCandleBucket validates one raw tuple: exactly 6 numeric fields,
// [timestamp-ms, open, high, low, close, volume]. Malformed tuples are
// discarded by the caller.
func parseCandleBucket(item any) (candleBucket, bool) {
	fields, ok := item.([]any)
	if !ok || len(fields) != 6 {
		return candleBucket{}, false
	}
	values := make([]decimal.Decimal, 6)
	for i, f := range fields {
		v, ok := toDecimal(f)
		if !ok {
			return candleBucket{}, false
		}
		values[i] = v
	}
	ms := values[0].IntPart()
	return candleBucket{
		ts:    time.UnixMilli(ms).UTC(),
		open:  values[1],
		high:  values[2],
		low:   values[3],
		close: values[4],
	}, true
}

// foldDaily merges consecutive same-day buckets: open of the day's first
// bucket, close of its last, extrema across the day.
func foldDaily(buckets []candleBucket) []core.CandleInfo {
	if len(buckets) == 0 {
		return []core.CandleInfo{}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].ts.Before(buckets[j].ts) })

	candles := make([]core.CandleInfo, 0, len(buckets))
	day := dayOf(buckets[0].ts)
	acc := newDailyCandle(day, buckets[0])
	for _, bucket := range buckets[1:] {
		if d := dayOf(bucket.ts); !d.Equal(day) {
			candles = append(candles, acc)
			day = d
			acc = newDailyCandle(day, bucket)
			continue
		}
		if bucket.high.GreaterThan(acc.High) {
			acc.High = bucket.high
		}
		if bucket.low.LessThan(acc.Low) {
			acc.Low = bucket.low
		}
		acc.Close = bucket.close
	}
	return append(candles, acc)
}

func newDailyCandle(day time.Time, b candleBucket) core.CandleInfo {
	return core.CandleInfo{Date: day, Open: b.open, High: b.high, Low: b.low, Close: b.close}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseOrderInfo(row map[string]any, isBuy bool) (core.OrderInfo, bool) {
	fiat, ok := toDecimal(row["amnt_base"])
	if !ok {
		return core.OrderInfo{}, false
	}
	crypto, ok := toDecimal(row["amnt_trade"])
	if !ok {
		return core.OrderInfo{}, false
	}
	price, ok := toDecimal(row["price"])
	if !ok {
		return core.OrderInfo{}, false
	}
	user, _ := row["user"].(string)
	return core.OrderInfo{
		FiatAmount:   fiat,
		CryptoAmount: crypto,
		Price:        price,
		User:         user,
		IsBuy:        isBuy,
	}, true
}
