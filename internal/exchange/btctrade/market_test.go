package btctrade

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

var btcUAH = core.CurrencyPair{Primary: core.BTC, Secondary: core.UAH}

func newMarketServer(t *testing.T, routes map[string]string) (*MarketProvider, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	m := NewMarketProvider(newTestClient(srv.URL), decimal.NewFromInt(20))
	return m, srv.Close
}

func TestOrderBookDropsMalformedRows(t *testing.T) {
	m, closeSrv := newMarketServer(t, map[string]string{
		"/trades/buy/btc_uah": `{"list": [
			{"amnt_base": "3000.00", "amnt_trade": "0.002", "price": "1500000", "user": "alice"},
			{"amnt_base": "broken", "amnt_trade": "0.001", "price": "1500000"},
			{"amnt_trade": "0.001", "price": "1500000"},
			{"amnt_base": 4500.0, "amnt_trade": 0.003, "price": 1500000}
		]}`,
	})
	defer closeSrv()

	book, err := m.OrderBook(context.Background(), btcUAH, core.Buy)
	if err != nil {
		t.Fatalf("OrderBook() error = %v", err)
	}
	if len(book) != 2 {
		t.Fatalf("OrderBook() kept %d rows, want 2", len(book))
	}
	if book[0].User != "alice" || !book[0].IsBuy {
		t.Fatalf("OrderBook()[0] = %+v, want alice buy row", book[0])
	}
	if book[1].FiatAmount.String() != "4500" {
		t.Fatalf("OrderBook()[1].FiatAmount = %s, want 4500 from JSON number", book[1].FiatAmount)
	}
}

func TestOrderBookMissingList(t *testing.T) {
	m, closeSrv := newMarketServer(t, map[string]string{
		"/trades/sell/btc_uah": `{"something_else": []}`,
	})
	defer closeSrv()

	_, err := m.OrderBook(context.Background(), btcUAH, core.Sell)
	if !errors.Is(err, core.ErrMalformedResponse) {
		t.Fatalf("OrderBook() error = %v, want ErrMalformedResponse", err)
	}
}

func TestRecentDealsBareArray(t *testing.T) {
	m, closeSrv := newMarketServer(t, map[string]string{
		"/deals/btc_uah": `[
			{"amnt_base": "3000", "amnt_trade": "0.002", "price": "1500000", "type": "buy"},
			{"amnt_base": "1500", "amnt_trade": "0.001", "price": "1500000", "type": "sell"}
		]`,
	})
	defer closeSrv()

	deals, err := m.RecentDeals(context.Background(), btcUAH)
	if err != nil {
		t.Fatalf("RecentDeals() error = %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("RecentDeals() = %d rows, want 2", len(deals))
	}
	if !deals[0].IsBuy || deals[1].IsBuy {
		t.Fatalf("RecentDeals() sides = %v/%v, want buy then sell", deals[0].IsBuy, deals[1].IsBuy)
	}
}

func TestPriceRange(t *testing.T) {
	m := NewMarketProvider(nil, decimal.NewFromInt(20))
	deals := []core.OrderInfo{
		{IsBuy: true, FiatAmount: decimal.NewFromInt(100), Price: decimal.NewFromInt(1400000)},
		{IsBuy: true, FiatAmount: decimal.NewFromInt(100), Price: decimal.NewFromInt(1600000)},
		// Below the notional threshold.
		{IsBuy: true, FiatAmount: decimal.NewFromInt(5), Price: decimal.NewFromInt(1)},
		// Sell side never counts.
		{IsBuy: false, FiatAmount: decimal.NewFromInt(100), Price: decimal.NewFromInt(9000000)},
	}
	minPrice, maxPrice := m.PriceRange(deals)
	if minPrice != 1400000 || maxPrice != 1600000 {
		t.Fatalf("PriceRange() = %v, %v, want 1400000, 1600000", minPrice, maxPrice)
	}
}

func TestPriceRangeEmpty(t *testing.T) {
	m := NewMarketProvider(nil, decimal.NewFromInt(20))
	minPrice, maxPrice := m.PriceRange(nil)
	if !math.IsInf(minPrice, 1) || !math.IsInf(maxPrice, -1) {
		t.Fatalf("PriceRange(nil) = %v, %v, want +Inf, -Inf", minPrice, maxPrice)
	}
}

func TestDailyCandlesFold(t *testing.T) {
	day1 := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	ms := func(t time.Time) int64 { return t.UnixMilli() }

	m, closeSrv := newMarketServer(t, map[string]string{
		"/japan_stat/high/btc_uah": `{"trades": [
			[` + itoa(ms(day2.Add(3*time.Hour))) + `, 105, 112, 104, 110, 1],
			[` + itoa(ms(day1.Add(1*time.Hour))) + `, 100, 103, 99, 102, 1],
			[` + itoa(ms(day1.Add(8*time.Hour))) + `, 102, 108, 101, 105, 1],
			["broken", 1, 2],
			[` + itoa(ms(day1.Add(4*time.Hour))) + `, 102, 104, 95, 103, 1]
		]}`,
	})
	defer closeSrv()

	candles, err := m.DailyCandles(context.Background(), btcUAH)
	if err != nil {
		t.Fatalf("DailyCandles() error = %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("DailyCandles() = %d candles, want 2", len(candles))
	}

	first := candles[0]
	if !first.Date.Equal(day1) {
		t.Fatalf("candle[0].Date = %v, want %v", first.Date, day1)
	}
	if first.Open.String() != "100" || first.Close.String() != "105" {
		t.Fatalf("candle[0] open/close = %s/%s, want 100/105", first.Open, first.Close)
	}
	if first.High.String() != "108" || first.Low.String() != "95" {
		t.Fatalf("candle[0] high/low = %s/%s, want 108/95", first.High, first.Low)
	}

	second := candles[1]
	if !second.Date.Equal(day2) || second.Open.String() != "105" {
		t.Fatalf("candle[1] = %+v, want day2 candle opening at 105", second)
	}
}

func itoa(n int64) string {
	return decimal.NewFromInt(n).String()
}
