package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

// MarketData serves public endpoints that need no credentials.
type MarketData interface {
	OrderBook(ctx context.Context, pair core.CurrencyPair, side core.Side) ([]core.OrderInfo, error)
	RecentDeals(ctx context.Context, pair core.CurrencyPair) ([]core.OrderInfo, error)
	DailyCandles(ctx context.Context, pair core.CurrencyPair) ([]core.CandleInfo, error)
}

// AccountData serves authenticated endpoints and order commands. Credentials
// travel with each call so the orchestrator stays the single place that
// decides whether the engine is authenticated.
type AccountData interface {
	Balances(ctx context.Context, creds core.Credentials) ([]core.BalanceItem, error)
	// OpenOrders returns (nil, nil) when the server response lacks the
	// open-orders key: "could not determine", distinct from an empty list.
	OpenOrders(ctx context.Context, pair core.CurrencyPair, creds core.Credentials) ([]core.OrderStatusInfo, error)
	PlaceOrder(ctx context.Context, pair core.CurrencyPair, side core.Side, amount, price decimal.Decimal, creds core.Credentials) (string, error)
	CancelOrder(ctx context.Context, id string, creds core.Credentials) error
	OrderStatus(ctx context.Context, id string, creds core.Credentials) (*core.OrderStatusInfo, error)
	UserDeals(ctx context.Context, pair core.CurrencyPair, rng core.DateRange, creds core.Credentials) ([]core.DealInfo, error)
}
