package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	UAH  Currency = "UAH"
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
	LTC  Currency = "LTC"
	XRP  Currency = "XRP"
	DOGE Currency = "DOGE"
	DASH Currency = "DASH"
)

// Currencies is the fixed set the exchange trades in.
var Currencies = []Currency{UAH, BTC, ETH, LTC, XRP, DOGE, DASH}

func ParseCurrency(s string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Currencies {
		if c == known {
			return c, true
		}
	}
	return "", false
}

func (c Currency) IsFiat() bool {
	return c == UAH
}

// CurrencyPair identifies one tradeable market. It is the key for all
// per-market state, so it must stay a comparable value type.
type CurrencyPair struct {
	Primary   Currency
	Secondary Currency
}

// Symbol is the wire name of the pair, e.g. "btc_uah".
func (p CurrencyPair) Symbol() string {
	return strings.ToLower(string(p.Primary)) + "_" + strings.ToLower(string(p.Secondary))
}

func (p CurrencyPair) String() string {
	return string(p.Primary) + "/" + string(p.Secondary)
}

func ParsePair(s string) (CurrencyPair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return CurrencyPair{}, fmt.Errorf("invalid pair %q, want PRIMARY/SECONDARY", s)
	}
	primary, ok := ParseCurrency(parts[0])
	if !ok {
		return CurrencyPair{}, fmt.Errorf("invalid pair %q: unknown currency %q", s, parts[0])
	}
	secondary, ok := ParseCurrency(parts[1])
	if !ok {
		return CurrencyPair{}, fmt.Errorf("invalid pair %q: unknown currency %q", s, parts[1])
	}
	if primary == secondary {
		return CurrencyPair{}, fmt.Errorf("invalid pair %q: currencies must differ", s)
	}
	return CurrencyPair{Primary: primary, Secondary: secondary}, nil
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderStatus string

const (
	// OrderPublishing is local-only: the order was submitted but the server
	// has not yet confirmed it in an open-orders snapshot.
	OrderPublishing OrderStatus = "publishing"
	OrderPending    OrderStatus = "pending"
	OrderCompleted  OrderStatus = "completed"
	// OrderCancelling is local-only: cancellation was requested but the
	// server still reports the order as open.
	OrderCancelling OrderStatus = "cancelling"
	OrderCanceled   OrderStatus = "canceled"
)

// Terminal reports whether the status ends the order's lifecycle on the server.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCanceled
}

// LocalOnly reports whether the status is speculative client state that the
// server never reports.
func (s OrderStatus) LocalOnly() bool {
	return s == OrderPublishing || s == OrderCancelling
}

// BalanceItem is the latest known holding of one currency. Balances carry no
// merge semantics: every poll overwrites the amount wholesale.
type BalanceItem struct {
	Currency Currency
	Amount   decimal.Decimal
}

// CandleInfo is a daily OHLC aggregate, folded from intraday buckets.
type CandleInfo struct {
	Date  time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// OrderInfo is a market-depth row or a public deal row. Ephemeral: replaced
// wholesale every poll, never merged.
type OrderInfo struct {
	FiatAmount   decimal.Decimal
	CryptoAmount decimal.Decimal
	Price        decimal.Decimal
	User         string
	IsBuy        bool
}

// OrderStatusInfo is a user-owned order. Status transitions follow
// publishing -> pending -> {completed, cancelling -> canceled}, where
// publishing and cancelling exist only on the client.
type OrderStatusInfo struct {
	ID              string
	Status          OrderStatus
	Date            time.Time
	Pair            CurrencyPair
	InitialAmount   decimal.Decimal
	RemainingAmount decimal.Decimal
	Price           decimal.Decimal
	Type            Side
}

// DealInfo is one completed (executed) user trade.
type DealInfo struct {
	ID           string
	Date         time.Time
	Pair         CurrencyPair
	CryptoAmount decimal.Decimal
	FiatAmount   decimal.Decimal
	Price        decimal.Decimal
	Type         Side
}

// DateRange is a half-open [Begin, End) interval used when paging deal history.
type DateRange struct {
	Begin time.Time
	End   time.Time
}

func (r DateRange) IsZero() bool {
	return r.Begin.IsZero() && r.End.IsZero()
}

// Credentials is the API key pair. An empty pair means the engine runs
// unauthenticated and serves public market data only.
type Credentials struct {
	PublicKey  string
	PrivateKey string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.PublicKey) == "" || strings.TrimSpace(c.PrivateKey) == ""
}
