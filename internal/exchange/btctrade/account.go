package btctrade

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

// AccountProvider fetches authenticated data and issues order commands.
// Credentials travel with every call; an empty pair is rejected locally
// before any request is built.
type AccountProvider struct {
	client *Client
}

func NewAccountProvider(client *Client) *AccountProvider {
	return &AccountProvider{client: client}
}

func (a *AccountProvider) Balances(ctx context.Context, creds core.Credentials) ([]core.BalanceItem, error) {
	if creds.Empty() {
		return nil, core.ErrUnauthorized
	}
	parsed, err := a.client.Request(ctx, http.MethodPost, endpointBalances, nil, &creds)
	if err != nil {
		return nil, errors.Wrap(err, "balances")
	}
	rows, ok := objectList(parsed, "accounts")
	if !ok {
		return nil, errors.Wrap(core.ErrMalformedResponse, "balances: no accounts")
	}
	items := make([]core.BalanceItem, 0, len(rows))
	for _, row := range rows {
		code, _ := row["currency"].(string)
		currency, ok := core.ParseCurrency(code)
		if !ok {
			continue
		}
		amount, ok := toDecimal(row["balance"])
		if !ok {
			continue
		}
		items = append(items, core.BalanceItem{Currency: currency, Amount: amount})
	}
	return items, nil
}

// OpenOrders returns (nil, nil) when the response lacks the open-orders key.
// That means "could not determine", and callers must keep their previous
// state rather than treating it as zero orders.
func (a *AccountProvider) OpenOrders(ctx context.Context, pair core.CurrencyPair, creds core.Credentials) ([]core.OrderStatusInfo, error) {
	if creds.Empty() {
		return nil, core.ErrUnauthorized
	}
	parsed, err := a.client.Request(ctx, http.MethodPost, endpointOpenOrders+"/"+pair.Symbol(), nil, &creds)
	if err != nil {
		return nil, errors.Wrapf(err, "open orders %s", pair)
	}
	rows, ok := objectList(parsed, "your_open_orders")
	if !ok {
		return nil, nil
	}
	orders := make([]core.OrderStatusInfo, 0, len(rows))
	for _, row := range rows {
		info, ok := parseOrderStatus(row, pair)
		if !ok {
			continue
		}
		orders = append(orders, info)
	}
	return orders, nil
}

func (a *AccountProvider) PlaceOrder(ctx context.Context, pair core.CurrencyPair, side core.Side, amount, price decimal.Decimal, creds core.Credentials) (string, error) {
	if creds.Empty() {
		return "", core.ErrUnauthorized
	}
	params := []Param{
		{Key: "count", Value: formatCrypto(amount)},
		{Key: "price", Value: formatFiat(price)},
		{Key: "currency1", Value: string(pair.Secondary)},
		{Key: "currency", Value: string(pair.Primary)},
	}
	parsed, err := a.client.Request(ctx, http.MethodPost, string(side)+"/"+pair.Symbol(), params, &creds)
	if err != nil {
		return "", errors.Wrapf(err, "place %s %s", side, pair)
	}
	id, ok := toString(parsed["order_id"])
	if !ok || id == "" {
		return "", errors.Wrapf(core.ErrIncompleteRecord, "place %s %s: no order_id", side, pair)
	}
	return id, nil
}

// CancelOrder is fire-and-forget: the server sends no confirmation payload,
// removal is observed on a later open-orders poll.
func (a *AccountProvider) CancelOrder(ctx context.Context, id string, creds core.Credentials) error {
	if creds.Empty() {
		return core.ErrUnauthorized
	}
	_, err := a.client.Request(ctx, http.MethodPost, endpointCancelOrder+"/"+id, nil, &creds)
	return errors.Wrapf(err, "cancel order %s", id)
}

// OrderStatus returns (nil, nil) when the record cannot be fully parsed:
// unrecognized status strings or missing fields drop the whole record, never
// a partially populated struct.
func (a *AccountProvider) OrderStatus(ctx context.Context, id string, creds core.Credentials) (*core.OrderStatusInfo, error) {
	if creds.Empty() {
		return nil, core.ErrUnauthorized
	}
	parsed, err := a.client.Request(ctx, http.MethodPost, endpointOrderStatus+"/"+id, nil, &creds)
	if err != nil {
		return nil, errors.Wrapf(err, "order status %s", id)
	}
	pairStr, _ := parsed["pair"].(string)
	pair, perr := core.ParsePair(pairStr)
	if perr != nil {
		return nil, nil
	}
	info, ok := parseOrderStatus(parsed, pair)
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (a *AccountProvider) UserDeals(ctx context.Context, pair core.CurrencyPair, rng core.DateRange, creds core.Credentials) ([]core.DealInfo, error) {
	if creds.Empty() {
		return nil, core.ErrUnauthorized
	}
	params := []Param{
		{Key: "start_date", Value: rng.Begin.UTC().Format(rangeDate)},
		{Key: "end_date", Value: rng.End.UTC().Format(rangeDate)},
	}
	parsed, err := a.client.Request(ctx, http.MethodPost, endpointMyDeals+"/"+pair.Symbol(), params, &creds)
	if err != nil {
		return nil, errors.Wrapf(err, "user deals %s", pair)
	}
	rows, ok := objectList(parsed, "deals")
	if !ok {
		return nil, errors.Wrapf(core.ErrMalformedResponse, "user deals %s: no deals", pair)
	}
	deals := make([]core.DealInfo, 0, len(rows))
	for _, row := range rows {
		deal, ok := parseDeal(row, pair)
		if !ok {
			continue
		}
		deals = append(deals, deal)
	}
	return deals, nil
}

func parseOrderStatus(row map[string]any, pair core.CurrencyPair) (core.OrderStatusInfo, bool) {
	id, ok := toString(row["id"])
	if !ok || id == "" {
		return core.OrderStatusInfo{}, false
	}
	rawStatus, _ := row["status"].(string)
	status, ok := serverStatuses[rawStatus]
	if !ok {
		return core.OrderStatusInfo{}, false
	}
	date, ok := toTime(row["pub_date"])
	if !ok {
		return core.OrderStatusInfo{}, false
	}
	initial, ok := toDecimal(row["amnt_init"])
	if !ok {
		return core.OrderStatusInfo{}, false
	}
	remaining, ok := toDecimal(row["amnt_remains"])
	if !ok {
		return core.OrderStatusInfo{}, false
	}
	price, ok := toDecimal(row["price"])
	if !ok {
		return core.OrderStatusInfo{}, false
	}
	side, ok := parseSide(row["type"])
	if !ok {
		return core.OrderStatusInfo{}, false
	}
	return core.OrderStatusInfo{
		ID:              id,
		Status:          status,
		Date:            date,
		Pair:            pair,
		InitialAmount:   initial,
		RemainingAmount: remaining,
		Price:           price,
		Type:            side,
	}, true
}

func parseDeal(row map[string]any, pair core.CurrencyPair) (core.DealInfo, bool) {
	id, ok := toString(row["id"])
	if !ok || id == "" {
		return core.DealInfo{}, false
	}
	date, ok := toTime(row["pub_date"])
	if !ok {
		return core.DealInfo{}, false
	}
	crypto, ok := toDecimal(row["amnt_trade"])
	if !ok {
		return core.DealInfo{}, false
	}
	fiat, ok := toDecimal(row["amnt_base"])
	if !ok {
		return core.DealInfo{}, false
	}
	price, ok := toDecimal(row["price"])
	if !ok {
		return core.DealInfo{}, false
	}
	side, ok := parseSide(row["type"])
	if !ok {
		return core.DealInfo{}, false
	}
	return core.DealInfo{
		ID:           id,
		Date:         date,
		Pair:         pair,
		CryptoAmount: crypto,
		FiatAmount:   fiat,
		Price:        price,
		Type:         side,
	}, true
}

func parseSide(v any) (core.Side, bool) {
	s, _ := v.(string)
	switch core.Side(s) {
	case core.Buy:
		return core.Buy, true
	case core.Sell:
		return core.Sell, true
	default:
		return "", false
	}
}
