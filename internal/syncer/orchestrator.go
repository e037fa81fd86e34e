// Package syncer drives the polling loops that keep the local state store
// converged with the exchange.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tradesync/internal/core"
	"tradesync/internal/exchange"
	"tradesync/internal/history"
	"tradesync/internal/persist"
	"tradesync/internal/state"
)

const defaultPollInterval = 10 * time.Second

type Options struct {
	Market       exchange.MarketData
	Account      exchange.AccountData
	Store        *state.Store
	Gateway      persist.Gateway
	Credentials  core.Credentials
	Pairs        []core.CurrencyPair
	PollInterval time.Duration
	// HistoryAnchor bounds the backward deal-history walk.
	HistoryAnchor time.Time
	Log           *logrus.Entry
}

type pairPagers struct {
	current  *history.Pager
	backward *history.Pager
}

// Orchestrator owns one poll loop per data kind: order books, the public
// trade tape with candles, balances, and open orders with deal history. Each
// cycle fetches fresh snapshots and hands them to the store, which does all
// merging. Commands (place, cancel) run inline on the caller's goroutine and
// kick an immediate orders re-poll so optimistic records reconcile quickly.
type Orchestrator struct {
	market   exchange.MarketData
	account  exchange.AccountData
	store    *state.Store
	gateway  persist.Gateway
	creds    core.Credentials
	pairs    []core.CurrencyPair
	interval time.Duration
	log      *logrus.Entry

	pagers map[core.CurrencyPair]*pairPagers

	kickBooks    chan struct{}
	kickTape     chan struct{}
	kickBalances chan struct{}
	kickOrders   chan struct{}
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Market == nil || opts.Account == nil || opts.Store == nil {
		return nil, errors.New("syncer: market, account and store are required")
	}
	if len(opts.Pairs) == 0 {
		return nil, errors.New("syncer: at least one pair is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	pagers := make(map[core.CurrencyPair]*pairPagers, len(opts.Pairs))
	for _, pair := range opts.Pairs {
		pagers[pair] = &pairPagers{
			current:  history.New(history.ModeCurrent, opts.HistoryAnchor),
			backward: history.New(history.ModeBackward, opts.HistoryAnchor),
		}
	}
	return &Orchestrator{
		market:       opts.Market,
		account:      opts.Account,
		store:        opts.Store,
		gateway:      opts.Gateway,
		creds:        opts.Credentials,
		pairs:        opts.Pairs,
		interval:     interval,
		log:          log,
		pagers:       pagers,
		kickBooks:    make(chan struct{}, 1),
		kickTape:     make(chan struct{}, 1),
		kickBalances: make(chan struct{}, 1),
		kickOrders:   make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is canceled. Persisted balances are restored first so
// consumers see last known holdings before the first network round-trip. Each
// data kind gets its own loop goroutine so a slow endpoint never delays the
// others.
func (o *Orchestrator) Run(ctx context.Context) {
	o.bootstrap()

	loops := []pollLoop{
		{o.kickBooks, o.pollBooks},
		{o.kickTape, o.pollTape},
	}
	if o.creds.Empty() {
		o.log.WithField("event", "unauthenticated_mode").
			Info("no credentials configured, account polling disabled")
	} else {
		loops = append(loops,
			pollLoop{o.kickBalances, o.pollBalances},
			pollLoop{o.kickOrders, o.pollOrders},
		)
	}

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l pollLoop) {
			defer wg.Done()
			o.loop(ctx, l.kicks, l.poll)
		}(l)
	}
	wg.Wait()
}

type pollLoop struct {
	kicks <-chan struct{}
	poll  func(context.Context)
}

// RefreshAll schedules an immediate poll of every loop without waiting for
// the next tick. Non-blocking; a kick already pending is enough.
func (o *Orchestrator) RefreshAll() {
	kick(o.kickBooks)
	kick(o.kickTape)
	kick(o.kickBalances)
	kick(o.kickOrders)
}

// PlaceOrder submits the order and tracks it optimistically: the returned id
// enters the store with the publishing status until an open-orders snapshot
// confirms or reconciles it.
func (o *Orchestrator) PlaceOrder(ctx context.Context, pair core.CurrencyPair, side core.Side, amount, price decimal.Decimal) (string, error) {
	if o.creds.Empty() {
		return "", core.ErrUnauthorized
	}
	id, err := o.account.PlaceOrder(ctx, pair, side, amount, price, o.creds)
	if err != nil {
		return "", err
	}
	o.store.AssignOrderStatus(pair, core.OrderStatusInfo{
		ID:              id,
		Status:          core.OrderPublishing,
		Date:            time.Now().UTC(),
		Pair:            pair,
		InitialAmount:   amount,
		RemainingAmount: amount,
		Price:           price,
		Type:            side,
	})
	kick(o.kickOrders)
	return id, nil
}

// CancelOrder requests cancellation and removes the order from view
// optimistically via the cancelling mark.
func (o *Orchestrator) CancelOrder(ctx context.Context, pair core.CurrencyPair, id string) error {
	if o.creds.Empty() {
		return core.ErrUnauthorized
	}
	if err := o.account.CancelOrder(ctx, id, o.creds); err != nil {
		return err
	}
	o.store.MarkCancelling(pair, id)
	kick(o.kickOrders)
	return nil
}

// RefreshOrder fetches one order's server-side record and merges it. A nil
// record means the server could not resolve the id; the store is left alone.
func (o *Orchestrator) RefreshOrder(ctx context.Context, id string) error {
	if o.creds.Empty() {
		return core.ErrUnauthorized
	}
	info, err := o.account.OrderStatus(ctx, id, o.creds)
	if err != nil {
		return err
	}
	if info != nil {
		o.store.AssignOrderStatus(info.Pair, *info)
	}
	return nil
}

func (o *Orchestrator) bootstrap() {
	if o.gateway == nil {
		return
	}
	items, err := o.gateway.Load()
	if err != nil {
		o.log.WithField("event", "balance_restore_failed").WithError(err).
			Warn("could not restore checkpointed balances")
		return
	}
	for _, item := range items {
		o.store.AssignBalance(item)
	}
	o.log.WithFields(logrus.Fields{
		"event": "balances_restored",
		"count": len(items),
	}).Info("restored checkpointed balances")
}

func (o *Orchestrator) loop(ctx context.Context, kicks <-chan struct{}, poll func(context.Context)) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll(ctx)
		case <-kicks:
			poll(ctx)
		}
	}
}

// pollBooks refreshes both depth sides for every pair. A failed fetch leaves
// the previous snapshot in place; partial order books are never assigned.
func (o *Orchestrator) pollBooks(ctx context.Context) {
	for _, pair := range o.pairs {
		if ctx.Err() != nil {
			return
		}
		o.pollOrderBook(ctx, pair)
	}
}

// pollTape refreshes the public trade tape and candles for every pair.
func (o *Orchestrator) pollTape(ctx context.Context) {
	for _, pair := range o.pairs {
		if ctx.Err() != nil {
			return
		}
		o.pollRecentDeals(ctx, pair)
		o.pollCandles(ctx, pair)
	}
}

func (o *Orchestrator) pollOrderBook(ctx context.Context, pair core.CurrencyPair) {
	buy, err := o.market.OrderBook(ctx, pair, core.Buy)
	if err != nil {
		o.pollFailed(pair, "order_book", err)
		return
	}
	sell, err := o.market.OrderBook(ctx, pair, core.Sell)
	if err != nil {
		o.pollFailed(pair, "order_book", err)
		return
	}
	o.store.AssignOrderBook(pair, buy, sell)
}

func (o *Orchestrator) pollRecentDeals(ctx context.Context, pair core.CurrencyPair) {
	deals, err := o.market.RecentDeals(ctx, pair)
	if err != nil {
		o.pollFailed(pair, "recent_deals", err)
		return
	}
	o.store.AssignRecentDeals(pair, deals)
}

func (o *Orchestrator) pollCandles(ctx context.Context, pair core.CurrencyPair) {
	candles, err := o.market.DailyCandles(ctx, pair)
	if err != nil {
		o.pollFailed(pair, "candles", err)
		return
	}
	o.store.AssignCandles(pair, candles)
}

// pollOrders refreshes open orders and deal history for every pair.
func (o *Orchestrator) pollOrders(ctx context.Context) {
	for _, pair := range o.pairs {
		if ctx.Err() != nil {
			return
		}
		o.pollOpenOrders(ctx, pair)
		o.pollDeals(ctx, pair)
	}
}

// pollBalances refreshes holdings and checkpoints them to the gateway after
// each successful fetch.
func (o *Orchestrator) pollBalances(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	items, err := o.account.Balances(ctx, o.creds)
	if err != nil {
		o.log.WithField("event", "balances_poll_failed").WithError(err).Warn("balances poll failed")
		return
	}
	for _, item := range items {
		o.store.AssignBalance(item)
	}
	if o.gateway == nil {
		return
	}
	if err := o.gateway.Save(o.store.BalanceList()); err != nil {
		o.log.WithField("event", "balance_checkpoint_failed").WithError(err).
			Warn("could not checkpoint balances")
	}
}

func (o *Orchestrator) pollOpenOrders(ctx context.Context, pair core.CurrencyPair) {
	list, err := o.account.OpenOrders(ctx, pair, o.creds)
	if err != nil {
		o.pollFailed(pair, "open_orders", err)
		return
	}
	if list == nil {
		// Indeterminate response: merging an empty snapshot here would count
		// a missed poll against publishing orders on bad data.
		return
	}
	o.store.AssignUserOrders(pair, list)
}

func (o *Orchestrator) pollDeals(ctx context.Context, pair core.CurrencyPair) {
	pagers := o.pagers[pair]
	if pagers == nil {
		return
	}
	o.pollDealsWindow(ctx, pair, pagers.current)
	o.pollDealsWindow(ctx, pair, pagers.backward)
}

func (o *Orchestrator) pollDealsWindow(ctx context.Context, pair core.CurrencyPair, pager *history.Pager) {
	rng, ok := pager.Begin()
	if !ok {
		return
	}
	deals, err := o.account.UserDeals(ctx, pair, rng, o.creds)
	if err != nil {
		pager.Finish(rng, false)
		o.pollFailed(pair, "user_deals", err)
		return
	}
	pager.Finish(rng, true)
	o.store.AssignUserDeals(pair, deals)
}

func (o *Orchestrator) pollFailed(pair core.CurrencyPair, what string, err error) {
	o.log.WithFields(logrus.Fields{
		"event": what + "_poll_failed",
		"pair":  pair.String(),
	}).WithError(err).Warn("poll failed, keeping previous snapshot")
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
