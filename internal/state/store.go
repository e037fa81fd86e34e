package state

import (
	"sort"
	"sync"

	"tradesync/internal/core"
	"tradesync/internal/notify"
)

// Publisher receives change notifications after each successful mutation.
type Publisher interface {
	Publish(notify.Event)
}

// OrderBook holds both depth sides of one pair.
type OrderBook struct {
	Buy  []core.OrderInfo
	Sell []core.OrderInfo
}

type orderEntry struct {
	info core.OrderStatusInfo
	// missedPolls counts consecutive open-orders snapshots that did not
	// contain this locally-created publishing order.
	missedPolls int
}

const defaultMaxMissedPolls = 3

// Store is the authoritative in-memory model: balances, order books,
// candles, public deals, user orders and user deals, all keyed by currency
// pair. One mutex serializes every mutation, so no two merges for the same
// pair interleave and no reader observes a partial write. Notifications fire
// after the lock is released.
type Store struct {
	hub            Publisher
	maxMissedPolls int

	mu          sync.RWMutex
	balances    map[core.Currency]core.BalanceItem
	books       map[core.CurrencyPair]OrderBook
	candles     map[core.CurrencyPair][]core.CandleInfo
	recentDeals map[core.CurrencyPair][]core.OrderInfo
	orders      map[core.CurrencyPair][]orderEntry
	deals       map[core.CurrencyPair][]core.DealInfo
	dealIDs     map[core.CurrencyPair]map[string]struct{}
	// cancelling marks ids optimistically removed ahead of server
	// confirmation; cleared once the server stops reporting the id.
	cancelling map[core.CurrencyPair]map[string]struct{}
}

type Options struct {
	// MaxMissedPolls is how many consecutive open-orders snapshots a
	// publishing order may be absent from before it is reconciled away.
	MaxMissedPolls int
}

func New(hub Publisher) *Store {
	return NewWithOptions(hub, Options{MaxMissedPolls: defaultMaxMissedPolls})
}

func NewWithOptions(hub Publisher, opts Options) *Store {
	maxMissed := opts.MaxMissedPolls
	if maxMissed <= 0 {
		maxMissed = defaultMaxMissedPolls
	}
	return &Store{
		hub:            hub,
		maxMissedPolls: maxMissed,
		balances:       make(map[core.Currency]core.BalanceItem),
		books:          make(map[core.CurrencyPair]OrderBook),
		candles:        make(map[core.CurrencyPair][]core.CandleInfo),
		recentDeals:    make(map[core.CurrencyPair][]core.OrderInfo),
		orders:         make(map[core.CurrencyPair][]orderEntry),
		deals:          make(map[core.CurrencyPair][]core.DealInfo),
		dealIDs:        make(map[core.CurrencyPair]map[string]struct{}),
		cancelling:     make(map[core.CurrencyPair]map[string]struct{}),
	}
}

func (s *Store) publish(events ...notify.Event) {
	if s.hub == nil {
		return
	}
	for _, ev := range events {
		s.hub.Publish(ev)
	}
}

// AssignBalance upserts the latest known amount for one currency.
func (s *Store) AssignBalance(item core.BalanceItem) {
	s.mu.Lock()
	s.balances[item.Currency] = item
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventBalanceUpdated, Currency: item.Currency})
}

// BalanceList returns the held balances in the fixed currency order.
func (s *Store) BalanceList() []core.BalanceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]core.BalanceItem, 0, len(s.balances))
	for _, currency := range core.Currencies {
		if item, ok := s.balances[currency]; ok {
			items = append(items, item)
		}
	}
	return items
}

// AssignOrderBook replaces both depth sides of the pair wholesale.
func (s *Store) AssignOrderBook(pair core.CurrencyPair, buy, sell []core.OrderInfo) {
	s.mu.Lock()
	s.books[pair] = OrderBook{Buy: copyOrders(buy), Sell: copyOrders(sell)}
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventOrderBookUpdated, Pair: pair})
}

func (s *Store) OrderBook(pair core.CurrencyPair) OrderBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book := s.books[pair]
	return OrderBook{Buy: copyOrders(book.Buy), Sell: copyOrders(book.Sell)}
}

func (s *Store) AssignRecentDeals(pair core.CurrencyPair, deals []core.OrderInfo) {
	s.mu.Lock()
	s.recentDeals[pair] = copyOrders(deals)
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventRecentDealsUpdated, Pair: pair})
}

func (s *Store) RecentDeals(pair core.CurrencyPair) []core.OrderInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyOrders(s.recentDeals[pair])
}

func (s *Store) AssignCandles(pair core.CurrencyPair, candles []core.CandleInfo) {
	s.mu.Lock()
	s.candles[pair] = append([]core.CandleInfo(nil), candles...)
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventCandlesUpdated, Pair: pair})
}

func (s *Store) Candles(pair core.CurrencyPair) []core.CandleInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.CandleInfo(nil), s.candles[pair]...)
}

// AssignOrderStatus merges one order record. An existing id is replaced for
// open statuses and removed for terminal ones; an unknown id is appended only
// while its status is open or speculative. Terminal merges are idempotent.
func (s *Store) AssignOrderStatus(pair core.CurrencyPair, info core.OrderStatusInfo) {
	s.mu.Lock()
	entries := s.orders[pair]
	idx := -1
	for i, e := range entries {
		if e.info.ID == info.ID {
			idx = i
			break
		}
	}
	switch {
	case idx >= 0 && info.Status.Terminal():
		entries = append(entries[:idx], entries[idx+1:]...)
	case idx >= 0:
		entries[idx] = orderEntry{info: info}
	case info.Status.Terminal():
		// Unknown terminal order: nothing to surface.
	default:
		entries = append(entries, orderEntry{info: info})
	}
	if info.Status == core.OrderCancelling {
		s.markCancellingLocked(pair, info.ID)
	}
	s.orders[pair] = entries
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventOrdersUpdated, Pair: pair})
}

// MarkCancelling flags an id for optimistic removal ahead of server
// confirmation and flips the tracked entry to the cancelling status.
func (s *Store) MarkCancelling(pair core.CurrencyPair, id string) {
	s.mu.Lock()
	s.markCancellingLocked(pair, id)
	entries := s.orders[pair]
	for i, e := range entries {
		if e.info.ID == id {
			entries[i].info.Status = core.OrderCancelling
			break
		}
	}
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventOrdersUpdated, Pair: pair})
}

func (s *Store) markCancellingLocked(pair core.CurrencyPair, id string) {
	ids := s.cancelling[pair]
	if ids == nil {
		ids = make(map[string]struct{})
		s.cancelling[pair] = ids
	}
	ids[id] = struct{}{}
}

// AssignUserOrders replaces the per-pair list with a server snapshot, except:
// ids locally marked cancelling are dropped, unconfirmed publishing orders
// are re-appended, and a publishing order missing from too many consecutive
// snapshots is reconciled away as rejected.
func (s *Store) AssignUserOrders(pair core.CurrencyPair, list []core.OrderStatusInfo) {
	s.mu.Lock()
	cancelling := s.cancelling[pair]
	serverIDs := make(map[string]struct{}, len(list))
	for _, info := range list {
		serverIDs[info.ID] = struct{}{}
	}

	next := make([]orderEntry, 0, len(list))
	for _, info := range list {
		if _, dropping := cancelling[info.ID]; dropping {
			continue
		}
		next = append(next, orderEntry{info: info})
	}

	var failed []string
	for _, e := range s.orders[pair] {
		switch e.info.Status {
		case core.OrderPublishing:
			if _, confirmed := serverIDs[e.info.ID]; confirmed {
				continue // the server record above supersedes it
			}
			e.missedPolls++
			if e.missedPolls >= s.maxMissedPolls {
				failed = append(failed, e.info.ID)
				continue
			}
			next = append(next, e)
		case core.OrderCancelling:
			if _, stillListed := serverIDs[e.info.ID]; stillListed {
				next = append(next, e)
			} else if cancelling != nil {
				// Confirmed gone from the server list.
				delete(cancelling, e.info.ID)
			}
		}
	}
	s.orders[pair] = next
	s.mu.Unlock()

	events := make([]notify.Event, 0, 1+len(failed))
	events = append(events, notify.Event{Kind: notify.EventOrdersUpdated, Pair: pair})
	for _, id := range failed {
		events = append(events, notify.Event{Kind: notify.EventOrderFailed, Pair: pair, OrderID: id})
	}
	s.publish(events...)
}

func (s *Store) UserOrders(pair core.CurrencyPair) []core.OrderStatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.orders[pair]
	orders := make([]core.OrderStatusInfo, 0, len(entries))
	for _, e := range entries {
		orders = append(orders, e.info)
	}
	return orders
}

// AssignUserDeals merges a fetched page into the per-pair history:
// append-only by id, kept sorted by date descending.
func (s *Store) AssignUserDeals(pair core.CurrencyPair, list []core.DealInfo) {
	s.mu.Lock()
	ids := s.dealIDs[pair]
	if ids == nil {
		ids = make(map[string]struct{})
		s.dealIDs[pair] = ids
	}
	deals := s.deals[pair]
	for _, deal := range list {
		if _, seen := ids[deal.ID]; seen {
			continue
		}
		ids[deal.ID] = struct{}{}
		deals = append(deals, deal)
	}
	sort.SliceStable(deals, func(i, j int) bool { return deals[i].Date.After(deals[j].Date) })
	s.deals[pair] = deals
	s.mu.Unlock()
	s.publish(notify.Event{Kind: notify.EventDealsUpdated, Pair: pair})
}

func (s *Store) UserDeals(pair core.CurrencyPair) []core.DealInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.DealInfo(nil), s.deals[pair]...)
}

func copyOrders(src []core.OrderInfo) []core.OrderInfo {
	if src == nil {
		return nil
	}
	return append([]core.OrderInfo(nil), src...)
}
