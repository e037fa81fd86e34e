package state

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradesync/internal/core"
	"tradesync/internal/notify"
)

var btcUAH = core.CurrencyPair{Primary: core.BTC, Secondary: core.UAH}

// recorder collects published events synchronously for assertions.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofKind(kind notify.EventKind) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func order(id string, status core.OrderStatus) core.OrderStatusInfo {
	return core.OrderStatusInfo{
		ID:     id,
		Status: status,
		Date:   time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
		Pair:   btcUAH,
		Type:   core.Buy,
	}
}

func ids(orders []core.OrderStatusInfo) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func TestBalanceUpsert(t *testing.T) {
	rec := &recorder{}
	s := New(rec)

	s.AssignBalance(core.BalanceItem{Currency: core.BTC, Amount: decimal.NewFromInt(1)})
	s.AssignBalance(core.BalanceItem{Currency: core.UAH, Amount: decimal.NewFromInt(100)})
	s.AssignBalance(core.BalanceItem{Currency: core.BTC, Amount: decimal.NewFromInt(2)})

	list := s.BalanceList()
	if len(list) != 2 {
		t.Fatalf("BalanceList() = %d items, want 2", len(list))
	}
	// Fixed currency order: UAH before BTC.
	if list[0].Currency != core.UAH || list[1].Currency != core.BTC {
		t.Fatalf("BalanceList() order = %v, %v, want UAH, BTC", list[0].Currency, list[1].Currency)
	}
	if list[1].Amount.String() != "2" {
		t.Fatalf("BTC balance = %s, want overwritten to 2", list[1].Amount)
	}
	if got := len(rec.ofKind(notify.EventBalanceUpdated)); got != 3 {
		t.Fatalf("balance events = %d, want 3", got)
	}
}

func TestAssignOrderStatusMerge(t *testing.T) {
	s := New(nil)

	s.AssignOrderStatus(btcUAH, order("1", core.OrderPending))
	s.AssignOrderStatus(btcUAH, order("2", core.OrderPending))
	if got := ids(s.UserOrders(btcUAH)); len(got) != 2 {
		t.Fatalf("UserOrders() = %v, want two open orders", got)
	}

	// Replacing an open order keeps exactly one entry.
	updated := order("1", core.OrderPending)
	updated.RemainingAmount = decimal.NewFromInt(5)
	s.AssignOrderStatus(btcUAH, updated)
	orders := s.UserOrders(btcUAH)
	if len(orders) != 2 || orders[0].RemainingAmount.String() != "5" {
		t.Fatalf("UserOrders() after replace = %+v, want updated order 1", orders)
	}

	// Terminal removes; repeating the terminal merge is idempotent.
	s.AssignOrderStatus(btcUAH, order("1", core.OrderCompleted))
	s.AssignOrderStatus(btcUAH, order("1", core.OrderCompleted))
	if got := ids(s.UserOrders(btcUAH)); len(got) != 1 || got[0] != "2" {
		t.Fatalf("UserOrders() after terminal = %v, want [2]", got)
	}

	// Unknown terminal id never appears.
	s.AssignOrderStatus(btcUAH, order("99", core.OrderCanceled))
	if got := ids(s.UserOrders(btcUAH)); len(got) != 1 {
		t.Fatalf("UserOrders() after unknown terminal = %v, want [2]", got)
	}
}

func TestPublishingConfirmedExactlyOnce(t *testing.T) {
	s := New(nil)
	s.AssignOrderStatus(btcUAH, order("10", core.OrderPublishing))

	// Server confirms the order; the local publishing entry must be
	// superseded, not duplicated.
	s.AssignUserOrders(btcUAH, []core.OrderStatusInfo{order("10", core.OrderPending)})
	orders := s.UserOrders(btcUAH)
	if len(orders) != 1 {
		t.Fatalf("UserOrders() = %v, want exactly one entry for id 10", ids(orders))
	}
	if orders[0].Status != core.OrderPending {
		t.Fatalf("UserOrders()[0].Status = %s, want pending", orders[0].Status)
	}
}

func TestPublishingSurvivesMissedPolls(t *testing.T) {
	rec := &recorder{}
	s := NewWithOptions(rec, Options{MaxMissedPolls: 3})
	s.AssignOrderStatus(btcUAH, order("10", core.OrderPublishing))

	// Two empty snapshots: still held as publishing.
	s.AssignUserOrders(btcUAH, nil)
	s.AssignUserOrders(btcUAH, nil)
	if got := ids(s.UserOrders(btcUAH)); len(got) != 1 || got[0] != "10" {
		t.Fatalf("UserOrders() after 2 misses = %v, want [10]", got)
	}
	if failed := rec.ofKind(notify.EventOrderFailed); len(failed) != 0 {
		t.Fatalf("order failed events after 2 misses = %d, want 0", len(failed))
	}

	// Third miss reconciles it away and reports failure once.
	s.AssignUserOrders(btcUAH, nil)
	if got := s.UserOrders(btcUAH); len(got) != 0 {
		t.Fatalf("UserOrders() after 3 misses = %v, want empty", ids(got))
	}
	failed := rec.ofKind(notify.EventOrderFailed)
	if len(failed) != 1 || failed[0].OrderID != "10" {
		t.Fatalf("order failed events = %+v, want one for id 10", failed)
	}
}

func TestCancellingHidesServerRow(t *testing.T) {
	s := New(nil)
	s.AssignUserOrders(btcUAH, []core.OrderStatusInfo{order("20", core.OrderPending)})
	s.MarkCancelling(btcUAH, "20")

	if got := s.UserOrders(btcUAH); len(got) != 1 || got[0].Status != core.OrderCancelling {
		t.Fatalf("UserOrders() after mark = %+v, want cancelling entry", got)
	}

	// Server still lists the order: it stays hidden behind the local
	// cancelling entry instead of resurrecting as pending.
	s.AssignUserOrders(btcUAH, []core.OrderStatusInfo{order("20", core.OrderPending)})
	orders := s.UserOrders(btcUAH)
	if len(orders) != 1 || orders[0].Status != core.OrderCancelling {
		t.Fatalf("UserOrders() while server lists = %+v, want cancelling only", orders)
	}

	// Server stops listing it: the entry clears completely.
	s.AssignUserOrders(btcUAH, nil)
	if got := s.UserOrders(btcUAH); len(got) != 0 {
		t.Fatalf("UserOrders() after server drop = %v, want empty", ids(got))
	}

	// A later snapshot containing the id again must not be filtered: the
	// cancelling mark was cleared.
	s.AssignUserOrders(btcUAH, []core.OrderStatusInfo{order("20", core.OrderPending)})
	if got := s.UserOrders(btcUAH); len(got) != 1 || got[0].Status != core.OrderPending {
		t.Fatalf("UserOrders() after mark cleared = %+v, want pending entry", got)
	}
}

func TestUserDealsDedupAndOrder(t *testing.T) {
	s := New(nil)
	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }
	deal := func(id string, d int) core.DealInfo {
		return core.DealInfo{ID: id, Date: day(d), Pair: btcUAH, Type: core.Buy}
	}

	s.AssignUserDeals(btcUAH, []core.DealInfo{deal("a", 10), deal("b", 12)})
	s.AssignUserDeals(btcUAH, []core.DealInfo{deal("b", 12), deal("c", 11)})

	deals := s.UserDeals(btcUAH)
	if len(deals) != 3 {
		t.Fatalf("UserDeals() = %d deals, want 3 after dedup", len(deals))
	}
	for i := 1; i < len(deals); i++ {
		if deals[i].Date.After(deals[i-1].Date) {
			t.Fatalf("UserDeals() not date-descending: %v", deals)
		}
	}
	if deals[0].ID != "b" || deals[2].ID != "a" {
		t.Fatalf("UserDeals() order = %v, want b, c, a", ids3(deals))
	}
}

func ids3(deals []core.DealInfo) []string {
	out := make([]string, 0, len(deals))
	for _, d := range deals {
		out = append(out, d.ID)
	}
	return out
}

func TestOrderBookCopied(t *testing.T) {
	s := New(nil)
	buy := []core.OrderInfo{{Price: decimal.NewFromInt(1), IsBuy: true}}
	s.AssignOrderBook(btcUAH, buy, nil)

	book := s.OrderBook(btcUAH)
	book.Buy[0].Price = decimal.NewFromInt(999)
	if s.OrderBook(btcUAH).Buy[0].Price.String() != "1" {
		t.Fatal("OrderBook() returned aliased slice, mutation leaked into store")
	}
}

func TestConcurrentAssigns(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.AssignRecentDeals(btcUAH, []core.OrderInfo{{IsBuy: n%2 == 0}})
				s.RecentDeals(btcUAH)
				s.AssignBalance(core.BalanceItem{Currency: core.BTC, Amount: decimal.NewFromInt(int64(j))})
				s.BalanceList()
			}
		}(i)
	}
	wg.Wait()
}
