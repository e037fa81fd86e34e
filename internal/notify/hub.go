package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tradesync/internal/core"
)

type EventKind string

const (
	EventBalanceUpdated       EventKind = "balance_updated"
	EventOrderBookUpdated     EventKind = "order_book_updated"
	EventRecentDealsUpdated   EventKind = "recent_deals_updated"
	EventCandlesUpdated       EventKind = "candles_updated"
	EventOrdersUpdated        EventKind = "orders_updated"
	EventDealsUpdated         EventKind = "deals_updated"
	EventOrderFailed          EventKind = "order_failed"
	EventConnectivityLost     EventKind = "connectivity_lost"
	EventConnectivityRestored EventKind = "connectivity_restored"
)

// Event is one change notification. Pair, Currency and OrderID are filled
// depending on the kind.
type Event struct {
	Kind     EventKind
	Pair     core.CurrencyPair
	Currency core.Currency
	OrderID  string
}

const (
	defaultQueueSize          = 256
	defaultDropReportInterval = time.Minute
)

// Hub fans events out to subscribers on a dedicated goroutine so publishers
// (the store, under its lock path) never block on a slow consumer. When the
// queue is full events are dropped and accounted, not queued unboundedly.
type Hub struct {
	log *logrus.Entry

	queue chan Event
	stop  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	dropReportInterval   time.Duration
	droppedTotal         uint64
	droppedSinceReported uint64

	mu          sync.RWMutex
	subscribers map[uuid.UUID]func(Event)
	closed      bool
}

type HubOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
}

func NewHub(log *logrus.Entry) *Hub {
	return NewHubWithOptions(log, HubOptions{
		QueueSize:          defaultQueueSize,
		DropReportInterval: defaultDropReportInterval,
	})
}

func NewHubWithOptions(log *logrus.Entry, opts HubOptions) *Hub {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	reportInterval := opts.DropReportInterval
	if reportInterval < 0 {
		reportInterval = 0
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Hub{
		log:                log,
		queue:              make(chan Event, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: reportInterval,
		subscribers:        make(map[uuid.UUID]func(Event)),
	}
	h.wg.Add(1)
	go h.loop()
	if h.dropReportInterval > 0 {
		h.wg.Add(1)
		go h.dropReportLoop()
	}
	go func() {
		h.wg.Wait()
		close(h.done)
	}()
	return h
}

// Subscribe registers fn for every event and returns a token for Unsubscribe.
// fn runs on the hub goroutine and must not block.
func (h *Hub) Subscribe(fn func(Event)) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return id
	}
	h.subscribers[id] = fn
	return id
}

func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	select {
	case h.queue <- ev:
		h.mu.RUnlock()
	default:
		droppedTotal := atomic.AddUint64(&h.droppedTotal, 1)
		droppedInWindow := atomic.AddUint64(&h.droppedSinceReported, 1)
		h.mu.RUnlock()
		if droppedInWindow == 1 {
			h.log.WithFields(logrus.Fields{
				"event":         "notify_queue_dropped",
				"target_kind":   string(ev.Kind),
				"dropped_total": droppedTotal,
				"queue_cap":     cap(h.queue),
			}).Warn("notification dropped, queue full")
		}
	}
}

// Close drains the queue and stops dispatching. Publish and Subscribe become
// no-ops afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.stop)
	done := h.done
	h.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer h.wg.Done()
	for {
		select {
		case ev := <-h.queue:
			h.dispatch(ev)
		case <-h.stop:
			for {
				select {
				case ev := <-h.queue:
					h.dispatch(ev)
				default:
					h.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (h *Hub) dropReportLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.reportDroppedSummary()
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) reportDroppedSummary() {
	dropped := atomic.SwapUint64(&h.droppedSinceReported, 0)
	if dropped == 0 {
		return
	}
	h.log.WithFields(logrus.Fields{
		"event":              "notify_queue_dropped_report",
		"dropped_since_last": dropped,
		"dropped_total":      atomic.LoadUint64(&h.droppedTotal),
	}).Warn("notifications dropped since last report")
}
