package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tradesync/internal/core"
	"tradesync/internal/notify"
)

// Prober is the cheap public call the monitor samples; the exchange offers
// no dedicated health endpoint.
type Prober interface {
	RecentDeals(ctx context.Context, pair core.CurrencyPair) ([]core.OrderInfo, error)
}

type Publisher interface {
	Publish(notify.Event)
}

const defaultProbeInterval = 10 * time.Second

// Monitor probes the exchange on a fixed interval and flags connectivity
// transitions. Events are edge-triggered: one per loss, one per recovery,
// never repeated while the state holds. There is no backoff or active
// recovery; loss is detected, not repaired.
type Monitor struct {
	probe    Prober
	pair     core.CurrencyPair
	interval time.Duration
	hub      Publisher
	log      *logrus.Entry

	mu sync.Mutex
	up bool
}

func NewMonitor(probe Prober, pair core.CurrencyPair, interval time.Duration, hub Publisher, log *logrus.Entry) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{
		probe:    probe,
		pair:     pair,
		interval: interval,
		hub:      hub,
		log:      log,
		up:       true,
	}
}

// Up reports the last observed state.
func (m *Monitor) Up() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one probe and fires a transition event if the state flipped.
// A transport error or an empty result both count as "down".
func (m *Monitor) Check(ctx context.Context) {
	deals, err := m.probe.RecentDeals(ctx, m.pair)
	if ctx.Err() != nil {
		return
	}
	reachable := err == nil && len(deals) > 0

	m.mu.Lock()
	changed := reachable != m.up
	m.up = reachable
	m.mu.Unlock()
	if !changed {
		return
	}

	if reachable {
		m.log.WithField("event", "connectivity_restored").Info("exchange reachable again")
		if m.hub != nil {
			m.hub.Publish(notify.Event{Kind: notify.EventConnectivityRestored})
		}
		return
	}
	entry := m.log.WithField("event", "connectivity_lost")
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("exchange unreachable")
	if m.hub != nil {
		m.hub.Publish(notify.Event{Kind: notify.EventConnectivityLost})
	}
}
