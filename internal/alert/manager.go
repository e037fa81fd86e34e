package alert

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tradesync/internal/notify"
)

// Notifier delivers one rendered alert message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

const defaultAlertQueueSize = 128

// Manager forwards important events to a Notifier without ever blocking the
// caller: events queue on a bounded channel and are dropped (with a counter)
// when the sink cannot keep up.
type Manager struct {
	label    string
	notifier Notifier
	log      *logrus.Entry

	queue        chan alertEvent
	stop         chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
	droppedTotal uint64

	mu     sync.RWMutex
	closed bool
}

type alertEvent struct {
	event  string
	fields map[string]string
}

func NewManager(label string, notifier Notifier, log *logrus.Entry) *Manager {
	if notifier == nil {
		return nil
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		label:    label,
		notifier: notifier,
		log:      log,
		queue:    make(chan alertEvent, defaultAlertQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.loop()
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Manager) Important(event string, fields map[string]string) {
	if m == nil || m.notifier == nil {
		return
	}
	ev := alertEvent{event: event, fields: cloneFields(fields)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		dropped := atomic.AddUint64(&m.droppedTotal, 1)
		m.log.WithFields(logrus.Fields{
			"event":         "alert_dropped",
			"target_event":  event,
			"dropped_total": dropped,
		}).Warn("alert queue full")
	}
}

func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) send(ev alertEvent) {
	msg := m.render(ev)
	if err := m.notifier.Notify(context.Background(), msg); err != nil {
		m.log.WithFields(logrus.Fields{
			"event":        "alert_send_failed",
			"target_event": ev.event,
		}).WithError(err).Warn("alert delivery failed")
	}
}

func (m *Manager) render(ev alertEvent) string {
	var b strings.Builder
	b.WriteString("[" + m.label + "] " + ev.event)
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n" + k + ": " + ev.fields[k])
	}
	return b.String()
}

func cloneFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// BridgeHub subscribes the manager to the engine's notification hub and
// forwards the operator-relevant subset: connectivity transitions and
// rejected orders.
func BridgeHub(hub *notify.Hub, m *Manager) uuid.UUID {
	return hub.Subscribe(func(ev notify.Event) {
		switch ev.Kind {
		case notify.EventConnectivityLost:
			m.Important("connectivity_lost", nil)
		case notify.EventConnectivityRestored:
			m.Important("connectivity_restored", nil)
		case notify.EventOrderFailed:
			m.Important("order_failed", map[string]string{
				"pair":     ev.Pair.String(),
				"order_id": ev.OrderID,
			})
		}
	})
}
