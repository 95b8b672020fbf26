package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/lumenwallet/custody/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	// EventBuffer is how many transitions a subscriber may fall behind
	// before it starts losing the oldest ones.
	EventBuffer  = 64
	probeTimeout = 5 * time.Second
)

// Monitor tracks whether the ledger network is reachable and notifies
// subscribers of every transition, in order. A subscriber more than
// EventBuffer transitions behind loses the oldest pending ones; what it
// still receives stays in order and always ends with the current state.
type Monitor struct {
	lock        *sync.Mutex
	online      bool
	broadcaster *broadcaster[ports.ConnectivityEvent]

	dial      func(ctx context.Context, network, address string) (net.Conn, error)
	stopProbe context.CancelFunc
	probeWg   *sync.WaitGroup
}

var _ ports.ConnectivityMonitor = (*Monitor)(nil)

func NewMonitor(online bool) *Monitor {
	dialer := &net.Dialer{Timeout: probeTimeout}
	return &Monitor{
		lock:        &sync.Mutex{},
		online:      online,
		broadcaster: newBroadcaster[ports.ConnectivityEvent](EventBuffer),
		dial:        dialer.DialContext,
		probeWg:     &sync.WaitGroup{},
	}
}

func (m *Monitor) IsOnline() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.online
}

func (m *Monitor) Subscribe() chan ports.ConnectivityEvent {
	return m.broadcaster.subscribe()
}

func (m *Monitor) Unsubscribe(ch chan ports.ConnectivityEvent) {
	m.broadcaster.unsubscribe(ch)
}

// SetOnline records the current reachability. Only actual changes are
// published.
func (m *Monitor) SetOnline(online bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	event := ports.BecameOffline
	if online {
		event = ports.BecameOnline
	}
	log.Debugf("connectivity: %s", event)

	if dropped := m.broadcaster.publish(event); dropped > 0 {
		log.Warnf("connectivity: dropped %d stale events for slow subscribers", dropped)
	}
}

// StartProbing periodically dials address over TCP and updates the state
// with the outcome. It stops when ctx is done or Stop is called.
func (m *Monitor) StartProbing(ctx context.Context, address string, interval time.Duration) {
	m.lock.Lock()
	if m.stopProbe != nil {
		m.lock.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.stopProbe = cancel
	m.lock.Unlock()

	m.probeWg.Add(1)
	go func() {
		defer m.probeWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			online := m.probe(ctx, address)
			if ctx.Err() != nil {
				return
			}
			m.SetOnline(online)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Check dials address once and records the outcome.
func (m *Monitor) Check(ctx context.Context, address string) bool {
	online := m.probe(ctx, address)
	m.SetOnline(online)
	return online
}

// Stop ends probing and closes every subscription.
func (m *Monitor) Stop() {
	m.lock.Lock()
	cancel := m.stopProbe
	m.stopProbe = nil
	m.lock.Unlock()

	if cancel != nil {
		cancel()
		m.probeWg.Wait()
	}
	m.broadcaster.close()
}

func (m *Monitor) probe(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", address)
	if err != nil {
		log.WithError(err).Debugf("connectivity: probe of %s failed", address)
		return false
	}
	//nolint:errcheck
	conn.Close()
	return true
}
