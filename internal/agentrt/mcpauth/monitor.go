package mcpauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentmesh/core/internal/observability"
)

// RefreshThreshold is the window before a token's expiry during which the
// monitor attempts a proactive refresh.
const RefreshThreshold = 5 * time.Minute

// DefaultCheckInterval is how often the monitor scans tracked servers when
// no other interval is configured.
const DefaultCheckInterval = 60 * time.Second

// MonitorEventType enumerates the events the refresh monitor emits.
type MonitorEventType string

const (
	EventExpiringSoon  MonitorEventType = "auth:expiring_soon"
	EventExpired       MonitorEventType = "auth:expired"
	EventRefreshed     MonitorEventType = "auth:refreshed"
	EventRefreshFailed MonitorEventType = "auth:refresh_failed"
)

// MonitorEvent is what OnEvent handlers receive.
type MonitorEvent struct {
	Type    MonitorEventType
	Server  string
	Message string
}

// MonitorHandler reacts to a MonitorEvent. A panicking handler is caught
// and logged; it never stops the monitor or later handlers in the same
// cycle.
type MonitorHandler func(MonitorEvent)

// RefreshMonitor is a ticker loop that proactively refreshes
// tokens nearing expiry.
type RefreshMonitor struct {
	store    *TokenStore
	factory  *ProviderFactory
	interval time.Duration
	now      func() time.Time
	logger   *observability.Logger

	mu       sync.Mutex
	tracked  map[string]AuthConfig
	order    []string
	handlers []MonitorHandler
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// MonitorOption configures a RefreshMonitor.
type MonitorOption func(*RefreshMonitor)

func WithMonitorInterval(d time.Duration) MonitorOption {
	return func(m *RefreshMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *RefreshMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMonitorLogger(logger *observability.Logger) MonitorOption {
	return func(m *RefreshMonitor) {
		m.logger = logger
	}
}

// NewRefreshMonitor builds a monitor driving refreshes through factory and
// persisting through store.
func NewRefreshMonitor(store *TokenStore, factory *ProviderFactory, opts ...MonitorOption) *RefreshMonitor {
	m := &RefreshMonitor{
		store:    store,
		factory:  factory,
		interval: DefaultCheckInterval,
		now:      time.Now,
		tracked:  make(map[string]AuthConfig),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track begins watching serverName's token for proactive refresh.
func (m *RefreshMonitor) Track(serverName string, cfg AuthConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tracked[serverName]; !exists {
		m.order = append(m.order, serverName)
	}
	m.tracked[serverName] = cfg
}

// Untrack stops watching serverName.
func (m *RefreshMonitor) Untrack(serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, serverName)
	for i, name := range m.order {
		if name == serverName {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// OnEvent registers a handler invoked synchronously, in registration
// order, for every event a check cycle raises.
func (m *RefreshMonitor) OnEvent(h MonitorHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins the periodic check loop. It is a no-op if already started.
func (m *RefreshMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.CheckOnce(loopCtx)
			}
		}
	}()
}

// Stop cancels the check loop and waits for it to exit.
func (m *RefreshMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.started = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckOnce runs a single check cycle over every tracked server. It is
// exported so tests can drive the monitor deterministically without
// waiting on the ticker.
func (m *RefreshMonitor) CheckOnce(ctx context.Context) {
	m.mu.Lock()
	servers := make([]string, len(m.order))
	copy(servers, m.order)
	configs := make(map[string]AuthConfig, len(m.tracked))
	for k, v := range m.tracked {
		configs[k] = v
	}
	m.mu.Unlock()

	for _, server := range servers {
		cfg := configs[server]
		m.checkServer(ctx, server, cfg)
	}
}

func (m *RefreshMonitor) checkServer(ctx context.Context, server string, cfg AuthConfig) {
	token, ok := m.store.Load(server)
	if !ok || token.ExpiresAt == nil {
		return
	}

	msLeft := token.ExpiresAt.Sub(m.now())
	switch {
	case msLeft <= 0:
		m.emit(MonitorEvent{Type: EventExpired, Server: server, Message: "token has expired"})
	case msLeft <= RefreshThreshold:
		if token.RefreshToken == "" {
			m.emit(MonitorEvent{Type: EventExpiringSoon, Server: server, Message: fmt.Sprintf("token expires in %s with no refresh token available", msLeft.Round(time.Second))})
			return
		}
		refreshed, err := m.factory.RefreshToken(ctx, server, cfg, token.RefreshToken)
		if err != nil {
			m.emit(MonitorEvent{Type: EventRefreshFailed, Server: server, Message: err.Error()})
			return
		}
		if err := m.store.Save(server, refreshed); err != nil {
			m.emit(MonitorEvent{Type: EventRefreshFailed, Server: server, Message: err.Error()})
			return
		}
		m.emit(MonitorEvent{Type: EventRefreshed, Server: server, Message: "token refreshed"})
	}
}

func (m *RefreshMonitor) emit(event MonitorEvent) {
	m.mu.Lock()
	handlers := make([]MonitorHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		m.callHandler(h, event)
	}
}

func (m *RefreshMonitor) callHandler(h MonitorHandler, event MonitorEvent) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error(context.Background(), "mcpauth: refresh monitor handler panicked", "panic", r, "event_type", event.Type)
		}
	}()
	h(event)
}
