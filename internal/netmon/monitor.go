// Package netmon tracks whether the authoritative server is reachable and
// which configured route to use. Transitions are published to subscribers
// as a stream of booleans.
package netmon

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/config"
)

// RouteSwitch tracks when routes are switched
type RouteSwitch struct {
	FromRoute string
	ToRoute   string
	Reason    string
	Timestamp time.Time
}

// RouteStatus tracks the health of a route
type RouteStatus struct {
	URL          string
	IsAvailable  bool
	LastCheck    time.Time
	LastSuccess  *time.Time
	LastFailure  *time.Time
	SuccessCount int
	FailureCount int
	AvgLatency   time.Duration
	latencySum   time.Duration
	latencyCount int
}

// Monitor publishes online/offline transitions and selects the best route
type Monitor struct {
	mu sync.RWMutex

	routes   []config.SyncRouteConfig
	statuses map[string]*RouteStatus
	history  []RouteSwitch

	currentRoute string
	online       bool

	subs   map[int]chan bool
	nextID int

	httpClient *http.Client
	log        logrus.FieldLogger
}

// New creates a monitor for routes, ordered by priority. It starts offline
// until the first Check or Set.
func New(routes []config.SyncRouteConfig, logger logrus.FieldLogger) *Monitor {
	sorted := append([]config.SyncRouteConfig(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	m := &Monitor{
		routes:     sorted,
		statuses:   make(map[string]*RouteStatus),
		subs:       make(map[int]chan bool),
		httpClient: &http.Client{},
		log:        logger.WithField("component", "netmon"),
	}
	for _, r := range sorted {
		m.statuses[r.URL] = &RouteStatus{URL: r.URL}
	}
	return m
}

// Subscribe returns a channel receiving the latest online state on every
// transition, and a cancel func. The channel holds only the newest value so
// a slow reader never blocks the monitor and never sees a stale state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Online reports the last known state
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// CurrentRoute returns the selected server URL, or "" while offline
func (m *Monitor) CurrentRoute() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.online {
		return ""
	}
	return m.currentRoute
}

// Set applies an external connectivity signal (OS network callback).
// Going online selects the highest priority route until a Check says otherwise.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online && m.currentRoute == "" && len(m.routes) > 0 {
		m.currentRoute = m.routes[0].URL
	}
	m.setOnlineLocked(online, "external_signal")
}

// Check tries routes in priority order and switches to the first healthy
// one. Without configured routes the externally set state is kept.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.RLock()
	routes := m.routes
	m.mu.RUnlock()

	if len(routes) == 0 {
		return m.Online()
	}

	selected := ""
	for _, r := range routes {
		if m.testConnection(ctx, r) {
			selected = r.URL
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if selected == "" {
		m.setOnlineLocked(false, "all_routes_failed")
		return false
	}

	reason := "health_check_reconnect"
	if m.online {
		reason = "route_changed"
		if m.priorityLocked(selected) < m.priorityLocked(m.currentRoute) {
			reason = "primary_restored"
		}
	}
	m.logRouteSwitchLocked(m.currentRoute, selected, reason)
	m.currentRoute = selected
	m.setOnlineLocked(true, reason)
	return true
}

// Statuses returns a copy of every route status
func (m *Monitor) Statuses() []RouteStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RouteStatus, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, *m.statuses[r.URL])
	}
	return out
}

// History returns recent route switches
func (m *Monitor) History() []RouteSwitch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RouteSwitch(nil), m.history...)
}

// testConnection tests if a route answers /health with 200
func (m *Monitor) testConnection(ctx context.Context, route config.SyncRouteConfig) bool {
	timeout := time.Duration(route.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ok := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.URL+"/health", nil)
	if err == nil {
		resp, doErr := m.httpClient.Do(req)
		if doErr != nil {
			err = doErr
		} else {
			resp.Body.Close()
			ok = resp.StatusCode == http.StatusOK
		}
	}
	latency := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.statuses[route.URL]
	now := time.Now()
	status.LastCheck = now
	if !ok {
		status.IsAvailable = false
		status.FailureCount++
		status.LastFailure = &now
		m.log.WithField("route", route.URL).WithError(err).Debug("Route health check failed")
		return false
	}

	status.IsAvailable = true
	status.SuccessCount++
	status.FailureCount = 0
	status.LastSuccess = &now
	status.latencySum += latency
	status.latencyCount++
	status.AvgLatency = status.latencySum / time.Duration(status.latencyCount)
	return true
}

func (m *Monitor) setOnlineLocked(online bool, reason string) {
	if m.online == online {
		return
	}
	m.online = online
	if online {
		m.log.WithFields(logrus.Fields{"route": m.currentRoute, "reason": reason}).Info("🌐 Online")
	} else {
		m.log.WithField("reason", reason).Warn("📴 Offline")
	}

	for _, ch := range m.subs {
		// Replace any unread value with the newest one
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}

func (m *Monitor) priorityLocked(url string) int {
	for _, r := range m.routes {
		if r.URL == url {
			return r.Priority
		}
	}
	return 999
}

// logRouteSwitchLocked records a route switch
func (m *Monitor) logRouteSwitchLocked(fromRoute, toRoute, reason string) {
	if fromRoute == toRoute {
		return
	}

	m.history = append(m.history, RouteSwitch{
		FromRoute: fromRoute,
		ToRoute:   toRoute,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	// Keep only last 100 switches
	if len(m.history) > 100 {
		m.history = m.history[len(m.history)-100:]
	}

	m.log.WithFields(logrus.Fields{"from": fromRoute, "to": toRoute, "reason": reason}).Info("🔀 Route switched")
}
