package sync

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// RouteType represents the type of sync route
type RouteType string

const (
	RouteTypePrimary  RouteType = "primary"
	RouteTypeFallback RouteType = "fallback"
)

// Offline is the route name reported when no route answers
const Offline = "offline"

// RouteConfig is one base URL of the remote store
type RouteConfig struct {
	URL      string        `json:"url" yaml:"url"`
	Type     RouteType     `json:"type" yaml:"type"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Priority int           `json:"priority" yaml:"priority"` // lower = preferred
}

// RouteSwitch tracks when routes are switched
type RouteSwitch struct {
	FromRoute string    `json:"from"`
	ToRoute   string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RouteStatus tracks the health of a route
type RouteStatus struct {
	URL          string        `json:"url"`
	IsAvailable  bool          `json:"is_available"`
	LastCheck    time.Time     `json:"last_check"`
	LastSuccess  *time.Time    `json:"last_success,omitempty"`
	LastFailure  *time.Time    `json:"last_failure,omitempty"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
	latencySum   time.Duration
	latencyCount int
}

// ConnectionManager probes the configured routes and serves as the
// engine's connectivity oracle
type ConnectionManager struct {
	mu sync.RWMutex

	routes        []RouteConfig
	currentRoute  string
	routeStatuses map[string]*RouteStatus
	routeHistory  []RouteSwitch
	isOnline      bool

	healthCheckInterval time.Duration
	running             bool
	stop                chan struct{}
	done                chan struct{}

	httpClient  *http.Client
	onReconnect []func(route string)
	log         *log.Logger
}

var _ Connectivity = (*ConnectionManager)(nil)

// NewConnectionManager creates a connection manager. Routes are tried in
// priority order.
func NewConnectionManager(routes []RouteConfig, logger *log.Logger) *ConnectionManager {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	sorted := append([]RouteConfig(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	cm := &ConnectionManager{
		routes:              sorted,
		currentRoute:        Offline,
		routeStatuses:       make(map[string]*RouteStatus),
		healthCheckInterval: 30 * time.Second,
		httpClient:          &http.Client{Timeout: 10 * time.Second},
		log:                 logger,
	}
	for _, route := range sorted {
		cm.routeStatuses[route.URL] = &RouteStatus{URL: route.URL}
	}
	return cm
}

// OnReconnect registers fn to run on every offline to online transition
func (cm *ConnectionManager) OnReconnect(fn func(route string)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onReconnect = append(cm.onReconnect, fn)
}

// SetHealthCheckInterval sets the health check interval; call before Start
func (cm *ConnectionManager) SetHealthCheckInterval(interval time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.healthCheckInterval = interval
}

// Start selects an initial route and begins health checking
func (cm *ConnectionManager) Start() {
	cm.mu.Lock()
	if cm.running {
		cm.mu.Unlock()
		return
	}
	cm.running = true
	cm.stop = make(chan struct{})
	cm.done = make(chan struct{})
	interval, stop, done := cm.healthCheckInterval, cm.stop, cm.done
	cm.mu.Unlock()

	go cm.healthCheckLoop(interval, stop, done)
}

// Stop stops health checking and waits for the loop to exit
func (cm *ConnectionManager) Stop() {
	cm.mu.Lock()
	if !cm.running {
		cm.mu.Unlock()
		return
	}
	cm.running = false
	close(cm.stop)
	done := cm.done
	cm.mu.Unlock()
	<-done
}

// IsAvailable implements Connectivity
func (cm *ConnectionManager) IsAvailable() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isOnline
}

// CurrentRoute returns the selected base URL, or Offline
func (cm *ConnectionManager) CurrentRoute() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.currentRoute
}

// BaseURL returns the current route, falling back to the preferred one
// while offline so callers still produce a well-formed request
func (cm *ConnectionManager) BaseURL() (string, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.currentRoute != Offline {
		return cm.currentRoute, nil
	}
	if len(cm.routes) > 0 {
		return cm.routes[0].URL, nil
	}
	return "", fmt.Errorf("no sync routes configured")
}

// RouteStatuses returns a copy of all route statuses
func (cm *ConnectionManager) RouteStatuses() []RouteStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	result := make([]RouteStatus, 0, len(cm.routes))
	for _, route := range cm.routes {
		result = append(result, *cm.routeStatuses[route.URL])
	}
	return result
}

// RouteHistory returns the last route switches
func (cm *ConnectionManager) RouteHistory() []RouteSwitch {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]RouteSwitch(nil), cm.routeHistory...)
}

// CheckNow probes the routes in priority order and selects the first
// healthy one. It returns the selected route or Offline.
func (cm *ConnectionManager) CheckNow(ctx context.Context) string {
	cm.mu.RLock()
	routes := cm.routes
	cm.mu.RUnlock()

	selected := Offline
	for _, route := range routes {
		if cm.probe(ctx, route) {
			selected = route.URL
			break
		}
	}
	cm.switchTo(selected)
	return selected
}

func (cm *ConnectionManager) switchTo(route string) {
	cm.mu.Lock()
	from := cm.currentRoute
	wasOnline := cm.isOnline
	cm.currentRoute = route
	cm.isOnline = route != Offline
	reason := "route_available"
	switch {
	case route == Offline:
		reason = "all_routes_unavailable"
	case !wasOnline:
		reason = "health_check_reconnect"
	}
	cm.logRouteSwitch(from, route, reason)
	var callbacks []func(string)
	if !wasOnline && cm.isOnline {
		callbacks = append(callbacks, cm.onReconnect...)
	}
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(route)
	}
}

// probe tests one route with GET {url}/health
func (cm *ConnectionManager) probe(ctx context.Context, route RouteConfig) bool {
	timeout := route.Timeout
	if timeout <= 0 {
		timeout = cm.httpClient.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ok, detail := false, ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.URL+"/health", nil)
	if err == nil {
		var resp *http.Response
		resp, err = cm.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			ok = resp.StatusCode == http.StatusOK
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
	}
	if err != nil {
		detail = err.Error()
	}
	latency := time.Since(start)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	status := cm.routeStatuses[route.URL]
	now := time.Now()
	status.LastCheck = now
	status.IsAvailable = ok
	if ok {
		status.SuccessCount++
		status.LastSuccess = &now
		status.FailureCount = 0
		status.latencySum += latency
		status.latencyCount++
		status.AvgLatency = status.latencySum / time.Duration(status.latencyCount)
	} else {
		status.FailureCount++
		status.LastFailure = &now
		cm.log.Printf("Route %s unavailable: %s", route.URL, detail)
	}
	return ok
}

// logRouteSwitch must be called with cm.mu held
func (cm *ConnectionManager) logRouteSwitch(fromRoute, toRoute, reason string) {
	if fromRoute == toRoute {
		return
	}
	cm.routeHistory = append(cm.routeHistory, RouteSwitch{
		FromRoute: fromRoute,
		ToRoute:   toRoute,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	// Keep only last 100 switches
	if len(cm.routeHistory) > 100 {
		cm.routeHistory = cm.routeHistory[len(cm.routeHistory)-100:]
	}
	cm.log.Printf("🔀 Route switched: %s -> %s (reason: %s)", fromRoute, toRoute, reason)
}

func (cm *ConnectionManager) healthCheckLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	cm.CheckNow(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cm.CheckNow(ctx)
		case <-stop:
			return
		}
	}
}
