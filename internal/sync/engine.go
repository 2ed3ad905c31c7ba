package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// EngineConfig controls when the engine starts cycles on its own
type EngineConfig struct {
	AutoSyncEnabled  bool
	AutoSyncInterval time.Duration
	SyncOnStartup    bool
	// StartupDelay lets the connection manager pick a route first
	StartupDelay time.Duration
}

// HistoryRecorder persists one row per finished cycle
type HistoryRecorder interface {
	RecordCycle(ctx context.Context, report *CycleReport) error
}

// ScopeStatus is the state of one registered scope
type ScopeStatus struct {
	Scope      Scope        `json:"scope"`
	Cursor     Cursor       `json:"cursor"`
	InFlight   bool         `json:"in_flight"`
	LastReport *CycleReport `json:"last_report,omitempty"`
	CursorErr  string       `json:"cursor_error,omitempty"`
}

// EngineStatus is a snapshot of the engine
type EngineStatus struct {
	IsRunning bool          `json:"is_running"`
	IsOnline  bool          `json:"is_online"`
	LastSync  time.Time     `json:"last_sync"`
	Scopes    []ScopeStatus `json:"scopes"`
}

// Engine hosts one Syncer per entity type and schedules their cycles
type Engine struct {
	mu sync.RWMutex

	cfg     EngineConfig
	conn    Connectivity
	history HistoryRecorder
	log     *log.Logger

	syncers  map[EntityType]Syncer
	scopes   []Scope
	scopeSet map[Scope]bool

	isRunning bool
	stopped   bool
	lastSync  time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan *CycleReport
	nextSub int
}

// NewEngine creates an engine. history may be nil.
func NewEngine(cfg EngineConfig, conn Connectivity, history HistoryRecorder, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if conn == nil {
		conn = AlwaysOnline
	}
	if cfg.AutoSyncInterval <= 0 {
		cfg.AutoSyncInterval = 5 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		conn:     conn,
		history:  history,
		log:      logger,
		syncers:  make(map[EntityType]Syncer),
		scopeSet: make(map[Scope]bool),
		subs:     make(map[int]chan *CycleReport),
	}
}

// Register adds the syncer of one entity type
func (e *Engine) Register(s Syncer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.syncers[s.EntityType()]; dup {
		return fmt.Errorf("syncer for %s already registered", s.EntityType())
	}
	e.syncers[s.EntityType()] = s
	return nil
}

// AddScope registers a scope for periodic and full syncs
func (e *Engine) AddScope(scope Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.syncers[scope.Entity]; !ok {
		return fmt.Errorf("%w: no syncer for %s", ErrUnknownScope, scope.Entity)
	}
	if !e.scopeSet[scope] {
		e.scopeSet[scope] = true
		e.scopes = append(e.scopes, scope)
	}
	return nil
}

// Scopes returns the registered scopes in registration order
func (e *Engine) Scopes() []Scope {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Scope(nil), e.scopes...)
}

func (e *Engine) syncer(scope Scope) (Syncer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.syncers[scope.Entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	return s, nil
}

// Start starts the timers
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return ErrEngineRunning
	}
	if e.stopped {
		return ErrClosed
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})
	e.log.Println("🔄 Sync Engine starting...")

	if e.cfg.AutoSyncEnabled {
		e.wg.Add(1)
		go e.autoSyncLoop(e.stopChan)
	}

	if e.cfg.SyncOnStartup {
		e.wg.Add(1)
		go func(stop <-chan struct{}) {
			defer e.wg.Done()
			select {
			case <-time.After(e.cfg.StartupDelay):
				e.RequestFullSync()
			case <-stop:
			}
		}(e.stopChan)
	}

	e.log.Println("✅ Sync Engine started")
	return nil
}

// Stop stops the timers, cancels running cycles and closes every syncer.
// It also works on an engine that was never started. A stopped engine
// cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.isRunning {
		e.log.Println("🛑 Stopping Sync Engine...")
		e.isRunning = false
		close(e.stopChan)
	}
	e.stopped = true
	syncers := make([]Syncer, 0, len(e.syncers))
	for _, s := range e.syncers {
		syncers = append(syncers, s)
	}
	e.mu.Unlock()

	e.wg.Wait()
	for _, s := range syncers {
		s.Close()
	}

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()
	e.log.Println("✅ Sync Engine stopped")
}

// RequestFullSync triggers a cycle for every registered scope
func (e *Engine) RequestFullSync() []*Task {
	scopes := e.Scopes()
	e.log.Printf("📥 Full sync requested (%d scopes)", len(scopes))

	tasks := make([]*Task, 0, len(scopes))
	for _, scope := range scopes {
		t, err := e.Trigger(scope)
		if err != nil {
			e.log.Printf("⚠️ %v", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// OnReconnect is the connection manager callback for an offline to online edge
func (e *Engine) OnReconnect(route string) {
	e.log.Printf("🌐 Back online via %s", route)
	e.RequestFullSync()
}

// Trigger starts or joins a cycle for scope without waiting
func (e *Engine) Trigger(scope Scope) (*Task, error) {
	s, err := e.syncer(scope)
	if err != nil {
		return nil, err
	}
	return s.Trigger(scope), nil
}

// SyncNow runs a cycle for scope and waits for its report
func (e *Engine) SyncNow(ctx context.Context, scope Scope) (*CycleReport, error) {
	s, err := e.syncer(scope)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, scope)
}

// Observe receives every cycle report. It is meant to be passed as
// Options.OnReport to the coordinators the engine hosts.
func (e *Engine) Observe(report *CycleReport) {
	if !report.Offline {
		e.mu.Lock()
		e.lastSync = report.StartedAt
		e.mu.Unlock()
	}

	if e.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.history.RecordCycle(ctx, report); err != nil {
			e.log.Printf("⚠️ Failed to record sync history for %s: %v", report.Scope, err)
		}
		cancel()
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- report:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribe returns a stream of cycle reports and its cancel func
func (e *Engine) Subscribe(buffer int) (<-chan *CycleReport, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *CycleReport, buffer)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// Status returns the current sync status
func (e *Engine) Status(ctx context.Context) EngineStatus {
	e.mu.RLock()
	st := EngineStatus{
		IsRunning: e.isRunning,
		IsOnline:  e.conn.IsAvailable(),
		LastSync:  e.lastSync,
	}
	scopes := append([]Scope(nil), e.scopes...)
	e.mu.RUnlock()

	for _, scope := range scopes {
		s, err := e.syncer(scope)
		if err != nil {
			continue
		}
		ss := ScopeStatus{Scope: scope, InFlight: s.InFlight(scope), LastReport: s.LastReport(scope)}
		if cur, err := s.Cursor(ctx, scope); err != nil {
			ss.CursorErr = err.Error()
		} else {
			ss.Cursor = cur
		}
		st.Scopes = append(st.Scopes, ss)
	}
	return st
}

// DeadLetters lists dead-lettered records across every registered scope
func (e *Engine) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	var out []DeadLetter
	for _, scope := range e.Scopes() {
		s, err := e.syncer(scope)
		if err != nil {
			return nil, err
		}
		dls, err := s.DeadLetters(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("dead letters of %s: %w", scope, err)
		}
		out = append(out, dls...)
	}
	return out, nil
}

// Requeue makes a dead-lettered record eligible for push again
func (e *Engine) Requeue(ctx context.Context, scope Scope, localID string) error {
	s, err := e.syncer(scope)
	if err != nil {
		return err
	}
	return s.Requeue(ctx, scope, localID)
}

// autoSyncLoop periodically triggers automatic synchronization
func (e *Engine) autoSyncLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.AutoSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.conn.IsAvailable() {
				e.log.Println("⏭️ Auto-sync: offline, skipping")
				continue
			}
			e.RequestFullSync()
		case <-stop:
			return
		}
	}
}
