// Package supervisor owns the worker lifecycle: start order, single-worker
// restart, the staged shutdown, and the status snapshot served over HTTP
// and the IPC socket. It holds no domain state of its own; after a crash
// the repositories are the only authority and a restart rebuilds
// everything from them.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/workers"
)

// Service states reported through Status.
const (
	ServiceIdle     = "idle"
	ServiceRunning  = "running"
	ServiceStopping = "stopping"
	ServiceStopped  = "stopped"
)

// defaultJoinTimeout bounds the wait on a single worker during restart.
const defaultJoinTimeout = 30 * time.Second

// Factory builds a fresh worker instance. Restart discards the old
// instance and builds a new one so the loop channels start clean.
type Factory func() workers.Worker

// SystemStats carries the host-level figures included in Status.
type SystemStats struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes"`
}

// Status is the point-in-time snapshot returned to HTTP and IPC callers.
type Status struct {
	ServiceState  string                   `json:"service_state"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Workers       map[string]workers.Stats `json:"workers"`
	System        SystemStats              `json:"system"`
}

// Supervisor drives the registered workers as one unit.
type Supervisor struct {
	bus *events.Bus
	log zerolog.Logger
	now func() time.Time

	joinTimeout time.Duration

	mu      sync.Mutex
	order   []string
	factory map[string]Factory
	active  map[string]workers.Worker
	state   string
	started time.Time
}

// New creates a supervisor with no workers registered.
func New(bus *events.Bus, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		bus:         bus,
		log:         log.With().Str("component", "supervisor").Logger(),
		now:         time.Now,
		joinTimeout: defaultJoinTimeout,
		factory:     make(map[string]Factory),
		active:      make(map[string]workers.Worker),
		state:       ServiceIdle,
	}
}

// Register adds a worker. The factory is invoked once up front so the
// worker's name is known, and again on every restart. Registration order
// is start order. Registering a name twice replaces its factory.
func (s *Supervisor) Register(build Factory) {
	w := build()
	name := w.Name()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.factory[name]; dup {
		s.log.Warn().Str("worker", name).Msg("Worker already registered, replacing")
	} else {
		s.order = append(s.order, name)
	}
	s.factory[name] = build
	s.active[name] = w
}

// Start launches every registered worker in registration order. A second
// Start while running is a no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.state == ServiceRunning {
		s.mu.Unlock()
		s.log.Warn().Msg("Supervisor already running, ignoring start")
		return
	}
	s.state = ServiceRunning
	s.started = s.now()
	order := append([]string(nil), s.order...)
	active := s.snapshotActiveLocked()
	s.mu.Unlock()

	for _, name := range order {
		active[name].Start()
	}
	s.log.Info().Int("workers", len(order)).Msg("Supervisor started")
}

// Stop runs the staged shutdown: mark the service stopping, signal every
// worker, join them within timeout, log any straggler, then record the
// final status. Worker loops observe the signal at their next cycle
// boundary, so an in-flight evaluation completes before the loop exits.
func (s *Supervisor) Stop(timeout time.Duration) {
	s.mu.Lock()
	if s.state == ServiceStopping || s.state == ServiceStopped {
		s.mu.Unlock()
		return
	}
	s.state = ServiceStopping
	active := s.snapshotActiveLocked()
	s.mu.Unlock()

	s.log.Info().Dur("timeout", timeout).Msg("Shutdown requested")

	var joinMu sync.Mutex
	pending := make(map[string]struct{}, len(active))
	for name := range active {
		pending[name] = struct{}{}
	}

	var wg sync.WaitGroup
	for name, w := range active {
		wg.Add(1)
		go func(name string, w workers.Worker) {
			defer wg.Done()
			w.Stop()
			joinMu.Lock()
			delete(pending, name)
			joinMu.Unlock()
		}(name, w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		joinMu.Lock()
		for name := range pending {
			s.log.Error().Str("worker", name).Msg("Worker did not stop within timeout, abandoning")
			if s.bus != nil {
				s.bus.EmitData("supervisor", &events.ErrorEventData{
					Error:   "did not stop within shutdown timeout",
					Context: map[string]interface{}{"worker": name},
				})
			}
		}
		joinMu.Unlock()
	}

	s.mu.Lock()
	s.state = ServiceStopped
	s.mu.Unlock()

	final := s.Status()
	s.log.Info().
		Int("workers", len(final.Workers)).
		Float64("uptime_seconds", final.UptimeSeconds).
		Msg("Supervisor stopped")
}

// RestartWorker stops one worker, builds a fresh instance from its
// factory, and starts it if the service is running. Unknown names are an
// error.
func (s *Supervisor) RestartWorker(name string) error {
	s.mu.Lock()
	build, ok := s.factory[name]
	old := s.active[name]
	running := s.state == ServiceRunning
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker: %s", name)
	}

	s.log.Info().Str("worker", name).Msg("Restarting worker")
	if old != nil && !s.join(name, old, s.joinTimeout) {
		return fmt.Errorf("worker %s did not stop within %s", name, s.joinTimeout)
	}

	fresh := build()
	s.mu.Lock()
	s.active[name] = fresh
	s.mu.Unlock()

	if running {
		fresh.Start()
	}
	return nil
}

// RefreshAll wakes every worker for an immediate cycle.
func (s *Supervisor) RefreshAll() {
	s.mu.Lock()
	active := s.snapshotActiveLocked()
	s.mu.Unlock()
	for _, w := range active {
		w.Refresh()
	}
	s.log.Debug().Int("workers", len(active)).Msg("Refresh broadcast")
}

// RefreshWorker wakes one worker. Unknown names are an error.
func (s *Supervisor) RefreshWorker(name string) error {
	s.mu.Lock()
	w, ok := s.active[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker: %s", name)
	}
	w.Refresh()
	return nil
}

// Status assembles the snapshot: per-worker counters, service state,
// uptime, and host CPU/memory figures.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		ServiceState: s.state,
		Workers:      make(map[string]workers.Stats, len(s.active)),
	}
	if !s.started.IsZero() {
		t := s.started
		st.StartedAt = &t
		st.UptimeSeconds = s.now().Sub(s.started).Seconds()
	}
	active := s.snapshotActiveLocked()
	s.mu.Unlock()

	for name, w := range active {
		st.Workers[name] = w.Stats()
	}
	st.System = systemStats()
	return st
}

// join stops one worker with a bounded wait. Returns false if the worker
// is still running when the timeout fires.
func (s *Supervisor) join(name string, w workers.Worker, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Error().Str("worker", name).Msg("Worker did not stop within timeout, abandoning")
		return false
	}
}

func (s *Supervisor) snapshotActiveLocked() map[string]workers.Worker {
	active := make(map[string]workers.Worker, len(s.active))
	for name, w := range s.active {
		active[name] = w
	}
	return active
}

// systemStats samples host CPU and memory. The CPU figure is a 100ms
// sample, so Status blocks for that long.
func systemStats() SystemStats {
	stats := SystemStats{}
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		stats.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedBytes = vm.Used
	}
	return stats
}
