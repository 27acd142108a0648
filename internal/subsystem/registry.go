package subsystem

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"github.com/nerrad567/gray-logic-gateway/internal/property"
)

// readyKey is the status document key for the global readiness object.
const readyKey = "ready"

// DefaultPairingSubsystems must all be ready before the gateway accepts
// commissioning requests.
var DefaultPairingSubsystems = []string{"matter"}

// VersionKey returns the property key holding a subsystem's last applied
// schema version.
func VersionKey(name string) string {
	return "subsystem." + name + ".version"
}

// ReadinessObserver is told about every readiness transition.
type ReadinessObserver func(name string, ready bool)

// Readiness is the gateway-wide readiness summary.
type Readiness struct {
	// Pairing is true when every pairing subsystem is ready.
	Pairing bool `json:"pairing"`
	// Operation is true when every registered subsystem is ready.
	Operation bool `json:"operation"`
}

type entry struct {
	sub         Subsystem
	initialized bool
	ready       bool
}

// Registry holds the registered subsystems in registration order and drives
// their versioned migration, initialisation and shutdown.
//
// Registry is an explicit object; build one per process (or per test).
//
// Thread Safety: All methods are safe for concurrent use. The internal lock
// is held only for lookups and mutation, never across a subsystem hook.
type Registry struct {
	store   property.Store
	logger  Logger
	pairing []string

	mu         sync.RWMutex
	entries    []*entry
	byName     map[string]*entry
	observers  []ReadinessObserver
	onAllReady func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithPairingSubsystems overrides DefaultPairingSubsystems.
func WithPairingSubsystems(names ...string) Option {
	return func(r *Registry) { r.pairing = append([]string(nil), names...) }
}

// NewRegistry creates an empty registry persisting versions in store.
func NewRegistry(store property.Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		logger:  noopLogger{},
		pairing: append([]string(nil), DefaultPairingSubsystems...),
		byName:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(l Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Register appends s to the registry.
//
// It panics on a nil subsystem, an empty, reserved or duplicate name, or a
// dependency (see Dependent) that has not been registered yet. Registration
// is a startup-time programming step, so these are programmer errors.
func (r *Registry) Register(s Subsystem) {
	if s == nil {
		panic("subsystem: Register called with nil subsystem")
	}
	name := s.Name()
	if name == "" || name == readyKey {
		panic(fmt.Sprintf("subsystem: invalid name %q", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[name]; dup {
		panic(fmt.Sprintf("subsystem: %q registered twice", name))
	}
	if d, ok := s.(Dependent); ok {
		for _, dep := range d.DependsOn() {
			if _, found := r.byName[dep]; !found {
				panic(fmt.Sprintf("subsystem: %q depends on unregistered %q", name, dep))
			}
		}
	}

	e := &entry{sub: s}
	r.entries = append(r.entries, e)
	r.byName[name] = e
}

// Get returns the named subsystem.
func (r *Registry) Get(name string) (Subsystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.sub, true
}

// Names returns subsystem names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.sub.Name()
	}
	return names
}

// AddReadinessObserver registers fn for every readiness transition.
// Observers run on the goroutine reporting the transition and must not block.
func (r *Registry) AddReadinessObserver(fn ReadinessObserver) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// InitializeAll migrates and initialises every subsystem in registration
// order.
//
// For each subsystem:
//  1. Read the persisted version (missing counts as 0).
//  2. If it is lower than Version(), call Migrate. On false the subsystem is
//     skipped: nothing is persisted and Initialize is not called.
//  3. Persist Version(), then call Initialize.
//
// If the persisted version is higher than Version() the binary has been
// downgraded; nothing is migrated or persisted, a warning is logged and the
// subsystem still initialises.
//
// A failing subsystem does not stop the others. onAllReady is called each
// time the full set becomes ready.
//
// Returns:
//   - error: every per-subsystem failure, combined with multierr
func (r *Registry) InitializeAll(ctx context.Context, onAllReady func()) error {
	r.mu.Lock()
	r.onAllReady = onAllReady
	entries := append([]*entry(nil), r.entries...)
	logger := r.logger
	r.mu.Unlock()

	var errs error
	for _, e := range entries {
		if err := r.initializeOne(ctx, e, logger); err != nil {
			logger.Error("subsystem startup aborted", "subsystem", e.sub.Name(), "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Registry) initializeOne(ctx context.Context, e *entry, logger Logger) error {
	s := e.sub
	name := s.Name()
	declared := s.Version()

	persisted, err := r.persistedVersion(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	switch {
	case persisted > declared:
		logger.Warn("persisted subsystem version is newer than this build; skipping migration",
			"subsystem", name, "persisted", persisted, "declared", declared)
	case persisted < declared:
		logger.Info("migrating subsystem", "subsystem", name, "from", persisted, "to", declared)
		if !s.Migrate(ctx, persisted, declared) {
			return fmt.Errorf("%s: %w (%d -> %d)", name, ErrMigrationFailed, persisted, declared)
		}
		if err := r.store.Set(ctx, VersionKey(name), strconv.FormatUint(uint64(declared), 10)); err != nil {
			return fmt.Errorf("%s: %w: %w", name, ErrVersionPersist, err)
		}
	}

	if !s.Initialize(ctx, r.readyFunc(true), r.readyFunc(false)) {
		return fmt.Errorf("%s: %w", name, ErrInitializeFailed)
	}

	r.mu.Lock()
	e.initialized = true
	r.mu.Unlock()
	logger.Debug("subsystem initialised", "subsystem", name, "version", declared)
	return nil
}

// persistedVersion returns 0 when nothing has been persisted yet.
func (r *Registry) persistedVersion(ctx context.Context, name string) (uint16, error) {
	raw, ok, err := r.store.Get(ctx, VersionKey(name))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrVersionUnreadable, err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrVersionUnreadable, raw)
	}
	return uint16(v), nil
}

// readyFunc builds the callback handed to Initialize.
func (r *Registry) readyFunc(ready bool) ReadinessFunc {
	return func(name string) {
		r.setReady(name, ready)
	}
}

func (r *Registry) setReady(name string, ready bool) {
	r.mu.Lock()
	e, ok := r.byName[name]
	if !ok || e.ready == ready {
		r.mu.Unlock()
		return
	}
	e.ready = ready
	observers := append([]ReadinessObserver(nil), r.observers...)
	allReady := ready && r.allReadyLocked()
	onAllReady := r.onAllReady
	logger := r.logger
	r.mu.Unlock()

	logger.Info("subsystem readiness changed", "subsystem", name, "ready", ready)
	for _, fn := range observers {
		fn(name, ready)
	}
	if allReady && onAllReady != nil {
		onAllReady()
	}
}

func (r *Registry) allReadyLocked() bool {
	if len(r.entries) == 0 {
		return false
	}
	for _, e := range r.entries {
		if !e.ready {
			return false
		}
	}
	return true
}

// IsReady reports whether the named subsystem is ready.
func (r *Registry) IsReady(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return ok && e.ready
}

// Readiness computes the pairing/operation summary.
func (r *Registry) Readiness() Readiness {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairing := len(r.pairing) > 0
	for _, name := range r.pairing {
		if e, ok := r.byName[name]; !ok || !e.ready {
			pairing = false
			break
		}
	}
	return Readiness{Pairing: pairing, Operation: r.allReadyLocked()}
}

// ShutdownAll shuts initialised subsystems down in reverse registration order.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	var toStop []*entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].initialized {
			toStop = append(toStop, r.entries[i])
		}
	}
	logger := r.logger
	r.mu.Unlock()

	for _, e := range toStop {
		logger.Info("shutting down subsystem", "subsystem", e.sub.Name())
		e.sub.Shutdown()
		r.mu.Lock()
		e.initialized = false
		r.mu.Unlock()
		r.setReady(e.sub.Name(), false)
	}
}

// NotifyAllServicesAvailable calls OnAllServicesAvailable on every subsystem
// that implements it, in registration order.
func (r *Registry) NotifyAllServicesAvailable() {
	for _, s := range r.subsystems() {
		if n, ok := s.(ServicesAvailableNotifier); ok {
			n.OnAllServicesAvailable()
		}
	}
}

// RestoreConfig asks every ConfigRestorer to take its state from tempDir into
// destDir. Every restorer runs even if an earlier one fails.
//
// Returns:
//   - error: one ErrRestoreFailed per failing subsystem, combined
func (r *Registry) RestoreConfig(tempDir, destDir string) error {
	var errs error
	for _, s := range r.subsystems() {
		if c, ok := s.(ConfigRestorer); ok && !c.OnRestoreConfig(tempDir, destDir) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), ErrRestoreFailed))
		}
	}
	return errs
}

// PostRestoreConfig calls OnPostRestoreConfig on every ConfigRestorer.
func (r *Registry) PostRestoreConfig() {
	for _, s := range r.subsystems() {
		if c, ok := s.(ConfigRestorer); ok {
			c.OnPostRestoreConfig()
		}
	}
}

func (r *Registry) subsystems() []Subsystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subsystem, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.sub
	}
	return out
}

// Status builds the status document: one key per subsystem holding its
// snapshot plus "ready", and a top-level "ready" Readiness object.
func (r *Registry) Status() map[string]any {
	r.mu.RLock()
	type item struct {
		sub   Subsystem
		ready bool
	}
	items := make([]item, len(r.entries))
	for i, e := range r.entries {
		items[i] = item{e.sub, e.ready}
	}
	r.mu.RUnlock()

	doc := make(map[string]any, len(items)+1)
	for _, it := range items {
		snap := make(map[string]any)
		for k, v := range it.sub.Status() {
			snap[k] = v
		}
		snap[readyKey] = it.ready
		doc[it.sub.Name()] = snap
	}
	doc[readyKey] = r.Readiness()
	return doc
}

// StatusJSON returns Status encoded as JSON.
func (r *Registry) StatusJSON() ([]byte, error) {
	b, err := json.Marshal(r.Status())
	if err != nil {
		return nil, fmt.Errorf("encoding subsystem status: %w", err)
	}
	return b, nil
}
