package device

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// Logger defines the logging interface used by the Registry and Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type nodeKey struct {
	protocol Protocol
	node     matter.NodeID
}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache indexed by ID and by
// (protocol, node id).
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the mutating operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	byNode  map[nodeKey]string
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		byNode: make(map[nodeKey]string),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.byNode = make(map[nodeKey]string, len(devices))
	for i := range devices {
		r.storeLocked(devices[i].DeepCopy())
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.storeLocked(device.DeepCopy())
	r.cacheMu.Unlock()

	return device, nil
}

// GetDeviceByNode retrieves the device bound to a protocol node id.
func (r *Registry) GetDeviceByNode(ctx context.Context, protocol Protocol, node matter.NodeID) (*Device, error) {
	r.cacheMu.RLock()
	id, ok := r.byNode[nodeKey{protocol, node}]
	var cached *Device
	if ok {
		cached = r.cache[id]
	}
	r.cacheMu.RUnlock()
	if cached != nil {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByNode(ctx, protocol, node)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.storeLocked(device.DeepCopy())
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices ordered by name.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return devices, nil
}

// GetDevicesByProtocol retrieves all cached devices using a protocol.
func (r *Registry) GetDevicesByProtocol(ctx context.Context, protocol Protocol) ([]Device, error) {
	all, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(d Device) bool { return d.Protocol != protocol }), nil
}

// CreateDevice validates and persists a new device, generating an ID if
// none is set.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.storeLocked(device.DeepCopy())
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name, "node", device.NodeID)
	return nil
}

// UpdateDevice validates and persists changes to an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	existing, err := r.GetDevice(ctx, device.ID)
	if err != nil {
		return err
	}
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	// Update leaves state and health alone in storage; mirror that here.
	updated := device.DeepCopy()
	updated.State = existing.State
	updated.StateUpdatedAt = existing.StateUpdatedAt
	updated.HealthStatus = existing.HealthStatus
	updated.HealthLastSeen = existing.HealthLastSeen

	r.cacheMu.Lock()
	r.dropLocked(device.ID)
	r.storeLocked(updated)
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.dropLocked(id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetDeviceState merges state into the device's current state.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State) error {
	if err := ValidateState(state); err != nil {
		return err
	}
	if err := r.repo.UpdateState(ctx, id, state); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		if updated.State == nil {
			updated.State = State{}
		}
		for k, v := range state {
			updated.State[k] = deepCopyValue(v)
		}
		now := time.Now().UTC()
		updated.StateUpdatedAt = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device state updated", "id", id, "keys", len(state))
	return nil
}

// SetDeviceHealth updates the health status of a device.
func (r *Registry) SetDeviceHealth(ctx context.Context, id string, status HealthStatus) error {
	now := time.Now().UTC()
	if err := r.repo.UpdateHealth(ctx, id, status, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.HealthStatus = status
		updated.HealthLastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device health updated", "id", id, "status", status)
	return nil
}

// SetDeviceMetadata replaces the discovery metadata of a device.
func (r *Registry) SetDeviceMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	if err := ValidateMetadata(metadata); err != nil {
		return err
	}
	if err := r.repo.UpdateMetadata(ctx, id, metadata); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Metadata = slices.Clone(metadata)
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device metadata updated", "id", id, "bytes", len(metadata))
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int                  `json:"total_devices"`
	ByProtocol     map[Protocol]int     `json:"by_protocol"`
	ByDriver       map[string]int       `json:"by_driver"`
	ByHealthStatus map[HealthStatus]int `json:"by_health_status"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices:   len(r.cache),
		ByProtocol:     make(map[Protocol]int),
		ByDriver:       make(map[string]int),
		ByHealthStatus: make(map[HealthStatus]int),
	}
	for _, d := range r.cache {
		stats.ByProtocol[d.Protocol]++
		stats.ByDriver[d.Driver]++
		stats.ByHealthStatus[d.HealthStatus]++
	}
	return stats
}

// storeLocked caches d and indexes its node. Caller holds cacheMu.
func (r *Registry) storeLocked(d *Device) {
	r.cache[d.ID] = d
	r.byNode[nodeKey{d.Protocol, d.NodeID}] = d.ID
}

// dropLocked removes id and its node index entry. Caller holds cacheMu.
func (r *Registry) dropLocked(id string) {
	if d, ok := r.cache[id]; ok {
		key := nodeKey{d.Protocol, d.NodeID}
		if r.byNode[key] == id {
			delete(r.byNode, key)
		}
		delete(r.cache, id)
	}
}
