package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device

	// For testing error paths
	createErr error
	listErr   error
	getCalls  int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{devices: make(map[string]*Device)}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) GetByNode(_ context.Context, protocol Protocol, node matter.NodeID) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	for _, d := range m.devices {
		if d.Protocol == protocol && d.NodeID == node {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, d := range m.devices {
		if d.ID == device.ID || (d.Protocol == device.Protocol && d.NodeID == device.NodeID) {
			return ErrDeviceExists
		}
	}
	device.CreatedAt = time.Now().UTC()
	device.UpdatedAt = device.CreatedAt
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Update(_ context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.devices[device.ID]
	if !ok {
		return ErrDeviceNotFound
	}
	updated := device.DeepCopy()
	updated.State = existing.State
	updated.HealthStatus = existing.HealthStatus
	m.devices[device.ID] = updated
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MockRepository) UpdateState(_ context.Context, id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.State == nil {
		d.State = State{}
	}
	for k, v := range state {
		d.State[k] = v
	}
	return nil
}

func (m *MockRepository) UpdateHealth(_ context.Context, id string, status HealthStatus, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.HealthStatus = status
	d.HealthLastSeen = &lastSeen
	return nil
}

func (m *MockRepository) UpdateMetadata(_ context.Context, id string, metadata json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Metadata = metadata
	return nil
}

func (m *MockRepository) addDevice(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d.DeepCopy()
}

func (m *MockRepository) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	repo.addDevice(testDevice("a", "A", 1))
	repo.addDevice(testDevice("b", "B", 2))

	r := NewRegistry(repo)
	if err := r.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if r.GetDeviceCount() != 2 {
		t.Errorf("GetDeviceCount() = %d, want 2", r.GetDeviceCount())
	}

	// Cache hits do not reach the repository.
	before := repo.gets()
	if _, err := r.GetDeviceByNode(context.Background(), ProtocolMatter, 2); err != nil {
		t.Fatalf("GetDeviceByNode() error = %v", err)
	}
	if repo.gets() != before {
		t.Error("GetDeviceByNode() missed the cache")
	}

	repo.listErr = errors.New("disk gone")
	if err := r.RefreshCache(context.Background()); err == nil {
		t.Error("RefreshCache() expected error")
	}
}

func TestRegistry_CreateDevice(t *testing.T) {
	tests := []struct {
		name    string
		dev     *Device
		wantErr error
	}{
		{"valid generates id", &Device{Name: "Lamp", Protocol: ProtocolMatter, NodeID: 5}, nil},
		{"empty name", &Device{Protocol: ProtocolMatter, NodeID: 5}, ErrInvalidName},
		{"bad protocol", &Device{Name: "Lamp", Protocol: "knx", NodeID: 5}, ErrInvalidProtocol},
		{"zero node", &Device{Name: "Lamp", Protocol: ProtocolMatter}, ErrInvalidNode},
		{"bad metadata", &Device{Name: "Lamp", Protocol: ProtocolMatter, NodeID: 5, Metadata: json.RawMessage(`[1]`)}, ErrInvalidMetadata},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(NewMockRepository())
			err := r.CreateDevice(context.Background(), tt.dev)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CreateDevice() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateDevice() error = %v", err)
			}
			if tt.dev.ID == "" {
				t.Error("CreateDevice() did not generate an ID")
			}
			if tt.dev.HealthStatus != HealthStatusUnknown || tt.dev.State == nil {
				t.Errorf("defaults not applied: health %q state %v", tt.dev.HealthStatus, tt.dev.State)
			}
		})
	}
}

func TestRegistry_CacheIsolation(t *testing.T) {
	r := NewRegistry(NewMockRepository())
	ctx := context.Background()

	dev := testDevice("", "Lamp", 9)
	if err := r.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	dev.Name = "mutated after create"
	dev.DeviceTypes[0] = 0xFFFF

	got, err := r.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Name != "Lamp" || got.DeviceTypes[0] != matter.DeviceTypeRootNode {
		t.Errorf("cache shares memory with caller: %+v", got)
	}
	got.State["on"] = true

	again, _ := r.GetDevice(ctx, dev.ID)
	if _, ok := again.State["on"]; ok {
		t.Error("mutating a returned device changed the cache")
	}
}

func TestRegistry_UpdateAndDelete(t *testing.T) {
	repo := NewMockRepository()
	r := NewRegistry(repo)
	ctx := context.Background()

	dev := testDevice("d1", "Lamp", 3)
	if err := r.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if err := r.SetDeviceState(ctx, "d1", State{"on": true}); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}

	dev.Name = "Desk lamp"
	dev.NodeID = 4
	if err := r.UpdateDevice(ctx, dev); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	got, err := r.GetDeviceByNode(ctx, ProtocolMatter, 4)
	if err != nil {
		t.Fatalf("GetDeviceByNode(4) error = %v", err)
	}
	if got.Name != "Desk lamp" || got.State["on"] != true {
		t.Errorf("after update got %+v", got)
	}
	if _, err := r.GetDeviceByNode(ctx, ProtocolMatter, 3); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("old node still indexed, err = %v", err)
	}

	if err := r.UpdateDevice(ctx, testDevice("missing", "X", 8)); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateDevice(missing) error = %v", err)
	}

	if err := r.DeleteDevice(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if r.GetDeviceCount() != 0 {
		t.Errorf("GetDeviceCount() = %d after delete", r.GetDeviceCount())
	}
	if _, err := r.GetDevice(ctx, "d1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(deleted) error = %v", err)
	}
}

func TestRegistry_StateHealthMetadata(t *testing.T) {
	r := NewRegistry(NewMockRepository())
	ctx := context.Background()

	if err := r.CreateDevice(ctx, testDevice("d1", "Sensor", 1)); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	if err := r.SetDeviceState(ctx, "d1", State{"temperature": 21.5}); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}
	if err := r.SetDeviceState(ctx, "d1", State{"humidity": 40.0}); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}
	if err := r.SetDeviceHealth(ctx, "d1", HealthStatusOnline); err != nil {
		t.Fatalf("SetDeviceHealth() error = %v", err)
	}
	if err := r.SetDeviceMetadata(ctx, "d1", json.RawMessage(`{"0":{}}`)); err != nil {
		t.Fatalf("SetDeviceMetadata() error = %v", err)
	}

	got, _ := r.GetDevice(ctx, "d1")
	if got.State["temperature"] != 21.5 || got.State["humidity"] != 40.0 {
		t.Errorf("State = %v, want merged readings", got.State)
	}
	if got.StateUpdatedAt == nil || got.HealthStatus != HealthStatusOnline || got.HealthLastSeen == nil {
		t.Errorf("state/health timestamps not set: %+v", got)
	}
	if string(got.Metadata) != `{"0":{}}` {
		t.Errorf("Metadata = %s", got.Metadata)
	}

	big := State{}
	for i := range maxStateKeys + 1 {
		big[fmt.Sprintf("k%d", i)] = i
	}
	if err := r.SetDeviceState(ctx, "d1", big); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetDeviceState(oversized) error = %v", err)
	}
	if err := r.SetDeviceMetadata(ctx, "d1", json.RawMessage(`nope`)); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("SetDeviceMetadata(invalid) error = %v", err)
	}
}

func TestRegistry_ListAndStats(t *testing.T) {
	r := NewRegistry(NewMockRepository())
	ctx := context.Background()

	for i, name := range []string{"Plug", "Bulb", "Thermostat"} {
		d := testDevice("", name, matter.NodeID(i+1))
		d.Driver = []string{"plug", "light", "thermostat"}[i]
		if i == 2 {
			d.Protocol = ProtocolThread
		}
		if err := r.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice(%s) error = %v", name, err)
		}
	}

	list, err := r.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(list) != 3 || list[0].Name != "Bulb" || list[2].Name != "Thermostat" {
		t.Errorf("ListDevices() not sorted by name: %v", list)
	}

	thread, _ := r.GetDevicesByProtocol(ctx, ProtocolThread)
	if len(thread) != 1 || thread[0].Name != "Thermostat" {
		t.Errorf("GetDevicesByProtocol(thread) = %v", thread)
	}

	stats := r.GetStats()
	if stats.TotalDevices != 3 || stats.ByProtocol[ProtocolMatter] != 2 || stats.ByDriver["plug"] != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(NewMockRepository())
	ctx := context.Background()
	if err := r.CreateDevice(ctx, testDevice("d1", "Lamp", 1)); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.SetDeviceState(ctx, "d1", State{fmt.Sprintf("k%d", i): i})
			_, _ = r.GetDevice(ctx, "d1")
			_, _ = r.ListDevices(ctx)
			_ = r.GetStats()
		}()
	}
	wg.Wait()

	got, _ := r.GetDevice(ctx, "d1")
	if len(got.State) != 20 {
		t.Errorf("State has %d keys after concurrent merges, want 20", len(got.State))
	}
}
