package device

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

var _ discovery.MetadataPersister = (*Service)(nil)

var topics mqtt.Topics

type published struct {
	topic    string
	v        any
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, v, retained})
	return p.err
}

type fakeSink struct {
	states    []map[string]any
	announced []string
}

func (f *fakeSink) WriteDeviceState(_, _ string, state map[string]any) {
	f.states = append(f.states, state)
}

func (f *fakeSink) IncDevicesAnnounced(driver string) {
	f.announced = append(f.announced, driver)
}

func newTestService(t *testing.T) (*Service, *fakePublisher, *fakeSink, *discovery.MetadataStore) {
	t.Helper()
	pub := &fakePublisher{}
	sink := &fakeSink{}
	svc := NewService(NewRegistry(NewMockRepository()), ServiceDeps{
		Publisher: pub,
		States:    sink,
		Metrics:   sink,
	})
	store, err := discovery.NewMetadataStore(svc, 8)
	if err != nil {
		t.Fatalf("NewMetadataStore() error = %v", err)
	}
	svc.SetMetadataSource(store)
	return svc, pub, sink, store
}

func TestService_AnnouncePromotesPendingMetadata(t *testing.T) {
	svc, pub, sink, store := newTestService(t)
	ctx := context.Background()

	details := discovery.DiscoveredDeviceDetails{
		Endpoints: map[matter.EndpointID]discovery.DescriptorClusterData{
			0: {Parts: []matter.EndpointID{1}},
			1: {DeviceTypes: []matter.DeviceType{{Type: matter.DeviceTypeOnOffLight, Revision: 2}}},
		},
	}
	// No device is bound yet, so this lands in the in-memory fallback.
	if err := store.Save(ctx, 0x42, details); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if store.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", store.Pending())
	}

	dev := &Device{Name: "Porch", NodeID: 0x42, Driver: "light"}
	if err := svc.Announce(ctx, dev); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if dev.ID == "" || dev.Protocol != ProtocolMatter {
		t.Errorf("Announce() left id %q protocol %q", dev.ID, dev.Protocol)
	}
	if store.Pending() != 0 {
		t.Errorf("Pending() = %d after announce, want 0", store.Pending())
	}

	m, ok, err := store.Load(ctx, 0x42)
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if !m[1].HasDeviceType(matter.DeviceTypeOnOffLight) {
		t.Errorf("promoted metadata lost endpoint 1: %+v", m)
	}

	got, err := svc.FindByNodeID(ctx, 0x42)
	if err != nil {
		t.Fatalf("FindByNodeID() error = %v", err)
	}
	if got.HealthStatus != HealthStatusOnline {
		t.Errorf("HealthStatus = %q, want online", got.HealthStatus)
	}

	if len(sink.announced) != 1 || sink.announced[0] != "light" {
		t.Errorf("announce counter = %v", sink.announced)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].topic != topics.DeviceAnnounce(dev.ID) || !pub.msgs[0].retained {
		t.Errorf("published = %+v", pub.msgs)
	}
}

func TestService_ReannounceKeepsID(t *testing.T) {
	svc, _, _, store := newTestService(t)
	ctx := context.Background()

	first := &Device{Name: "Plug", NodeID: 7, Driver: "generic"}
	if err := svc.Announce(ctx, first); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	// Metadata saved once the device exists goes straight to the record.
	if err := store.Save(ctx, 7, discovery.DiscoveredDeviceDetails{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if store.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", store.Pending())
	}

	second := &Device{Name: "Kettle plug", NodeID: 7, Driver: "plug"}
	if err := svc.Announce(ctx, second); err != nil {
		t.Fatalf("re-Announce() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-announce changed id %q -> %q", first.ID, second.ID)
	}

	got, _ := svc.FindByNodeID(ctx, 7)
	if got.Name != "Kettle plug" || got.Driver != "plug" {
		t.Errorf("re-announce did not update record: %+v", got)
	}
	if string(got.Metadata) != "{}" {
		t.Errorf("re-announce dropped metadata: %s", got.Metadata)
	}
	if svc.Registry().GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount() = %d, want 1", svc.Registry().GetDeviceCount())
	}
}

func TestService_SetState(t *testing.T) {
	svc, pub, sink, _ := newTestService(t)
	ctx := context.Background()

	dev := &Device{Name: "Lamp", NodeID: 3, Driver: "light"}
	if err := svc.Announce(ctx, dev); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	pub.err = errors.New("broker down")

	if err := svc.SetState(ctx, dev.ID, State{"on": true}); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if len(sink.states) != 1 || sink.states[0]["on"] != true {
		t.Errorf("state sink = %v", sink.states)
	}
	if last := pub.msgs[len(pub.msgs)-1]; last.topic != topics.DeviceState(dev.ID) {
		t.Errorf("last publish topic = %q", last.topic)
	}

	if err := svc.SetState(ctx, dev.ID, nil); err != nil {
		t.Errorf("SetState(empty) error = %v", err)
	}
	if len(sink.states) != 1 {
		t.Error("SetState(empty) wrote a point")
	}
	if err := svc.SetState(ctx, "missing", State{"on": false}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetState(missing) error = %v", err)
	}
}

func TestService_NodeMetadataUnbound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	saved, err := svc.SaveNodeMetadata(ctx, 99, []byte(`{}`))
	if err != nil || saved {
		t.Errorf("SaveNodeMetadata(unbound) = %v, %v; want false, nil", saved, err)
	}
	_, ok, err := svc.LoadNodeMetadata(ctx, 99)
	if err != nil || ok {
		t.Errorf("LoadNodeMetadata(unbound) = %v, %v; want false, nil", ok, err)
	}
	if err := svc.Announce(ctx, nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Announce(nil) error = %v", err)
	}
}
