package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// mockPersister stores metadata only for nodes listed in bound.
type mockPersister struct {
	bound map[matter.NodeID][]byte
	err   error
}

func (m *mockPersister) SaveNodeMetadata(_ context.Context, node matter.NodeID, data []byte) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.bound[node]; !ok {
		return false, nil
	}
	m.bound[node] = data
	return true, nil
}

func (m *mockPersister) LoadNodeMetadata(_ context.Context, node matter.NodeID) ([]byte, bool, error) {
	data, ok := m.bound[node]
	return data, ok, m.err
}

func sampleDetails() DiscoveredDeviceDetails {
	return DiscoveredDeviceDetails{Endpoints: map[matter.EndpointID]DescriptorClusterData{
		0: {Parts: []matter.EndpointID{1}},
		1: {
			DeviceTypes:    []matter.DeviceType{{Type: matter.DeviceTypeOnOffLight, Revision: 2}},
			ServerClusters: []matter.ClusterID{matter.ClusterOnOff},
		},
	}}
}

func TestMetadataJSON(t *testing.T) {
	data, err := MarshalMetadata(sampleDetails())
	if err != nil {
		t.Fatalf("MarshalMetadata() error = %v", err)
	}
	m, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if !m[1].HasDeviceType(matter.DeviceTypeOnOffLight) || !m[1].HasServer(matter.ClusterOnOff) {
		t.Errorf("endpoint 1 = %+v", m[1])
	}
	if len(m[0].Parts) != 1 || m[0].Parts[0] != 1 {
		t.Errorf("endpoint 0 parts = %v", m[0].Parts)
	}

	if _, err := ParseMetadata([]byte("{not json")); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("ParseMetadata(bad) error = %v, want ErrInvalidMetadata", err)
	}
	if m, err := ParseMetadata(nil); err != nil || len(m) != 0 {
		t.Errorf("ParseMetadata(nil) = %v, %v", m, err)
	}
}

func TestMetadataJSON_KeepsDeviceAttributes(t *testing.T) {
	in := sampleDetails()
	in.VendorName = ptr("Acme")
	in.ProductName = ptr("Bulb")
	in.HardwareVersion = ptr[uint16](2)
	in.SoftwareVersion = ptr[uint32](0x0102)
	in.SoftwareVersionString = ptr("1.2")
	in.SerialNumber = ptr("")
	in.MACAddress = ptr("AA:BB:CC:DD:EE:FF")
	in.NetworkType = ptr("thread")

	data, err := MarshalMetadata(in)
	if err != nil {
		t.Fatalf("MarshalMetadata() error = %v", err)
	}
	out, err := ParseDetails(data)
	if err != nil {
		t.Fatalf("ParseDetails() error = %v", err)
	}
	if !out.PrimaryComplete() {
		t.Errorf("parsed details not primary complete: %+v", out)
	}
	if Value(out.VendorName) != "Acme" || Value(out.ProductName) != "Bulb" ||
		Value(out.HardwareVersion) != 2 || Value(out.SoftwareVersion) != 0x0102 ||
		Value(out.SoftwareVersionString) != "1.2" || Value(out.MACAddress) != "AA:BB:CC:DD:EE:FF" ||
		Value(out.NetworkType) != "thread" {
		t.Errorf("parsed details = %+v", out)
	}
	if out.SerialNumber == nil || *out.SerialNumber != "" {
		t.Errorf("SerialNumber = %v, want reported as empty", out.SerialNumber)
	}
	if len(out.Endpoints) != 2 || !out.Endpoints[1].HasServer(matter.ClusterOnOff) {
		t.Errorf("Endpoints = %+v", out.Endpoints)
	}

	// Attributes never reported stay unreported.
	partial, err := ParseDetails([]byte(`{"vendor_name":"Acme","endpoints":{}}`))
	if err != nil {
		t.Fatalf("ParseDetails(partial) error = %v", err)
	}
	if partial.ProductName != nil || partial.SerialNumber != nil || Value(partial.VendorName) != "Acme" {
		t.Errorf("partial details = %+v", partial)
	}
}

func TestMetadataStore_PersistsBoundNodes(t *testing.T) {
	p := &mockPersister{bound: map[matter.NodeID][]byte{0x10: nil}}
	s, err := NewMetadataStore(p, 4)
	if err != nil {
		t.Fatalf("NewMetadataStore() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Save(ctx, 0x10, sampleDetails()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(p.bound[0x10]) == 0 {
		t.Error("metadata not written to the device record")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}

	m, ok, err := s.Load(ctx, 0x10)
	if err != nil || !ok || len(m) != 2 {
		t.Errorf("Load() = %v, %v, %v", m, ok, err)
	}
}

func TestMetadataStore_FallbackAndTake(t *testing.T) {
	p := &mockPersister{bound: map[matter.NodeID][]byte{}}
	s, err := NewMetadataStore(p, 2)
	if err != nil {
		t.Fatalf("NewMetadataStore() error = %v", err)
	}
	ctx := context.Background()

	for _, node := range []matter.NodeID{1, 2, 3} {
		if err := s.Save(ctx, node, sampleDetails()); err != nil {
			t.Fatalf("Save(%v) error = %v", node, err)
		}
	}
	if s.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2 (LRU bound)", s.Pending())
	}
	if _, ok := s.Take(1); ok {
		t.Error("oldest entry should have been evicted")
	}

	data, ok := s.Take(3)
	if !ok || len(data) == 0 {
		t.Fatal("Take(3) returned nothing")
	}
	if _, ok := s.Take(3); ok {
		t.Error("Take should remove the entry")
	}
	if _, ok, _ := s.Load(ctx, 3); ok {
		t.Error("taken metadata still loadable")
	}
	if m, ok, err := s.Load(ctx, 2); err != nil || !ok || len(m) != 2 {
		t.Errorf("Load(2) = %v, %v, %v", m, ok, err)
	}
}

func TestMetadataStore_PersisterError(t *testing.T) {
	boom := errors.New("disk full")
	s, err := NewMetadataStore(&mockPersister{err: boom}, 0)
	if err != nil {
		t.Fatalf("NewMetadataStore() error = %v", err)
	}
	if err := s.Save(context.Background(), 1, sampleDetails()); !errors.Is(err, boom) {
		t.Errorf("Save() error = %v, want %v", err, boom)
	}
}

func TestDetails_PrimaryAndClone(t *testing.T) {
	var d DiscoveredDeviceDetails
	if d.PrimaryComplete() {
		t.Fatal("empty details reported complete")
	}
	d.VendorName, d.ProductName = ptr("Acme"), ptr("")
	d.HardwareVersion, d.SoftwareVersion = ptr(uint16(1)), ptr(uint32(1))
	d.SoftwareVersionString, d.SerialNumber = ptr("1.0"), ptr("")
	if d.PrimaryComplete() {
		t.Fatal("complete without MAC address")
	}
	d.MACAddress = ptr("")
	if !d.PrimaryComplete() {
		t.Fatal("empty strings should count as set")
	}

	d.Endpoints = sampleDetails().Endpoints
	queued := map[matter.EndpointID]struct{}{0: {}, 1: {}}
	if !d.FullyDiscovered(queued) {
		t.Error("FullyDiscovered() = false with every queued endpoint complete")
	}
	queued[2] = struct{}{}
	if d.FullyDiscovered(queued) {
		t.Error("FullyDiscovered() = true with endpoint 2 outstanding")
	}

	c := d.Clone()
	*c.VendorName = "Other"
	c.Endpoints[1].ServerClusters[0] = matter.ClusterLevelControl
	if *d.VendorName != "Acme" || d.Endpoints[1].ServerClusters[0] != matter.ClusterOnOff {
		t.Error("Clone shares state with the original")
	}
	if got := d.DeviceTypes(); len(got) != 1 || got[0] != matter.DeviceTypeOnOffLight {
		t.Errorf("DeviceTypes() = %v", got)
	}
}
