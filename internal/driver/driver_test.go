package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/device"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
)

// fakeController serves attributes synchronously on the stack goroutine.
type fakeController struct {
	attrs      map[matter.AttributePath]any
	failPath   *matter.AttributePath
	silent     bool
	connectErr error

	mu       sync.Mutex
	reads    [][]matter.AttributePath
	released int
}

func (c *fakeController) SetCommissioningDelegate(matter.CommissioningDelegate) {}

func (c *fakeController) Commission(matter.CommissionRequest) error { return nil }

func (c *fakeController) CompleteCommissioning(matter.NodeID, func(error)) error { return nil }

func (c *fakeController) OpenCommissioningWindow(matter.NodeID, time.Duration, func(matter.WindowParams, error)) error {
	return nil
}

func (c *fakeController) BridgeNodeID() matter.NodeID { return 1 }

func (c *fakeController) Connect(node matter.NodeID, done func(matter.Session, error)) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.silent {
		return nil
	}
	done(&fakeSession{c: c, node: node}, nil)
	return nil
}

func (c *fakeController) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reads)
}

func (c *fakeController) releasedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

type fakeSession struct {
	c    *fakeController
	node matter.NodeID
}

type nopHandle struct{}

func (nopHandle) Close() {}

func (s *fakeSession) NodeID() matter.NodeID { return s.node }

func (s *fakeSession) Release() {
	s.c.mu.Lock()
	s.c.released++
	s.c.mu.Unlock()
}

func (s *fakeSession) Read(paths []matter.AttributePath, _ matter.ReadParams, cb matter.ReadCallbacks) (matter.ReadHandle, error) {
	s.c.mu.Lock()
	s.c.reads = append(s.c.reads, paths)
	s.c.mu.Unlock()
	for _, p := range paths {
		switch v, ok := s.c.attrs[p]; {
		case s.c.failPath != nil && *s.c.failPath == p:
			cb.OnError(p, matter.ErrSessionClosed)
		case ok:
			cb.OnAttribute(p, v)
		default:
			cb.OnError(p, matter.ErrUnsupportedAttribute)
		}
	}
	cb.OnDone()
	return nopHandle{}, nil
}

func newExecutor(t *testing.T) *stack.Executor {
	t.Helper()
	exec := stack.NewExecutor(64)
	exec.Start(context.Background())
	t.Cleanup(exec.Stop)
	return exec
}

func endpoint(types []matter.DeviceTypeID, servers ...matter.ClusterID) discovery.DescriptorClusterData {
	d := discovery.DescriptorClusterData{ServerClusters: servers}
	for _, t := range types {
		d.DeviceTypes = append(d.DeviceTypes, matter.DeviceType{Type: t, Revision: 1})
	}
	return d
}

func detailsOf(eps map[matter.EndpointID]discovery.DescriptorClusterData) discovery.DiscoveredDeviceDetails {
	vendor, product, network := "Acme", "Bulb", matter.InterfaceWiFi.String()
	return discovery.DiscoveredDeviceDetails{
		VendorName:  &vendor,
		ProductName: &product,
		NetworkType: &network,
		Endpoints:   eps,
	}
}

func deviceFor(t *testing.T, f *Factory, node matter.NodeID, details discovery.DiscoveredDeviceDetails) (*device.Device, Driver) {
	t.Helper()
	drv := f.Select(details)
	dev, err := drv.Attach(node, details)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	meta, err := discovery.MarshalMetadata(details)
	if err != nil {
		t.Fatalf("MarshalMetadata() error = %v", err)
	}
	dev.Metadata = meta
	return dev, drv
}

func TestFactory_Select(t *testing.T) {
	root := endpoint([]matter.DeviceTypeID{matter.DeviceTypeRootNode})
	tests := []struct {
		name string
		eps  map[matter.EndpointID]discovery.DescriptorClusterData
		want string
	}{
		{"dimmable light", map[matter.EndpointID]discovery.DescriptorClusterData{
			0: root, 1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeDimmableLight}),
		}, NameLight},
		{"plug", map[matter.EndpointID]discovery.DescriptorClusterData{
			0: root, 1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeOnOffPlug}),
		}, NamePlug},
		{"thermostat with temperature sensor", map[matter.EndpointID]discovery.DescriptorClusterData{
			0: root,
			1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeThermostat}),
			2: endpoint([]matter.DeviceTypeID{matter.DeviceTypeTemperatureSensor}),
		}, NameThermostat},
		{"contact sensor", map[matter.EndpointID]discovery.DescriptorClusterData{
			0: root, 1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeContactSensor}),
		}, NameSensor},
		{"bridge of lights", map[matter.EndpointID]discovery.DescriptorClusterData{
			0: root,
			1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeAggregator}),
			2: endpoint([]matter.DeviceTypeID{matter.DeviceTypeBridgedNode, matter.DeviceTypeOnOffLight}),
		}, NameBridge},
		{"unknown type", map[matter.EndpointID]discovery.DescriptorClusterData{
			0: root, 1: endpoint([]matter.DeviceTypeID{0xFFF1}),
		}, NameGeneric},
		{"no endpoints", nil, NameGeneric},
	}

	f := NewFactory(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Select(detailsOf(tt.eps)).Name(); got != tt.want {
				t.Errorf("Select() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFactory_GetAndNames(t *testing.T) {
	f := NewFactory(nil, nil)
	names := f.Names()
	if len(names) != 6 || names[0] != NameBridge || names[5] != NameThermostat {
		t.Errorf("Names() = %v", names)
	}
	if d, err := f.Get(NamePlug); err != nil || d.Name() != NamePlug {
		t.Errorf("Get(plug) = %v, %v", d, err)
	}
	if _, err := f.Get("knx"); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Get(knx) error = %v, want ErrUnknownDriver", err)
	}
}

func TestDriver_Attach(t *testing.T) {
	f := NewFactory(nil, nil)
	details := detailsOf(map[matter.EndpointID]discovery.DescriptorClusterData{
		1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeOnOffLight}),
	})
	serial, fw, thread := "SN-9", "1.0.4", matter.InterfaceThread.String()
	details.SerialNumber = &serial
	details.SoftwareVersionString = &fw
	details.NetworkType = &thread

	dev, err := f.Select(details).Attach(0x55, details)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if dev.Name != "Acme Bulb" || dev.Driver != NameLight || dev.NodeID != 0x55 {
		t.Errorf("Attach() = %+v", dev)
	}
	if dev.Protocol != device.ProtocolThread || dev.SerialNumber != "SN-9" || dev.FirmwareVersion != "1.0.4" {
		t.Errorf("Attach() identity = %+v", dev)
	}
	if !dev.HasDeviceType(matter.DeviceTypeOnOffLight) {
		t.Errorf("DeviceTypes = %v", dev.DeviceTypes)
	}

	bare, err := f.Get(NameGeneric)
	if err != nil {
		t.Fatal(err)
	}
	anon, _ := bare.Attach(7, discovery.DiscoveredDeviceDetails{})
	if anon.Name != "generic 0x0000000000000007" || anon.Protocol != device.ProtocolMatter {
		t.Errorf("Attach(no identity) = %q %q", anon.Name, anon.Protocol)
	}

	if _, err := bare.Attach(0, details); !errors.Is(err, ErrInvalidNode) {
		t.Errorf("Attach(0) error = %v, want ErrInvalidNode", err)
	}
}

func TestDriver_RefreshLight(t *testing.T) {
	exec := newExecutor(t)
	ctrl := &fakeController{attrs: map[matter.AttributePath]any{
		{Endpoint: 1, Cluster: matter.ClusterOnOff, Attribute: matter.AttrOnOff}:               true,
		{Endpoint: 1, Cluster: matter.ClusterLevelControl, Attribute: matter.AttrCurrentLevel}: uint8(128),
	}}
	f := NewFactory(ctrl, exec)

	dev, drv := deviceFor(t, f, 0x10, detailsOf(map[matter.EndpointID]discovery.DescriptorClusterData{
		0: endpoint([]matter.DeviceTypeID{matter.DeviceTypeRootNode}),
		1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeDimmableLight},
			matter.ClusterOnOff, matter.ClusterLevelControl, matter.ClusterColorControl),
	}))

	state, err := drv.Refresh(context.Background(), dev)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if state["on"] != true || state["level"] != float64(128) {
		t.Errorf("state = %v, want on=true level=128", state)
	}
	if _, ok := state["color_temperature_mireds"]; ok {
		t.Error("unsupported attribute should be left out")
	}
	if state["endpoints"] != 2 {
		t.Errorf("endpoints = %v, want 2", state["endpoints"])
	}
	if ctrl.readCount() != 1 {
		t.Errorf("reads = %d, want 1", ctrl.readCount())
	}

	// The session is released on the stack goroutine after Refresh returns.
	onStackSync(t, exec)
	if ctrl.releasedCount() != 1 {
		t.Errorf("released = %d, want 1", ctrl.releasedCount())
	}
}

func TestDriver_RefreshSensorEndpoints(t *testing.T) {
	exec := newExecutor(t)
	ctrl := &fakeController{attrs: map[matter.AttributePath]any{
		{Endpoint: 1, Cluster: matter.ClusterTemperature, Attribute: matter.AttrMeasuredValue}:      int16(2150),
		{Endpoint: 2, Cluster: matter.ClusterRelativeHumidity, Attribute: matter.AttrMeasuredValue}: 4000,
		{Endpoint: 3, Cluster: matter.ClusterOccupancy, Attribute: matter.AttrOccupancy}:            uint8(1),
	}}
	f := NewFactory(ctrl, exec)

	dev, drv := deviceFor(t, f, 0x20, detailsOf(map[matter.EndpointID]discovery.DescriptorClusterData{
		1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeTemperatureSensor}, matter.ClusterTemperature),
		2: endpoint([]matter.DeviceTypeID{matter.DeviceTypeHumiditySensor}, matter.ClusterRelativeHumidity),
		3: endpoint([]matter.DeviceTypeID{matter.DeviceTypeOccupancySensor}, matter.ClusterOccupancy),
		4: endpoint([]matter.DeviceTypeID{matter.DeviceTypeOnOffLight}, matter.ClusterOnOff),
	}))
	if drv.Name() != NameSensor {
		t.Fatalf("selected %q, want sensor", drv.Name())
	}

	state, err := drv.Refresh(context.Background(), dev)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	want := map[string]any{
		"ep1_temperature": 21.5,
		"ep2_humidity":    40.0,
		"ep3_occupied":    true,
	}
	for k, v := range want {
		if state[k] != v {
			t.Errorf("state[%q] = %v, want %v", k, state[k], v)
		}
	}
	// One read per sensor endpoint, each limited to the clusters it serves.
	if ctrl.readCount() != 3 {
		t.Errorf("reads = %d, want 3", ctrl.readCount())
	}
	for _, paths := range ctrl.reads {
		if len(paths) != 1 {
			t.Errorf("read %v should carry one path", paths)
		}
	}
}

func TestDriver_RefreshErrors(t *testing.T) {
	details := detailsOf(map[matter.EndpointID]discovery.DescriptorClusterData{
		1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeOnOffPlug}, matter.ClusterOnOff),
	})
	failing := matter.AttributePath{Endpoint: 1, Cluster: matter.ClusterOnOff, Attribute: matter.AttrOnOff}

	tests := []struct {
		name    string
		ctrl    *fakeController
		timeout time.Duration
		wantErr error
	}{
		{"attribute error", &fakeController{failPath: &failing}, time.Second, matter.ErrSessionClosed},
		{"connect error", &fakeController{connectErr: matter.ErrUnknownNode}, time.Second, matter.ErrUnknownNode},
		{"no answer", &fakeController{silent: true}, 20 * time.Millisecond, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(tt.ctrl, newExecutor(t))
			dev, drv := deviceFor(t, f, 0x30, details)

			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()
			if _, err := drv.Refresh(ctx, dev); !errors.Is(err, tt.wantErr) {
				t.Errorf("Refresh() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDriver_RefreshWithoutReads(t *testing.T) {
	f := NewFactory(nil, nil)
	details := detailsOf(map[matter.EndpointID]discovery.DescriptorClusterData{
		0: endpoint([]matter.DeviceTypeID{matter.DeviceTypeRootNode}),
		1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeAggregator}),
		2: endpoint([]matter.DeviceTypeID{matter.DeviceTypeBridgedNode}),
		3: endpoint([]matter.DeviceTypeID{matter.DeviceTypeBridgedNode}),
	})

	dev, drv := deviceFor(t, f, 0x40, details)
	state, err := drv.Refresh(context.Background(), dev)
	if err != nil {
		t.Fatalf("Refresh(bridge) error = %v", err)
	}
	if state["bridged_devices"] != 2 || state["endpoints"] != 4 {
		t.Errorf("bridge state = %v", state)
	}

	light, _ := f.Get(NameLight)
	lightDetails := detailsOf(map[matter.EndpointID]discovery.DescriptorClusterData{
		1: endpoint([]matter.DeviceTypeID{matter.DeviceTypeOnOffLight}),
	})
	dev, _ = deviceFor(t, f, 0x41, lightDetails)
	if _, err := light.Refresh(context.Background(), dev); !errors.Is(err, ErrNoController) {
		t.Errorf("Refresh(no controller) error = %v, want ErrNoController", err)
	}
}

func TestConverters(t *testing.T) {
	tests := []struct {
		name string
		fn   func(any) (any, bool)
		in   any
		want any
		ok   bool
	}{
		{"centi int16", centi, int16(-550), -5.5, true},
		{"milli", milli, uint32(12500), 12.5, true},
		{"flag from int", flag, 0, false, true},
		{"flag rejects string", flag, "on", nil, false},
		{"occupancy bit", firstBit, uint8(2), false, true},
		{"system mode heat", systemMode, uint8(4), "heat", true},
		{"system mode unknown", systemMode, 2, 2.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.fn(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("got (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

// onStackSync waits until everything queued on exec so far has run.
func onStackSync(t *testing.T, exec *stack.Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := exec.Call(ctx, func() {}); err != nil {
		t.Fatalf("exec.Call() error = %v", err)
	}
}
