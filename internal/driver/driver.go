package driver

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-gateway/internal/device"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
)

// Driver handles one device class.
type Driver interface {
	// Name is stored on the device record and used by Factory.Get.
	Name() string

	// Attach builds the device record for a discovered node. The record is
	// not persisted; the caller announces it to the device service.
	Attach(node matter.NodeID, details discovery.DiscoveredDeviceDetails) (*device.Device, error)

	// Refresh reads the class's attributes from the node behind dev and
	// returns them as state. Endpoints come from dev.Metadata.
	Refresh(ctx context.Context, dev *device.Device) (device.State, error)
}

// Logger defines the logging interface used by drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Factory selects and holds the drivers.
//
// Thread Safety: Safe for concurrent use once constructed.
type Factory struct {
	ctrl    matter.Controller
	exec    stack.Scheduler
	params  matter.ReadParams
	logger  Logger
	drivers map[string]*classDriver
	generic *classDriver
}

// NewFactory creates a factory whose drivers read through ctrl on exec.
// ctrl may be nil when only Select and Attach are needed.
func NewFactory(ctrl matter.Controller, exec stack.Scheduler) *Factory {
	f := &Factory{
		ctrl:    ctrl,
		exec:    exec,
		logger:  noopLogger{},
		drivers: make(map[string]*classDriver, len(classes)+1),
	}
	for _, c := range classes {
		f.drivers[c.name] = &classDriver{class: c, factory: f}
	}
	f.generic = &classDriver{class: genericClass, factory: f}
	f.drivers[genericClass.name] = f.generic
	return f
}

// SetLogger sets the logger shared by all drivers.
func (f *Factory) SetLogger(logger Logger) {
	f.logger = logger
}

// SetReadParams sets the parameters used for refresh reads.
func (f *Factory) SetReadParams(p matter.ReadParams) {
	f.params = p
}

// Select returns the driver for the device types found on the node's
// endpoints, falling back to the generic driver.
func (f *Factory) Select(details discovery.DiscoveredDeviceDetails) Driver {
	types := details.DeviceTypes()
	for _, c := range classes {
		for _, t := range c.types {
			if slices.Contains(types, t) {
				return f.drivers[c.name]
			}
		}
	}
	return f.generic
}

// Get returns the driver stored on a device record.
func (f *Factory) Get(name string) (Driver, error) {
	d, ok := f.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// Names lists the available drivers, sorted.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.drivers))
	for n := range f.drivers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// classDriver implements Driver for one class.
type classDriver struct {
	class   class
	factory *Factory
}

func (d *classDriver) Name() string { return d.class.name }

func (d *classDriver) Attach(node matter.NodeID, details discovery.DiscoveredDeviceDetails) (*device.Device, error) {
	if node == 0 {
		return nil, ErrInvalidNode
	}
	dev := &device.Device{
		Name:            displayName(d.class.name, node, details),
		Protocol:        device.ProtocolMatter,
		NodeID:          node,
		Driver:          d.class.name,
		VendorName:      discovery.Value(details.VendorName),
		ProductName:     discovery.Value(details.ProductName),
		SerialNumber:    discovery.Value(details.SerialNumber),
		FirmwareVersion: discovery.Value(details.SoftwareVersionString),
		DeviceTypes:     details.DeviceTypes(),
		State:           device.State{},
	}
	if details.NetworkType != nil && *details.NetworkType == matter.InterfaceThread.String() {
		dev.Protocol = device.ProtocolThread
	}
	return dev, nil
}

func displayName(class string, node matter.NodeID, details discovery.DiscoveredDeviceDetails) string {
	parts := make([]string, 0, 2)
	if v := strings.TrimSpace(discovery.Value(details.VendorName)); v != "" {
		parts = append(parts, v)
	}
	if p := strings.TrimSpace(discovery.Value(details.ProductName)); p != "" {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s %v", class, node)
	}
	return strings.Join(parts, " ")
}

// Refresh reads every matching endpoint in parallel over one session.
func (d *classDriver) Refresh(ctx context.Context, dev *device.Device) (device.State, error) {
	meta, err := discovery.ParseMetadata(dev.Metadata)
	if err != nil {
		return nil, err
	}

	state := device.State{"endpoints": len(meta)}
	if d.class.name == NameBridge {
		state["bridged_devices"] = countBridged(meta)
	}

	targets := d.targets(meta)
	if len(targets) == 0 {
		return state, nil
	}
	if d.factory.ctrl == nil {
		return nil, ErrNoController
	}

	sess, err := connect(ctx, d.factory.exec, d.factory.ctrl, dev.NodeID)
	if err != nil {
		return nil, fmt.Errorf("connecting to node %v: %w", dev.NodeID, err)
	}
	defer release(d.factory.exec, sess)

	prefix := len(targets) > 1
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			values, err := read(gctx, d.factory.exec, sess, t.paths(), d.factory.params)
			if err != nil {
				return fmt.Errorf("endpoint %d: %w", t.endpoint, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range t.readings {
				v, ok := values[r.path(t.endpoint)]
				if !ok {
					continue
				}
				converted, ok := r.convert(v)
				if !ok {
					d.factory.logger.Warn("unexpected attribute value", "node", dev.NodeID,
						"path", r.path(t.endpoint), "type", fmt.Sprintf("%T", v))
					continue
				}
				key := r.key
				if prefix {
					key = fmt.Sprintf("ep%d_%s", t.endpoint, r.key)
				}
				state[key] = converted
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.factory.logger.Debug("driver refreshed", "driver", d.class.name, "node", dev.NodeID, "keys", len(state))
	return state, nil
}

// target is one endpoint and the readings it serves.
type target struct {
	endpoint matter.EndpointID
	readings []reading
}

func (t target) paths() []matter.AttributePath {
	paths := make([]matter.AttributePath, len(t.readings))
	for i, r := range t.readings {
		paths[i] = r.path(t.endpoint)
	}
	return paths
}

// targets returns the endpoints carrying one of the class's device types,
// limited to readings whose cluster the endpoint serves. An endpoint with
// no server list is read in full.
func (d *classDriver) targets(meta discovery.Metadata) []target {
	if len(d.class.readings) == 0 {
		return nil
	}
	var out []target
	for _, ep := range sortedEndpoints(meta) {
		desc := meta[ep]
		if !slices.ContainsFunc(d.class.types, desc.HasDeviceType) {
			continue
		}
		var rs []reading
		for _, r := range d.class.readings {
			if len(desc.ServerClusters) == 0 || desc.HasServer(r.cluster) {
				rs = append(rs, r)
			}
		}
		if len(rs) > 0 {
			out = append(out, target{endpoint: ep, readings: rs})
		}
	}
	return out
}

func sortedEndpoints(meta discovery.Metadata) []matter.EndpointID {
	eps := make([]matter.EndpointID, 0, len(meta))
	for ep := range meta {
		eps = append(eps, ep)
	}
	slices.Sort(eps)
	return eps
}

func countBridged(meta discovery.Metadata) int {
	n := 0
	for _, desc := range meta {
		if desc.HasDeviceType(matter.DeviceTypeBridgedNode) {
			n++
		}
	}
	return n
}
