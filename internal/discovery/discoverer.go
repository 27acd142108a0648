package discovery

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
)

// primaryPaths is the single batched read issued once the session is up.
var primaryPaths = []matter.AttributePath{
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrVendorName},
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrProductName},
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrHardwareVersion},
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrSoftwareVersion},
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrSoftwareVersionString},
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrSerialNumber},
	{Endpoint: matter.RootEndpoint, Cluster: matter.ClusterGeneralDiagnostics, Attribute: matter.AttrNetworkInterfaces},
}

var descriptorAttributes = []matter.AttributeID{
	matter.AttrDeviceTypeList,
	matter.AttrServerList,
	matter.AttrClientList,
	matter.AttrPartsList,
}

// Logger defines the logging interface used by the Discoverer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithReadParams sets the parameters used for every read.
func WithReadParams(p matter.ReadParams) Option {
	return func(d *Discoverer) { d.params = p }
}

// WithLogger sets the discoverer logger.
func WithLogger(l Logger) Option {
	return func(d *Discoverer) { d.logger = l }
}

// endpointRecord collects the four Descriptor reads of one endpoint.
type endpointRecord struct {
	deviceTypes []matter.DeviceType
	servers     []matter.ClusterID
	clients     []matter.ClusterID
	parts       []matter.EndpointID
	have        [4]bool
}

func (r *endpointRecord) complete() bool {
	return r.have[0] && r.have[1] && r.have[2] && r.have[3]
}

func (r *endpointRecord) data() DescriptorClusterData {
	return DescriptorClusterData{
		DeviceTypes:    r.deviceTypes,
		ServerClusters: r.servers,
		ClientClusters: r.clients,
		Parts:          r.parts,
	}
}

// Discoverer walks one node: Basic Information and network interfaces
// first, then the Descriptor of endpoint 0 and, recursively, every endpoint
// in a parts list.
//
// All state is owned by the stack goroutine. The only cross-goroutine handoff
// is the Promise returned by Start; Details is valid once it has resolved.
type Discoverer struct {
	ctrl   matter.Controller
	exec   stack.Scheduler
	node   matter.NodeID
	params matter.ReadParams
	logger Logger

	promise *stack.Promise[bool]

	// Stack goroutine only.
	details          DiscoveredDeviceDetails
	queued           map[matter.EndpointID]struct{}
	pending          map[matter.EndpointID]*endpointRecord
	endpointsStarted bool
	finished         bool
	session          matter.Session
	handles          []matter.ReadHandle
	err              error
}

// NewDiscoverer creates a discoverer for node.
func NewDiscoverer(ctrl matter.Controller, exec stack.Scheduler, node matter.NodeID, opts ...Option) *Discoverer {
	d := &Discoverer{
		ctrl:    ctrl,
		exec:    exec,
		node:    node,
		logger:  noopLogger{},
		promise: stack.NewPromise[bool](),
		details: DiscoveredDeviceDetails{Endpoints: make(map[matter.EndpointID]DescriptorClusterData)},
		queued:  make(map[matter.EndpointID]struct{}),
		pending: make(map[matter.EndpointID]*endpointRecord),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start schedules the connection and returns the completion promise. It
// resolves true when the node is fully discovered and false on any failure.
func (d *Discoverer) Start() *stack.Promise[bool] {
	if err := d.exec.Schedule(d.connect); err != nil {
		d.logger.Warn("discovery could not be scheduled", "node_id", d.node, "error", err)
		d.err = err
		d.finished = true
		d.promise.Resolve(false)
	}
	return d.promise
}

// Details returns a copy of what has been discovered. Call it only after the
// promise has resolved.
func (d *Discoverer) Details() DiscoveredDeviceDetails {
	return d.details.Clone()
}

// Err returns the failure that resolved the promise false, if any. Like
// Details it is only meaningful after resolution.
func (d *Discoverer) Err() error {
	return d.err
}

// Close schedules the release of read handles and the session onto the
// stack goroutine. An unresolved promise resolves false.
func (d *Discoverer) Close() {
	release := func() {
		d.resolve(false, ErrClosed)
		for _, h := range d.handles {
			h.Close()
		}
		d.handles = nil
		if d.session != nil {
			d.session.Release()
			d.session = nil
		}
	}
	if err := d.exec.Schedule(release); err != nil {
		d.logger.Warn("discovery release could not be scheduled", "node_id", d.node, "error", err)
	}
}

func (d *Discoverer) connect() {
	if d.finished {
		return
	}
	if err := d.ctrl.Connect(d.node, d.onConnected); err != nil {
		d.resolve(false, fmt.Errorf("connecting to node %v: %w", d.node, err))
	}
}

func (d *Discoverer) onConnected(s matter.Session, err error) {
	if err != nil {
		d.resolve(false, fmt.Errorf("connecting to node %v: %w", d.node, err))
		return
	}
	if d.finished {
		s.Release()
		return
	}
	d.session = s
	d.logger.Debug("discovery session established", "node_id", d.node)

	h, err := s.Read(primaryPaths, d.params, matter.ReadCallbacks{
		OnAttribute: d.onPrimaryAttribute,
		OnError:     d.onPrimaryError,
	})
	if err != nil {
		d.resolve(false, fmt.Errorf("reading basic information: %w", err))
		return
	}
	d.handles = append(d.handles, h)
}

func (d *Discoverer) onPrimaryAttribute(path matter.AttributePath, v any) {
	if d.finished {
		return
	}
	if err := d.applyPrimary(path, v); err != nil {
		d.resolve(false, err)
		return
	}
	d.resultsUpdated()
}

func (d *Discoverer) onPrimaryError(path matter.AttributePath, err error) {
	if d.finished {
		return
	}
	if path.Cluster == matter.ClusterBasicInformation && path.Attribute == matter.AttrSerialNumber &&
		errors.Is(err, matter.ErrUnsupportedAttribute) {
		d.logger.Debug("node has no serial number", "node_id", d.node)
		d.details.SerialNumber = ptr("")
		d.resultsUpdated()
		return
	}
	d.resolve(false, fmt.Errorf("reading %v: %w", path, err))
}

func (d *Discoverer) applyPrimary(path matter.AttributePath, v any) error {
	bad := func() error {
		return fmt.Errorf("%w: %v has type %T", ErrUnexpectedValue, path, v)
	}

	if path.Cluster == matter.ClusterGeneralDiagnostics {
		ifaces, ok := v.([]matter.NetworkInterface)
		if !ok {
			return bad()
		}
		mac, kind := primaryInterface(ifaces)
		d.details.MACAddress = ptr(mac)
		d.details.NetworkType = ptr(kind)
		return nil
	}

	switch path.Attribute {
	case matter.AttrVendorName, matter.AttrProductName, matter.AttrSoftwareVersionString, matter.AttrSerialNumber:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		switch path.Attribute {
		case matter.AttrVendorName:
			d.details.VendorName = ptr(s)
		case matter.AttrProductName:
			d.details.ProductName = ptr(s)
		case matter.AttrSoftwareVersionString:
			d.details.SoftwareVersionString = ptr(s)
		default:
			d.details.SerialNumber = ptr(s)
		}
	case matter.AttrHardwareVersion:
		hw, ok := v.(uint16)
		if !ok {
			return bad()
		}
		d.details.HardwareVersion = ptr(hw)
	case matter.AttrSoftwareVersion:
		sw, ok := v.(uint32)
		if !ok {
			return bad()
		}
		d.details.SoftwareVersion = ptr(sw)
	default:
		return bad()
	}
	return nil
}

// primaryInterface picks the first operational interface, or the first
// interface if none is operational.
func primaryInterface(ifaces []matter.NetworkInterface) (mac, kind string) {
	if len(ifaces) == 0 {
		return "", matter.InterfaceUnspecified.String()
	}
	chosen := ifaces[0]
	for _, iface := range ifaces {
		if iface.IsOperational {
			chosen = iface
			break
		}
	}
	return chosen.HardwareAddress, chosen.Type.String()
}

// resultsUpdated starts endpoint discovery the first time the primary fields
// are complete, then checks for overall completion.
func (d *Discoverer) resultsUpdated() {
	if d.finished {
		return
	}
	if !d.endpointsStarted && d.details.PrimaryComplete() {
		d.endpointsStarted = true
		d.discoverEndpoint(matter.RootEndpoint)
		if d.finished {
			return
		}
	}
	if d.endpointsStarted && d.details.FullyDiscovered(d.queued) {
		d.logger.Info("node discovery complete", "node_id", d.node, "endpoints", len(d.details.Endpoints))
		d.resolve(true, nil)
	}
}

// discoverEndpoint queues ep once and issues its four Descriptor reads.
func (d *Discoverer) discoverEndpoint(ep matter.EndpointID) {
	if _, seen := d.queued[ep]; seen {
		return
	}
	d.queued[ep] = struct{}{}
	rec := &endpointRecord{}
	d.pending[ep] = rec

	for i, attr := range descriptorAttributes {
		path := matter.AttributePath{Endpoint: ep, Cluster: matter.ClusterDescriptor, Attribute: attr}
		h, err := d.session.Read([]matter.AttributePath{path}, d.params, matter.ReadCallbacks{
			OnAttribute: func(p matter.AttributePath, v any) { d.onDescriptor(ep, rec, i, p, v) },
			OnError: func(p matter.AttributePath, err error) {
				d.resolve(false, fmt.Errorf("reading %v: %w", p, err))
			},
		})
		if err != nil {
			d.resolve(false, fmt.Errorf("reading descriptor of endpoint %d: %w", ep, err))
			return
		}
		d.handles = append(d.handles, h)
	}
}

func (d *Discoverer) onDescriptor(ep matter.EndpointID, rec *endpointRecord, slot int, path matter.AttributePath, v any) {
	if d.finished || rec.have[slot] {
		return
	}

	ok := true
	switch slot {
	case 0:
		rec.deviceTypes, ok = v.([]matter.DeviceType)
	case 1:
		rec.servers, ok = v.([]matter.ClusterID)
	case 2:
		rec.clients, ok = v.([]matter.ClusterID)
	case 3:
		rec.parts, ok = v.([]matter.EndpointID)
	}
	if !ok {
		d.resolve(false, fmt.Errorf("%w: %v has type %T", ErrUnexpectedValue, path, v))
		return
	}
	rec.have[slot] = true

	// Children are queued before the completion check so a parent finishing
	// last cannot make the node look complete.
	if slot == 3 {
		for _, child := range rec.parts {
			d.discoverEndpoint(child)
			if d.finished {
				return
			}
		}
	}

	if rec.complete() {
		d.details.Endpoints[ep] = rec.data()
		delete(d.pending, ep)
		d.logger.Debug("endpoint discovered", "node_id", d.node, "endpoint", ep)
	}
	d.resultsUpdated()
}

// resolve settles the promise once. State stops changing from here on.
func (d *Discoverer) resolve(ok bool, err error) {
	if d.finished {
		return
	}
	d.finished = true
	d.err = err
	if err != nil && !errors.Is(err, ErrClosed) {
		d.logger.Warn("node discovery failed", "node_id", d.node, "error", err)
	}
	d.promise.Resolve(ok)
}
