package matter

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/matter/payload"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
)

// Logger defines the logging interface used by the matter package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// SimulatedDevice is a virtual Matter node served by the Simulator.
type SimulatedDevice struct {
	Name          string
	NodeID        NodeID
	Discriminator uint16
	Passcode      uint32
	VendorID      uint16
	ProductID     uint16

	FailCommissioning bool
	FailHandshake     bool

	// Attributes holds every readable attribute. Paths that are absent read
	// as ErrUnsupportedAttribute.
	Attributes map[AttributePath]any
}

// NewSimulatedDevice creates a device with no attributes.
func NewSimulatedDevice(name string, node NodeID, discriminator uint16, passcode uint32) *SimulatedDevice {
	return &SimulatedDevice{
		Name:          name,
		NodeID:        node,
		Discriminator: discriminator,
		Passcode:      passcode,
		Attributes:    make(map[AttributePath]any),
	}
}

// SetAttribute stores v at path.
func (d *SimulatedDevice) SetAttribute(path AttributePath, v any) {
	d.Attributes[path] = v
}

// SetBasicInformation populates the root endpoint's Basic Information
// cluster. Attributes listed in unsupported are left out.
func (d *SimulatedDevice) SetBasicInformation(info BasicInformation, unsupported ...AttributeID) {
	values := map[AttributeID]any{
		AttrVendorName:            info.VendorName,
		AttrProductName:           info.ProductName,
		AttrHardwareVersion:       info.HardwareVersion,
		AttrSoftwareVersion:       info.SoftwareVersion,
		AttrSoftwareVersionString: info.SoftwareVersionString,
		AttrSerialNumber:          info.SerialNumber,
	}
	for attr, v := range values {
		if slices.Contains(unsupported, attr) {
			continue
		}
		d.SetAttribute(AttributePath{RootEndpoint, ClusterBasicInformation, attr}, v)
	}
}

// SetNetworkInterfaces populates General Diagnostics NetworkInterfaces.
func (d *SimulatedDevice) SetNetworkInterfaces(ifaces ...NetworkInterface) {
	d.SetAttribute(AttributePath{RootEndpoint, ClusterGeneralDiagnostics, AttrNetworkInterfaces},
		slices.Clone(ifaces))
}

// AddEndpoint populates the four Descriptor attributes of ep.
func (d *SimulatedDevice) AddEndpoint(ep EndpointID, desc Descriptor) {
	d.SetAttribute(AttributePath{ep, ClusterDescriptor, AttrDeviceTypeList}, slices.Clone(desc.DeviceTypes))
	d.SetAttribute(AttributePath{ep, ClusterDescriptor, AttrServerList}, slices.Clone(desc.ServerClusters))
	d.SetAttribute(AttributePath{ep, ClusterDescriptor, AttrClientList}, slices.Clone(desc.ClientClusters))
	d.SetAttribute(AttributePath{ep, ClusterDescriptor, AttrPartsList}, slices.Clone(desc.Parts))
}

// SimulatorConfig configures the Simulator.
type SimulatorConfig struct {
	VendorID     uint16
	ProductID    uint16
	BridgeNodeID NodeID

	// Latency delays every callback. Zero delivers on the next stack turn.
	Latency time.Duration

	// Clock drives latency and window expiry. Nil uses the wall clock.
	Clock clock.Clock
}

// firstAssignedNode is where node id allocation starts for devices that do
// not name their own.
const firstAssignedNode NodeID = 0x1000

// Simulator is a deterministic in-process Controller backed by
// SimulatedDevices. It honours the Controller threading contract: every
// callback is scheduled onto the stack executor.
//
// Thread Safety: Controller methods run on the stack goroutine. Status and
// CommissionedNodes may be called from any goroutine.
type Simulator struct {
	exec   stack.Scheduler
	cfg    SimulatorConfig
	clock  clock.Clock
	logger Logger

	mu           sync.Mutex
	devices      []*SimulatedDevice
	commissioned map[NodeID]*SimulatedDevice
	windows      map[NodeID]time.Time
	delegate     CommissioningDelegate
	nextNode     NodeID
	running      bool
}

// NewSimulator creates a stopped simulator serving devices.
func NewSimulator(exec stack.Scheduler, cfg SimulatorConfig, devices ...*SimulatedDevice) *Simulator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Simulator{
		exec:         exec,
		cfg:          cfg,
		clock:        clk,
		logger:       noopLogger{},
		devices:      devices,
		commissioned: make(map[NodeID]*SimulatedDevice),
		windows:      make(map[NodeID]time.Time),
		nextNode:     firstAssignedNode,
	}
}

// SetLogger sets the logger for the simulator.
func (s *Simulator) SetLogger(l Logger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// Start brings the controller up.
func (s *Simulator) Start() error {
	s.mu.Lock()
	s.running = true
	n := len(s.devices)
	logger := s.logger
	s.mu.Unlock()
	logger.Info("matter simulator started", "devices", n)
	return nil
}

// Stop shuts the controller down. Callbacks still in flight are dropped.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.running = false
	s.delegate = nil
	s.mu.Unlock()
}

// CommissionedNodes returns the nodes commissioned so far, sorted.
func (s *Simulator) CommissionedNodes() []NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]NodeID, 0, len(s.commissioned))
	for n := range s.commissioned {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}

// Status summarises the simulator for the subsystem status document.
func (s *Simulator) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := 0
	now := s.clock.Now()
	for _, until := range s.windows {
		if now.Before(until) {
			open++
		}
	}
	return map[string]any{
		"backend":      "simulator",
		"running":      s.running,
		"devices":      len(s.devices),
		"commissioned": len(s.commissioned),
		"open_windows": open,
	}
}

// BridgeNodeID implements Controller.
func (s *Simulator) BridgeNodeID() NodeID { return s.cfg.BridgeNodeID }

// SetCommissioningDelegate implements Controller.
func (s *Simulator) SetCommissioningDelegate(d CommissioningDelegate) {
	s.mu.Lock()
	s.delegate = d
	s.mu.Unlock()
}

// Commission implements Controller. The device is matched by discriminator,
// then the passcode is checked, then the device's failure flags apply.
func (s *Simulator) Commission(req CommissionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !s.isRunning() {
		return ErrControllerStopped
	}

	s.later(func() {
		dev := s.match(req.Payload.Discriminator)
		if dev == nil {
			s.fail(UndefinedNodeID, ErrNoMatchingDevice)
			return
		}
		node := s.assignNode(req.NodeID, dev)
		if d := s.currentDelegate(); d != nil {
			d.OnDeviceDiscovered(DiscoveredNode{
				Instance:      dev.Name,
				Address:       "sim://" + dev.Name,
				Discriminator: dev.Discriminator,
				VendorID:      dev.VendorID,
				ProductID:     dev.ProductID,
			})
			d.OnStatusUpdate("establishing PASE session")
		}

		s.later(func() {
			if dev.Passcode != req.Payload.Passcode {
				s.fail(node, ErrPasscodeMismatch)
				return
			}
			if d := s.currentDelegate(); d != nil {
				d.OnStatusUpdate("PASE session established")
				d.OnReadCommissioningInfo(CommissioningInfo{VendorID: dev.VendorID, ProductID: dev.ProductID})
			}

			s.later(func() {
				if dev.FailCommissioning {
					s.fail(node, ErrCommissioningRejected)
					return
				}
				s.mu.Lock()
				s.commissioned[node] = dev
				delete(s.windows, node)
				logger := s.logger
				s.mu.Unlock()
				logger.Info("simulated device commissioned", "device", dev.Name, "node_id", node)
				if d := s.currentDelegate(); d != nil {
					d.OnCommissioningSuccess(node)
				}
			})
		})
	})
	return nil
}

// CompleteCommissioning implements Controller.
func (s *Simulator) CompleteCommissioning(node NodeID, done func(error)) error {
	dev, err := s.lookup(node)
	if err != nil {
		return err
	}
	s.later(func() {
		if dev.FailHandshake {
			done(ErrHandshakeFailed)
			return
		}
		done(nil)
	})
	return nil
}

// Connect implements Controller.
func (s *Simulator) Connect(node NodeID, done func(Session, error)) error {
	dev, err := s.lookup(node)
	if err != nil {
		return err
	}
	s.later(func() {
		done(&simSession{sim: s, node: node, dev: dev}, nil)
	})
	return nil
}

// OpenCommissioningWindow implements Controller. The bridge node and every
// commissioned node accept a window. While it is open the node can be
// commissioned again.
func (s *Simulator) OpenCommissioningWindow(node NodeID, timeout time.Duration, done func(WindowParams, error)) error {
	if timeout <= 0 {
		return ErrInvalidRequest
	}
	if !s.isRunning() {
		return ErrControllerStopped
	}

	params := WindowParams{
		VendorID:      s.cfg.VendorID,
		ProductID:     s.cfg.ProductID,
		Discriminator: uint16(rand.IntN(int(payload.MaxDiscriminator) + 1)), //nolint:gosec // discriminator, not a secret
		Passcode:      randomPasscode(),
		Timeout:       timeout,
	}
	if node != s.cfg.BridgeNodeID {
		dev, err := s.lookup(node)
		if err != nil {
			return err
		}
		params.VendorID, params.ProductID = dev.VendorID, dev.ProductID
	}

	s.mu.Lock()
	s.windows[node] = s.clock.Now().Add(timeout)
	s.mu.Unlock()

	s.later(func() { done(params, nil) })
	return nil
}

func randomPasscode() uint32 {
	for {
		p := uint32(rand.IntN(int(payload.MaxPasscode))) + 1 //nolint:gosec // simulated devices only
		if payload.ValidatePasscode(p) == nil {
			return p
		}
	}
}

// match finds a device whose discriminator fits and that is either
// uncommissioned or has an open window.
func (s *Simulator) match(d payload.Discriminator) *SimulatedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, dev := range s.devices {
		if !d.Matches(dev.Discriminator) {
			continue
		}
		if node, ok := s.nodeOfLocked(dev); ok {
			if until, open := s.windows[node]; !open || !now.Before(until) {
				continue
			}
		}
		return dev
	}
	return nil
}

func (s *Simulator) nodeOfLocked(dev *SimulatedDevice) (NodeID, bool) {
	for n, d := range s.commissioned {
		if d == dev {
			return n, true
		}
	}
	return UndefinedNodeID, false
}

func (s *Simulator) assignNode(requested NodeID, dev *SimulatedDevice) NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case requested != UndefinedNodeID:
		return requested
	case dev.NodeID != UndefinedNodeID:
		return dev.NodeID
	}
	if n, ok := s.nodeOfLocked(dev); ok {
		return n
	}
	n := s.nextNode
	s.nextNode++
	return n
}

func (s *Simulator) lookup(node NodeID) (*SimulatedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrControllerStopped
	}
	dev, ok := s.commissioned[node]
	if !ok {
		return nil, ErrUnknownNode
	}
	return dev, nil
}

func (s *Simulator) fail(node NodeID, err error) {
	s.mu.Lock()
	logger := s.logger
	d := s.delegate
	s.mu.Unlock()
	logger.Warn("simulated commissioning failed", "node_id", node, "error", err)
	if d != nil {
		d.OnCommissioningFailure(node, err)
	}
}

func (s *Simulator) currentDelegate() CommissioningDelegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

func (s *Simulator) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// later delivers fn on the stack goroutine after the configured latency.
// Work is dropped once the simulator is stopped.
func (s *Simulator) later(fn func()) {
	run := func() {
		if !s.isRunning() {
			return
		}
		fn()
	}
	schedule := func() {
		if err := s.exec.Schedule(run); err != nil {
			s.mu.Lock()
			logger := s.logger
			s.mu.Unlock()
			logger.Warn("dropping simulated callback", "error", err)
		}
	}
	if s.cfg.Latency <= 0 {
		schedule()
		return
	}
	s.clock.AfterFunc(s.cfg.Latency, schedule)
}

// simSession reads attributes from a commissioned SimulatedDevice.
type simSession struct {
	sim      *Simulator
	node     NodeID
	dev      *SimulatedDevice
	released bool
}

func (ss *simSession) NodeID() NodeID { return ss.node }

func (ss *simSession) Release() { ss.released = true }

func (ss *simSession) Read(paths []AttributePath, _ ReadParams, cb ReadCallbacks) (ReadHandle, error) {
	if ss.released {
		return nil, ErrSessionClosed
	}
	if len(paths) == 0 {
		return nil, ErrInvalidRequest
	}

	h := &simReadHandle{}
	remaining := len(paths)
	for _, path := range paths {
		ss.sim.later(func() {
			if h.closed || ss.released {
				return
			}
			if v, ok := ss.dev.Attributes[path]; ok {
				if cb.OnAttribute != nil {
					cb.OnAttribute(path, cloneValue(v))
				}
			} else if cb.OnError != nil {
				cb.OnError(path, ErrUnsupportedAttribute)
			}
			remaining--
			if remaining == 0 && cb.OnDone != nil {
				cb.OnDone()
			}
		})
	}
	return h, nil
}

// simReadHandle is only touched on the stack goroutine.
type simReadHandle struct {
	closed bool
}

func (h *simReadHandle) Close() { h.closed = true }

// cloneValue copies slice values so readers never alias device state.
func cloneValue(v any) any {
	switch t := v.(type) {
	case []DeviceType:
		return slices.Clone(t)
	case []ClusterID:
		return slices.Clone(t)
	case []EndpointID:
		return slices.Clone(t)
	case []NetworkInterface:
		return slices.Clone(t)
	default:
		return v
	}
}
