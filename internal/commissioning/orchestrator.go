package commissioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-gateway/internal/device"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/driver"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/matter/payload"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
)

// DefaultTimeout bounds Commission and Pair when the caller passes zero.
const DefaultTimeout = 2 * time.Minute

// windowReplyTimeout bounds the wait for a controller to answer an
// open-window request.
var windowReplyTimeout = DefaultTimeout

// Logger defines the logging interface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetadataSaver keeps the endpoint structure found by discovery.
// Implemented by discovery.MetadataStore.
type MetadataSaver interface {
	Save(ctx context.Context, node matter.NodeID, details discovery.DiscoveredDeviceDetails) error
}

// DriverSelector picks the device-class driver for a discovered node.
// Implemented by driver.Factory.
type DriverSelector interface {
	Select(details discovery.DiscoveredDeviceDetails) driver.Driver
}

// DeviceAnnouncer is the device-service side of pairing.
// Implemented by device.Service.
type DeviceAnnouncer interface {
	Announce(ctx context.Context, dev *device.Device) error
	SetState(ctx context.Context, id string, state device.State) error
}

// Deps are the orchestrator's collaborators. Metadata and Recorder are
// optional.
type Deps struct {
	Controller matter.Controller
	Executor   stack.Scheduler
	Drivers    DriverSelector
	Devices    DeviceAnnouncer
	Metadata   MetadataSaver
	Recorder   Recorder

	// ReadParams is used for every discovery read.
	ReadParams matter.ReadParams
}

// Progress reports one status transition.
type Progress struct {
	AttemptID string        `json:"attempt_id,omitempty"`
	Status    Status        `json:"status"`
	NodeID    matter.NodeID `json:"node_id,omitempty"`
	At        time.Time     `json:"at"`
}

// ProgressFunc observes every transition. It is never called with the
// orchestrator's lock held, so it may call back into the orchestrator.
type ProgressFunc func(Progress)

// Session is a snapshot of the current attempt.
type Session struct {
	AttemptID  string                 `json:"attempt_id,omitempty"`
	Status     Status                 `json:"status"`
	NodeID     matter.NodeID          `json:"node_id,omitempty"`
	DeviceID   string                 `json:"device_id,omitempty"`
	Discovered *matter.DiscoveredNode `json:"discovered,omitempty"`

	// Discriminator is taken from the parsed setup payload, when there is
	// one. Short is set for manual codes.
	Discriminator *payload.Discriminator `json:"discriminator,omitempty"`
}

// Orchestrator turns the asynchronous commissioning flow into synchronous
// Commission and Pair calls with a bounded wait.
//
// Every attempt gets a generation number. Delegate callbacks and status
// updates carrying an older generation are dropped, so a callback that
// arrives after a timeout cannot touch a later attempt.
//
// A timeout only unblocks the caller. Work already handed to the controller
// keeps running and its outcome is discarded.
//
// Thread Safety: All methods are safe for concurrent use. Commission and
// Pair calls are serialised.
type Orchestrator struct {
	deps   Deps
	logger Logger

	attempt sync.Mutex

	mu         sync.Mutex
	progress   ProgressFunc
	generation uint64
	active     bool
	status     Status
	changed    chan struct{}
	attemptID  string
	setup      payload.SetupPayload
	hasSetup   bool
	nodeID     matter.NodeID
	deviceID   string
	discovered *matter.DiscoveredNode
}

// NewOrchestrator creates an orchestrator.
//
// Returns:
//   - *Orchestrator: ready to use
//   - error: ErrMissingDependency if the controller, executor, drivers or
//     devices are nil
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Controller == nil:
		return nil, fmt.Errorf("%w: controller", ErrMissingDependency)
	case deps.Executor == nil:
		return nil, fmt.Errorf("%w: executor", ErrMissingDependency)
	case deps.Drivers == nil:
		return nil, fmt.Errorf("%w: driver selector", ErrMissingDependency)
	case deps.Devices == nil:
		return nil, fmt.Errorf("%w: device announcer", ErrMissingDependency)
	}
	return &Orchestrator{
		deps:    deps,
		logger:  noopLogger{},
		changed: make(chan struct{}),
	}, nil
}

// SetLogger sets the logger. Call it before the first attempt.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// SetProgressFunc installs the transition observer.
func (o *Orchestrator) SetProgressFunc(fn ProgressFunc) {
	o.mu.Lock()
	o.progress = fn
	o.mu.Unlock()
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Session returns a snapshot of the current attempt.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Session{
		AttemptID: o.attemptID,
		Status:    o.status,
		NodeID:    o.nodeID,
		DeviceID:  o.deviceID,
	}
	if o.discovered != nil {
		n := *o.discovered
		s.Discovered = &n
	}
	if o.hasSetup {
		d := o.setup.Discriminator
		s.Discriminator = &d
	}
	return s
}

// Reset clears the discovered node, the final node id and the status.
// An attempt still running loses its claim on the session.
func (o *Orchestrator) Reset() {
	o.reset("")
}

func (o *Orchestrator) reset(attemptID string) uint64 {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.active = false
	o.attemptID = attemptID
	o.setup = payload.SetupPayload{}
	o.hasSetup = false
	o.nodeID = matter.UndefinedNodeID
	o.deviceID = ""
	o.discovered = nil
	o.mu.Unlock()

	o.apply(gen, false, StatusPending, nil)
	return gen
}

// Commission onboards the device described by setupCode (an 11 or 21 digit
// manual code, or an MT: QR string) and, once the controller reports
// success, pairs it.
//
// It returns false on any failure, including timeout. Session and the
// progress stream say why.
func (o *Orchestrator) Commission(ctx context.Context, setupCode string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	o.attempt.Lock()
	defer o.attempt.Unlock()

	started := time.Now()
	id := uuid.NewString()
	gen := o.reset(id)
	rec := Attempt{ID: id, Kind: KindCommission, StartedAt: started.UTC()}

	ok := o.commission(ctx, gen, setupCode, timeout, &rec)
	o.finish(ctx, gen, &rec, started, ok)
	return ok
}

// Pair completes commissioning of an already commissioned node, discovers
// it and hands it to a driver and the device service.
func (o *Orchestrator) Pair(ctx context.Context, node matter.NodeID, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	o.attempt.Lock()
	defer o.attempt.Unlock()

	started := time.Now()
	id := uuid.NewString()
	gen := o.reset(id)
	rec := Attempt{ID: id, Kind: KindPair, NodeID: node, StartedAt: started.UTC()}

	ok := o.pair(ctx, gen, node, timeout, &rec)
	o.finish(ctx, gen, &rec, started, ok)
	return ok
}

func (o *Orchestrator) commission(ctx context.Context, gen uint64, setupCode string, timeout time.Duration, rec *Attempt) bool {
	setup, err := payload.Parse(setupCode)
	if err != nil {
		o.logger.Warn("invalid setup payload", "attempt", rec.ID, "error", err)
		o.apply(gen, false, StatusInvalidSetupPayload, nil)
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.apply(gen, false, StatusStarted, func() bool {
		o.setup = setup
		o.hasSetup = true
		o.active = true
		return true
	})

	ctrl := o.deps.Controller
	delegate := &attemptDelegate{o: o, gen: gen}
	err = o.deps.Executor.Schedule(func() {
		ctrl.SetCommissioningDelegate(delegate)
		req := matter.CommissionRequest{Payload: setup}
		if err := req.Validate(); err != nil {
			o.logger.Error("building commissioning request failed", "attempt", rec.ID, "error", err)
			o.apply(gen, false, StatusInternalError, nil)
			return
		}
		if err := ctrl.Commission(req); err != nil {
			o.logger.Error("starting commissioning failed", "attempt", rec.ID, "error", err)
			o.apply(gen, false, StatusInternalError, o.undecided)
		}
	})
	if err != nil {
		o.logger.Error("scheduling commissioning failed", "attempt", rec.ID, "error", err)
		o.apply(gen, false, StatusInternalError, func() bool {
			o.active = false
			return true
		})
		return false
	}

	st, finished := o.wait(cctx, gen, commissionDone)
	o.unregister(gen)
	if !finished {
		o.logger.Warn("commissioning wait ended before a result; work in flight is not cancelled",
			"attempt", rec.ID, "status", st, "timeout", timeout, "error", cctx.Err())
		return false
	}
	if !st.Succeeded() {
		return false
	}

	o.mu.Lock()
	node := o.nodeID
	o.mu.Unlock()
	rec.NodeID = node

	deadline, _ := cctx.Deadline()
	return o.pair(ctx, gen, node, time.Until(deadline), rec)
}

func (o *Orchestrator) pair(ctx context.Context, gen uint64, node matter.NodeID, timeout time.Duration, rec *Attempt) bool {
	if node == matter.UndefinedNodeID {
		o.logger.Warn("pairing rejected", "attempt", rec.ID, "error", ErrInvalidNode)
		o.apply(gen, false, StatusCommissioningFailed, nil)
		return false
	}
	o.mu.Lock()
	if o.generation == gen {
		o.nodeID = node
	}
	o.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := o.completeCommissioning(pctx, node); err != nil {
		o.logger.Warn("commissioning completion failed", "attempt", rec.ID, "node_id", node, "error", err)
		o.apply(gen, false, StatusCommissioningCompleteFailed, nil)
		return false
	}

	o.apply(gen, false, StatusDiscoveryPending, nil)
	discoveryStarted := time.Now()
	d := discovery.NewDiscoverer(o.deps.Controller, o.deps.Executor, node,
		discovery.WithReadParams(o.deps.ReadParams), discovery.WithLogger(o.logger))
	defer d.Close()
	promise := d.Start()
	o.apply(gen, false, StatusDiscoveryStarted, nil)

	found, err := promise.Wait(pctx)
	result := &DiscoveryResult{Duration: time.Since(discoveryStarted)}
	rec.Discovery = result
	if err != nil || !found {
		if err == nil {
			err = d.Err()
		}
		o.logger.Warn("device discovery failed", "attempt", rec.ID, "node_id", node, "error", err)
		o.apply(gen, false, StatusDiscoveryFailed, nil)
		o.apply(gen, false, StatusCommissioningFailed, nil)
		return false
	}

	details := d.Details()
	result.Success = true
	result.Endpoints = len(details.Endpoints)
	o.apply(gen, false, StatusDiscoveryCompleted, nil)

	deviceID, err := o.attach(pctx, node, details)
	rec.DeviceID = deviceID
	if err != nil {
		o.logger.Warn("device hand-off failed", "attempt", rec.ID, "node_id", node, "error", err)
		o.apply(gen, false, StatusCommissioningFailed, nil)
		return false
	}

	o.apply(gen, false, StatusCommissionedSuccessfully, func() bool {
		o.deviceID = deviceID
		return true
	})
	o.logger.Info("device commissioned", "attempt", rec.ID, "node_id", node, "device_id", deviceID,
		"endpoints", result.Endpoints)
	return true
}

// completeCommissioning runs the operational handshake and waits for it.
func (o *Orchestrator) completeCommissioning(ctx context.Context, node matter.NodeID) error {
	done := make(chan error, 1)
	deliver := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	ctrl := o.deps.Controller
	if err := o.deps.Executor.Schedule(func() {
		if err := ctrl.CompleteCommissioning(node, deliver); err != nil {
			deliver(err)
		}
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attach saves the metadata, then selects a driver, attaches, announces and
// refreshes. It returns the device id once the device has been announced.
func (o *Orchestrator) attach(ctx context.Context, node matter.NodeID, details discovery.DiscoveredDeviceDetails) (string, error) {
	if o.deps.Metadata != nil {
		if err := o.deps.Metadata.Save(ctx, node, details); err != nil {
			return "", fmt.Errorf("saving discovery metadata: %w", err)
		}
	}

	drv := o.deps.Drivers.Select(details)
	dev, err := drv.Attach(node, details)
	if err != nil {
		return "", fmt.Errorf("attaching %s driver: %w", drv.Name(), err)
	}
	if o.deps.Metadata == nil {
		if dev.Metadata, err = discovery.MarshalMetadata(details); err != nil {
			return "", err
		}
	}

	if err := o.deps.Devices.Announce(ctx, dev); err != nil {
		return "", fmt.Errorf("announcing device: %w", err)
	}

	state, err := drv.Refresh(ctx, dev)
	if err != nil {
		return dev.ID, fmt.Errorf("refreshing device %s: %w", dev.ID, err)
	}
	if err := o.deps.Devices.SetState(ctx, dev.ID, state); err != nil {
		return dev.ID, fmt.Errorf("storing state of device %s: %w", dev.ID, err)
	}
	return dev.ID, nil
}

// OpenCommissioningWindow asks node to accept another administrator for
// timeout and returns the onboarding codes to give it. A nil node opens the
// window on the gateway's own bridge node.
func (o *Orchestrator) OpenCommissioningWindow(ctx context.Context, node *matter.NodeID, timeout time.Duration) (setupCode, qrCode string, err error) {
	if timeout <= 0 {
		return "", "", ErrInvalidTimeout
	}
	var target *matter.NodeID
	if node != nil {
		if *node == matter.UndefinedNodeID {
			return "", "", ErrInvalidNode
		}
		n := *node
		target = &n
	}

	type windowResult struct {
		params matter.WindowParams
		err    error
	}
	results := make(chan windowResult, 1)
	deliver := func(r windowResult) {
		select {
		case results <- r:
		default:
		}
	}

	ctrl := o.deps.Controller
	if err := o.deps.Executor.Schedule(func() {
		n := ctrl.BridgeNodeID()
		if target != nil {
			n = *target
		}
		err := ctrl.OpenCommissioningWindow(n, timeout, func(p matter.WindowParams, err error) {
			deliver(windowResult{params: p, err: err})
		})
		if err != nil {
			deliver(windowResult{err: err})
		}
	}); err != nil {
		return "", "", err
	}

	wctx, cancel := context.WithTimeout(ctx, windowReplyTimeout)
	defer cancel()

	var r windowResult
	select {
	case r = <-results:
	case <-wctx.Done():
		return "", "", fmt.Errorf("waiting for commissioning window: %w", wctx.Err())
	}
	if r.err != nil {
		return "", "", fmt.Errorf("opening commissioning window: %w", r.err)
	}

	p := r.params.SetupPayload()
	if setupCode, err = payload.EncodeManualCode(p); err != nil {
		return "", "", fmt.Errorf("encoding manual code: %w", err)
	}
	if qrCode, err = payload.EncodeQRCode(p); err != nil {
		return "", "", fmt.Errorf("encoding QR code: %w", err)
	}
	o.logger.Info("commissioning window opened", "discriminator", p.Discriminator, "timeout", timeout)
	return setupCode, qrCode, nil
}

// apply moves the attempt gen to st. It changes nothing and reports false
// once gen is stale, or when a delegate update arrives after the delegate
// was unregistered, or when guard returns false. guard runs under the lock.
func (o *Orchestrator) apply(gen uint64, fromDelegate bool, st Status, guard func() bool) bool {
	o.mu.Lock()
	if gen != o.generation || (fromDelegate && !o.active) {
		o.mu.Unlock()
		return false
	}
	if guard != nil && !guard() {
		o.mu.Unlock()
		return false
	}
	o.status = st
	p := Progress{AttemptID: o.attemptID, Status: st, NodeID: o.nodeID, At: time.Now().UTC()}
	notify := o.progress
	o.mu.Unlock()

	if notify != nil {
		notify(p)
	}

	o.mu.Lock()
	close(o.changed)
	o.changed = make(chan struct{})
	o.mu.Unlock()
	return true
}

// decided reports whether the current attempt already reached an outcome
// Commission waits for. Callers hold o.mu.
func (o *Orchestrator) decided() bool {
	return commissionDone(o.status)
}

func (o *Orchestrator) undecided() bool {
	return !o.decided()
}

// wait blocks until done(status) holds for attempt gen, ctx ends, or the
// attempt is superseded. The bool is false unless done held.
func (o *Orchestrator) wait(ctx context.Context, gen uint64, done func(Status) bool) (Status, bool) {
	for {
		o.mu.Lock()
		st, changed, current := o.status, o.changed, o.generation == gen
		o.mu.Unlock()

		if !current {
			return st, false
		}
		if done(st) {
			return st, true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, false
		}
	}
}

// unregister stops delegate updates for gen and clears the controller's
// delegate on the stack goroutine.
func (o *Orchestrator) unregister(gen uint64) {
	o.mu.Lock()
	if o.generation == gen {
		o.active = false
	}
	o.mu.Unlock()

	ctrl := o.deps.Controller
	if err := o.deps.Executor.Schedule(func() { ctrl.SetCommissioningDelegate(nil) }); err != nil {
		o.logger.Warn("unregistering commissioning delegate failed", "error", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, gen uint64, rec *Attempt, started time.Time, ok bool) {
	o.mu.Lock()
	current := o.generation == gen
	if current {
		rec.Status = o.status
	}
	o.mu.Unlock()

	if !current {
		rec.Status = StatusCommissioningFailed
		if ok {
			rec.Status = StatusCommissionedSuccessfully
		}
	}
	rec.Duration = time.Since(started)
	if o.deps.Recorder != nil {
		o.deps.Recorder.Record(ctx, *rec)
	}
}

// attemptDelegate binds controller callbacks to one attempt.
type attemptDelegate struct {
	o   *Orchestrator
	gen uint64
}

// OnDeviceDiscovered keeps the first node reported for the attempt. The
// status only advances from Started, so a discovery reported after the
// outcome is recorded without reopening the attempt.
func (d *attemptDelegate) OnDeviceDiscovered(node matter.DiscoveredNode) {
	o := d.o
	accepted := o.apply(d.gen, true, StatusDeviceFound, func() bool {
		if o.discovered != nil {
			return false
		}
		o.discovered = &node
		return o.status == StatusStarted
	})
	if accepted {
		o.logger.Info("commissionable device found", "instance", node.Instance, "address", node.Address,
			"vendor_id", node.VendorID, "product_id", node.ProductID)
		return
	}
	o.logger.Debug("ignoring device discovery", "instance", node.Instance)
}

func (d *attemptDelegate) OnCommissioningSuccess(node matter.NodeID) {
	o := d.o
	if !o.apply(d.gen, true, StatusCommissionedSuccessfully, func() bool {
		if o.decided() {
			return false
		}
		o.nodeID = node
		return true
	}) {
		o.logger.Warn("ignoring commissioning success for a finished attempt", "node_id", node)
		return
	}
	o.logger.Info("commissioning succeeded", "node_id", node)
}

func (d *attemptDelegate) OnCommissioningFailure(node matter.NodeID, err error) {
	o := d.o
	if !o.apply(d.gen, true, StatusCommissioningFailed, o.undecided) {
		o.logger.Debug("ignoring commissioning failure for a finished attempt", "node_id", node, "error", err)
		return
	}
	o.logger.Warn("commissioning failed", "node_id", node, "error", err)
}

func (d *attemptDelegate) OnStatusUpdate(status string) {
	d.o.logger.Debug("commissioning status update", "status", status)
}

func (d *attemptDelegate) OnReadCommissioningInfo(info matter.CommissioningInfo) {
	d.o.logger.Info("commissioning info read", "vendor_id", info.VendorID, "product_id", info.ProductID)
}
