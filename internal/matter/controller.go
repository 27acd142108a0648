package matter

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/matter/payload"
	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

// Controller is the gateway's view of a Matter commissioner.
//
// Every method must be called on the stack goroutine (see internal/stack) and
// every callback is delivered there too. Methods never block: results arrive
// through the CommissioningDelegate or the supplied completion function.
type Controller interface {
	// SetCommissioningDelegate installs d for commissioning callbacks.
	// Passing nil unregisters the current delegate.
	SetCommissioningDelegate(d CommissioningDelegate)

	// Commission starts commissioning the device described by req. The outcome
	// is reported through the delegate. A returned error means nothing was
	// started.
	Commission(req CommissionRequest) error

	// CompleteCommissioning runs the operational handshake with a freshly
	// commissioned node and sends CommissioningComplete.
	CompleteCommissioning(node NodeID, done func(error)) error

	// Connect establishes an operational session with node.
	Connect(node NodeID, done func(Session, error)) error

	// OpenCommissioningWindow asks node to accept a new administrator for
	// timeout, using a freshly generated passcode.
	OpenCommissioningWindow(node NodeID, timeout time.Duration, done func(WindowParams, error)) error

	// BridgeNodeID is the gateway's own node on the fabric.
	BridgeNodeID() NodeID
}

// CommissioningDelegate receives commissioning progress.
type CommissioningDelegate interface {
	OnDeviceDiscovered(node DiscoveredNode)
	OnCommissioningSuccess(node NodeID)
	OnCommissioningFailure(node NodeID, err error)
	OnStatusUpdate(status string)
	OnReadCommissioningInfo(info CommissioningInfo)
}

// CommissionRequest is one commissioning attempt.
type CommissionRequest struct {
	Payload payload.SetupPayload
	// NodeID is the id to assign. Zero lets the controller choose.
	NodeID NodeID
}

// Validate checks the request before anything is sent on the network.
func (r CommissionRequest) Validate() error {
	if err := r.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// DiscoveredNode describes a commissionable device found for a request.
type DiscoveredNode struct {
	Instance      string
	Address       string
	Discriminator uint16
	VendorID      uint16
	ProductID     uint16
}

// CommissioningInfo is read from the device before credentials are sent.
type CommissioningInfo struct {
	VendorID  uint16
	ProductID uint16
}

// WindowParams describes an opened enhanced commissioning window.
type WindowParams struct {
	VendorID      uint16
	ProductID     uint16
	Discriminator uint16
	Passcode      uint32
	Timeout       time.Duration
}

// SetupPayload converts the window into an encodable onboarding payload.
// Windows are advertised on the IP network only.
func (w WindowParams) SetupPayload() payload.SetupPayload {
	return payload.SetupPayload{
		VendorID:      w.VendorID,
		ProductID:     w.ProductID,
		Flow:          payload.FlowStandard,
		Rendezvous:    payload.RendezvousOnNetwork,
		Discriminator: payload.Discriminator{Value: w.Discriminator},
		Passcode:      w.Passcode,
	}
}

// Session is an operational session with one node. Like the Controller it is
// only used on the stack goroutine.
type Session interface {
	NodeID() NodeID

	// Read requests paths. Callbacks are delivered per attribute, in any
	// order, followed by OnDone once every path has reported.
	Read(paths []AttributePath, params ReadParams, cb ReadCallbacks) (ReadHandle, error)

	// Release frees the session. Outstanding reads stop reporting.
	Release()
}

// ReadCallbacks receive the results of one Read. Nil members are skipped.
type ReadCallbacks struct {
	OnAttribute func(path AttributePath, value any)
	OnError     func(path AttributePath, err error)
	OnDone      func()
}

// ReadHandle cancels an outstanding read. Close is idempotent.
type ReadHandle interface {
	Close()
}

// ReadParams tunes a read or subscription.
type ReadParams struct {
	// Interval bounds the reporting interval when Subscribe is set.
	Interval  retry.IntervalBounds
	Subscribe bool
}

// NewReadParams validates the reporting bounds for a read. A zero floor
// disables the check.
//
// Returns:
//   - ReadParams: the validated parameters
//   - error: retry.ErrInvalidBounds if maxInterval < minInterval
func NewReadParams(minInterval, maxInterval time.Duration, subscribe bool) (ReadParams, error) {
	b, err := retry.NewIntervalBounds(minInterval, maxInterval)
	if err != nil {
		return ReadParams{}, fmt.Errorf("read params: %w", err)
	}
	return ReadParams{Interval: b, Subscribe: subscribe}, nil
}
