package driver

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-gateway/internal/device"
)

// defaultRefreshConcurrency bounds RefreshAll when NewRefresher gets zero.
const defaultRefreshConcurrency = 4

// DeviceLookup reads device records. Satisfied by *device.Registry.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// StateSink stores refreshed state. Satisfied by *device.Service.
type StateSink interface {
	SetState(ctx context.Context, id string, state device.State) error
}

// Refresher re-reads device state through each device's driver and stores
// the result.
//
// Thread Safety: Safe for concurrent use.
type Refresher struct {
	factory     *Factory
	devices     DeviceLookup
	states      StateSink
	concurrency int
}

// NewRefresher creates a Refresher. concurrency bounds RefreshAll; zero or
// less uses a default of 4.
func NewRefresher(f *Factory, devices DeviceLookup, states StateSink, concurrency int) *Refresher {
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}
	return &Refresher{factory: f, devices: devices, states: states, concurrency: concurrency}
}

// Refresh reads the device's state through its driver and stores it.
//
// Returns:
//   - device.State: the state read
//   - error: device.ErrDeviceNotFound, ErrUnknownDriver, or the read or
//     storage error
func (r *Refresher) Refresh(ctx context.Context, id string) (device.State, error) {
	dev, err := r.devices.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.refresh(ctx, dev)
}

func (r *Refresher) refresh(ctx context.Context, dev *device.Device) (device.State, error) {
	drv, err := r.factory.Get(dev.Driver)
	if err != nil {
		return nil, err
	}
	state, err := drv.Refresh(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("refreshing device %s: %w", dev.ID, err)
	}
	if err := r.states.SetState(ctx, dev.ID, state); err != nil {
		return nil, fmt.Errorf("storing state of device %s: %w", dev.ID, err)
	}
	return state, nil
}

// RefreshAll refreshes every device, at most concurrency at a time. One
// device failing does not stop the others.
//
// Returns:
//   - int: number of devices refreshed successfully
//   - error: every per-device failure, combined
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	devices, err := r.devices.ListDevices(ctx)
	if err != nil {
		return 0, err
	}

	var (
		mu   sync.Mutex
		ok   int
		errs error
	)
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range devices {
		dev := &devices[i]
		g.Go(func() error {
			_, err := r.refresh(ctx, dev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
			} else {
				ok++
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers report through errs
	return ok, errs
}
