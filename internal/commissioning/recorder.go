package commissioning

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// Attempt kinds.
const (
	KindCommission = "commission"
	KindPair       = "pair"
)

// DiscoveryResult describes the discovery phase of an attempt.
type DiscoveryResult struct {
	Success   bool
	Endpoints int
	Duration  time.Duration
}

// Attempt is the outcome of one Commission or Pair call.
type Attempt struct {
	ID        string
	Kind      string
	NodeID    matter.NodeID
	Status    Status
	StartedAt time.Time
	Duration  time.Duration
	DeviceID  string

	// Discovery is nil when the attempt never reached discovery.
	Discovery *DiscoveryResult
}

// Recorder receives every finished attempt. It is called on the goroutine
// that made the Commission or Pair call, after the result is known.
type Recorder interface {
	Record(ctx context.Context, a Attempt)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, a Attempt)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, a Attempt) { f(ctx, a) }

// MultiRecorder fans an attempt out to every recorder in order.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, a Attempt) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, a)
		}
	}
}

// MetricsObserver is the part of the metrics package the orchestrator feeds.
type MetricsObserver interface {
	ObserveCommissioning(kind, status string, success bool, d time.Duration)
	ObserveDiscovery(success bool, endpoints int, d time.Duration)
}

// MetricsRecorder records attempts as Prometheus observations.
func MetricsRecorder(m MetricsObserver) Recorder {
	return RecorderFunc(func(_ context.Context, a Attempt) {
		m.ObserveCommissioning(a.Kind, a.Status.String(), a.Status.Succeeded(), a.Duration)
		if a.Discovery != nil {
			m.ObserveDiscovery(a.Discovery.Success, a.Discovery.Endpoints, a.Discovery.Duration)
		}
	})
}

// TelemetryWriter is the part of the InfluxDB client the orchestrator feeds.
type TelemetryWriter interface {
	WriteCommissioningAttempt(kind, status string, success bool, duration time.Duration)
	WriteDiscovery(nodeID uint64, endpoints int, success bool, duration time.Duration)
}

// TelemetryRecorder writes attempts as time-series points.
func TelemetryRecorder(w TelemetryWriter) Recorder {
	return RecorderFunc(func(_ context.Context, a Attempt) {
		w.WriteCommissioningAttempt(a.Kind, a.Status.String(), a.Status.Succeeded(), a.Duration)
		if a.Discovery != nil {
			w.WriteDiscovery(uint64(a.NodeID), a.Discovery.Endpoints, a.Discovery.Success, a.Discovery.Duration)
		}
	})
}

// AuditRecorder stores attempts in the commissioning audit trail. Storage
// errors are logged.
func AuditRecorder(repo audit.Repository, logger Logger) Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return RecorderFunc(func(ctx context.Context, a Attempt) {
		row := &audit.Attempt{
			ID:        a.ID,
			Kind:      a.Kind,
			NodeID:    uint64(a.NodeID),
			Status:    a.Status.String(),
			Success:   a.Status.Succeeded(),
			StartedAt: a.StartedAt,
			Duration:  a.Duration,
			DeviceID:  a.DeviceID,
		}
		// The caller's context may already be past its deadline.
		if err := repo.Create(context.WithoutCancel(ctx), row); err != nil {
			logger.Error("recording commissioning attempt failed", "attempt", a.ID, "error", err)
		}
	})
}
