package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// Publisher sends JSON documents to the event bus. Satisfied by *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// StateWriter records state readings as time series. Satisfied by
// *influxdb.Client.
type StateWriter interface {
	WriteDeviceState(deviceID, driver string, state map[string]any)
}

// AnnounceCounter counts announced devices. Satisfied by *metrics.Metrics.
type AnnounceCounter interface {
	IncDevicesAnnounced(driver string)
}

// MetadataSource hands over metadata discovered before a device record
// existed. Satisfied by *discovery.MetadataStore.
type MetadataSource interface {
	Take(node matter.NodeID) ([]byte, bool)
}

// ServiceDeps are the optional collaborators of a Service. Nil fields
// disable the corresponding side effect.
type ServiceDeps struct {
	Publisher Publisher
	States    StateWriter
	Metrics   AnnounceCounter
	Metadata  MetadataSource
}

// Announcement is the retained document published for each device.
type Announcement struct {
	Device    *Device   `json:"device"`
	Announced time.Time `json:"announced"`
}

// StateUpdate is the document published when a device's state changes.
type StateUpdate struct {
	DeviceID string    `json:"device_id"`
	State    State     `json:"state"`
	At       time.Time `json:"at"`
}

// Service is the device-facing entry point for commissioning: it announces
// newly commissioned nodes, records driver state and stores discovery
// metadata against device records.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	registry *Registry
	deps     ServiceDeps
	topics   mqtt.Topics
	logger   Logger
}

// NewService creates a device service over registry.
func NewService(registry *Registry, deps ServiceDeps) *Service {
	return &Service{
		registry: registry,
		deps:     deps,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetadataSource binds the pending-metadata source after construction.
func (s *Service) SetMetadataSource(src MetadataSource) {
	s.deps.Metadata = src
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Announce creates the device record for a commissioned node, or refreshes
// the record already bound to that node. On return dev.ID is set.
//
// Metadata discovered before the record existed is promoted onto it. Bus
// publication failures are logged, not returned.
func (s *Service) Announce(ctx context.Context, dev *Device) error {
	if dev == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if dev.Protocol == "" {
		dev.Protocol = ProtocolMatter
	}
	if dev.Metadata == nil && s.deps.Metadata != nil {
		if data, ok := s.deps.Metadata.Take(dev.NodeID); ok {
			dev.Metadata = data
		}
	}
	dev.HealthStatus = HealthStatusOnline

	existing, err := s.registry.GetDeviceByNode(ctx, dev.Protocol, dev.NodeID)
	switch {
	case err == nil:
		dev.ID = existing.ID
		dev.CreatedAt = existing.CreatedAt
		if dev.Metadata == nil {
			dev.Metadata = existing.Metadata
		}
		if err := s.registry.UpdateDevice(ctx, dev); err != nil {
			return fmt.Errorf("re-announcing device: %w", err)
		}
		s.logger.Info("device re-announced", "id", dev.ID, "node", dev.NodeID, "driver", dev.Driver)
	case errors.Is(err, ErrDeviceNotFound):
		if err := s.registry.CreateDevice(ctx, dev); err != nil {
			return fmt.Errorf("announcing device: %w", err)
		}
		s.logger.Info("device announced", "id", dev.ID, "node", dev.NodeID, "driver", dev.Driver)
	default:
		return fmt.Errorf("looking up node %v: %w", dev.NodeID, err)
	}

	if err := s.registry.SetDeviceHealth(ctx, dev.ID, HealthStatusOnline); err != nil {
		s.logger.Warn("marking device online failed", "id", dev.ID, "error", err)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.IncDevicesAnnounced(dev.Driver)
	}
	s.publish(s.topics.DeviceAnnounce(dev.ID), Announcement{Device: dev.DeepCopy(), Announced: time.Now().UTC()})
	return nil
}

// SetState merges a driver reading into the device's state and fans it out
// to the bus and the time-series store.
func (s *Service) SetState(ctx context.Context, id string, state State) error {
	if len(state) == 0 {
		return nil
	}
	if err := s.registry.SetDeviceState(ctx, id, state); err != nil {
		return err
	}

	dev, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if s.deps.States != nil {
		s.deps.States.WriteDeviceState(id, dev.Driver, state)
	}
	s.publish(s.topics.DeviceState(id), StateUpdate{DeviceID: id, State: state, At: time.Now().UTC()})
	return nil
}

// FindByNodeID returns the Matter device bound to node.
func (s *Service) FindByNodeID(ctx context.Context, node matter.NodeID) (*Device, error) {
	return s.registry.GetDeviceByNode(ctx, ProtocolMatter, node)
}

// SaveNodeMetadata stores discovery metadata on the device bound to node.
// It reports false when no device is bound yet.
func (s *Service) SaveNodeMetadata(ctx context.Context, node matter.NodeID, metadata []byte) (bool, error) {
	dev, err := s.FindByNodeID(ctx, node)
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.registry.SetDeviceMetadata(ctx, dev.ID, json.RawMessage(metadata)); err != nil {
		return false, err
	}
	return true, nil
}

// LoadNodeMetadata returns the metadata stored on the device bound to node.
func (s *Service) LoadNodeMetadata(ctx context.Context, node matter.NodeID) ([]byte, bool, error) {
	dev, err := s.FindByNodeID(ctx, node)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if dev.Metadata == nil {
		return nil, false, nil
	}
	return dev.Metadata, true, nil
}

func (s *Service) publish(topic string, v any) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishJSON(topic, v, true); err != nil {
		s.logger.Warn("device publish failed", "topic", topic, "error", err)
	}
}
