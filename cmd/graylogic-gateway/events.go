package main

import (
	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/commissioning"
	"github.com/nerrad567/gray-logic-gateway/internal/device"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
)

// busPublisher is the part of the MQTT client events are sent through.
type busPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// broadcaster is the part of the WebSocket hub events are pushed to.
type broadcaster interface {
	Broadcast(channel string, payload any)
	BroadcastProgress(p commissioning.Progress)
	BroadcastReadiness(name string, ready bool, summary subsystem.Readiness)
}

// eventFanout sends gateway events to MQTT, when a broker is configured,
// and to WebSocket subscribers.
type eventFanout struct {
	bus    busPublisher
	hub    broadcaster
	topics mqtt.Topics
	logger interface {
		Warn(msg string, args ...any)
	}
}

// PublishJSON implements device.Publisher. Device announcements are also
// pushed to the device.announced channel.
func (e *eventFanout) PublishJSON(topic string, v any, retained bool) error {
	if a, ok := v.(device.Announcement); ok && e.hub != nil {
		e.hub.Broadcast(api.ChannelDeviceAnnounced, a)
	}
	if e.bus == nil {
		return nil
	}
	return e.bus.PublishJSON(topic, v, retained)
}

// progress is the orchestrator's ProgressFunc.
func (e *eventFanout) progress(p commissioning.Progress) {
	if e.hub != nil {
		e.hub.BroadcastProgress(p)
	}
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishJSON(e.topics.CommissioningProgress(), p, false); err != nil {
		e.logger.Warn("publishing commissioning progress failed", "error", err)
	}
}

// readiness publishes a subsystem transition with the summary at that point.
func (e *eventFanout) readiness(name string, ready bool, summary subsystem.Readiness) {
	if e.hub != nil {
		e.hub.BroadcastReadiness(name, ready, summary)
	}
	if e.bus == nil {
		return
	}
	doc := map[string]any{"subsystem": name, "ready": ready}
	if err := e.bus.PublishJSON(e.topics.SubsystemStatus(name), doc, true); err != nil {
		e.logger.Warn("publishing subsystem status failed", "subsystem", name, "error", err)
	}
	if err := e.bus.PublishJSON(e.topics.Status(), summary, true); err != nil {
		e.logger.Warn("publishing gateway status failed", "error", err)
	}
}
