package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"

	"github.com/nerrad567/gray-logic-gateway/internal/device"
)

// handleListDevices returns all devices.
//
// Query parameters:
//   - protocol: filter by protocol (matter, thread, zigbee)
//   - health: filter by health status (online, offline, degraded, unknown)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device registry not available")
		return
	}
	ctx := r.Context()

	var (
		devices []device.Device
		err     error
	)
	if protocol := r.URL.Query().Get("protocol"); protocol != "" {
		devices, err = s.devices.GetDevicesByProtocol(ctx, device.Protocol(protocol))
	} else {
		devices, err = s.devices.ListDevices(ctx)
	}
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	if health := r.URL.Query().Get("health"); health != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.HealthStatus) == health {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	if devices == nil {
		devices = []device.Device{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetDeviceState returns only the state of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  dev.ID,
		"state":      dev.State,
		"updated_at": dev.StateUpdatedAt,
	})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device registry not available")
		return
	}
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}

// handleRefreshDevice re-reads one device's state through its driver.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeUnavailable(w, "device refresh not available")
		return
	}
	id := chi.URLParam(r, "id")

	state, err := s.refresher.Refresh(r.Context(), id)
	if err != nil {
		if !errors.Is(err, device.ErrDeviceNotFound) {
			s.logger.Warn("device refresh failed", "device_id", id, "error", err)
		}
		writeDomainError(w, err, "device did not answer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "state": state})
}

// handleRefreshAll re-reads every device. Devices that fail are listed but
// do not fail the request.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeUnavailable(w, "device refresh not available")
		return
	}

	n, err := s.refresher.RefreshAll(r.Context())
	failures := []string{}
	for _, e := range multierr.Errors(err) {
		failures = append(failures, e.Error())
	}
	if len(failures) > 0 {
		s.logger.Warn("device refresh incomplete", "refreshed", n, "failed", len(failures))
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": n, "failures": failures})
}

// lookupDevice loads the {id} device, writing the error response itself on
// failure.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	if s.devices == nil {
		writeUnavailable(w, "device registry not available")
		return nil, false
	}
	dev, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}
