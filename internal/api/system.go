package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

// handleStatus serves the subsystem status document.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.subsystems.StatusJSON()
	if err != nil {
		s.logger.Error("building status document failed", "error", err)
		writeInternalError(w, "failed to build status")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc) //nolint:errcheck // Best-effort write to response; connection may be closed
}

// handleReadiness serves the pairing/operation summary. It answers 503 until
// the gateway can pair, so it doubles as a load balancer probe.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	summary := s.subsystems.Readiness()
	status := http.StatusOK
	if !summary.Pairing {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, summary)
}

// RestoreRequest names an unpacked backup to restore subsystem state from.
type RestoreRequest struct {
	// Source is a directory holding one sub-directory per subsystem.
	Source string `json:"source"`
}

// RestoreResponse reports a config restore.
type RestoreResponse struct {
	Status string   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// handleRestore copies subsystem state from an unpacked backup into the
// state directory and tells each subsystem to reload it.
//
// Subsystems that fail to restore are reported; the others are still
// reloaded.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if s.stateDir == "" {
		writeUnavailable(w, "config restore is not configured")
		return
	}

	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Source == "" || !filepath.IsAbs(req.Source) {
		writeBadRequest(w, "source must be an absolute path")
		return
	}
	src := filepath.Clean(req.Source)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		writeBadRequest(w, "source is not a directory")
		return
	}
	if rel, err := filepath.Rel(s.stateDir, src); err == nil && !strings.HasPrefix(rel, "..") {
		writeBadRequest(w, "source must be outside the state directory")
		return
	}

	s.logger.Info("restoring subsystem state", "source", src, "destination", s.stateDir)
	restoreErr := s.subsystems.RestoreConfig(src, s.stateDir)
	s.subsystems.PostRestoreConfig()

	if restoreErr != nil {
		resp := RestoreResponse{Status: "partial"}
		for _, err := range multierr.Errors(restoreErr) {
			resp.Errors = append(resp.Errors, err.Error())
		}
		s.logger.Warn("subsystem state restore incomplete", "error", restoreErr)
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, RestoreResponse{Status: "restored"})
}
