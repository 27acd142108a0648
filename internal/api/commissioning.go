package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/commissioning"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// CommissionRequest is the body of POST /commissioning/commission.
type CommissionRequest struct {
	// SetupPayload is an 11 or 21 digit manual code or an MT: QR string.
	SetupPayload   string `json:"setup_payload"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// PairRequest is the body of POST /commissioning/pair.
type PairRequest struct {
	NodeID         uint64 `json:"node_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// WindowRequest is the body of POST /commissioning/window. A missing
// node_id opens the window on the gateway's own bridge node.
type WindowRequest struct {
	NodeID         *uint64 `json:"node_id,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// CommissioningResponse reports the outcome of a commission or pair call.
// Success is false for every failure, timeouts included; Session.Status
// holds the last state reached.
type CommissioningResponse struct {
	Success bool                  `json:"success"`
	Session commissioning.Session `json:"session"`
}

// WindowResponse carries the onboarding codes for an opened window.
type WindowResponse struct {
	ManualCode string    `json:"manual_code"`
	QRCode     string    `json:"qr_code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// handleCommission onboards a device from its setup payload and pairs it.
// The request blocks until the attempt finishes or its timeout passes.
func (s *Server) handleCommission(w http.ResponseWriter, r *http.Request) {
	var req CommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SetupPayload == "" {
		writeBadRequest(w, "setup_payload is required")
		return
	}
	timeout, err := s.commissioningTimeout(req.TimeoutSeconds, s.commCfg.DefaultTimeout)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.runAttempt(w, r, func() bool {
		return s.commissioner.Commission(r.Context(), req.SetupPayload, timeout)
	})
}

// handlePair completes commissioning of an already commissioned node and
// discovers it.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.NodeID == uint64(matter.UndefinedNodeID) {
		writeBadRequest(w, "node_id is required")
		return
	}
	timeout, err := s.commissioningTimeout(req.TimeoutSeconds, s.commCfg.DefaultTimeout)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.runAttempt(w, r, func() bool {
		return s.commissioner.Pair(r.Context(), matter.NodeID(req.NodeID), timeout)
	})
}

// runAttempt applies the readiness and single-attempt guards around fn and
// writes the outcome.
func (s *Server) runAttempt(w http.ResponseWriter, r *http.Request, fn func() bool) {
	if !s.commissioningAvailable(w) {
		return
	}
	if !s.commissioningMu.TryLock() {
		writeError(w, http.StatusConflict, ErrCodeBusy, "a commissioning attempt is already running")
		return
	}
	defer s.commissioningMu.Unlock()

	ok := fn()
	session := s.commissioner.Session()
	s.logger.Info("commissioning attempt finished",
		"attempt", session.AttemptID,
		"success", ok,
		"status", session.Status,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusOK, CommissioningResponse{Success: ok, Session: session})
}

// handleOpenWindow opens a commissioning window and returns its codes.
func (s *Server) handleOpenWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	timeout, err := s.commissioningTimeout(req.TimeoutSeconds, s.commCfg.WindowTimeout)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var node *matter.NodeID
	if req.NodeID != nil {
		if *req.NodeID == uint64(matter.UndefinedNodeID) {
			writeBadRequest(w, "node_id must not be zero")
			return
		}
		n := matter.NodeID(*req.NodeID)
		node = &n
	}
	if !s.commissioningAvailable(w) {
		return
	}

	manual, qr, err := s.commissioner.OpenCommissioningWindow(r.Context(), node, timeout)
	if err != nil {
		s.logger.Warn("opening commissioning window failed", "error", err)
		writeDomainError(w, err, "failed to open commissioning window")
		return
	}
	writeJSON(w, http.StatusOK, WindowResponse{
		ManualCode: manual,
		QRCode:     qr,
		ExpiresAt:  time.Now().UTC().Add(timeout),
	})
}

// handleSession returns the current or last commissioning attempt.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.commissioner == nil {
		writeUnavailable(w, "commissioning not available")
		return
	}
	writeJSON(w, http.StatusOK, s.commissioner.Session())
}

// handleListAttempts returns the commissioning audit trail.
//
// Query parameters:
//   - kind: commission or pair
//   - node_id: decimal or 0x-prefixed node id
//   - success: true or false
//   - limit, offset: pagination
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "commissioning history not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Kind: q.Get("kind")}
	if filter.Kind != "" && filter.Kind != commissioning.KindCommission && filter.Kind != commissioning.KindPair {
		writeBadRequest(w, "kind must be commission or pair")
		return
	}
	if v := q.Get("node_id"); v != "" {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			writeBadRequest(w, "node_id must be an unsigned integer")
			return
		}
		filter.NodeID = n
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "success must be true or false")
			return
		}
		filter.Success = &b
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeBadRequest(w, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing commissioning attempts failed", "error", err)
		writeInternalError(w, "failed to list commissioning attempts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleNearby browses the local network for commissionable Matter nodes.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.browser == nil {
		writeUnavailable(w, "DNS-SD browsing not available")
		return
	}
	nodes, err := s.browser.BrowseCommissionable(r.Context())
	if err != nil {
		s.logger.Warn("browsing commissionable nodes failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, "browsing commissionable nodes failed")
		return
	}
	if nodes == nil {
		nodes = []matter.CommissionableNode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

// commissioningAvailable writes 503 unless an orchestrator is wired and the
// pairing subsystems are ready.
func (s *Server) commissioningAvailable(w http.ResponseWriter) bool {
	if s.commissioner == nil {
		writeUnavailable(w, "commissioning not available")
		return false
	}
	if !s.subsystems.Readiness().Pairing {
		writeUnavailable(w, "pairing subsystems are not ready")
		return false
	}
	return true
}

// commissioningTimeout resolves a caller's timeout_seconds. Zero takes def;
// values above the configured maximum are rejected.
func (s *Server) commissioningTimeout(seconds int, def time.Duration) (time.Duration, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("timeout_seconds must not be negative")
	}
	if seconds == 0 {
		return def, nil
	}
	d := time.Duration(seconds) * time.Second
	if s.commCfg.MaxTimeout > 0 && d > s.commCfg.MaxTimeout {
		return 0, fmt.Errorf("timeout_seconds must not exceed %d", int(s.commCfg.MaxTimeout.Seconds()))
	}
	return d, nil
}
