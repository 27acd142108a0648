package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/commissioning"
	"github.com/nerrad567/gray-logic-gateway/internal/device"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Subsystems is the part of the subsystem registry the API serves.
// Satisfied by *subsystem.Registry.
type Subsystems interface {
	StatusJSON() ([]byte, error)
	Readiness() subsystem.Readiness
	IsReady(name string) bool
	RestoreConfig(tempDir, destDir string) error
	PostRestoreConfig()
}

// Commissioner runs onboarding attempts. Satisfied by
// *commissioning.Orchestrator.
type Commissioner interface {
	Commission(ctx context.Context, setupCode string, timeout time.Duration) bool
	Pair(ctx context.Context, node matter.NodeID, timeout time.Duration) bool
	OpenCommissioningWindow(ctx context.Context, node *matter.NodeID, timeout time.Duration) (setupCode, qrCode string, err error)
	Session() commissioning.Session
}

// DeviceStore reads device records. Satisfied by *device.Registry.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	GetDevicesByProtocol(ctx context.Context, protocol device.Protocol) ([]device.Device, error)
	GetStats() device.Stats
}

// DeviceRefresher re-reads device state. Satisfied by *driver.Refresher.
type DeviceRefresher interface {
	Refresh(ctx context.Context, id string) (device.State, error)
	RefreshAll(ctx context.Context) (int, error)
}

// NodeBrowser lists commissionable nodes. Satisfied by *matter.Browser.
type NodeBrowser interface {
	BrowseCommissionable(ctx context.Context) ([]matter.CommissionableNode, error)
}

// BusStatus reports event bus connectivity. Satisfied by *mqtt.Client.
type BusStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server. Logger and Subsystems are
// required; a nil optional dependency disables the routes that need it.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Commissioning config.CommissioningConfig
	Logger        *logging.Logger

	Subsystems   Subsystems
	Commissioner Commissioner
	Devices      DeviceStore
	Refresher    DeviceRefresher
	Audit        audit.Repository
	Browser      NodeBrowser
	MQTT         BusStatus
	// Metrics serves the Prometheus exposition at /metrics.
	Metrics http.Handler
	// StateDir is the destination for config restores.
	StateDir string
	// Hub, if set, is used instead of a hub the server creates, so other
	// components can broadcast before the server starts.
	Hub     *Hub
	Version string
}

// Server is the HTTP API server for the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	secCfg       config.SecurityConfig
	commCfg      config.CommissioningConfig
	logger       *logging.Logger
	subsystems   Subsystems
	commissioner Commissioner
	devices      DeviceStore
	refresher    DeviceRefresher
	audit        audit.Repository
	browser      NodeBrowser
	mqtt         BusStatus
	metrics      http.Handler
	stateDir     string
	version      string
	startTime    time.Time

	// commissioningMu admits one commissioning request at a time.
	commissioningMu sync.Mutex
	tickets         *ticketStore

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Subsystems == nil {
		return nil, fmt.Errorf("subsystem registry is required")
	}

	s := &Server{
		cfg:          deps.Config,
		secCfg:       deps.Security,
		commCfg:      deps.Commissioning,
		logger:       deps.Logger,
		subsystems:   deps.Subsystems,
		commissioner: deps.Commissioner,
		devices:      deps.Devices,
		refresher:    deps.Refresher,
		audit:        deps.Audit,
		browser:      deps.Browser,
		mqtt:         deps.MQTT,
		metrics:      deps.Metrics,
		stateDir:     deps.StateDir,
		version:      deps.Version,
		startTime:    time.Now(),
		tickets:      newTicketStore(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with every route and middleware applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless it was injected), the ticket cleanup
// loop, and the HTTP listener in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server is already started
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
