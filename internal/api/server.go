package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/auth"
	"github.com/corelink-io/corelink-core/internal/device"
	"github.com/corelink-io/corelink-core/internal/infrastructure/config"
	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
	"github.com/corelink-io/corelink-core/internal/rpc"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CallDispatcher is the dispatch surface the HTTP layer needs.
// Satisfied by *rpc.Dispatcher.
type CallDispatcher interface {
	Dispatch(ctx context.Context, targetID, customerID string, oneWay bool, req rpc.CallRequest) (*rpc.PendingCall, error)
	DispatchEngine(ctx context.Context, originatorID, queueName string, timeoutMs int64, payload json.RawMessage) (*rpc.PendingCall, error)
	DeletePersistent(ctx context.Context, id uuid.UUID) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	RPC        config.RPCConfig
	Logger     *logging.Logger
	Dispatcher CallDispatcher
	Records    rpc.Repository
	Devices    device.Repository
	Validator  *auth.Validator
	Hub        *Hub // If set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the HTTP API server for Corelink Core.
//
// It manages the HTTP listener, routes, middleware, and the lifecycle
// event hub. The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	rpcCfg     config.RPCConfig
	logger     *logging.Logger
	dispatcher CallDispatcher
	records    rpc.Repository
	devices    device.Repository
	validator  *auth.Validator
	version    string

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Records == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("access validator is required")
	}

	s := &Server{
		cfg:        deps.Config,
		rpcCfg:     deps.RPC,
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		records:    deps.Records,
		devices:    deps.Devices,
		validator:  deps.Validator,
		version:    deps.Version,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the lifecycle event hub, and launches
// the listener in a background goroutine. Stop with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to gracefulShutdownTimeout for in-flight requests to
// complete, then forcefully closes remaining connections.
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
