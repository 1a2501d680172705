package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/auth"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/availability"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/database"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/integration"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/subscription"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests — including open long polls — to drain on shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	Frontend     config.FrontendConfig
	Security     config.SecurityConfig
	Subscription config.SubscriptionConfig
	Logger       *logging.Logger
	States       *devicestate.Service
	Authorizer   auth.Authorizer
	Subscriber   *subscription.Manager
	Watchdog     *availability.Watchdog
	Integrations *integration.Manager
	DB           *database.DB
	Version      string
}

// Server owns both HTTP listeners: the device protocol surface and, when
// enabled, the frontend-facing status surface.
type Server struct {
	cfg       config.APIConfig
	frontCfg  config.FrontendConfig
	secCfg    config.SecurityConfig
	subCfg    config.SubscriptionConfig
	logger    *logging.Logger
	states    *devicestate.Service
	authz     auth.Authorizer
	sub       *subscription.Manager
	watchdog  *availability.Watchdog
	integ     *integration.Manager
	db        *database.DB
	version   string
	startTime time.Time

	deviceSrv   *http.Server
	frontendSrv *http.Server
}

// New creates a new API server with the given dependencies. The server is
// not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("device state service is required")
	}
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}

	return &Server{
		cfg:       deps.Config,
		frontCfg:  deps.Frontend,
		secCfg:    deps.Security,
		subCfg:    deps.Subscription,
		logger:    deps.Logger,
		states:    deps.States,
		authz:     deps.Authorizer,
		sub:       deps.Subscriber,
		watchdog:  deps.Watchdog,
		integ:     deps.Integrations,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start launches both HTTP listeners in background goroutines. The device
// listener is always started; the frontend listener only if enabled.
func (s *Server) Start(_ context.Context) error {
	deviceRouter := s.buildDeviceRouter()
	s.deviceSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           deviceRouter,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	go s.listen(s.deviceSrv, "device protocol", s.cfg.TLS)

	if s.frontCfg.Enabled {
		frontendRouter := s.buildFrontendRouter()
		s.frontendSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", s.frontCfg.Host, s.frontCfg.Port),
			Handler:           frontendRouter,
			ReadTimeout:       time.Duration(s.frontCfg.Timeouts.Read) * time.Second,
			ReadHeaderTimeout: time.Duration(s.frontCfg.Timeouts.Read) * time.Second,
			WriteTimeout:      time.Duration(s.frontCfg.Timeouts.Write) * time.Second,
			IdleTimeout:       time.Duration(s.frontCfg.Timeouts.Idle) * time.Second,
		}
		go s.listen(s.frontendSrv, "frontend", s.frontCfg.TLS)
	}

	return nil
}

func (s *Server) listen(srv *http.Server, name string, tls config.TLSConfig) {
	var err error
	if tls.Enabled {
		s.logger.Info("API listener starting with TLS", "surface", name, "address", srv.Addr)
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		s.logger.Info("API listener starting", "surface", name, "address", srv.Addr)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API listener error", "surface", name, "error", err)
	}
}

// Close gracefully shuts down both listeners, draining in-flight requests
// (including open long polls) up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	var errs []error
	if s.deviceSrv != nil {
		s.logger.Info("device protocol listener shutting down")
		if err := s.deviceSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down device listener: %w", err))
		}
	}
	if s.frontendSrv != nil {
		s.logger.Info("frontend listener shutting down")
		if err := s.frontendSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down frontend listener: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.deviceSrv == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
