package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/strata/pkg/observability"
)

// Service is a startable component managed by the server
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// Server hosts services plus the shared observability endpoints
type Server struct {
	log      logrus.FieldLogger
	config   *Config
	services []Service

	pprofServer  *http.Server
	healthServer *http.Server
}

// NewServer creates a server hosting the given services
func NewServer(log logrus.FieldLogger, config *Config, services ...Service) *Server {
	return &Server{
		log:      log.WithField("component", "server"),
		config:   config,
		services: services,
	}
}

// Run starts every service and blocks until a shutdown signal or a
// component failure, then stops everything in reverse order
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if s.config.MetricsAddr != "" {
		observability.StartMetricsServer(s.config.MetricsAddr)
	}

	if s.config.PProfAddr != "" {
		g.Go(func() error {
			if err := s.startPProf(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			<-ctx.Done()

			return nil
		})
	}

	if s.config.HealthCheckAddr != "" {
		g.Go(func() error {
			if err := s.startHealthCheck(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			<-ctx.Done()

			return nil
		})
	}

	for _, svc := range s.services {
		if err := svc.Start(ctx); err != nil {
			s.shutdown()
			return err
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()

		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.log.Info("Starting graceful shutdown")

	for i := len(s.services) - 1; i >= 0; i-- {
		if err := s.services[i].Stop(); err != nil {
			s.log.WithError(err).Error("Failed to stop service")
		}
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("Failed to shutdown pprof server")
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("Failed to shutdown health server")
		}
	}
}

func (s *Server) startPProf() error {
	s.log.WithField("addr", s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.pprofServer.ListenAndServe()
}

func (s *Server) startHealthCheck() error {
	s.log.WithField("addr", s.config.HealthCheckAddr).Info("Starting healthcheck server")

	s.healthServer = &http.Server{
		Addr:              s.config.HealthCheckAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	s.healthServer.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return s.healthServer.ListenAndServe()
}
