// Package worker consumes queued pipeline tasks and executes them against
// the warehouse
package worker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	r "github.com/ethpandaops/strata/pkg/redis"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/tasks"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start initializes and starts the worker service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

type service struct {
	config *Config
	log    logrus.FieldLogger

	done chan struct{}
	wg   sync.WaitGroup

	handler  *tasks.TaskHandler
	tables   *tables.Config
	redisOpt *goredis.Options

	server *asynq.Server
}

// NewService creates a new worker service
func NewService(logger logrus.FieldLogger, cfg *Config, tablesCfg *tables.Config, handler *tasks.TaskHandler, redisOpt *goredis.Options) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:      logger.WithField("service", "worker"),
		config:   cfg,
		done:     make(chan struct{}),
		handler:  handler,
		tables:   tablesCfg,
		redisOpt: redisOpt,
	}, nil
}

// Start initializes and starts the worker service
func (s *service) Start(_ context.Context) error {
	queues := s.queues()

	s.log.WithFields(logrus.Fields{
		"concurrency": s.config.Concurrency,
		"queues":      queues,
	}).Info("Starting worker service")

	srv := asynq.NewServer(*r.NewAsynqRedisOptions(s.redisOpt), asynq.Config{
		Concurrency: s.config.Concurrency,
		Queues:      queues,
	})

	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range s.handler.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if runErr := srv.Run(mux); runErr != nil {
			s.log.WithError(runErr).Error("Worker server stopped with error")
		}
	}()

	s.server = srv

	s.log.Info("Worker service started successfully")

	return nil
}

// Stop gracefully shuts down the worker service
func (s *service) Stop() error {
	close(s.done)

	if s.server != nil {
		s.server.Shutdown()
	}

	s.wg.Wait()

	s.log.Info("Worker service stopped successfully")

	return nil
}

// queues returns the queue weights this worker consumes: one queue per
// table plus the model build queue, optionally filtered
func (s *service) queues() map[string]int {
	queues := make(map[string]int, len(s.tables.Tables)+1)

	for i := range s.tables.Tables {
		name := s.tables.Tables[i].Name

		if len(s.config.Tables) > 0 && !slices.Contains(s.config.Tables, name) {
			continue
		}

		queues[name] = 10
	}

	queues[tasks.ModelQueue] = 10

	return queues
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
