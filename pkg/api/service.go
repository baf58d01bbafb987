package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/coordinator"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/watermark"
)

// StatusProvider reports the most recent coordinated run
type StatusProvider interface {
	LastRun() (*coordinator.RunSummary, bool)
}

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app    *fiber.App
	server *http.Server
	config *Config

	tables     *tables.Config
	status     StatusProvider
	watermarks watermark.Store

	log logrus.FieldLogger
}

// NewService creates a new API service. status and watermarks may be nil;
// the corresponding endpoints degrade gracefully.
func NewService(cfg *Config, tablesCfg *tables.Config, status StatusProvider, watermarks watermark.Store, log logrus.FieldLogger) Service {
	return &service{
		config:     cfg,
		tables:     tablesCfg,
		status:     status,
		watermarks: watermarks,
		log:        log.WithField("service", "api"),
	}
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	s.app = s.buildApp()

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

// buildApp wires middleware and routes
func (s *service) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "Strata API",
	})

	setupMiddleware(app)

	app.Get("/healthz", s.handleHealth)

	apiV1 := app.Group("/api/v1")
	apiV1.Get("/status", s.handleStatus)
	apiV1.Get("/tables", s.handleTables)
	apiV1.Get("/tables/:name", s.handleTable)

	return app
}

func (s *service) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *service) handleStatus(c fiber.Ctx) error {
	if s.status == nil {
		return fiber.NewError(fiber.StatusNotFound, "status tracking not enabled")
	}

	summary, ok := s.status.LastRun()
	if !ok {
		return c.JSON(fiber.Map{"state": "waiting", "runs": 0})
	}

	return c.JSON(fiber.Map{
		"state":    "running",
		"last_run": summary,
	})
}

// tableView is the API shape of one configured table
type tableView struct {
	Name              string   `json:"name"`
	PrimaryKeyColumns []string `json:"primary_key_columns"`
	IncrementalColumn string   `json:"incremental_column,omitempty"`
	BatchSize         int      `json:"batch_size"`
	Incremental       bool     `json:"incremental"`
	Watermark         string   `json:"watermark,omitempty"`
}

func (s *service) handleTables(c fiber.Ctx) error {
	views := make([]tableView, 0, len(s.tables.Tables))

	for i := range s.tables.Tables {
		views = append(views, s.tableView(c, &s.tables.Tables[i]))
	}

	return c.JSON(fiber.Map{"tables": views})
}

func (s *service) handleTable(c fiber.Ctx) error {
	name := c.Params("name")

	for i := range s.tables.Tables {
		if s.tables.Tables[i].Name == name {
			return c.JSON(s.tableView(c, &s.tables.Tables[i]))
		}
	}

	return fiber.NewError(fiber.StatusNotFound, "table not found")
}

func (s *service) tableView(c fiber.Ctx, config *tables.TableConfig) tableView {
	view := tableView{
		Name:              config.Name,
		PrimaryKeyColumns: config.PrimaryKeyColumns,
		IncrementalColumn: config.IncrementalColumn,
		BatchSize:         config.BatchSize,
		Incremental:       config.IsIncremental(),
	}

	if s.watermarks != nil && config.IsIncremental() {
		if wm, ok, err := s.watermarks.Get(c.Context(), config.Name, config.IncrementalColumn); err == nil && ok {
			view.Watermark = wm.Value
		}
	}

	return view
}
