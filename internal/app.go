// Package internal wires tally's components into a cartridge application.
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"tally/internal/config"
	"tally/internal/database"
	"tally/internal/jobs"
)

// Application wraps cartridge.Application with tally's components.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Services  *Services
}

// NewApp creates an application from the global configuration.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig opens and migrates the database, builds the services and
// the background scheduler, and returns an application ready to start.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	services, err := NewServices(cfg, dbManager, logger)
	if err != nil {
		return nil, err
	}

	scheduler, err := jobs.NewScheduler(jobs.SchedulerOptions{
		Logger:         logger,
		Rollup:         services.Rollup,
		RollupSchedule: cfg.RollupSchedule,
		GeoIP:          services.GeoIP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, services)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
	}, nil
}
