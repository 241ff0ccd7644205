package internal

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"tally/internal/analytics"
	"tally/internal/config"
	"tally/internal/events"
	"tally/internal/pkg/async"
	"tally/internal/pkg/geoip"
	"tally/internal/rollup"
	"tally/internal/settings"
	"tally/internal/visitors"
)

// dashboardWorkers bounds the parallel reads behind one dashboard request.
const dashboardWorkers = 4

// Services are the long-lived components built once per process over the
// shared database handle.
type Services struct {
	Config   *config.Config
	Logger   *slog.Logger
	Settings *settings.Store
	GeoIP    *geoip.Locator
	Resolver visitors.Resolver
	Recorder *events.Recorder
	Rollup   *rollup.Job
	Live     *analytics.LiveQuerier
	Pool     *async.Pool
}

func NewServices(cfg *config.Config, dbManager cartridge.DBManager, logger *slog.Logger) (*Services, error) {
	mode, err := visitors.ParseMode(cfg.IdentityMode)
	if err != nil {
		return nil, fmt.Errorf("invalid identity mode: %w", err)
	}

	db := dbManager.GetConnection()
	store := settings.NewStore(db, logger)
	if err := store.SetupDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set up default settings: %w", err)
	}

	locator := geoip.Open(cfg.GeoDBPath, logger)
	resolver := visitors.NewResolver(mode, cfg.Salt)

	logger.Info("Visitor identity configured", slog.String("mode", string(mode)))

	return &Services{
		Config:   cfg,
		Logger:   logger,
		Settings: store,
		GeoIP:    locator,
		Resolver: resolver,
		Recorder: events.NewRecorder(events.RecorderOptions{
			DBManager:     dbManager,
			Logger:        logger,
			Resolver:      resolver,
			Exclusions:    store,
			Countries:     locator,
			PropsMaxBytes: cfg.PropsMaxBytes,
		}),
		Rollup: rollup.NewJob(dbManager, logger, cfg.RollupToken),
		Live:   analytics.NewLiveQuerier(db, logger),
		Pool:   async.NewPool(dashboardWorkers),
	}, nil
}
