// main.go - Admin control tool for tally
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"tally/internal"
	"tally/internal/events"
	"tally/internal/rollup"
	"tally/internal/seeder"
	"tally/internal/settings"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	Name() string
	Description() string
	// NeedsApp reports whether the command requires a database.
	NeedsApp() bool
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&RollupCommand{},
	&StatusCommand{},
	&SeedCommand{},
	&ExcludeIPCommand{},
	&SaltCommand{},
	&HelpCommand{},
}

var errNoApp = errors.New("app initialization failed")

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if cmd.NeedsApp() {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Printf("Warning: Failed to initialize app: %v", err)
		}
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }
func (c *MigrateCommand) NeedsApp() bool      { return true }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("%w, cannot run migrations", errNoApp)
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// RollupCommand recomputes the summary tables from the event log.
type RollupCommand struct{}

func (c *RollupCommand) Name() string        { return "rollup" }
func (c *RollupCommand) Description() string { return "Recomputes monthly, yearly and all-time summaries" }
func (c *RollupCommand) NeedsApp() bool      { return true }

func (c *RollupCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("%w, cannot run rollup", errNoApp)
	}

	result, err := app.Services.Rollup.Run(ctx, rollup.Options{Trigger: rollup.TriggerCLI})
	if err != nil {
		return err
	}

	fmt.Printf("Rollup completed in %s\n", result.Duration)
	fmt.Printf("- Monthly rows: %d\n", result.Monthly)
	fmt.Printf("- Yearly rows: %d\n", result.Yearly)
	fmt.Printf("- All-time rows: %d\n", result.AllTime)
	fmt.Printf("- Events up to ID: %d\n", result.HighWaterID)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }
func (c *StatusCommand) NeedsApp() bool      { return true }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("%w, cannot check status", errNoApp)
	}

	db := app.DBManager.GetConnection()

	var count int64
	if err := db.WithContext(ctx).Model(&events.Event{}).Count(&count).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	fmt.Println("System Status:")
	fmt.Println("- Database: Connected")
	fmt.Printf("- Events: %d\n", count)
	fmt.Printf("- Identity mode: %s\n", app.Services.Resolver.Mode())
	fmt.Printf("- GeoIP: %t\n", app.Services.GeoIP.Enabled())

	run, err := app.Services.Rollup.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to read rollup ledger: %w", err)
	}
	if run == nil {
		fmt.Println("- Last rollup: never")
	} else {
		fmt.Printf("- Last rollup: %s (%s)\n", time.UnixMilli(run.FinishedAt).UTC().Format(time.RFC3339), run.Trigger)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()
	fmt.Printf("- Max Open Connections: %d\n", stats.MaxOpenConnections)
	fmt.Printf("- Open Connections: %d\n", stats.OpenConnections)
	fmt.Printf("- In Use: %d\n", stats.InUse)
	fmt.Printf("- Idle: %d\n", stats.Idle)
	return nil
}

// SeedCommand populates the DB with sample traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample events (-events N -days N)" }
func (c *SeedCommand) NeedsApp() bool      { return true }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	eventCount := fs.Int("events", seeder.DefaultEventCount, "number of events to generate")
	days := fs.Int("days", seeder.DefaultDays, "spread events over this many past days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("%w, cannot seed", errNoApp)
	}

	created, err := seeder.NewSeeder(app.DBManager, app.Services.Logger, seeder.Options{
		EventCount: *eventCount,
		Days:       *days,
		Salt:       app.Services.Config.Salt,
	}).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d events\n", created)
	return nil
}

// ExcludeIPCommand replaces the list of IPs whose traffic is dropped.
type ExcludeIPCommand struct{}

func (c *ExcludeIPCommand) Name() string { return "exclude-ip" }
func (c *ExcludeIPCommand) Description() string {
	return "Sets the comma-separated list of excluded IPs (no argument prints it, \"-\" clears it)"
}
func (c *ExcludeIPCommand) NeedsApp() bool { return true }

func (c *ExcludeIPCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("%w, cannot update settings", errNoApp)
	}
	store := app.Services.Settings

	if len(args) == 0 {
		ips, err := store.ExcludedIPs()
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			fmt.Println("No excluded IPs")
			return nil
		}
		fmt.Println(strings.Join(ips, "\n"))
		return nil
	}

	var ips []string
	if args[0] != "-" {
		ips = settings.ParseIPList(strings.Join(args, ","))
	}
	if err := store.SetExcludedIPs(ips); err != nil {
		return err
	}
	fmt.Printf("Excluded IPs updated (%d entries)\n", len(ips))
	return nil
}

// SaltCommand prints a fresh random salt for TALLY_SALT.
type SaltCommand struct{}

func (c *SaltCommand) Name() string        { return "salt" }
func (c *SaltCommand) Description() string { return "Prints a random salt suitable for TALLY_SALT" }
func (c *SaltCommand) NeedsApp() bool      { return false }

func (c *SaltCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)

	// Piped output stays machine readable.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(salt)
		return nil
	}
	fmt.Printf("export TALLY_SALT=%s\n", salt)
	fmt.Println("Changing the salt starts a new set of visitor hashes.")
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }
func (c *HelpCommand) NeedsApp() bool      { return false }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: tallyctl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
