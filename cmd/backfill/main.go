// Command backfill syncs the provider diary for a range of local days
// without starting the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/fortuna/scoreline/internal/backfill"
	"github.com/fortuna/scoreline/internal/config"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/reconcile"
	"github.com/fortuna/scoreline/internal/store"
	"github.com/fortuna/scoreline/internal/store/repository"
)

const (
	appName    = "scoreline-backfill"
	appVersion = "1.0.0"
)

func main() {
	var (
		startDate = flag.String("start", "", "First local day (YYYY-MM-DD)")
		endDate   = flag.String("end", "", "Last local day (YYYY-MM-DD), defaults to --start")
		dryRun    = flag.Bool("dry-run", false, "Dry run (do not write to DB)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Str("version", appVersion).Msgf("starting %s", appName)

	spec, err := buildSpec(*startDate, *endDate)
	if err != nil {
		logging.Fatal().Err(err).Msg("build spec")
	}
	spec.DryRun = *dryRun

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, spec); err != nil {
		logging.Fatal().Err(err).Msg("backfill failed")
	}
	logging.Info().Msg("backfill completed successfully")
}

func run(ctx context.Context, cfg *config.Config, spec backfill.JobSpec) error {
	local, remote, err := cfg.Locations()
	if err != nil {
		return err
	}

	var st store.Store
	if cfg.Database.Driver == "postgres" {
		db, err := store.NewDatabase(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		repo := repository.NewMatchRepository(db)
		repo.FullTimeMinute = cfg.Reconcile.FullTimeMinute
		st = repo
	} else {
		mem := store.NewMemoryStore()
		mem.FullTimeMinute = cfg.Reconcile.FullTimeMinute
		st = mem
	}

	prov := provider.NewClient(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		User:    cfg.Provider.User,
		Secret:  cfg.Provider.Secret,
		Timeout: cfg.Provider.Timeout,
	})

	runner := backfill.NewRunner(reconcile.NewDiarySync(st, prov, local, remote), local)
	return runner.Run(ctx, spec, &consoleReporter{dryRun: spec.DryRun})
}

func buildSpec(startStr, endStr string) (backfill.JobSpec, error) {
	if startStr == "" {
		return backfill.JobSpec{}, fmt.Errorf("specify --start (and optionally --end)")
	}
	if endStr == "" {
		endStr = startStr
	}

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return backfill.JobSpec{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return backfill.JobSpec{}, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return backfill.JobSpec{}, fmt.Errorf("end date %s is before start date %s", endStr, startStr)
	}

	spec := backfill.JobSpec{Type: backfill.JobTypeDateRange, Start: start, End: end}
	if start.Equal(end) {
		spec.Type = backfill.JobTypeDay
	}
	return spec, nil
}

type consoleReporter struct {
	dryRun bool
}

func (c *consoleReporter) OnJobStart(spec backfill.JobSpec) {
	logging.Info().Str("type", string(spec.Type)).Bool("dry_run", c.dryRun).Msg("starting job")
}

func (c *consoleReporter) OnDateStart(date time.Time, index int, total int) {
	logging.Info().Str("day", date.Format("2006-01-02")).Msgf("[%d/%d]", index+1, total)
}

func (c *consoleReporter) OnDateSynced(res *reconcile.DiaryResult) {
	logging.Info().
		Str("day", res.Day).
		Int("fetched", res.Fetched).
		Int("upserted", res.Upserted).
		Int("missing_teams", res.MissingTeams).
		Int("fetch_errors", res.FetchErrors).
		Msg("day synced")
}

func (c *consoleReporter) OnProgress(message string, current int, total int) {
	logging.Debug().Int("current", current).Int("total", total).Msg(message)
}

func (c *consoleReporter) OnJobComplete() {
	logging.Info().Msg("job complete")
}

func (c *consoleReporter) OnJobError(err error) {
	logging.Error().Err(err).Msg("job error")
}
