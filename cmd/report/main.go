package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"quadra/internal/clock"
	"quadra/internal/config"
	"quadra/internal/database"
	"quadra/internal/logging"
	"quadra/internal/report"
	"quadra/internal/service"
)

// Writes an owner's settlement workbook into reports.path.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
		ownerID    = flag.String("owner", "", "owner user id")
		actorID    = flag.String("as", "", "acting user id (defaults to the owner)")
		fromStr    = flag.String("from", "", "first day, YYYY-MM-DD (default: first day of last month)")
		toStr      = flag.String("to", "", "last day inclusive, YYYY-MM-DD")
	)
	flag.Parse()

	if *ownerID == "" {
		return fmt.Errorf("-owner is required")
	}
	if *actorID == "" {
		*actorID = *ownerID
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	from, to, err := period(*fromStr, *toStr, time.Now().UTC())
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	fees := service.NewFeeCalculator(cfg.Settlement.FeeRateBasisPoints)
	builder := report.NewBuilder(db, db, fees, clock.System{}, logging.Component(logger, "report"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rep, err := builder.Build(ctx, *actorID, *ownerID, from, to)
	if err != nil {
		return err
	}
	path, err := report.ExportXLSX(rep, cfg.Reports.Path)
	if err != nil {
		return err
	}
	logger.Info().Str("path", path).Int("rows", len(rep.Rows)).Msg("report exported")
	return nil
}

// period defaults to the previous calendar month.
func period(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	from, to := thisMonth.AddDate(0, -1, 0), thisMonth

	if fromStr != "" {
		d, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from: %w", err)
		}
		from, to = d, d.AddDate(0, 1, 0)
	}
	if toStr != "" {
		d, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to: %w", err)
		}
		to = d.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
