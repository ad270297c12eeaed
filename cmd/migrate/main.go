package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "PRINTSHOP_POSTGRES_DSN"
)

type direction string

const (
	directionUp     direction = "up"
	directionDown   direction = "down"
	directionStatus direction = "status"
)

type config struct {
	direction direction
	steps     int
	dsn       string
	timeout   time.Duration
}

// schemaMigrator — то, что CLI нужно от хранилища; в тестах подменяется.
type schemaMigrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) ([]postgres.MigrationState, error)
	Close() error
}

var openMigrator = func(ctx context.Context, dsn string) (schemaMigrator, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	store, err := openMigrator(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := migrate(ctx, cfg, store, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func readConfig() (config, error) {
	var (
		raw string
		cfg config
	)
	flag.StringVar(&raw, "direction", string(directionUp), "migration direction: up|down|status")
	flag.IntVar(&cfg.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "overall deadline for the migration run")
	flag.Parse()

	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		cfg.dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	cfg.direction = direction(strings.ToLower(strings.TrimSpace(raw)))

	switch {
	case cfg.dsn == "":
		return config{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	case cfg.direction != directionUp && cfg.direction != directionDown && cfg.direction != directionStatus:
		return config{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", raw)
	case cfg.steps < 0:
		return config{}, errors.New("steps must be >= 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	}
	if cfg.direction == directionDown && cfg.steps == 0 {
		// откат всей схемы только явным числом шагов
		cfg.steps = 1
	}
	return cfg, nil
}

// migrate применяет миграции в нужную сторону и печатает итоговое состояние схемы.
func migrate(ctx context.Context, cfg config, store schemaMigrator, out io.Writer) error {
	logger := log.WithFields(log.Fields{"direction": cfg.direction, "steps": cfg.steps})

	switch cfg.direction {
	case directionUp:
		if err := store.MigrateUp(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info("migrations applied")
	case directionDown:
		if err := store.MigrateDown(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("migrations rolled back")
	}

	report, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	printStatus(out, report)
	return nil
}

// printStatus печатает таблицу миграций и итоговую версию схемы.
func printStatus(w io.Writer, report []postgres.MigrationState) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")

	var current int64
	applied := 0
	for _, m := range report {
		at := "pending"
		if m.Applied {
			at = m.AppliedAt.UTC().Format(time.RFC3339)
			applied++
			current = max(current, m.Version)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, at)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "migration status: version=%d applied=%d total=%d\n", current, applied, len(report))
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
