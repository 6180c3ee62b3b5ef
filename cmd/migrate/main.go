package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

const (
	directionUp     = "up"
	directionDown   = "down"
	directionStatus = "status"
)

type options struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fail("load config: %v", err)
	}

	opts, err := parseOptions(os.Args[1:], cfg.PostgresDSN)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// parseOptions разбирает флаги; DSN из флага важнее DSN из окружения.
func parseOptions(args []string, envDSN string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	fs.StringVar(&opts.direction, "direction", directionUp, "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: STOREFRONT_POSTGRES_DSN)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case directionUp, directionStatus:
	case directionDown:
		if opts.steps == 0 {
			opts.steps = 1
		}
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must not be negative")
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(envDSN)
	}
	if opts.dsn == "" {
		return options{}, errors.New("STOREFRONT_POSTGRES_DSN (or -dsn) is required")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case directionUp:
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return printState(ctx, store, out, "migrate up ok")
	case directionDown:
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return printState(ctx, store, out, "migrate down ok")
	default:
		return printState(ctx, store, out, "migration status")
	}
}

// printState печатает версию схемы, ожидающие и изменённые миграции.
func printState(ctx context.Context, store *postgres.Store, out io.Writer, prefix string) error {
	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", prefix, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		fmt.Fprintf(out, "  pending %s\n", name)
	}
	for _, name := range state.Drifted {
		fmt.Fprintf(out, "  drifted %s\n", name)
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
