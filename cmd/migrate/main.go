// Command migrate применяет встроенные миграции схемы заказов и outbox.
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

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/orderproc/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "ORDERPROC_POSTGRES_DSN"
)

var errDSNRequired = errors.New(envPostgresDSN + " (or -dsn) is required")

type command string

const (
	commandUp     command = "up"
	commandDown   command = "down"
	commandStatus command = "status"
)

func parseCommand(raw string) (command, error) {
	switch cmd := command(strings.ToLower(strings.TrimSpace(raw))); cmd {
	case commandUp, commandDown, commandStatus:
		return cmd, nil
	default:
		return "", fmt.Errorf("unsupported direction: %q (use up|down|status)", raw)
	}
}

type schemaStore interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

var openStore = func(ctx context.Context, dsn string) (schemaStore, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func main() {
	var (
		direction string
		steps     int
		dsn       string
	)
	flag.StringVar(&direction, "direction", string(commandUp), "up | down | status")
	flag.IntVar(&steps, "steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fail("load .env: %v", err)
	}
	if strings.TrimSpace(dsn) == "" {
		dsn = os.Getenv(envPostgresDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Stdout, direction, steps, dsn); err != nil {
		fail("%v", err)
	}
}

func run(ctx context.Context, out io.Writer, direction string, steps int, dsn string) error {
	cmd, err := parseCommand(direction)
	if err != nil {
		return err
	}
	if dsn = strings.TrimSpace(dsn); dsn == "" {
		return errDSNRequired
	}

	store, err := openStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	switch cmd {
	case commandUp:
		err = store.MigrateUp(ctx, steps)
	case commandDown:
		err = store.MigrateDown(ctx, steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, err = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n", cmd, state.Version, state.Applied, state.Pending)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
