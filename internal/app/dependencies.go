package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/health"
	"github.com/vladislavdragonenkov/orderproc/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderproc/internal/storage/postgres"
)

// runtimeDependencies собирает хранилища, выбранные по Config.StorageDriver.
type runtimeDependencies struct {
	repo domain.OrderRepository
	// outboxRepo равен nil, если события некому публиковать и хранилище это позволяет.
	outboxRepo domain.OutboxRepository
	pinger     health.Pinger
	closeFn    func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies выбирает хранилище. publisherReady сообщает, подключён ли producer:
// memory outbox создаётся только тогда, иначе события копились бы без потребителя.
// Postgres outbox создаётся всегда, он переживает рестарт и дождётся брокера.
func initRuntimeDependencies(ctx context.Context, cfg Config, publisherReady bool, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps := &runtimeDependencies{}
		var outbox domain.OutboxRepository
		if publisherReady {
			outbox = memory.NewOutboxRepository()
			deps.outboxRepo = outbox
		}
		repo := memory.NewOrderRepository(outbox)
		deps.repo = repo
		deps.pinger = repo

		logger.WithField("outbox", outbox != nil).Info("using in-memory storage")
		return deps, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}

		store, err := postgres.OpenWithOptions(ctx, cfg.PostgresDSN, postgres.PoolOptions{
			MaxOpenConns: cfg.PostgresMaxConns,
			MaxIdleConns: cfg.PostgresMaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}

		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return &runtimeDependencies{
			repo:       postgres.NewOrderRepository(store),
			outboxRepo: postgres.NewOutboxRepository(store),
			pinger:     store,
			closeFn:    store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
