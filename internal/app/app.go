// Package app assembles the services from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rpattn/replay/internal/blobstore"
	"github.com/rpattn/replay/internal/config"
	"github.com/rpattn/replay/internal/db"
	"github.com/rpattn/replay/internal/importer"
	"github.com/rpattn/replay/internal/jobs"
	"github.com/rpattn/replay/internal/notify"
	"github.com/rpattn/replay/internal/repository"
	"github.com/rpattn/replay/internal/repository/memory"
	"github.com/rpattn/replay/internal/workitem"
)

const eventsChannel = "replay:events"

// Stores groups the repositories the services run on.
type Stores struct {
	Actors      repository.ActorRepository
	Entities    repository.EntityRepository
	Attachments repository.AttachmentRepository
	Relations   repository.RelationRepository
	Bookkeeping repository.BookkeepingRepository
	ImportRuns  repository.ImportRunRepository
}

// PostgresStores returns the pgx backed repositories.
func PostgresStores(conn *db.Connection) Stores {
	return Stores{
		Actors:      repository.NewActorRepository(conn.Pool),
		Entities:    repository.NewEntityRepository(conn.Pool),
		Attachments: repository.NewAttachmentRepository(conn.Pool),
		Relations:   repository.NewRelationRepository(conn.Pool),
		Bookkeeping: repository.NewBookkeepingRepository(conn.Pool),
		ImportRuns:  repository.NewImportRunRepository(conn.Pool),
	}
}

// MemoryStores returns repositories kept in process memory.
func MemoryStores(store *memory.Store) Stores {
	return Stores{
		Actors:      store.Actors(),
		Entities:    store.Entities(),
		Attachments: store.Attachments(),
		Relations:   store.Relations(),
		Bookkeeping: store.Bookkeeping(),
		ImportRuns:  store.ImportRuns(),
	}
}

// App holds the assembled services.
type App struct {
	Stores        Stores
	Blobs         blobstore.Store
	Notifications *notify.Switch
	WorkItems     *workitem.Service
	Registry      *importer.Registry
	Importer      *importer.Service

	closers []func() error
}

// Options select optional infrastructure.
type Options struct {
	// Redis, when set, receives change events.
	Redis redis.UniversalClient
	// Blobs, when set, replaces the configured storage backend.
	Blobs blobstore.Store
}

// New wires the work item and import services on top of stores.
func New(ctx context.Context, cfg config.Config, stores Stores, opts Options, logger *logrus.Logger) (*App, error) {
	a := &App{Stores: stores}

	blobs := opts.Blobs
	if blobs == nil {
		var err error
		if blobs, err = a.openBlobs(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}
	a.Blobs = blobs

	workflow, err := workitem.WorkflowFromConfig(cfg.Import.Workflow)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	a.Notifications = notify.NewSwitch()
	a.WorkItems = workitem.NewService(
		stores.Entities,
		stores.Attachments,
		stores.Relations,
		blobs,
		notify.NewGated(a.Notifier(opts, logger), a.Notifications),
		workflow,
		logger.WithField("component", "workitem"),
	)

	a.Registry = importer.DefaultRegistry(importer.AttributeMap(cfg.Import.AttributeMap))
	a.Importer = importer.NewService(
		a.Registry,
		stores.Actors,
		a.WorkItems,
		a.WorkItems,
		stores.Bookkeeping,
		a.Notifications,
		importer.Config{
			FetchAttempts: cfg.Import.FetchAttempts,
			FetchBackoff:  cfg.Import.FetchBackoff,
		},
		logger.WithField("component", "importer"),
	)

	return a, nil
}

// Notifier returns the ungated event sink: the log and, when configured, redis.
func (a *App) Notifier(opts Options, logger *logrus.Logger) notify.Notifier {
	sinks := notify.Multi{notify.NewLogNotifier(logger.WithField("component", "notify"))}
	if opts.Redis != nil {
		sinks = append(sinks, notify.NewRedisPublisher(opts.Redis, eventsChannel))
	}
	return sinks
}

// Runner builds the background runner. Without redis the status and lock
// are process local.
func (a *App) Runner(cfg config.Config, opts Options, logger *logrus.Logger) *jobs.Runner {
	var (
		status jobs.StatusStore = jobs.NewMemoryStatusStore()
		locker jobs.Locker      = jobs.NewLocalLocker()
	)
	if opts.Redis != nil {
		status = jobs.NewRedisStatusStore(opts.Redis, "replay:")
		locker = jobs.NewRedisLocker(redislock.New(opts.Redis))
	}
	return jobs.NewRunner(
		a.Importer,
		status,
		a.Stores.ImportRuns,
		locker,
		a.Notifier(opts, logger),
		jobs.Config{Channel: cfg.Import.Channel, LockTTL: cfg.Import.LockTTL},
		logger.WithField("component", "jobs"),
	)
}

// Close releases what New opened.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) openBlobs(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "gcs":
		store, err := blobstore.NewGCSStore(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "fs":
		return blobstore.NewFSStore(afero.NewOsFs(), cfg.Root), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
