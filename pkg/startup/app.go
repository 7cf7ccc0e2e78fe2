package startup

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/link"
	"github.com/Ramsey-B/fern/internal/repositories/role"
	"github.com/Ramsey-B/fern/internal/repositories/user"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/reference"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/userreference"
)

// HandlerResolver supplies the reference.Handler for a configured tag.
type HandlerResolver func(tag string) (reference.Handler, error)

// App is the wired service graph. NewApp constructs every component from
// config; Start brings up the external dependencies (database, graph,
// consumer) with retries and flips the readiness flag.
type App struct {
	Config   *config.Config
	DB       database.DB
	Graph    *graph.Client
	Registry *reference.Registry
	Pipeline *linkage.Pipeline
	Service  *linkage.Service
	Producer *kafka.Producer
	Consumer *kafka.Consumer
	Health   *health.Checker

	logger  ectologger.Logger
	startup *Startup
}

func NewApp(cfg *config.Config, logger ectologger.Logger, resolve HandlerResolver) (*App, error) {
	registry := reference.NewRegistry()
	for _, tag := range cfg.ReferenceTypes {
		handler, err := resolve(tag)
		if err != nil {
			return nil, fmt.Errorf("no handler for reference type %q: %w", tag, err)
		}
		if err := registry.Register(tag, handler); err != nil {
			return nil, err
		}
	}

	raw, err := sqlx.Open(cfg.DatabaseDriver, postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	raw.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	raw.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	raw.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(raw, logger)

	var graphClient *graph.Client
	var projector linkage.LinkProjector
	if cfg.GraphDBEnabled {
		graphClient, err = graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			return nil, err
		}
		projector = graph.NewLinkService(graphClient, logger)
	}

	producer := kafka.NewProducer(*cfg, logger)
	emitter := events.NewEmitter(producer, logger)

	links := link.NewRepository(db, logger)
	roles := role.NewRepository(db, logger)
	users := user.NewRepository(db, logger)

	pipeline := linkage.NewPipeline(links, roles, registry, logger)
	service := linkage.NewService(
		db, links, users, registry,
		linkage.NewRoleSyncer(links, logger),
		linkage.NewPropsMerger(links, logger),
		emitter, projector, logger,
	)

	app := &App{
		Config:   cfg,
		DB:       db,
		Graph:    graphClient,
		Registry: registry,
		Pipeline: pipeline,
		Service:  service,
		Producer: producer,
		Health:   health.NewChecker(db, graphClient, cfg.AppVersion),
		logger:   logger,
	}

	if cfg.KafkaConsumerEnabled {
		proc := processor.NewProcessor(logger, pipeline, service)
		app.Consumer = kafka.NewConsumer(*cfg, logger, proc.HandleMessage)
	}

	s := NewStartup(logger, cfg.StartupMaxAttempts)
	s.AddDependency(&databaseDependency{app: app})
	if graphClient != nil {
		s.AddDependency(&graphDependency{client: graphClient})
	}
	if app.Consumer != nil {
		s.AddDependency(&consumerDependency{consumer: app.Consumer})
	}
	app.startup = s

	return app, nil
}

// Start brings up the external dependencies and marks the app ready.
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.Health.SetReady(true)
	return nil
}

// Stop drains the app: readiness drops first, then dependencies stop in
// reverse order and the producer flushes.
func (a *App) Stop(ctx context.Context) error {
	a.Health.SetReady(false)

	err := a.startup.Stop(ctx)
	if closeErr := a.Producer.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// RegisterRoutes attaches the HTTP surface to the echo instance.
func (a *App) RegisterRoutes(e *echo.Echo) {
	a.Health.RegisterRoutes(e)
	userreference.Register(e.Group("/api/v1/user-references"))
}

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)
}

// databaseDependency pings the database and applies pending migrations.
type databaseDependency struct {
	app *App
}

func (d *databaseDependency) Name() string        { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	if err := d.app.DB.PingContext(ctx); err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(d.app.DB.Unsafe().DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	cfg := d.app.Config
	migrations := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return migrations.Migrate(cfg.DatabaseName, driver)
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	return d.app.DB.Close()
}

type graphDependency struct {
	client *graph.Client
}

func (d *graphDependency) Name() string        { return "graph" }
func (d *graphDependency) DependsOn() []string { return nil }

func (d *graphDependency) Start(ctx context.Context) error {
	return d.client.VerifyConnectivity(ctx)
}

func (d *graphDependency) Stop(ctx context.Context) error {
	return d.client.Close(ctx)
}

type consumerDependency struct {
	consumer *kafka.Consumer
}

func (d *consumerDependency) Name() string        { return "consumer" }
func (d *consumerDependency) DependsOn() []string { return []string{"database"} }

func (d *consumerDependency) Start(ctx context.Context) error {
	return d.consumer.Start(ctx)
}

func (d *consumerDependency) Stop(ctx context.Context) error {
	return d.consumer.Stop()
}
