package main

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/activity"
	"github.com/Ramsey-B/clover/internal/repositories/lead"
	"github.com/Ramsey-B/clover/internal/repositories/mergelog"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// app holds the process wide dependencies shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	zap    *zap.Logger

	startup  *startup.Startup
	sqlx     *sqlx.DB
	db       database.DB
	redis    *redis.Client
	graph    *graph.Client
	producer *kafka.Producer

	mergeLogs *mergelog.Repository
	engine    *dedup.Engine

	shutdownTracing func(context.Context) error
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	zcfg.InitialFields = map[string]any{"app": cfg.AppName, "version": cfg.Version}
	return zcfg.Build()
}

// newApp loads configuration and registers dependencies without connecting to
// anything. withMigrations also applies db/pg before the engine is built.
func newApp(cmd *cobra.Command, withMigrations bool) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	zl, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	logger := zapadapter.NewZapEctoLogger(zl, nil)

	exporter, err := exporters.NewExporter(cmd.Context(), exporters.OTLPConfig{
		Endpoint: cfg.OtelExporterEndpoint,
		Protocol: cfg.OtelExporterProtocol,
		Insecure: cfg.OtelExporterInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	a := &app{
		cfg:             cfg,
		logger:          logger,
		zap:             zl,
		startup:         startup.NewStartup(logger, cfg.StartupMaxAttempts),
		shutdownTracing: tracing.Setup(cfg.AppName, exporter),
	}

	a.addDatabase()
	if withMigrations {
		a.addMigrations()
	}
	a.addRedis()
	a.addGraph()
	return a, nil
}

func (a *app) addDatabase() {
	a.startup.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			conn, err := sqlx.Open(a.cfg.DatabaseDriver, a.cfg.DatabaseDSN())
			if err != nil {
				return err
			}
			conn.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
			conn.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
			conn.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)
			if err := conn.PingContext(ctx); err != nil {
				_ = conn.Close()
				return err
			}
			a.sqlx = conn
			a.db = database.NewDatabaseInstance(conn, a.logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
}

func (a *app) addMigrations() {
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	a.startup.AddDependency(startup.Func{
		Name:    "migrations",
		Parents: []string{"database"},
		OnStart: func(ctx context.Context) error {
			return migrations.MigratePostgres(a.sqlx.DB, a.cfg.DatabaseName)
		},
	})
}

func (a *app) addRedis() {
	if a.cfg.RedisHost == "" {
		a.logger.Warn("REDIS_HOST is not set, tenant runs are not locked across processes")
		return
	}
	a.startup.AddDependency(startup.Func{
		Name: "redis",
		OnStart: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, redis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			a.redis = client
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if a.redis == nil {
				return nil
			}
			return a.redis.Close()
		},
	})
}

func (a *app) addGraph() {
	if a.cfg.GraphDBHost == "" {
		return
	}
	a.startup.AddDependency(startup.Func{
		Name: "graph",
		OnStart: func(ctx context.Context) error {
			client, err := graph.NewClient(graph.Config{
				Host:     a.cfg.GraphDBHost,
				Port:     a.cfg.GraphDBPort,
				Username: a.cfg.GraphDBUser,
				Password: a.cfg.GraphDBPassword,
			}, a.logger)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				_ = client.Close(ctx)
				return err
			}
			a.graph = client
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if a.graph == nil {
				return nil
			}
			return a.graph.Close(ctx)
		},
	})
}

// start brings every dependency up and builds the engine on top of them.
func (a *app) start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}

	leads := lead.NewRepository(a.db, a.logger)
	activities := activity.NewRepository(a.db, a.logger)
	a.mergeLogs = mergelog.NewRepository(a.db, a.logger)

	var opts []dedup.Option
	if a.redis != nil {
		opts = append(opts, dedup.WithLocker(redis.NewLocker(a.redis, a.cfg.AppName+":")))
	}
	if a.cfg.KafkaOutputTopic != "" && len(a.cfg.KafkaBrokers) > 0 {
		a.producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      a.cfg.KafkaBrokers,
			Topic:        a.cfg.KafkaOutputTopic,
			BatchSize:    a.cfg.KafkaBatchSize,
			BatchTimeout: a.cfg.KafkaBatchTimeout,
			RequiredAcks: a.cfg.KafkaRequiredAcks,
			Compression:  a.cfg.KafkaCompression,
		}, a.logger)
		opts = append(opts, dedup.WithHooks(events.NewEmitter(a.producer, a.logger)))
	}
	if a.graph != nil {
		opts = append(opts, dedup.WithHooks(graph.NewLineageProjector(a.graph, a.logger)))
	}

	a.engine = dedup.NewEngine(dedup.Config{
		LockTTL:           a.cfg.DedupLockTTL,
		RequireUUIDTenant: a.cfg.TenantIDMustBeUUID,
	}, leads, activities, a.mergeLogs, a.db, a.logger, opts...)
	return nil
}

// close tears everything down in reverse start order. ctx bounds the whole shutdown.
func (a *app) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close kafka producer")
		}
	}
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to stop dependencies")
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
	_ = a.zap.Sync()
}
