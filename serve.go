package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/docker"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/scheduler"
	"github.com/onepanelio/functionary/pkg/util/s3"
	"github.com/onepanelio/functionary/pkg/worker"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the result listener, the background workers and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not migrate the database on start")

	return cmd
}

// clientDependencies connects to the broker, the object store and the docker daemon.
// The object store and docker are optional, features that need them are disabled when they are not configured.
func clientDependencies(ctx context.Context, config v1.SystemConfig, jobs worker.Submitter) (v1.Dependencies, func(), error) {
	deps := v1.Dependencies{Jobs: jobs}

	connector := broker.NewConnector(config.BrokerConfig())
	if _, err := connector.Connect(ctx); err != nil {
		return deps, nil, err
	}
	cleanup := func() {
		if err := connector.Close(); err != nil {
			log.WithField("Error", err.Error()).Warn("Unable to close broker connection.")
		}
	}
	if err := broker.Initialize(config.BrokerConfig()); err != nil {
		cleanup()
		return deps, nil, err
	}
	deps.Publisher = broker.NewPublisher(connector)

	if config.S3Config().Endpoint != "" {
		files, err := s3.NewClient(config.S3Config())
		if err != nil {
			cleanup()
			return deps, nil, err
		}
		deps.Files = files
	} else {
		log.Warn("s3.endpoint is not set, file parameters are disabled.")
	}

	registry := config.RegistryConfig()
	images, err := docker.NewClient(docker.Credentials{
		Host:     registry.Host,
		Username: registry.Username,
		Password: registry.Password,
	})
	if err != nil {
		log.WithField("Error", err.Error()).Warn("Docker is not available, package builds are disabled.")
	} else {
		deps.Images = images
		closeBroker := cleanup
		cleanup = func() {
			images.Close()
			closeBroker()
		}
	}

	return deps, cleanup, nil
}

func serve(ctx context.Context, skipMigrations bool) error {
	config, err := initConfig()
	if err != nil {
		return err
	}

	db, err := openDB(config)
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrations {
		if err := runMigrations(db.DB.DB, "up"); err != nil {
			return err
		}
	}

	// Result jobs advance workflow runs and submit dispatch jobs to the same pool.
	pool := worker.NewQueuedPool(config.WorkerConcurrency())
	pool.Start(ctx)
	defer pool.Stop()

	deps, cleanup, err := clientDependencies(ctx, config, pool)
	if err != nil {
		return err
	}
	defer cleanup()

	client := v1.NewClient(db, config, deps)

	engine := scheduler.NewEngine(client, scheduler.DefaultSyncInterval)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	go func() {
		if err := metrics.Serve(config.MetricsAddress()); err != nil {
			log.WithField("Error", err.Error()).Error("Metrics server stopped.")
		}
	}()

	listener := broker.NewListener(config.BrokerConfig(), broker.TaskResultsQueue).
		SetPrefetch(pool.Concurrency()).
		Handle(broker.TaskResultMessage, client.HandleTaskResult)

	return listener.Run(ctx)
}
