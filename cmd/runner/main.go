// The runner consumes task packages from the public queue, runs them in containers
// and publishes their results.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/docker"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/runner"
	"github.com/onepanelio/functionary/pkg/worker"
	"github.com/onepanelio/functionary/util/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var configPath = flag.String("config", "config", "Directory containing config.yaml")

func main() {
	flag.Parse()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.AddConfigPath(*configPath)
	config := v1.NewSystemConfig(viper.GetViper())
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Fatal error config file: %s", err)
		}
	}
	logging.Configure(logging.Config{
		Level:  config.GetString("logging.level"),
		Format: config.GetString("logging.format"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := config.RegistryConfig()
	dockerClient, err := docker.NewClient(docker.Credentials{
		Host:     registry.Host,
		Username: registry.Username,
		Password: registry.Password,
	})
	if err != nil {
		log.Fatalf("Failed to connect to docker: %v", err)
	}
	defer dockerClient.Close()

	connector := broker.NewConnector(config.BrokerConfig())
	if _, err := connector.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to message broker: %v", err)
	}
	defer connector.Close()

	// One container at a time, the listener stops taking deliveries while it runs.
	pool := worker.NewPool(1)
	pool.Start(ctx)
	defer pool.Stop()

	r := runner.New(dockerClient, broker.NewPublisher(connector), pool, config.RunnerTimeout())
	listener := r.Register(broker.NewListener(config.BrokerConfig(), broker.PublicQueue))

	go func() {
		if err := metrics.Serve(config.MetricsAddress()); err != nil {
			log.WithField("Error", err.Error()).Error("Metrics server stopped.")
		}
	}()

	if err := listener.Run(ctx); err != nil {
		log.Fatalf("Listener failed: %v", err)
	}
}
