package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/util/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "functionary",
		Short:        "functionary control plane",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config", "Directory containing config.yaml")
	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newPublishCmd(),
		newRunTaskCmd(),
		newListTasksCmd(),
	)

	return cmd
}

// initConfig loads config.yaml from configPath and the environment. A missing config file is not an error.
func initConfig() (v1.SystemConfig, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.AddConfigPath(configPath)

	config := v1.NewSystemConfig(viper.GetViper())
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("fatal error config file: %w", err)
		}
		log.WithField("Path", configPath).Info("No config file found, using the environment only.")
	}
	configureLogging(config)

	// Watch for configuration change
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.WithField("File", e.Name).Info("Config file changed.")
		configureLogging(config)
	})

	return config, nil
}

func configureLogging(config v1.SystemConfig) {
	logging.Configure(logging.Config{
		Level:  config.GetString("logging.level"),
		Format: config.GetString("logging.format"),
	})
}

func openDB(config v1.SystemConfig) (*v1.DB, error) {
	db, err := sqlx.Connect(config.DatabaseDriverName(), config.DatabaseConnection())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return v1.NewDB(db), nil
}
