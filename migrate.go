package main

import (
	"database/sql"
	"path/filepath"

	migrations "github.com/onepanelio/functionary/db/go"
	"github.com/pressly/goose"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrationsDir = "db"

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status|version|redo]",
		Short: "run database migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}

			config, err := initConfig()
			if err != nil {
				return err
			}
			db, err := openDB(config)
			if err != nil {
				return err
			}
			defer db.Close()

			return runMigrations(db.DB.DB, command)
		},
	}
	cmd.Flags().StringVar(&migrationsDir, "dir", migrationsDir, "Directory with the sql and go migration directories")

	return cmd
}

// runMigrations runs the sql migrations and then the go migrations, each tracked in its own table.
func runMigrations(db *sql.DB, command string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	goose.SetTableName("goose_db_version")
	if err := goose.Run(command, db, filepath.Join(migrationsDir, "sql")); err != nil {
		log.WithFields(log.Fields{
			"Command": command,
			"Error":   err.Error(),
		}).Error("Failed to run database sql migrations.")
		return err
	}

	goose.SetTableName("goose_db_go_version")
	migrations.Initialize()
	if err := goose.Run(command, db, filepath.Join(migrationsDir, "go")); err != nil {
		log.WithFields(log.Fields{
			"Command": command,
			"Error":   err.Error(),
		}).Error("Failed to run database go migrations.")
		return err
	}

	return nil
}
