// This is custom goose binary to support .go migration files in ./db dir

package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrations "github.com/onepanelio/functionary/db/go"
	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/pressly/goose"
	"github.com/spf13/viper"
)

var (
	flags = flag.NewFlagSet("goose", flag.ExitOnError)
	dir   = flags.String("dir", ".", "directory with migration files")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		flags.Usage()
		return
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config := v1.NewSystemConfig(viper.GetViper())

	db := sqlx.MustConnect(config.DatabaseDriverName(), config.DatabaseConnection())
	defer db.Close()

	command := args[0]

	arguments := []string{}
	if len(args) > 2 {
		arguments = append(arguments, args[2:]...)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set goose dialect: %v", err)
	}

	goose.SetTableName("goose_db_version")
	if err := goose.Run(command, db.DB, filepath.Join(*dir, "sql"), arguments...); err != nil {
		log.Fatalf("Failed to run database sql migrations: %v %v", command, err)
	}

	goose.SetTableName("goose_db_go_version")
	migrations.Initialize()
	if err := goose.Run(command, db.DB, filepath.Join(*dir, "go"), arguments...); err != nil {
		log.Fatalf("Failed to run database go migrations: %v %v", command, err)
	}
}
