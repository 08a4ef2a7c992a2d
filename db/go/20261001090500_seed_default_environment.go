package migration

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pressly/goose"
)

const (
	defaultTeamName        = "default"
	defaultEnvironmentName = "default"
)

func initialize20261001090500() {
	if _, ok := initializedMigrations[20261001090500]; !ok {
		goose.AddMigration(Up20261001090500, Down20261001090500)
		initializedMigrations[20261001090500] = true
	}
}

// Up20261001090500 creates a default team and environment on an empty database.
func Up20261001090500(tx *sql.Tx) error {
	var teams int
	if err := tx.QueryRow("SELECT COUNT(*) FROM teams").Scan(&teams); err != nil {
		return err
	}
	if teams > 0 {
		return nil
	}

	sb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(tx)
	teamID := uuid.New().String()
	if _, err := sb.Insert("teams").
		SetMap(sq.Eq{
			"id":   teamID,
			"name": defaultTeamName,
		}).
		Exec(); err != nil {
		return err
	}

	_, err := sb.Insert("environments").
		SetMap(sq.Eq{
			"id":      uuid.New().String(),
			"team_id": teamID,
			"name":    defaultEnvironmentName,
		}).
		Exec()

	return err
}

// Down20261001090500 removes the default team, and with it the default environment.
func Down20261001090500(tx *sql.Tx) error {
	_, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Delete("teams").
		Where(sq.Eq{"name": defaultTeamName}).
		RunWith(tx).
		Exec()

	return err
}
