package v1

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

var sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// serializationFailureAttempts is how many times a transaction is retried when postgres
// aborts it with a serialization failure.
const serializationFailureAttempts = 3

// querier is implemented by DB and Tx.
type querier interface {
	Selectx(dest interface{}, builder sq.SelectBuilder) error
	Getx(dest interface{}, builder sq.SelectBuilder) error
}

type DB struct {
	*sqlx.DB
}

func NewDB(db *sqlx.DB) *DB {
	return &DB{db}
}

// Selectx performs a select query using a squirrel SelectBuilder as an argument.
//
// This is a convenience wrapper. Any errors from squirrel are returned as is.
func (db *DB) Selectx(dest interface{}, builder sq.SelectBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}

	return db.Select(dest, query, args...)
}

// Getx performs a get query using a squirrel SelectBuilder as an argument.
//
// This is a convenience wrapper. Any errors from squirrel are returned as is.
func (db *DB) Getx(dest interface{}, builder sq.SelectBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}

	return db.Get(dest, query, args...)
}

// Tx is a serializable transaction. Functions registered with AfterCommit run once the
// transaction commits, in registration order, and never run if it rolls back.
type Tx struct {
	*sqlx.Tx
	afterCommit []func()
}

func (tx *Tx) Selectx(dest interface{}, builder sq.SelectBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}

	return tx.Select(dest, query, args...)
}

func (tx *Tx) Getx(dest interface{}, builder sq.SelectBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}

	return tx.Get(dest, query, args...)
}

// Execx runs an insert, update or delete built with squirrel.
func (tx *Tx) Execx(builder sq.Sqlizer) (sql.Result, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	return tx.Exec(query, args...)
}

// AfterCommit registers fn to run after a successful commit.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// Transaction runs fn inside a serializable transaction. The transaction is committed if fn returns nil
// and rolled back otherwise. Serialization failures are retried.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	for attempt := 1; attempt <= serializationFailureAttempts; attempt++ {
		err = db.transaction(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}

		log.WithFields(log.Fields{
			"Attempt": attempt,
			"Error":   err.Error(),
		}).Warn("Transaction aborted by a serialization failure.")
	}

	return err
}

func (db *DB) transaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer sqlxTx.Rollback()

	tx := &Tx{Tx: sqlxTx}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlxTx.Commit(); err != nil {
		return err
	}

	for _, hook := range tx.afterCommit {
		hook()
	}

	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}

	return false
}
