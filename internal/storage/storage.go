// Package storage keeps a journal of every result delivery to TestRail so
// that failed forwards can be inspected after the fact.
package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/raphi011/testrail/internal/model"
)

//go:embed migrations/*.sql
var fs embed.FS

type Journal struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewJournal opens (and migrates) the journal database. An empty filename
// creates a private in-memory database.
func NewJournal(dbFilename string, log *slog.Logger) (*Journal, error) {
	db, err := sqlx.Connect("sqlite", connectionString(dbFilename))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	row := db.QueryRow("select sqlite_version()")

	var version string
	if err = row.Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to retrieve sqlite version: %w", err)
	}

	log.Debug("Using sqlite version: " + version)

	j := &Journal{
		db:  db,
		log: log,
	}

	if err = j.migrateDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func connectionString(filename string) string {
	var cs string
	var options = []string{"_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)", "_pragma=synchronous(normal)"}

	if filename != "" {
		cs = filename
	} else {
		cs = "file:" + randomAlphanumeric(16)
		options = append(options, "mode=memory", "cache=shared")
	}

	for i, o := range options {
		if i == 0 {
			cs += "?"
		} else {
			cs += "&"
		}
		cs += o
	}

	return cs
}

const alphaNumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphaNumericChars[rand.Intn(len(alphaNumericChars))]
	}
	return string(b)
}

func (j *Journal) migrateDB(db *sqlx.DB) error {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return fmt.Errorf("load db migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("load migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate with instance: %w", err)
	}

	err = m.Up()

	if err == migrate.ErrNoChange {
		j.log.Debug("No migrations have been applied. The DB is at the latest state.")
	} else if err != nil {
		return fmt.Errorf("applying db migrations: %w", err)
	}

	return nil
}

// RecordDelivery stores d. Errors are logged, a broken journal must never
// stop results from being forwarded.
func (j *Journal) RecordDelivery(ctx context.Context, d model.Delivery) {
	if _, err := j.InsertDelivery(ctx, d); err != nil {
		j.log.Error("unable to record delivery", "operation", d.Operation, "run-id", d.RunID, "error", err)
	}
}

func (j *Journal) InsertDelivery(ctx context.Context, d model.Delivery) (int, error) {
	res, err := j.db.NamedExecContext(ctx, `INSERT INTO Delivery
	(operation, runId, items, success, statusCode, error, deliveredAt) VALUES
	(:operation, :runId, :items, :success, :statusCode, :error, :deliveredAt)`,
		map[string]any{
			"operation":   d.Operation,
			"runId":       d.RunID,
			"items":       d.Items,
			"success":     d.Success,
			"statusCode":  d.StatusCode,
			"error":       d.Error,
			"deliveredAt": d.Time.UnixMilli(),
		})
	if err != nil {
		return -1, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return -1, fmt.Errorf("retrieving inserted Delivery id: %w", err)
	}

	return int(id), nil
}

// LoadDeliveries returns up to limit deliveries, newest first.
func (j *Journal) LoadDeliveries(ctx context.Context, limit int) ([]model.Delivery, error) {
	rows, err := j.db.QueryxContext(ctx, `SELECT
	id, operation, runId, items, success, statusCode, error, deliveredAt
	FROM Delivery ORDER BY deliveredAt DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := []model.Delivery{}

	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}

		deliveries = append(deliveries, d)
	}

	return deliveries, rows.Err()
}

// PruneBefore deletes deliveries older than t and returns how many were
// removed.
func (j *Journal) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM Delivery WHERE deliveredAt < ?`, t.UnixMilli())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func scanDelivery(r *sqlx.Rows) (model.Delivery, error) {
	var d model.Delivery
	var deliveredAt int64

	err := r.Scan(&d.ID, &d.Operation, &d.RunID, &d.Items, &d.Success, &d.StatusCode, &d.Error, &deliveredAt)
	if err != nil {
		return model.Delivery{}, fmt.Errorf("scanning delivery: %w", err)
	}

	d.Time = time.UnixMilli(deliveredAt)

	return d, nil
}
