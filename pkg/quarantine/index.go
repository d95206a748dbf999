// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package quarantine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
)

// Driver names the metadata index backend, matching storage.quarantine.driver.
type Driver string

const (
	DriverEmbedded Driver = "embedded"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

func (d Driver) sqlDriverName() string {
	switch d {
	case DriverPostgres:
		return "postgres"
	case DriverMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func (d Driver) migrateDialect() string {
	switch d {
	case DriverPostgres:
		return "postgres"
	case DriverMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// index is the relational metadata plane: one row per QuarantineRecord,
// indexed on (quarantined_at) and (reason).
type index struct {
	db     *sqlx.DB
	driver Driver
}

func openIndex(driver Driver, dsn string) (*index, error) {
	db, err := sqlx.Open(driver.sqlDriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// The metadata index serializes writes at the database layer; a single
	// open connection keeps that true regardless of driver for the
	// embedded default, while external databases handle their own
	// concurrent-write locking.
	if driver == DriverEmbedded {
		db.SetMaxOpenConns(1)
	}

	idx := &index{db: db, driver: driver}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *index) migrate() error {
	source := migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_create_quarantined_messages",
				Up: []string{createTableSQL(idx.driver)},
			},
		},
	}
	_, err := migrate.Exec(idx.db.DB, idx.driver.migrateDialect(), source, migrate.Up)
	return err
}

func createTableSQL(driver Driver) string {
	idType := "TEXT"
	boolType := "BOOLEAN"
	if driver == DriverMySQL {
		idType = "VARCHAR(64)"
		boolType = "TINYINT(1)"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS quarantined_messages (
		id %s PRIMARY KEY,
		received_at TIMESTAMP NOT NULL,
		quarantined_at TIMESTAMP NOT NULL,
		topic TEXT NOT NULL,
		client_id TEXT NOT NULL,
		qos INTEGER NOT NULL,
		retain %s NOT NULL,
		reason TEXT NOT NULL,
		detail TEXT,
		schema_id TEXT,
		payload_ref TEXT NOT NULL,
		payload_size INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quarantined_messages_quarantined_at ON quarantined_messages (quarantined_at);
	CREATE INDEX IF NOT EXISTS idx_quarantined_messages_reason ON quarantined_messages (reason);`, idType, boolType)
}

func (idx *index) insert(ctx context.Context, r Record) error {
	_, err := idx.db.NamedExecContext(ctx, `INSERT INTO quarantined_messages
		(id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size)
		VALUES (:id, :received_at, :quarantined_at, :topic, :client_id, :qos, :retain, :reason, :detail, :schema_id, :payload_ref, :payload_size)`, r)
	return err
}

func (idx *index) list(ctx context.Context, filter Filter, page Page) ([]Record, error) {
	q := "SELECT * FROM quarantined_messages WHERE 1=1"
	args := map[string]interface{}{}

	if filter.Reason != "" {
		q += " AND reason = :reason"
		args["reason"] = string(filter.Reason)
	}
	if filter.Topic != "" {
		q += " AND topic = :topic"
		args["topic"] = filter.Topic
	}
	if filter.ClientID != "" {
		q += " AND client_id = :client_id"
		args["client_id"] = filter.ClientID
	}
	if !filter.Since.IsZero() {
		q += " AND quarantined_at >= :since"
		args["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		q += " AND quarantined_at < :until"
		args["until"] = filter.Until
	}
	q += " ORDER BY quarantined_at DESC"

	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	q += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page.Offset)

	rows, err := idx.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.StructScan(&r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// get returns the record for a single id, or sql.ErrNoRows if absent.
func (idx *index) get(ctx context.Context, id string) (Record, error) {
	var r Record
	err := idx.db.GetContext(ctx, &r, "SELECT * FROM quarantined_messages WHERE id = ?", id)
	return r, err
}

// countReferences reports how many rows reference a given payload_ref.
func (idx *index) countReferences(ctx context.Context, ref string) (int64, error) {
	var count int64
	err := idx.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM quarantined_messages WHERE payload_ref = ?", ref)
	return count, err
}

// deleteOlderThan removes rows quarantined before cutoff and returns the
// distinct payload_refs that were referenced by any deleted row, so the
// caller can re-check their reference counts.
func (idx *index) deleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, int64, error) {
	var refs []string
	if err := idx.db.SelectContext(ctx, &refs, "SELECT DISTINCT payload_ref FROM quarantined_messages WHERE quarantined_at < ?", cutoff); err != nil {
		return nil, 0, err
	}
	res, err := idx.db.ExecContext(ctx, "DELETE FROM quarantined_messages WHERE quarantined_at < ?", cutoff)
	if err != nil {
		return nil, 0, err
	}
	n, _ := res.RowsAffected()
	return refs, n, nil
}

// deleteOldest supports eviction under a soft size ceiling; deletes the n oldest
// rows and returns their payload_refs.
func (idx *index) deleteOldest(ctx context.Context, n int) ([]string, error) {
	var ids []string
	if err := idx.db.SelectContext(ctx, &ids, "SELECT id FROM quarantined_messages ORDER BY quarantined_at ASC LIMIT ?", n); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var refs []string
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := "SELECT DISTINCT payload_ref FROM quarantined_messages WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if err := idx.db.SelectContext(ctx, &refs, q, args...); err != nil {
		return nil, err
	}

	delQ := "DELETE FROM quarantined_messages WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if _, err := idx.db.ExecContext(ctx, delQ, args...); err != nil {
		return nil, err
	}
	return refs, nil
}

func (idx *index) stats(ctx context.Context) (Stats, error) {
	stats := Stats{RecordsByReason: make(map[message.Reason]int64)}

	if err := idx.db.GetContext(ctx, &stats.TotalRecords, "SELECT COUNT(*) FROM quarantined_messages"); err != nil {
		return stats, err
	}
	if err := idx.db.GetContext(ctx, &stats.TotalPayloadBytes, "SELECT COALESCE(SUM(payload_size), 0) FROM quarantined_messages"); err != nil {
		return stats, err
	}

	since := time.Now().Add(-24 * time.Hour)
	if err := idx.db.GetContext(ctx, &stats.RecordsLast24h, "SELECT COUNT(*) FROM quarantined_messages WHERE quarantined_at >= ?", since); err != nil {
		return stats, err
	}

	rows, err := idx.db.QueryContext(ctx, "SELECT reason, COUNT(*) FROM quarantined_messages GROUP BY reason")
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return stats, err
		}
		stats.RecordsByReason[message.Reason(reason)] = count
	}

	return stats, rows.Err()
}

func (idx *index) ping(ctx context.Context) error {
	return idx.db.PingContext(ctx)
}

func (idx *index) close() error {
	return idx.db.Close()
}
