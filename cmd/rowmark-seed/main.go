// Demo and test data generator for rowmark. Creates a source table with a
// key column, payload columns, and a unix-nanosecond change column, then
// inserts fresh rows or bumps existing ones so incremental cycles have
// something to pick up.
//
// Usage:
//
//	go run ./cmd/rowmark-seed --db source.db --table orders --rows 50
//	go run ./cmd/rowmark-seed --db source.db --table orders --touch 10
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

var customers = []string{"acme", "globex", "initech", "umbrella", "stark", "wayne"}

func main() {
	db := flag.String("db", "source.db", "SQLite database to create or open")
	table := flag.String("table", "orders", "table name")
	rows := flag.Int("rows", 0, "number of new rows to insert")
	touch := flag.Int("touch", 0, "number of existing rows to bump to a fresh change timestamp")
	flag.Parse()

	if *rows == 0 && *touch == 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: pass --rows and/or --touch")
		os.Exit(2)
	}

	if err := run(*db, *table, *rows, *touch); err != nil {
		fmt.Fprintf(os.Stderr, "rowmark-seed: %v\n", err)
		os.Exit(1)
	}
}

func run(path, table string, rows, touch int) error {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()

	if err := createTable(db, table); err != nil {
		return err
	}

	if rows > 0 {
		if err := insertRows(db, table, rows); err != nil {
			return err
		}

		fmt.Printf("Inserted %d rows into %s\n", rows, table)
	}

	if touch > 0 {
		n, err := touchRows(db, table, touch)
		if err != nil {
			return err
		}

		fmt.Printf("Touched %d rows in %s\n", n, table)
	}

	return nil
}

func createTable(db *sql.DB, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		order_id   INTEGER PRIMARY KEY,
		customer   TEXT NOT NULL,
		total      REAL NOT NULL,
		updated_at INTEGER NOT NULL
	)`, table)

	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	// Extraction filters and orders by the change column.
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (updated_at)`,
		"idx_"+table+"_updated_at", table)

	if _, err := db.Exec(index); err != nil {
		return fmt.Errorf("creating change index: %w", err)
	}

	return nil
}

func insertRows(db *sql.DB, table string, count int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %q (customer, total, updated_at) VALUES (?, ?, ?)`, table))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < count; i++ {
		customer := customers[rand.Intn(len(customers))]
		total := float64(rand.Intn(99000)+1000) / 100

		if _, err := stmt.Exec(customer, total, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("inserting row: %w", err)
		}
	}

	return tx.Commit()
}

// touchRows bumps the change timestamp on up to count random rows,
// simulating updates to already-replicated data.
func touchRows(db *sql.DB, table string, count int) (int64, error) {
	query := fmt.Sprintf(`UPDATE %q SET total = total + 1, updated_at = ?
		WHERE order_id IN (SELECT order_id FROM %q ORDER BY RANDOM() LIMIT ?)`, table, table)

	res, err := db.Exec(query, time.Now().UnixNano(), count)
	if err != nil {
		return 0, fmt.Errorf("touching rows: %w", err)
	}

	return res.RowsAffected()
}
