package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"smsrelay/internal/migrations"
)

func main() {
	dbPath := flag.String("db", "./smsrelay.db", "Path to the queue database file")
	status := flag.Bool("status", false, "Only report which migrations are applied")
	dir := flag.String("dir", migrations.MigrationsDir, "Directory with migration scripts (embedded set when empty)")
	flag.Parse()

	migrations.MigrationsDir = *dir

	if err := run(context.Background(), *dbPath, *status, os.Stdout); err != nil {
		logrus.Fatalf("Migration failed: %v", err)
	}
}

func run(ctx context.Context, dbPath string, statusOnly bool, out io.Writer) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) && statusOnly {
		return fmt.Errorf("database file not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if statusOnly {
		return printStatus(ctx, db, out)
	}

	applied, err := migrations.Apply(ctx, db)
	for _, v := range applied {
		fmt.Fprintf(out, "Applied migration %d\n", v)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "Schema is up to date")
	}
	return nil
}

func printStatus(ctx context.Context, db *sql.DB, out io.Writer) error {
	all, err := migrations.Load()
	if err != nil {
		return err
	}

	var exists int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&exists); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}

	applied := map[int]bool{}
	if exists > 0 {
		if applied, err = migrations.AppliedVersions(ctx, db); err != nil {
			return err
		}
	}

	for _, m := range all {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Fprintf(out, "%03d %-40s %s\n", m.Version, m.Name, state)
	}
	return nil
}
