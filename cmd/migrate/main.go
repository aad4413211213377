// Command migrate applies the goose migrations in ./migrations against the
// database at DATABASE_URL.
//
// Common commands:
//
//	migrate up         apply everything pending
//	migrate down       undo the most recent migration
//	migrate status     list applied and pending migrations
//	migrate version    print the current schema version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: up, down, redo, status, version, up-to N, down-to N")
		os.Exit(2)
	}
	command := os.Args[1]

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("migrate: DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("migrate: open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("migrate: database unreachable: %v", err)
	}

	if err := goose.RunContext(ctx, command, db, "migrations", os.Args[2:]...); err != nil {
		log.Fatalf("migrate: %s: %v", command, err)
	}
}
