// Command migrate manages the underwriting schema. It wraps
// golang-migrate with the small set of operations the service needs:
// apply, roll back, report, and recover from a dirty state.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	databaseURL := flag.String("database", "", "Postgres URL; falls back to DATABASE_URL")
	dir := flag.String("dir", "migrations", "directory holding the .sql migration files")
	cmd := flag.String("command", "up", "one of: up, down, version, force")
	flag.Parse()

	url := *databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		log.Fatal("no database URL: pass -database or set DATABASE_URL")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *dir), url)
	if err != nil {
		log.Fatalf("open migration source %s: %v", *dir, err)
	}
	defer m.Close()

	switch *cmd {
	case "up":
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Println("schema already current")
				return
			}
			log.Fatalf("apply migrations: %v", err)
		}
		log.Println("schema migrated")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("roll back migrations: %v", err)
		}
		log.Println("schema rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("read schema version: %v", err)
		}
		log.Printf("schema version %d dirty=%v", version, dirty)

	case "force":
		if flag.NArg() < 1 {
			log.Fatal("force needs a target version: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			log.Fatalf("bad version %q: %v", flag.Arg(0), err)
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("force schema version: %v", err)
		}
		log.Printf("schema version forced to %d", version)

	default:
		log.Fatalf("unknown command %q (up, down, version, force)", *cmd)
	}
}
