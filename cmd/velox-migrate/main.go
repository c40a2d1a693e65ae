// Command velox-migrate applies Velox's embedded database migrations
// against DATABASE_URL without starting the control plane. Useful for
// running schema changes ahead of a rolling deploy of the main binary.
package main

import (
	"flag"
	"log"

	"github.com/wku/velox-orchestrator/internal/config"
	"github.com/wku/velox-orchestrator/internal/storage/pg"
)

func main() {
	databaseURL := flag.String("database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	flag.Parse()

	log.SetFlags(log.LstdFlags)

	url := *databaseURL
	if url == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		url = cfg.DatabaseURL
	}

	log.Println("Velox Database Migration")
	log.Println("========================")
	log.Printf("Database: %s", url)

	if err := pg.Migrate(url); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("✓ Migrations applied")
}
