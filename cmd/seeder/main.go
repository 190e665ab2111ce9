//cmd/seeder/main.go
package main

import (
	"context"
	_ "embed"
	"os"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/logger"
)

//go:embed seed.sql
var demoSeed string

// Applies the schema, the bundled demo data, then any SQL files given as
// arguments, in order.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	if _, err := conn.ExecContext(ctx, demoSeed); err != nil {
		log.Fatal("failed to seed demo data", zap.Error(err))
	}
	log.Info("seeded demo data")

	for _, file := range os.Args[1:] {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("failed to read seed file", zap.String("file", file), zap.Error(err))
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal("failed to execute seed file", zap.String("file", file), zap.Error(err))
		}
		log.Info("seeded", zap.String("file", file))
	}

	log.Info("database seeding completed successfully")
}
