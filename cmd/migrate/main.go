package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"

	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/lgulliver/chunkup/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		up         = flag.Bool("up", false, "Run pending migrations")
		down       = flag.Bool("down", false, "Roll back the last migration")
		status     = flag.Bool("status", false, "List pending migrations")
		configPath = flag.String("config", "", "Path to an optional YAML configuration file")
	)
	flag.Parse()

	if !*up && !*down && !*status {
		fmt.Printf("Usage: %s [-config file] [-up | -down | -status]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Logging.SetupLogging()

	migrator, err := migrate.NewMigrator(&cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	defer migrator.Close()

	ctx := context.Background()
	switch {
	case *status:
		pending, err := migrator.Pending(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list pending migrations")
		}
		for _, m := range pending {
			fmt.Printf("%03d %s\n", m.Version, m.Name)
		}
		fmt.Printf("%d pending migration(s)\n", len(pending))
	case *up:
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations completed")
	case *down:
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back migration")
		}
		log.Info().Msg("rollback completed")
	}
}
