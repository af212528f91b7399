package main

import (
	"flag"

	"github.com/joho/godotenv"

	"github.com/pageza/foodlens/backend/config"
	"github.com/pageza/foodlens/backend/internal/database"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/models"
)

func main() {
	rollback := flag.Bool("rollback", false, "Drop the tables the service owns")
	flag.Parse()

	if config.GetEnvironment().LoadsDotEnv() {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	db, err := database.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() { _ = database.Close(db) }()

	if *rollback {
		if err := db.Migrator().DropTable(&models.UserPreference{}); err != nil {
			logging.Fatal().Err(err).Msg("failed to roll back")
		}
		logging.Info().Msg("dropped user preference table")
		return
	}

	if err := database.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("failed to migrate")
	}
	logging.Info().Msg("all migrations applied successfully")
}
