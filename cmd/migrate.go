package cmd

import (
	"fmt"

	"github.com/mesura-ai/mesura/db"
	"github.com/mesura-ai/mesura/internal/config"
	"github.com/mesura-ai/mesura/internal/log"
)

// runMigrate applies pending database migrations and exits. serve also
// migrates on startup; this command exists for deploy pipelines that run
// migrations as a separate step.
func runMigrate(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("database schema up to date")
	return nil
}
