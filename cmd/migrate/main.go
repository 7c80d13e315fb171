package main

import (
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-treasury/internal/app"
	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if err := db.Migrate(cfg.PGDSN, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
}
