package app

import (
	"fmt"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/logging"
)

// InitLogger creates the process logger from cfg. The returned cleanup closes
// the log file, if any, and is never nil.
func InitLogger(cfg Config) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if !cfg.Logging.File.Enabled {
		return zerowrap.New(logConfig), func() {}, nil
	}

	log, cleanup, err := logging.NewWithFile(logConfig, zerowrap.FileConfig{
		Enabled:    true,
		Path:       resolveLogFilePath(cfg),
		MaxSize:    cfg.Logging.File.MaxSize,
		MaxBackups: cfg.Logging.File.MaxBackups,
		MaxAge:     cfg.Logging.File.MaxAge,
		Compress:   true,
	})
	if err != nil {
		return zerowrap.Default(), func() {}, fmt.Errorf("failed to create logger with file: %w", err)
	}
	return log, cleanup, nil
}
