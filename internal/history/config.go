package history

import (
	"time"

	"codeberg.org/mutker/waysn/internal/errors"
)

const (
	defaultDirPerm   = 0o755
	defaultBatchSize = 16
	defaultFlush     = 30 * time.Second
)

type Config struct {
	DBPath          string
	BatchSize       int
	FlushInterval   time.Duration
	BackupOnMigrate bool
	Enabled         bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlush,
		Enabled:       false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if history is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.FlushInterval < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize     int
			FlushInterval time.Duration
		}{
			BatchSize:     c.BatchSize,
			FlushInterval: c.FlushInterval,
		})
	}

	return nil
}
