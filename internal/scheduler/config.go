package scheduler

import "time"

// Config controls the due-retry sweep.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}
