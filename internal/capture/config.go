package capture

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCountdownSteps   = 3
	DefaultCountdownStep    = time.Second
	DefaultMaxDuration      = 90 * time.Second
	DefaultThumbnailTimeout = 5 * time.Second
)

// Config tunes a session. Zero fields take the defaults above.
type Config struct {
	CountdownSteps   int
	CountdownStep    time.Duration
	MaxDuration      time.Duration
	ThumbnailTimeout time.Duration

	// After, Now and NewID are replaced in tests.
	After func(time.Duration) <-chan time.Time
	Now   func() time.Time
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.CountdownSteps <= 0 {
		c.CountdownSteps = DefaultCountdownSteps
	}
	if c.CountdownStep <= 0 {
		c.CountdownStep = DefaultCountdownStep
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.ThumbnailTimeout <= 0 {
		c.ThumbnailTimeout = DefaultThumbnailTimeout
	}
	if c.After == nil {
		c.After = time.After
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}
