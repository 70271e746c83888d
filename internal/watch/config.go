package watch

import (
	"time"

	"ghwatch/internal/task/engine"
)

// Config holds poll timing. Zero fields take the defaults below.
type Config struct {
	RepoInterval    time.Duration // 5m
	CommitsOffset   time.Duration // 0
	CommentsOffset  time.Duration // 2m
	PackageInterval time.Duration // 10m
	PackageOffset   time.Duration // 1m

	// InitialLookback is how far back a fresh cursor starts.
	InitialLookback time.Duration // 1h

	TaskTimeout time.Duration // 60s

	// ShortRetryAfter is the largest Retry-After the engine waits out by
	// retrying. Longer rate limits pause the stream until reset.
	ShortRetryAfter time.Duration // 30s

	// Retry applies to scheduled checks.
	Retry engine.TaskOptions
}

func (c Config) withDefaults() Config {
	if c.RepoInterval <= 0 {
		c.RepoInterval = 5 * time.Minute
	}
	if c.CommitsOffset < 0 {
		c.CommitsOffset = 0
	}
	if c.CommentsOffset <= 0 {
		c.CommentsOffset = 2 * time.Minute
	}
	if c.PackageInterval <= 0 {
		c.PackageInterval = 10 * time.Minute
	}
	if c.PackageOffset <= 0 {
		c.PackageOffset = time.Minute
	}
	if c.InitialLookback <= 0 {
		c.InitialLookback = time.Hour
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
	if c.ShortRetryAfter <= 0 {
		c.ShortRetryAfter = 30 * time.Second
	}
	if c.Retry.RetryMax == 0 {
		c.Retry.RetryMax = 3
	}
	if c.Retry.RetryBase <= 0 {
		c.Retry.RetryBase = 2 * time.Second
	}
	if c.Retry.RetryMaxDelay <= 0 {
		c.Retry.RetryMaxDelay = 30 * time.Second
	}
	return c
}
