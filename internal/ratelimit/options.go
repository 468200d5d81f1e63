package ratelimit

import (
	"fmt"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

const (
	DefaultMaxRequests = 5
	DefaultWindowSecs  = 3600
)

// config is shared by SlidingWindow and RedisWindow
type config struct {
	clock       Clock
	maxRequests int
	windowSecs  int

	// OnDenied runs on every rejection, OnFirstDenied once per denial streak
	onDenied      func(id string)
	onFirstDenied func(id string)

	// redis only
	keyPrefix string
	logger    log.Logger
	onError   func(err error)
}

func defaultConfig() config {
	return config{
		clock:       SystemClock(),
		maxRequests: DefaultMaxRequests,
		windowSecs:  DefaultWindowSecs,
		keyPrefix:   "portfolio:ratelimit:",
		logger:      log.Nop(),
	}
}

func (c config) validate() error {
	if c.maxRequests <= 0 {
		return fmt.Errorf("ratelimit: max requests must be >= 1 (got %d)", c.maxRequests)
	}
	if c.windowSecs <= 0 {
		return fmt.Errorf("ratelimit: window must be >= 1 second (got %d)", c.windowSecs)
	}
	return nil
}

type Option func(*config)

// WithClock replaces the wall clock, nil is ignored
func WithClock(c Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithPolicy binds the limit Allow enforces: maxRequests admits per windowSecs seconds
func WithPolicy(maxRequests, windowSecs int) Option {
	return func(cfg *config) {
		cfg.maxRequests = maxRequests
		cfg.windowSecs = windowSecs
	}
}

// WithOnDenied sets a callback for every rejected request, used for counters
func WithOnDenied(fn func(id string)) Option {
	return func(cfg *config) { cfg.onDenied = fn }
}

// WithOnFirstDenied sets a callback for the first rejection of a streak, used for logging.
// The streak ends the next time the identifier is admitted.
func WithOnFirstDenied(fn func(id string)) Option {
	return func(cfg *config) { cfg.onFirstDenied = fn }
}

// WithKeyPrefix sets the redis key prefix, ignored by SlidingWindow
func WithKeyPrefix(p string) Option {
	return func(cfg *config) { cfg.keyPrefix = p }
}

// WithLogger sets where RedisWindow reports backend errors
func WithLogger(l log.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithOnError sets a callback for redis backend errors, used for counters
func WithOnError(fn func(err error)) Option {
	return func(cfg *config) { cfg.onError = fn }
}
