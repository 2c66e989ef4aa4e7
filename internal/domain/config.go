package domain

import (
	"log/slog"
	"time"
)

// Config wires the orchestration core. Everything is injected; there is no
// file or environment loading here.
type Config struct {
	// DataDir is the badger directory. Ignored when InMemory is set.
	DataDir  string
	InMemory bool

	Logger *slog.Logger

	// BaseContext is merged under every tool call's context meta.
	BaseContext map[string]interface{}

	// FailClosed flips the advisor judgment default from fail-open to
	// fail-closed. Static rule rejections are unaffected.
	FailClosed bool

	Engine EngineConfig

	// EventTTL and TranscriptTTL bound the durable audit trail. Zero keeps
	// records forever.
	EventTTL      time.Duration
	TranscriptTTL time.Duration
}

type EngineConfig struct {
	// WorkerCount bounds the execution phase only; dependency waits hold
	// no worker slot.
	WorkerCount int

	// RetryBaseDelay is the backoff base: attempt k sleeps base*2^(k-1).
	RetryBaseDelay time.Duration

	// DefaultUnitTimeout bounds the dependency-wait phase when a schedule
	// request carries no timeout of its own.
	DefaultUnitTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Logger:        slog.Default(),
		Engine:        DefaultEngineConfig(),
		EventTTL:      24 * time.Hour,
		TranscriptTTL: 24 * time.Hour,
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerCount:        4,
		RetryBaseDelay:     100 * time.Millisecond,
		DefaultUnitTimeout: 60 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Engine.WorkerCount <= 0 {
		c.Engine.WorkerCount = DefaultEngineConfig().WorkerCount
	}
	if c.Engine.RetryBaseDelay <= 0 {
		c.Engine.RetryBaseDelay = DefaultEngineConfig().RetryBaseDelay
	}
	if c.Engine.DefaultUnitTimeout <= 0 {
		c.Engine.DefaultUnitTimeout = DefaultEngineConfig().DefaultUnitTimeout
	}
}
