// Package config binds the CLI flag surface into a validated Config,
// the way the teacher's pkg/config binds viper keys into a Config struct
// before anything downstream is constructed.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pgerber/lo-migrate/internal/bytesize"
)

// Config is the fully-resolved, validated run configuration. Every field
// maps directly onto a CLI flag from SPEC_FULL.md §6.1.
type Config struct {
	S3URL      string `validate:"required,url"`
	S3Region   string `validate:"required"`
	PathStyle  bool
	AccessKey  string `validate:"required"`
	SecretKey  string `validate:"required"`
	Bucket     string `validate:"required"`
	PgURL      string `validate:"required"`

	ReceiverThreads  int `validate:"min=1"`
	StorerThreads    int `validate:"min=1"`
	CommitterThreads int `validate:"min=1"`

	ReceiverQueue  int `validate:"min=1"`
	StorerQueue    int `validate:"min=1"`
	CommitterQueue int `validate:"min=1"`

	CommitChunk int `validate:"min=1"`
	InMemMax    bytesize.ByteSize
	Interval    time.Duration `validate:"min=1s"`
	MaxRetries  int           `validate:"min=0"`

	LogFormat   string `validate:"oneof=text json"`
	MetricsAddr string
}

// Default returns a Config populated with the defaults named in
// SPEC_FULL.md §6.1. Callers overlay flag values on top before Validate.
func Default() Config {
	return Config{
		S3Region:         "us-east-1",
		PathStyle:        true,
		ReceiverThreads:  8,
		StorerThreads:    8,
		CommitterThreads: 4,
		ReceiverQueue:    8192,
		StorerQueue:      1024,
		CommitterQueue:   8192,
		CommitChunk:      100,
		InMemMax:         1024 * bytesize.KiB,
		Interval:         10 * time.Second,
		MaxRetries:       3,
		LogFormat:        "text",
	}
}

var validate = validator.New()

// Validate checks the config, returning every violation at once so a
// misconfigured run fails fast before any worker starts, S3 client is
// constructed, or Postgres connection is opened — a Configuration error
// per the error taxonomy in SPEC_FULL.md §7.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StorerQueue > c.ReceiverQueue {
		// Not fatal by itself, but surprising enough to flag explicitly:
		// the spec sizes Qs smaller than Qr/Qc because each Qs slot may
		// hold a materialized payload.
		return fmt.Errorf("invalid configuration: --storer-queue (%d) should not exceed --receiver-queue (%d)", c.StorerQueue, c.ReceiverQueue)
	}
	return nil
}
