// Package commands implements the lo-migrate CLI: one subcommand-less
// root command, mirroring the teacher's cobra wiring in
// cmd/dittofs/commands/root.go.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgerber/lo-migrate/internal/bytesize"
	"github.com/pgerber/lo-migrate/internal/config"
	"github.com/pgerber/lo-migrate/internal/logger"
	"github.com/pgerber/lo-migrate/pkg/objectstore"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
	"github.com/pgerber/lo-migrate/pkg/pipeline"
)

// Version information injected at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var flags struct {
	s3URL, s3Region, accessKey, secretKey, bucket, pgURL string
	pathStyle                                            bool

	receiverThreads, storerThreads, committerThreads int
	receiverQueue, storerQueue, committerQueue        int
	commitChunk, maxRetries                           int
	inMemMax                                          string
	interval                                          time.Duration

	logFormat   string
	metricsAddr string
}

// rootCmd is lo-migrate's single command: there are no subcommands, per
// the "one subcommand-less executable" requirement.
var rootCmd = &cobra.Command{
	Use:     "lo-migrate",
	Short:   "Move blobs from Postgres Large Objects into an S3-compatible store",
	Version: Version,
	Long: `lo-migrate performs a one-shot, resumable bulk migration of binary blobs
out of a Postgres Large Object store and into an S3-compatible object store,
re-keying every blob from its legacy SHA-1 hash to a freshly computed
SHA-256 hash.

The migration is safe to interrupt and re-run: a row's sha2 column is only
written after its payload has been durably uploaded to S3 under that same
hash, so a restart simply picks up every row still missing a sha2.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()

	f.StringVar(&flags.s3URL, "s3-url", "", "S3-compatible endpoint URL (required)")
	f.StringVar(&flags.s3Region, "s3-region", "us-east-1", "S3 region")
	f.BoolVar(&flags.pathStyle, "s3-path-style", true, "use path-style S3 addressing (required by most non-AWS gateways)")
	f.StringVar(&flags.accessKey, "access-key", "", "S3 access key (required)")
	f.StringVar(&flags.secretKey, "secret-key", "", "S3 secret key (required)")
	f.StringVar(&flags.bucket, "bucket", "", "destination S3 bucket (required)")
	f.StringVar(&flags.pgURL, "pg-url", "", "Postgres connection string, USER:PASS@HOST/DB (required)")

	f.IntVar(&flags.receiverThreads, "receiver-threads", 8, "number of Receiver workers")
	f.IntVar(&flags.storerThreads, "storer-threads", 8, "number of Storer workers")
	f.IntVar(&flags.committerThreads, "committer-threads", 4, "number of Committer workers")
	f.IntVar(&flags.receiverQueue, "receiver-queue", 8192, "capacity of the Observer->Receiver queue")
	f.IntVar(&flags.storerQueue, "storer-queue", 1024, "capacity of the Receiver->Storer queue")
	f.IntVar(&flags.committerQueue, "committer-queue", 8192, "capacity of the Storer->Committer queue")
	f.IntVar(&flags.commitChunk, "commit-chunk", 100, "rows per Committer batch")
	f.StringVar(&flags.inMemMax, "in-mem-max", "1024KiB", "largest payload staged entirely in memory; a bare number is KiB, or give a unit, e.g. 4MiB")
	f.DurationVar(&flags.interval, "interval", 10*time.Second, "Monitor status print interval")
	f.IntVar(&flags.maxRetries, "max-retries", 3, "bounded retry count for transient Receiver/Storer failures")

	f.StringVar(&flags.logFormat, "log-format", "text", `log output format: "text" or "json"`)
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) error {
	// A bare number counts KiB; a value with a unit suffix is taken as given.
	inMemMax, err := bytesize.ParseByteSize(flags.inMemMax + "KiB")
	if err != nil {
		inMemMax, err = bytesize.ParseByteSize(flags.inMemMax)
	}
	if err != nil {
		return fmt.Errorf("invalid --in-mem-max: %w", err)
	}

	cfg := config.Default()
	cfg.S3URL = flags.s3URL
	cfg.S3Region = flags.s3Region
	cfg.PathStyle = flags.pathStyle
	cfg.AccessKey = flags.accessKey
	cfg.SecretKey = flags.secretKey
	cfg.Bucket = flags.bucket
	cfg.PgURL = flags.pgURL
	cfg.ReceiverThreads = flags.receiverThreads
	cfg.StorerThreads = flags.storerThreads
	cfg.CommitterThreads = flags.committerThreads
	cfg.ReceiverQueue = flags.receiverQueue
	cfg.StorerQueue = flags.storerQueue
	cfg.CommitterQueue = flags.committerQueue
	cfg.CommitChunk = flags.commitChunk
	cfg.InMemMax = inMemMax
	cfg.Interval = flags.interval
	cfg.MaxRetries = flags.maxRetries
	cfg.LogFormat = flags.logFormat
	cfg.MetricsAddr = flags.metricsAddr

	if err := logger.Init(logger.Config{Level: "info", Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	logger.SetComponentFilter(os.Getenv("LOMIGRATE_LOG"))

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()

	logger.Info("connecting to postgres")
	source, err := pgsource.Connect(ctx, cfg.PgURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer source.Close()

	logger.Info("connecting to object store", logger.KeyBucket, cfg.Bucket)
	store, err := objectstore.NewStore(ctx, objectstore.Config{
		Endpoint:        cfg.S3URL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		Bucket:          cfg.Bucket,
		ForcePathStyle:  cfg.PathStyle,
		MaxRetries:      uint(cfg.MaxRetries),
	})
	if err != nil {
		return fmt.Errorf("connect to object store: %w", err)
	}

	scratchDir, err := os.MkdirTemp("", "lo-migrate-scratch-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	pc := pipeline.Config{
		ReceiverThreads:  cfg.ReceiverThreads,
		StorerThreads:    cfg.StorerThreads,
		CommitterThreads: cfg.CommitterThreads,
		ReceiverQueue:    cfg.ReceiverQueue,
		StorerQueue:      cfg.StorerQueue,
		CommitterQueue:   cfg.CommitterQueue,
		CommitChunk:      cfg.CommitChunk,
		InMemMax:         int64(cfg.InMemMax),
		Interval:         cfg.Interval,
		MaxRetries:       cfg.MaxRetries,
		ScratchDir:       scratchDir,
		MetricsAddr:      cfg.MetricsAddr,
	}

	logger.Info("starting migration",
		"receiver_threads", cfg.ReceiverThreads,
		"storer_threads", cfg.StorerThreads,
		"committer_threads", cfg.CommitterThreads)

	result, err := pipeline.Run(ctx, source, store, pc, os.Stdout)
	if result != nil && result.Interrupted {
		if err == nil {
			err = fmt.Errorf("migration interrupted by signal")
		}
		logger.Warn("migration interrupted", logger.KeyError, err)
		return errInterrupted{err}
	}
	if err != nil {
		logger.Error("migration failed", logger.KeyError, err)
		return err
	}

	logger.Info("migration complete", "committed", result.Stats.Committed.Load())
	return nil
}

// errInterrupted marks a run that ended due to SIGINT/SIGTERM, so main can
// map it to the interrupt exit code (130) rather than the generic fatal one.
type errInterrupted struct{ err error }

func (e errInterrupted) Error() string { return e.err.Error() }
func (e errInterrupted) Unwrap() error { return e.err }

// IsInterrupted reports whether err represents a user-requested shutdown.
func IsInterrupted(err error) bool {
	_, ok := err.(errInterrupted)
	return ok
}
