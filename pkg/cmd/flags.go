package cmd

import (
	"time"

	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by every automation binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (memory://, postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "Job queue backend (database, redis)",
			Value:   "database",
			Sources: cli.EnvVars("JOB_QUEUE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the redis job queue",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.DurationFlag{
			Name:    "lock-ttl",
			Usage:   "How long a claimed job stays locked before another worker may take it",
			Value:   persistence.DefaultLockTTL,
			Sources: cli.EnvVars("LOCK_TTL"),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Attempts per step before a run fails",
			Value:   workflow.DefaultMaxAttempts,
			Sources: cli.EnvVars("MAX_ATTEMPTS"),
		},
		&cli.IntFlag{
			Name:    "max-published-flows",
			Usage:   "Published flows allowed per tenant (0 for unlimited)",
			Value:   0,
			Sources: cli.EnvVars("MAX_PUBLISHED_FLOWS"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing action plugins",
			Value:   "",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP (configured by OTEL_EXPORTER_OTLP_* variables)",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// DefaultShutdownTimeout bounds graceful shutdown of servers and workers.
const DefaultShutdownTimeout = 10 * time.Second
