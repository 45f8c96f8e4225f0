package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Atif-27/AutoChain/internal/broker"
	"github.com/Atif-27/AutoChain/internal/broker/kafka"
	"github.com/Atif-27/AutoChain/internal/broker/memory"
	"github.com/Atif-27/AutoChain/internal/broker/natsjs"
	"github.com/Atif-27/AutoChain/internal/config"
	"github.com/Atif-27/AutoChain/internal/executor"
	"github.com/Atif-27/AutoChain/internal/ledger"
	"github.com/Atif-27/AutoChain/internal/mailer"
	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/telemetry"
)

const (
	serviceName = "autochain"

	// memoryPartitions is the partition count of the in-process broker.
	memoryPartitions = 4
)

// app holds the configuration and the lazily opened collaborators of one
// command invocation.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store

	shutdownTracer telemetry.ShutdownFunc

	mem   *memory.Broker
	nc    *nats.Conn
	redis *redis.Client

	closers []func() error
}

// loadConfig reads the environment (and env file) and applies the global
// flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return config.Config{}, err
	}
	if opts.DBDriver != "" {
		cfg.DBDriver = opts.DBDriver
	}
	if opts.DBDSN != "" {
		cfg.DBDSN = opts.DBDSN
	}
	if opts.Broker != "" {
		cfg.Broker = opts.Broker
	}
	return cfg, nil
}

// newApp loads configuration, installs the logger and tracer and opens the
// store. adjust, when not nil, applies command-specific flag overrides
// before validation.
func newApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command, adjust func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if adjust != nil {
		adjust(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), opts.LogFormat, level)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log format", err)
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.SetupTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	logger.Debug("opening database", "driver", cfg.DBDriver)
	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &app{cfg: cfg, logger: logger, store: st, shutdownTracer: shutdown}, nil
}

// Close releases everything the app opened, newest first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.mem != nil {
		errs = append(errs, a.mem.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.Close())
	errs = append(errs, a.shutdownTracer(ctx))
	return errors.Join(errs...)
}

func (a *app) memoryBroker() *memory.Broker {
	if a.mem == nil {
		a.mem = memory.NewBroker(memoryPartitions)
	}
	return a.mem
}

func (a *app) natsConn() (*nats.Conn, error) {
	if a.nc == nil {
		nc, err := natsjs.Connect(a.cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.nc = nc
	}
	return a.nc, nil
}

// publisher returns a publisher on the configured broker.
func (a *app) publisher() (broker.Publisher, error) {
	switch a.cfg.Broker {
	case config.BrokerMemory:
		return a.memoryBroker(), nil
	case config.BrokerKafka:
		p := kafka.NewPublisher(a.cfg.KafkaBrokers)
		a.closers = append(a.closers, p.Close)
		return p, nil
	case config.BrokerNATS:
		nc, err := a.natsConn()
		if err != nil {
			return nil, err
		}
		p, err := natsjs.NewPublisher(nc)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", a.cfg.Broker)
	}
}

// subscriber joins the configured consumer group on the configured topic.
func (a *app) subscriber() (broker.Subscriber, error) {
	switch a.cfg.Broker {
	case config.BrokerMemory:
		s := a.memoryBroker().Subscribe(a.cfg.Group, a.cfg.Topic)
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BrokerKafka:
		s := kafka.NewSubscriber(a.cfg.KafkaBrokers, a.cfg.Group, a.cfg.Topic)
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BrokerNATS:
		nc, err := a.natsConn()
		if err != nil {
			return nil, err
		}
		// A stage may take every attempt before it is acked.
		ackWait := a.cfg.StageTimeout * time.Duration(1+max(a.cfg.StageAttempts, 1))
		s, err := natsjs.NewSubscriber(nc, a.cfg.Group, a.cfg.Topic, ackWait)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", a.cfg.Broker)
	}
}

// stageLedger returns the Redis ledger when AUTOCHAIN_REDIS_ADDR is set.
func (a *app) stageLedger(ctx context.Context) (executor.Ledger, error) {
	if a.cfg.RedisAddr == "" {
		return ledger.Nop{}, nil
	}
	client, err := ledger.Dial(ctx, a.cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.logger.Info("stage ledger enabled", "redis", a.cfg.RedisAddr)
	return ledger.NewRedis(client, 0), nil
}

func (a *app) mailer() mailer.Mailer {
	return mailer.New(a.cfg.SMTP, a.logger)
}

// warnMemoryBroker notes that a single component on the in-process broker
// cannot reach the others.
func (a *app) warnMemoryBroker(component string) {
	if a.cfg.Broker == config.BrokerMemory {
		a.logger.Warn("memory broker does not cross process boundaries, use 'autochain up' or another broker",
			"component", component)
	}
}
