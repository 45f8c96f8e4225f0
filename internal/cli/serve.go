package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Atif-27/AutoChain/internal/config"
	"github.com/Atif-27/AutoChain/internal/executor"
	"github.com/Atif-27/AutoChain/internal/ids"
	"github.com/Atif-27/AutoChain/internal/ingest"
	"github.com/Atif-27/AutoChain/internal/relay"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds the component flags shared by hooks, relay, worker
// and up. Zero values keep the configured setting.
type ServeOptions struct {
	*RootOptions
	Addr          string
	Batch         int
	Interval      time.Duration
	Attempts      int
	HaltOnFailure bool
}

func (o *ServeOptions) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		if o.Addr != "" {
			cfg.HTTPAddr = o.Addr
		}
		if o.Batch != 0 {
			cfg.RelayBatch = o.Batch
		}
		if o.Interval != 0 {
			cfg.RelayInterval = o.Interval
		}
		if o.Attempts != 0 {
			cfg.StageAttempts = o.Attempts
		}
		if cmd.Flags().Changed("halt-on-failure") {
			cfg.HaltOnFailure = o.HaltOnFailure
		}
	}
}

// component is one supervised long-running loop.
type component struct {
	name string
	run  func(ctx context.Context) error
}

// NewHooksCommand creates the hooks command.
func NewHooksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Serve the webhook ingest endpoint",
		Long: `Serve POST /hooks/catch/{userId}/{zapId} and GET /healthz.

Every accepted webhook stores a run and its pending relay marker in one
transaction. The relay command publishes the run afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts, func(a *app) ([]component, error) {
				a.warnMemoryBroker("hooks")
				return []component{a.hooksComponent()}, nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides AUTOCHAIN_HTTP_ADDR")
	return cmd
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending runs to the broker",
		Long: `Drain pending relay markers in batches, publish one stage-0 message per
run keyed by run id and delete the markers only after the publish succeeded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts, func(a *app) ([]component, error) {
				a.warnMemoryBroker("relay")
				c, err := a.relayComponent()
				if err != nil {
					return nil, err
				}
				return []component{c}, nil
			})
		},
	}
	addRelayFlags(cmd, opts)
	return cmd
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute zap stages from the broker",
		Long: `Consume stage messages, run one action per message, publish the next
stage and commit only after the stage is done.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts, func(a *app) ([]component, error) {
				a.warnMemoryBroker("worker")
				c, err := a.workerComponent(cmd.Context())
				if err != nil {
					return nil, err
				}
				return []component{c}, nil
			})
		},
	}
	addWorkerFlags(cmd, opts)
	return cmd
}

// NewUpCommand creates the up command.
func NewUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run hooks, relay and worker in one process",
		Long: `Run the webhook server, the outbox relay and the stage worker together.

The first component to fail stops the others. With the memory broker this is
the only mode in which runs flow end to end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts, func(a *app) ([]component, error) {
				r, err := a.relayComponent()
				if err != nil {
					return nil, err
				}
				w, err := a.workerComponent(cmd.Context())
				if err != nil {
					return nil, err
				}
				return []component{a.hooksComponent(), r, w}, nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides AUTOCHAIN_HTTP_ADDR")
	addRelayFlags(cmd, opts)
	addWorkerFlags(cmd, opts)
	return cmd
}

func addRelayFlags(cmd *cobra.Command, opts *ServeOptions) {
	cmd.Flags().IntVar(&opts.Batch, "batch", 0, "pending relays per batch, overrides AUTOCHAIN_RELAY_BATCH")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "idle poll interval, overrides AUTOCHAIN_RELAY_INTERVAL")
}

func addWorkerFlags(cmd *cobra.Command, opts *ServeOptions) {
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 0, "attempts per action, overrides AUTOCHAIN_STAGE_ATTEMPTS")
	cmd.Flags().BoolVar(&opts.HaltOnFailure, "halt-on-failure", false, "stop a run when its action exhausts every attempt")
}

// serve builds the components with build and runs them until a signal
// arrives or one of them fails.
func serve(cmd *cobra.Command, opts *ServeOptions, build func(*app) ([]component, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.RootOptions, cmd, opts.apply(cmd))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.logger.Error("error during shutdown", "error", err)
		}
	}()

	components, err := build(a)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	if err := runComponents(ctx, a, components); err != nil {
		return WrapExitError(ExitFailure, "component failed", err)
	}
	a.logger.Info("stopped gracefully")
	return nil
}

// runComponents supervises components with an errgroup: the first one to
// return an error cancels the rest.
func runComponents(ctx context.Context, a *app, components []component) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			a.logger.Info("component starting", "component", c.name)
			if err := c.run(ctx); err != nil {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			a.logger.Info("component stopped", "component", c.name)
			return nil
		})
	}
	return g.Wait()
}

func (a *app) hooksComponent() component {
	writer := ingest.NewWriter(a.store, ids.UUIDv7Generator{}, a.logger)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           ingest.NewRouter(ingest.NewHandler(writer, a.store)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return component{name: "hooks", run: func(ctx context.Context) error {
		return serveHTTP(ctx, srv, a)
	}}
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("hooks listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *app) relayComponent() (component, error) {
	pub, err := a.publisher()
	if err != nil {
		return component{}, err
	}
	r := relay.New(a.store, pub,
		relay.WithTopic(a.cfg.Topic),
		relay.WithBatchSize(a.cfg.RelayBatch),
		relay.WithInterval(a.cfg.RelayInterval),
		relay.WithLogger(a.logger),
	)
	return component{name: "relay", run: r.Run}, nil
}

func (a *app) workerComponent(ctx context.Context) (component, error) {
	pub, err := a.publisher()
	if err != nil {
		return component{}, err
	}
	sub, err := a.subscriber()
	if err != nil {
		return component{}, err
	}
	l, err := a.stageLedger(ctx)
	if err != nil {
		return component{}, err
	}
	e := executor.New(a.store, pub, executor.DefaultRegistry(a.mailer()),
		executor.WithTopic(a.cfg.Topic),
		executor.WithStageTimeout(a.cfg.StageTimeout),
		executor.WithAttempts(a.cfg.StageAttempts),
		executor.WithHaltOnFailure(a.cfg.HaltOnFailure),
		executor.WithLedger(l),
		executor.WithLogger(a.logger),
	)
	return component{name: "worker", run: func(ctx context.Context) error {
		return e.Run(ctx, sub)
	}}, nil
}
