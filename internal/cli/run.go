package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/push"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/remote/sqlremote"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	NATS     string        // subscribe to (and publish on) this NATS server
	WS       string        // subscribe to a websocket push endpoint
	Listen   string        // serve the in-process hub over websockets
	Latency  time.Duration // simulated server latency

	// Input replaces stdin (for testing).
	Input io.Reader
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a replica against a SQLite server",
		Long: `Run a replica over the SQLite reference server and read commands from stdin.

Server changes are pushed to the replica through the in-process hub by
default, through NATS with --nats, or from a remote websocket endpoint with
--ws. --listen exposes the hub to other replicas at /push.

Examples:
  replica run --db ./shop.db
  replica run --db ./shop.db --nats nats://127.0.0.1:4222
  replica run --db ./shop.db --listen :8080
  replica run --db ./shop.db --ws ws://127.0.0.1:8080/push`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.NATS, "nats", "", "NATS server address")
	cmd.Flags().StringVar(&opts.WS, "ws", "", "websocket push endpoint to subscribe to")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address to serve the push hub on")
	cmd.Flags().DurationVar(&opts.Latency, "latency", 0, "simulated server latency")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplica(opts *RunOptions, cmd *cobra.Command) error {
	opts.setupLogging(os.Stderr)

	if opts.NATS != "" && opts.WS != "" {
		return NewExitError(ExitCommandError, "--nats and --ws are mutually exclusive")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Server side: every committed change is published to the hub, and to
	// NATS when configured.
	hub := push.NewHub(0)
	publishers := push.Fanout{hub.Topic(cfg.Topic)}
	var source push.Source = hub

	natsCfg := push.NATSConfig{Address: opts.NATS, SubjectPrefix: cfg.SubjectPrefix}
	switch {
	case opts.NATS != "":
		pub := push.NewNATSPublisher(natsCfg, cfg.Topic)
		defer pub.Close()
		publishers = append(publishers, pub)

		sub := push.NewNATSSubscriber(natsCfg)
		defer sub.Close()
		source = sub
	case opts.WS != "":
		source = &push.WebSocketSubscriber{URL: opts.WS}
	}

	srv, err := openServer(opts.Database,
		sqlremote.WithPublisher(publishers),
		sqlremote.WithLatency(opts.Latency),
	)
	if err != nil {
		return err
	}
	defer closeServer(srv)

	eng, err := newReplica(ctx, srv, srv, cfg)
	if err != nil {
		return err
	}
	stop := startEngine(ctx, eng)
	defer stop()

	if opts.Listen != "" {
		shutdown, err := serveHub(opts.Listen, hub)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
		defer shutdown()
	}

	events, err := source.Subscribe(ctx, cfg.Topic)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe to push events", err)
	}
	go func() {
		if err := eng.Pump(ctx, events); err != nil && ctx.Err() == nil {
			slog.Error("push pump stopped", "error", err)
		}
	}()

	for _, kind := range model.Kinds {
		n, err := eng.LoadAll(ctx, kind, remote.ListParams{Limit: cfg.PageSize})
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load "+string(kind), err)
		}
		slog.Info("collection loaded", "kind", string(kind), "records", n)
	}

	w := cmd.OutOrStdout()
	console := NewConsole(eng, w, cfg.PageSize, cfg.LowStockThreshold)
	go reportAlerts(ctx, eng, console)

	in := opts.Input
	if in == nil {
		in = cmd.InOrStdin()
	}
	fmt.Fprintln(w, "replica ready; type help for commands")
	return console.Serve(ctx, in)
}

// reportAlerts prints stuck operations and identity conflicts as they are
// raised.
func reportAlerts(ctx context.Context, eng *engine.Engine, c *Console) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-eng.Alerts():
			c.printf("! %v", a)
		}
	}
}

// serveHub serves the hub's websocket endpoint at /push.
func serveHub(addr string, hub *push.Hub) (shutdown func(), err error) {
	mux := http.NewServeMux()
	mux.Handle("/push", push.WebSocketHandler(hub))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(50 * time.Millisecond):
	}
	slog.Info("push hub listening", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("push hub shutdown", "error", err)
		}
	}, nil
}
