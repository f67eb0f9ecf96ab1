package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/remote/sqlremote"
	"github.com/roach88/replica/internal/tempid"
)

// openServer opens the SQLite reference server at path.
func openServer(path string, opts ...sqlremote.Option) (*sqlremote.Server, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	srv, err := sqlremote.Open(path, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return srv, nil
}

func closeServer(srv *sqlremote.Server) {
	if err := srv.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// engineOptions maps cfg onto engine options.
func engineOptions(cfg config.Config, ref model.RefData) []engine.Option {
	return []engine.Option{
		engine.WithOperationTimeout(cfg.OperationTimeout),
		engine.WithStuckAfter(cfg.StuckAfter),
		engine.WithSweepInterval(cfg.SweepInterval),
		engine.WithPendingQueueLimit(cfg.PendingQueueLimit),
		engine.WithIDGenerator(tempid.NewSessionGenerator(cfg.ProvisionalPrefix)),
		engine.WithRefData(ref),
	}
}

// startEngine runs eng until the returned stop func is called.
func startEngine(ctx context.Context, eng *engine.Engine) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("engine stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// newReplica opens an engine over r with the catalogue's reference data.
func newReplica(ctx context.Context, srv *sqlremote.Server, r remote.Remote, cfg config.Config) (*engine.Engine, error) {
	ref, err := srv.Catalog(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read reference data", err)
	}
	return engine.New(r, engineOptions(cfg, ref)...), nil
}
