// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/Chinzzii/undo-replication-go/internal/api"
	"github.com/Chinzzii/undo-replication-go/internal/cluster"
	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/Chinzzii/undo-replication-go/internal/persist/postgres"
	"github.com/Chinzzii/undo-replication-go/internal/persist/sqlite"
	"github.com/Chinzzii/undo-replication-go/internal/repl"
	"github.com/Chinzzii/undo-replication-go/internal/store"
	"github.com/Chinzzii/undo-replication-go/internal/telemetry"
)

func main() {
	// --- Configuration: env first, flags override ---
	cfg, err := cluster.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	flag.StringVar(&cfg.ID, "id", cfg.ID, "node id")
	flag.Func("role", "leader|follower", func(v string) error { cfg.Role = cluster.Role(v); return nil })
	flag.Func("mode", "sync|async (leader only)", func(v string) error { cfg.Mode = cluster.Mode(v); return nil })
	flag.Func("backend", "memory|sqlite|postgres", func(v string) error { cfg.Backend = cluster.Backend(v); return nil })
	flag.IntVar(&cfg.Port, "port", cfg.Port, "http port")
	flag.StringVar(&cfg.PeersCSV, "peers", cfg.PeersCSV, "comma-separated peer baseURLs (followers for leader)")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database file")
	flag.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "postgres connection string")
	flag.IntVar(&cfg.MaxHistory, "max-history", cfg.MaxHistory, "undo/redo depth, 0 = unbounded")
	flag.BoolVar(&cfg.TraceStdout, "trace-stdout", cfg.TraceStdout, "print trace spans to stdout")
	flag.Parse()
	cfg.Peers = cluster.NormalizePeers(cfg.PeersCSV)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := log.New(os.Stdout, fmt.Sprintf("[%s] ", cfg.ID), log.LstdFlags)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, cfg *cluster.NodeConfig, logger *log.Logger) error {
	tp, shutdown, err := telemetry.Init(ctx, telemetry.Config{NodeID: cfg.ID, UseStdout: cfg.TraceStdout})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	var deps api.Deps
	switch cfg.Role {
	case cluster.Leader:
		existing, err := backend.List(ctx)
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		rp := repl.NewReplicator(backend, repl.Config{
			Peers:  cfg.Peers,
			Async:  cfg.Mode == cluster.Async,
			Logger: logger,
		})
		st := store.New(
			persist.Traced(rp, tp.Tracer(persist.TracerName)),
			store.WithRecords(existing),
			store.WithMaxHistory(cfg.MaxHistory),
			store.WithLogger(logger),
		)
		deps = api.Deps{Store: st, Replicator: rp}
		logger.Printf("loaded %d records from %s backend", len(existing), cfg.Backend)
	case cluster.Follower:
		deps = api.Deps{
			Follower: repl.NewFollower(persist.Traced(backend, tp.Tracer(persist.TracerName))),
			Reader:   backend,
		}
	}

	server := api.NewServer(cfg, deps, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Printf("starting %s %s at %s mode=%s backend=%s peers=%v", cfg.Role, cfg.ID, cfg.BaseURL(), cfg.Mode, cfg.Backend, cfg.Peers)
	return http.ListenAndServe(addr, server.Routes())
}

// openBackend opens the configured persistence backend and returns its
// closer.
func openBackend(ctx context.Context, cfg *cluster.NodeConfig) (persist.Backend, func(), error) {
	switch cfg.Backend {
	case cluster.SQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, closer(s), nil
	case cluster.Postgres:
		s, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		return persist.NewMemory(), func() {}, nil
	}
}

func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
