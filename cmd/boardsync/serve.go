package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/boardsync/pkg/api"
	"github.com/cuemby/boardsync/pkg/health"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/manager"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/realtime"
)

// defaultColumns seed boards created without explicit columns
var defaultColumns = []string{"To Do", "In Progress", "Done"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authoritative board server",
	Long: `Run the boardsync server on this node.

The server commits every mutation through a single-node Raft log, persists
boards in BoltDB, serves the gRPC API and, when Redis is configured,
republishes committed changes on Redis pub/sub.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("node-id", "", "Unique node ID")
	f.String("data-dir", "", "Data directory for board state and the Raft log")
	f.String("raft-addr", "", "Address for Raft communication")
	f.String("grpc-addr", "", "Address for the gRPC API")
	f.String("readonly-socket", "", "Unix socket for the read-only gRPC API")
	f.String("metrics-addr", "", "Address for health and metrics endpoints")
	f.String("redis-addr", "", "Redis address for the change relay")
	f.Bool("in-memory", false, "Keep all state in memory (development)")
	f.String("create-board", "", "Create this board with the default columns if it does not exist")
}

// applyServeFlags overrides config values with flags given on the command line
func applyServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	override := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	override("node-id", &cfg.Server.NodeID)
	override("data-dir", &cfg.Server.DataDir)
	override("raft-addr", &cfg.Server.RaftAddr)
	override("grpc-addr", &cfg.Server.GRPCAddr)
	override("readonly-socket", &cfg.Server.ReadOnlySocket)
	override("metrics-addr", &cfg.Server.MetricsAddr)
	override("redis-addr", &cfg.Redis.Addr)
	if f.Changed("in-memory") {
		cfg.Server.InMemory, _ = f.GetBool("in-memory")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	mgr, err := manager.NewManager(cfg.ManagerConfig())
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}
	metrics.RegisterComponent(metrics.ComponentStorage, true, "")

	if err := mgr.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap raft: %v", err)
	}
	if err := mgr.WaitForLeader(10 * time.Second); err != nil {
		metrics.RegisterComponent(metrics.ComponentRaft, false, err.Error())
		return err
	}
	metrics.RegisterComponent(metrics.ComponentRaft, true, "")

	if boardID, _ := cmd.Flags().GetString("create-board"); boardID != "" {
		if err := ensureBoard(cmd.Context(), mgr, boardID); err != nil {
			return err
		}
	}

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	monitor := health.NewMonitor(health.DefaultConfig(), metrics.UpdateComponent)
	monitor.Add(metrics.ComponentRaft, &health.FuncChecker{
		CheckType: health.CheckTypeRaft,
		OK:        "leader elected",
		Fn: func(context.Context) error {
			if !mgr.IsLeader() && mgr.LeaderAddr() == "" {
				return fmt.Errorf("no leader elected")
			}
			return nil
		},
	})
	monitor.Add(metrics.ComponentStorage, &health.FuncChecker{
		CheckType: health.CheckTypeStorage,
		OK:        "readable",
		Fn: func(context.Context) error {
			_, err := mgr.ListBoards()
			return err
		},
	})

	apiServer := api.NewServer(mgr)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", cfg.Server.GRPCAddr, err)
	}
	g.Go(func() error { return apiServer.Serve(lis) })

	if path := cfg.Server.ReadOnlySocket; path != "" {
		_ = os.Remove(path)
		rlis, err := net.Listen("unix", path)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %v", path, err)
		}
		g.Go(func() error { return apiServer.ServeReadOnly(rlis) })
	}
	metrics.RegisterComponent(metrics.ComponentAPI, true, "")

	httpServer := api.NewHealthServer(mgr, metrics.Default(), Version).NewHTTPServer(cfg.Server.MetricsAddr)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("Health and metrics listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		monitor.Add(metrics.ComponentRelay, health.NewRedisChecker(rdb))

		relay := realtime.NewRelay(rdb, cfg.Redis.Prefix)
		changes := mgr.Changes().Subscribe()
		g.Go(func() error {
			defer mgr.Changes().Unsubscribe(changes)
			return relay.Run(gctx, changes)
		})
	}

	monitor.Start(gctx)

	logger.Info().
		Str("node_id", cfg.Server.NodeID).
		Str("grpc_addr", cfg.Server.GRPCAddr).
		Bool("in_memory", cfg.Server.InMemory).
		Msg("Boardsync server running")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		apiServer.Stop()
		collector.Stop()
		monitor.Stop()
		return nil
	})

	waitErr := g.Wait()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}
	logger.Info().Msg("Shutdown complete")
	return waitErr
}

// ensureBoard creates boardID with the default columns unless it exists
func ensureBoard(ctx context.Context, mgr *manager.Manager, boardID string) error {
	_, err := mgr.CreateBoard(ctx, boardID, defaultColumns)
	if err != nil && !errors.Is(err, manager.ErrBoardExists) {
		return fmt.Errorf("failed to create board %s: %v", boardID, err)
	}
	return nil
}
