package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/synaplabs/synap/internal/cluster"
	"github.com/synaplabs/synap/internal/config"
	"github.com/synaplabs/synap/internal/engine"
	"github.com/synaplabs/synap/internal/kv"
	"github.com/synaplabs/synap/internal/metrics"
	"github.com/synaplabs/synap/internal/routing"
	"github.com/synaplabs/synap/internal/snapshot"
	"github.com/synaplabs/synap/internal/telemetry"
	"github.com/synaplabs/synap/internal/wal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a synap storage node",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "", "unique id for this node, registered with the coordinator")
	serveCmd.Flags().String("listen", ":8081", "address the command/websocket server listens on")
	serveCmd.Flags().String("addr", "", "public address the coordinator and peers reach this node on (default: http://127.0.0.1<listen>)")
	serveCmd.Flags().String("coordinator-addr", "", "coordinator base URL to register with; empty runs standalone")
	_ = v.BindPFlag("node_id", serveCmd.Flags().Lookup("node-id"))
	_ = v.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("cluster.coordinator_addr", serveCmd.Flags().Lookup("coordinator-addr"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	publicAddr, _ := cmd.Flags().GetString("addr")
	if publicAddr == "" {
		publicAddr = "http://127.0.0.1" + cfg.Listen
	}

	log := telemetry.Component("synapd")

	var routingHook *routing.Hook
	var topology *routing.RaftTopology
	if cfg.Cluster.Enabled {
		topology, err = newRaftTopology(cfg)
		if err != nil {
			return fmt.Errorf("serve: raft topology: %w", err)
		}
		routingHook = routing.NewHook(topology)
	}

	engCfg := engine.Config{
		KV: kv.Config{
			MaxBytes:   cfg.KV.MaxBytes,
			ShardCount: cfg.KV.ShardCount,
			Policy:     kv.PolicyKind(cfg.KV.EvictionPolicy),
		},
		ShardCount:         cfg.KV.ShardCount,
		Routing:            routingHook,
		Snapshot:           snapshot.Config{Dir: cfg.Snapshot.Dir, MaxSnapshots: cfg.Snapshot.MaxSnapshots, Compress: cfg.Snapshot.Compress},
		MasterListenAddr:   cfg.Replication.MasterListen,
		ReplicationLogCap:  cfg.Replication.LogCapacity,
		ReplicaOf:          cfg.Replication.ReplicaOf,
		ReplicaReconnectMS: int(cfg.Replication.ReconnectDelay / time.Millisecond),
	}
	if cfg.WAL.Enabled {
		engCfg.WAL = &wal.Config{
			Path:      cfg.WAL.Dir + "/wal.log",
			IndexPath: cfg.WAL.Dir + "/wal.idx",
			FsyncMode: wal.FsyncMode(cfg.WAL.FsyncMode),
		}
	}

	eng, err := engine.Open(engCfg)
	if err != nil {
		return fmt.Errorf("serve: open engine: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("engine close")
		}
	}()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	go runMetricsTicker(cmd.Context(), eng)
	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, reg, log)
	}

	go eng.RunReclaimLoop(cmd.Context(), 0)

	var snapshotCron *cron.Cron
	if cfg.Snapshot.Schedule != "" {
		snapshotCron = cron.New()
		_, err := snapshotCron.AddFunc(cfg.Snapshot.Schedule, func() {
			if _, serr := eng.SnapshotNow(); serr != nil {
				log.Error().Err(serr).Msg("scheduled snapshot")
			}
		})
		if err != nil {
			return fmt.Errorf("serve: parse snapshot schedule %q: %w", cfg.Snapshot.Schedule, err)
		}
		snapshotCron.Start()
		defer snapshotCron.Stop()
	}

	// limiter throttles the command endpoint per spec.md §6's note that
	// the front end, not the core, owns admission control; a node run
	// standalone (no front end in front of it) still wants some floor.
	limiter := rate.NewLimiter(rate.Limit(2000), 4000)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/info", handleInfo(cfg, log))
	srv := newEnvelopeServer(eng, log)
	mux.HandleFunc("/command", rateLimited(limiter, srv.handleCommand))
	mux.HandleFunc("/queue/", srv.handleQueueWS)
	mux.HandleFunc("/stream/", srv.handleStreamWS)
	mux.HandleFunc("/pubsub/ws", srv.handlePubSubWS)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("synapd node listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	if cfg.Cluster.CoordinatorAddr != "" {
		go registerWithCoordinator(cmd.Context(), cfg, publicAddr, log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if topology != nil {
		_ = topology.Shutdown()
	}
	log.Info().Msg("synapd node stopped")
	return nil
}

// newRaftTopology wires a routing.RaftTopology the way spec.md §4.L expects
// the (out-of-scope) cluster coordinator to: leader election and peer
// membership are assumed supplied by the embedding deployment, not
// reimplemented by this binary (it only bootstraps a Raft configuration of
// its own when cluster.bootstrap is set; cluster.seeds is not read).
func newRaftTopology(cfg config.Config) (*routing.RaftTopology, error) {
	addr, err := net.ResolveTCPAddr("tcp", cfg.Cluster.RaftBindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.Cluster.RaftBindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raft transport: %w", err)
	}
	return routing.NewRaftTopology(routing.RaftConfig{
		LocalNode: cfg.NodeID,
		DataDir:   cfg.Cluster.RaftDataDir,
		Transport: transport,
		Bootstrap: cfg.Cluster.Bootstrap,
	})
}

// handleInfo reports static node identity alongside live host stats, the
// way the teacher's /info endpoint reported build info alone; gopsutil
// adds the memory/uptime figures an operator actually wants next to that.
func handleInfo(cfg config.Config, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		info := struct {
			NodeID       string `json:"node_id"`
			Listen       string `json:"listen"`
			UptimeSecs   uint64 `json:"host_uptime_secs,omitempty"`
			MemUsedBytes uint64 `json:"mem_used_bytes,omitempty"`
		}{NodeID: cfg.NodeID, Listen: cfg.Listen}

		if hinfo, err := host.Info(); err == nil {
			info.UptimeSecs = hinfo.Uptime
		} else {
			log.Debug().Err(err).Msg("host.Info unavailable")
		}
		if vmem, err := mem.VirtualMemory(); err == nil {
			info.MemUsedBytes = vmem.Used
		} else {
			log.Debug().Err(err).Msg("mem.VirtualMemory unavailable")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	}
}

// rateLimited gates next behind limiter, returning 429 once the token
// bucket is empty.
func rateLimited(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func runMetricsTicker(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.ReportQueueDepths()
			eng.ReportReplicationLag()
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics listener")
	}
}

// registerWithCoordinator posts this node's address to the coordinator's
// /register endpoint, retrying until it succeeds or the context is done,
// the way the teacher's node main did for coordinator startup races.
func registerWithCoordinator(ctx context.Context, cfg config.Config, publicAddr string, log zerolog.Logger) {
	req := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: cfg.NodeID, Addr: publicAddr}}
	url := cfg.Cluster.CoordinatorAddr + "/register"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := cluster.PostJSON(rctx, url, req, nil)
		cancel()
		if err == nil {
			log.Info().Str("coordinator", cfg.Cluster.CoordinatorAddr).Msg("registered with coordinator")
			return
		}
		time.Sleep(2 * time.Second)
	}
}
