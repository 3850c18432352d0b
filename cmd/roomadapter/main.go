package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/config"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/httpapi"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/logging"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/metrics"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/roomnode"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/rpcapi"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
)

const (
	// Application info
	appName    = "Room Adapter"
	appVersion = "0.1.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile  string
		showVersion bool
		showHealth  bool
	)

	cmd := &cobra.Command{
		Use:   "roomadapter",
		Short: "Room membership and broadcast daemon",
		Long: `roomadapter runs a room node: sockets connect over WebSocket, SSE or gRPC,
join rooms (optionally wildcard patterns such as "chat.*"), and receive broadcasts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
				return nil
			}

			cfg, err := config.Load(config.LoadOptions{
				ConfigFile:  configFile,
				DotEnvFiles: []string{".env"},
				Flags:       cmd.Flags(),
			})
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Config{Development: cfg.Log.Development, Level: cfg.Log.Level})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			d, err := newDaemon(cfg, logger)
			if err != nil {
				return err
			}

			if showHealth {
				return d.printHealth(cmd)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()
			return d.run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	flags.BoolVar(&showVersion, "version", false, "Show version and exit")
	flags.BoolVar(&showHealth, "health", false, "Show health status and exit")

	// Bound onto config keys by config.Load; defaults live there
	flags.String("node-id", "", "Unique node identifier")
	flags.String("http-addr", ":8080", "Listen address for the HTTP API")
	flags.String("secret-key", "", "JWT signing secret")
	flags.Bool("no-auth", false, "Disable authentication on client routes (development only)")
	flags.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	flags.Float64("broadcast-rate", 100, "Per-client broadcast requests per second (0 = unlimited)")
	flags.Int("broadcast-burst", 200, "Per-client broadcast burst")
	flags.Bool("grpc", true, "Serve the gRPC API")
	flags.String("grpc-addr", ":9090", "Listen address for the gRPC API")
	flags.Bool("wildcard", true, "Enable wildcard rooms")
	flags.Bool("wildcard-delete", false, "Let Leave with a pattern remove every matching room")
	flags.Int("workers", 1, "Concurrent deliveries per broadcast")
	flags.Bool("except-wildcard", false, "Expand except entries containing * against joined rooms")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("dev", false, "Human readable development logging")

	return cmd
}

// daemon holds one node and its front ends
type daemon struct {
	config    *config.Config
	logger    *zap.Logger
	node      *roomnode.Node
	collector *metrics.Collector
	http      *httpapi.Server
	rpc       *rpcapi.Server

	// ready is closed once both front ends accept connections; httpAddr is then set
	ready    chan struct{}
	httpAddr string
}

func newDaemon(cfg *config.Config, logger *zap.Logger) (*daemon, error) {
	nodeConfig := roomnode.NewConfig(cfg.NodeID).
		WithMembershipConfig(membership.Config{
			Wildcard:       cfg.Membership.Wildcard,
			WildcardDelete: cfg.Membership.WildcardDelete,
		}).
		WithDispatchConfig(broadcast.Config{
			Workers:        cfg.Broadcast.Workers,
			ExceptWildcard: cfg.Broadcast.ExceptWildcard,
			AsyncTimeout:   cfg.Broadcast.AsyncTimeout,
		})

	d := &daemon{config: cfg, logger: logger, ready: make(chan struct{})}

	// Gauges are sampled at scrape time, after the node exists
	d.collector = metrics.NewCollector(func() membership.Stats {
		return d.node.GetRegistry().Stats()
	})

	node, err := roomnode.NewNode(nodeConfig,
		roomnode.WithLogger(logging.Named(logger, "node")),
		roomnode.WithCollector(d.collector))
	if err != nil {
		return nil, fmt.Errorf("failed to create room node: %w", err)
	}
	d.node = node

	d.http = httpapi.NewServer(node, httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		SecretKey:      cfg.HTTP.SecretKey,
		TokenTTL:       cfg.HTTP.TokenTTL,
		NoAuth:         cfg.HTTP.NoAuth,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		BroadcastRate:  cfg.HTTP.BroadcastRate,
		BroadcastBurst: cfg.HTTP.BroadcastBurst,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
	},
		httpapi.WithLogger(logging.Named(logger, "http")),
		httpapi.WithCollector(d.collector))

	if cfg.GRPC.Enabled {
		opts := []rpcapi.Option{rpcapi.WithLogger(logging.Named(logger, "rpc"))}
		if !cfg.HTTP.NoAuth {
			auth := d.http.Auth()
			opts = append(opts, rpcapi.WithAuth(func(token string) error {
				_, err := auth.ValidateToken(token)
				return err
			}))
		}
		d.rpc = rpcapi.NewServer(node, rpcapi.Config{Addr: cfg.GRPC.Addr}, opts...)
	}

	return d, nil
}

// run starts the node and both front ends, then blocks until ctx is done
func (d *daemon) run(ctx context.Context) error {
	d.logger.Info("starting",
		zap.String("app", appName),
		zap.String("version", appVersion),
		zap.String("nodeId", d.config.NodeID))

	if err := d.node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start room node: %w", err)
	}

	lis, err := net.Listen("tcp", d.config.HTTP.Addr)
	if err != nil {
		d.node.Close()
		return fmt.Errorf("failed to listen on %s: %w", d.config.HTTP.Addr, err)
	}

	d.httpAddr = lis.Addr().String()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.http.Serve(lis)
	}()

	if d.rpc != nil {
		if err := d.rpc.Start(ctx); err != nil {
			d.shutdown()
			return err
		}
	}

	d.logStartup(ctx)
	close(d.ready)

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			d.logger.Error("http api failed", zap.Error(err))
			d.shutdown()
			return err
		}
	}

	d.shutdown()
	d.logger.Info("stopped", zap.String("nodeId", d.config.NodeID))
	return nil
}

// shutdown closes the node first so attached sockets end and the front ends
// do not wait on them when draining.
func (d *daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.HTTP.ShutdownTimeout)
	defer cancel()

	if err := d.node.Close(); err != nil {
		d.logger.Warn("room node close", zap.Error(err))
	}
	if d.rpc != nil {
		if err := d.rpc.Stop(shutdownCtx); err != nil {
			d.logger.Warn("rpc api stop", zap.Error(err))
		}
	}
	if err := d.http.Stop(shutdownCtx); err != nil {
		d.logger.Warn("http api stop", zap.Error(err))
	}
}

func (d *daemon) logStartup(ctx context.Context) {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := d.node.GetHealth(healthCtx)
	if err != nil {
		d.logger.Warn("could not get health status", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Bool("healthy", health.Healthy),
		zap.String("httpAddr", d.httpAddr),
		zap.Bool("wildcard", d.config.Membership.Wildcard),
		zap.Bool("noAuth", d.config.HTTP.NoAuth),
	}
	if d.rpc != nil {
		fields = append(fields, zap.String("grpcAddr", d.rpc.Addr()))
	}
	d.logger.Info("room node ready", fields...)
	d.warnInsecureDefaults()
}

// warnInsecureDefaults logs settings that must not reach production
func (d *daemon) warnInsecureDefaults() {
	if d.config.UsesDefaultSecret() {
		d.logger.Warn("tokens are signed with the default development secret, set --secret-key or ROOMADAPTER_HTTP_SECRET_KEY")
	}
	if d.config.HTTP.NoAuth {
		d.logger.Warn("authentication disabled on client routes")
	}
}

// printHealth starts the node, prints its health and reports an unhealthy node as an error
func (d *daemon) printHealth(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if err := d.node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start room node: %w", err)
	}
	defer d.node.Close()

	health, err := d.node.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get health status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Node Health Status:\n", appName)
	fmt.Fprintf(out, "  Overall: %s\n", healthStatus(health.Healthy))
	fmt.Fprintf(out, "  Registry: %s\n", healthStatus(health.RegistryHealthy))
	fmt.Fprintf(out, "  Dispatcher: %s\n", healthStatus(health.DispatcherHealthy))
	fmt.Fprintf(out, "  Connected Sockets: %d\n", health.ConnectedSockets)
	fmt.Fprintf(out, "  Rooms: %d\n", health.Rooms)
	fmt.Fprintf(out, "  Message: %s\n", health.Message)

	if !health.Healthy {
		return errors.New("node is not healthy")
	}
	return nil
}

// healthStatus returns a colored health status string
func healthStatus(healthy bool) string {
	if healthy {
		return "✅ Healthy"
	}
	return "❌ Unhealthy"
}
