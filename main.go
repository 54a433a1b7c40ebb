package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"SharedBoard/internal/board"
	"SharedBoard/internal/config"
	boardnet "SharedBoard/internal/net"
	"SharedBoard/internal/state"
)

// Set at build time.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "sharedboard",
		Short:         "Real-time shared whiteboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), discoverCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
		mdns     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("mdns") {
				cfg.MDNS = mdns
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8888", "listen address (overrides BOARD_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error (overrides BOARD_LOG_LEVEL)")
	cmd.Flags().BoolVar(&mdns, "mdns", false, "advertise on the local network (overrides BOARD_MDNS)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	var metrics *board.Metrics
	registry := state.NewRegistry(state.RegistryOptions{
		IdleTTL:     cfg.SessionIdleTTL,
		MaxSessions: cfg.MaxSessions,
		QueueSize:   cfg.SessionQueue,
		Logger:      logger,
		OnEvict:     func(id string) { metrics.SessionEvicted(id) },
	})
	defer registry.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics = board.NewMetrics(reg, registry.Len)

	opts := board.Options{
		ReportEmptyHistory: cfg.ReportEmptyHistory,
		Metrics:            metrics,
		Logger:             logger,
	}
	if !cfg.ClearEcho {
		opts.Audiences = map[string]board.Audience{board.EventClear: board.Others}
	}
	if cfg.JoinToken != "" {
		opts.Authorizer = board.StaticToken(cfg.JoinToken)
	}
	router := board.NewRouter(registry, opts)

	supervisor := boardnet.NewSupervisor(router, boardnet.SupervisorOptions{
		OutboxSize:      cfg.OutboxSize,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Metrics:         metrics,
		Logger:          logger,
	})
	server := boardnet.NewServer(registry, supervisor, boardnet.ServerOptions{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       reg,
		Logger:         logger,
	})

	if link, err := boardnet.ShareURL(cfg.Addr); err == nil {
		logger.Info("share link", "url", link)
	}
	if cfg.MDNS {
		port, err := boardnet.Port(cfg.Addr)
		if err != nil {
			return fmt.Errorf("mdns: %w", err)
		}
		adv, err := boardnet.Advertise(cfg.Instance, port)
		if err != nil {
			return err
		}
		defer adv.Shutdown()
		logger.Info("advertising over mDNS", "port", port)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return registry.Run(ctx, cfg.SweepInterval) })
	return g.Wait()
}

func discoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List board servers advertised on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			found := 0
			err := boardnet.Browse(cmd.Context(), timeout, func(b boardnet.Board) {
				found++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tws://%s/ws\n", b.Instance, b.Addr)
			})
			if err != nil {
				return err
			}
			if found == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no boards found")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to listen for answers")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
