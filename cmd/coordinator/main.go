// Package main implements the testcloud coordinator: it launches worker
// nodes for a test run, tracks them, and exposes the run over HTTP.
//
//	┌──────────────────────────────────────────────┐
//	│              coordinator serve               │
//	├──────────────────────────────────────────────┤
//	│  HTTP API (internal/api)                     │
//	│    /nodes, /shutdown   - client operations   │
//	│    /register, /members - worker joins        │
//	├──────────────────────────────────────────────┤
//	│  Coordinator loop (internal/coordinator)     │
//	│    Registry, Launcher, supervision           │
//	├──────────────────────────────────────────────┤
//	│  Platform (internal/platform)                │
//	│    /bin/sh spawner, HTTP stopper, layout     │
//	└──────────────────────────────────────────────┘
//
// The same binary drives a running coordinator:
//
//	coordinator serve --config testcloud.yaml
//	coordinator start relA n1 --death-policy temporary -- --verbose
//	coordinator query n1 resolvedIdentity
//	coordinator query global privDir
//	coordinator nodes
//	coordinator stop n1
//	coordinator shutdown
//
// serve exits with status 2 when a permanent node terminates on its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/testcloud/internal/api"
	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/config"
	"github.com/dreamware/testcloud/internal/coordinator"
	"github.com/dreamware/testcloud/internal/platform"
)

// exitNodeFailure is the process status after an unexpected permanent node
// failure.
const exitNodeFailure = 2

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, coordinator.ErrUnexpectedNodeFailure) {
		return exitNodeFailure
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Launch and supervise the worker nodes of a test run",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", getenv("TESTCLOUD_ADDR", "http://127.0.0.1:8080"),
		"coordinator API base URL used by the client commands")

	root.AddCommand(newServeCmd())
	root.AddCommand(newClientCmds()...)
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator until shutdown, a signal, or a permanent node failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, ln, log.Default())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", getenv("TESTCLOUD_CONFIG", ""), "YAML config file")
	flags.String("listen", "", "HTTP listen address")
	flags.String("host", "", "host part of node identities")
	flags.String("platform-root", "", "directory holding releases/<name>/")
	flags.String("priv-dir", "", "directory for worker log files")
	flags.String("data-dir", "", "data directory reported to clients")
	flags.Duration("join-timeout", 0, "how long a started node has to join")
	return cmd
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	strFlags := []struct {
		name string
		dst  *string
	}{
		{"listen", &cfg.Listen},
		{"host", &cfg.Host},
		{"platform-root", &cfg.PlatformRoot},
		{"priv-dir", &cfg.PrivDir},
		{"data-dir", &cfg.DataDir},
	}
	for _, f := range strFlags {
		if flags.Changed(f.name) {
			*f.dst, _ = flags.GetString(f.name)
		}
	}
	if flags.Changed("join-timeout") {
		cfg.JoinTimeout, _ = flags.GetDuration("join-timeout")
	}
	return cfg, cfg.Validate()
}

// serve wires the coordinator onto ln and blocks until the run ends. It
// returns the coordinator's result: nil after an orderly shutdown, an
// *coordinator.UnexpectedNodeFailureError otherwise.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, logger *log.Logger) error {
	if err := os.MkdirAll(cfg.PrivDir, 0o755); err != nil {
		ln.Close()
		return fmt.Errorf("priv dir: %w", err)
	}

	members := cluster.NewMembership()
	procs := platform.NewProcessSpawner(os.Stderr, logger)
	procs.SetMembership(members, cfg.Host)
	defer procs.Close()

	advertise := cfg.AdvertiseURL(ln.Addr().String())
	coord, err := coordinator.New(cfg.Settings(), coordinator.Deps{
		Builder: &platform.CommandBuilder{
			Host:                cfg.Host,
			CoordinatorIdentity: coordinator.IdentityFor(cfg.Name, cfg.Host),
			CoordinatorAddr:     advertise,
			Members:             members,
			Binary:              cfg.WorkerBinary,
		},
		Spawner: procs,
		Join:    coordinator.JoinFunc(members.Has),
		Stopper: &platform.Stopper{
			Members: members,
			Procs:   procs,
			Grace:   cfg.StopGrace,
			Logger:  logger,
		},
		Layout:       platform.NewLayout(cfg.PlatformRoot, cfg.PrivDir),
		Terminations: procs.Terminations(),
		Logger:       logger,
	})
	if err != nil {
		ln.Close()
		return err
	}

	httpSrv := &http.Server{
		Handler:           api.NewServer(coord, members, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("coordinator %s listening on %s (advertised as %s)", coord.Identity(), ln.Addr(), advertise)
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("serve: %v", err)
		}
	}()

	if cfg.HealthInterval > 0 {
		monitor := coordinator.NewHealthMonitor(cfg.HealthInterval)
		monitor.SetLogger(logger)
		monitor.SetOnUnhealthy(coordinator.SeveredReporter(coord))
		go monitor.Start(ctx, members.All)
		defer monitor.Stop()
	}

	runErr := coord.Run(ctx)
	if runErr != nil {
		logger.Printf("coordinator terminated: %v", runErr)
		procs.KillAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Println("coordinator stopped")
	return runErr
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
