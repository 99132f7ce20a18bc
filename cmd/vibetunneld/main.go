// Command vibetunneld is the server entrypoint: it wires config, logging, the
// on-disk session store, the buffer broadcast hub, and the session registry
// together and serves the HTTP API (spec §6). Its flag/subcommand shape
// follows the teacher's run.Run(args) entrypoint in run/run.go, replacing
// that file's hand-rolled xhd2015/less-gen flag parser with a cobra command,
// grounded in ehrlich-b-wingthing's cmd/wingthing/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibetunnel/vibetunneld/internal/auth"
	"github.com/vibetunnel/vibetunneld/internal/broadcast"
	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/httpapi"
	"github.com/vibetunnel/vibetunneld/internal/logging"
	"github.com/vibetunnel/vibetunneld/internal/registry"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
)

var (
	configFile string
	logFile    string
	bindAddr   string
	port       int
	shell      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vibetunneld",
		Short: "Terminal session multiplexing server",
		Long:  "vibetunneld owns PTY session lifecycle and exposes it over HTTP, WebSocket, and a local IPC socket.",
		RunE:  runServe,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "path to an optional YAML config file")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "path to an append-only log file (stdout/stderr always get logs too)")
	rootCmd.Flags().StringVar(&bindAddr, "bind-address", "", "listen address override (env BIND_ADDRESS)")
	rootCmd.Flags().IntVar(&port, "port", 0, "listen port override (env PORT)")
	rootCmd.Flags().StringVar(&shell, "shell", "", "login shell used when a session's command can't be resolved directly (defaults to $SHELL or /bin/sh)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vibetunneld: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bindAddr != "" {
		cfg.BindAddress = bindAddr
	}
	if port != 0 {
		cfg.Port = port
	}

	log, err := logging.New(logFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer log.Close()

	store, err := sessionstore.New(cfg.ControlDir)
	if err != nil {
		return fmt.Errorf("initialize control dir %s: %w", cfg.ControlDir, err)
	}

	hub := broadcast.New(log, cfg)
	reg := registry.New(store, hub, log, cfg)

	reaped, err := reg.StartupReap()
	if err != nil {
		return fmt.Errorf("reap orphaned sessions: %w", err)
	}
	for _, id := range reaped {
		log.Info("vibetunneld", "reaped orphaned session %s", id)
	}

	adopted, err := reg.AdoptOrphans()
	if err != nil {
		return fmt.Errorf("adopt orphaned sessions: %w", err)
	}
	for _, id := range adopted {
		log.Info("vibetunneld", "re-adopted session %s (stdin/resize unavailable until it is recreated)", id)
	}

	verifier := auth.NewFileVerifier(filepath.Join(store.ControlDir(), "tokens"))
	if !verifier.Initialized() {
		token, err := auth.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate bearer token: %w", err)
		}
		if err := verifier.AddToken(token); err != nil {
			return fmt.Errorf("persist bearer token: %w", err)
		}
		log.Info("vibetunneld", "generated a new bearer token, saved to %s/tokens", store.ControlDir())
	}

	defaultShell := shell
	if defaultShell == "" {
		defaultShell = os.Getenv("SHELL")
	}

	mux := http.NewServeMux()
	httpapi.RegisterRoutes(mux, httpapi.Deps{
		Registry:     reg,
		Verifier:     verifier,
		Log:          log,
		DefaultShell: defaultShell,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("vibetunneld", "listening on %s, control dir %s", cfg.Addr(), store.ControlDir())
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-sigCh:
		log.Info("vibetunneld", "received %s, shutting down (sessions are left running)", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Shut down the registry first so the WebSocket hub and every
		// session's IPC listener close before the HTTP server stops
		// accepting — clients see 1001 rather than a bare connection drop.
		reg.Shutdown()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}

	return nil
}
