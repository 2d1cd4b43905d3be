package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tokenforge/pkg/opshttp"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Serve the ops endpoints without running a batch",
	Long: `Starts the operational HTTP server on its own: health and readiness
probes, Prometheus metrics, runtime log controls, and live batch status
reads when Redis is enabled. Useful next to a scheduler that invokes
run separately.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOps(cmd)
	},
}

func init() {
	rootCmd.AddCommand(opsCmd)
	opsCmd.Flags().String("addr", "", "Listen address (default: ops.addr)")
}

func runOps(cmd *cobra.Command) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Ops.Addr
	}
	if addr == "" {
		fmt.Println("❌ No listen address: pass --addr or set ops.addr in the config file.")
		os.Exit(1)
	}

	var opts []opshttp.Option
	if cfg.Redis.Enabled {
		secrets, err := openSecrets(cmd)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		defer secrets.Lock()

		statuses := openStatusSink(cfg, secrets)
		defer func() { _ = statuses.Close() }()
		opts = append(opts, opshttp.WithStatusReader(statuses))
	}

	ops := opshttp.New(addr, opts...)
	ops.SetReady(true)

	srv := &http.Server{
		Addr:              addr,
		Handler:           ops.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		fmt.Printf("🚀 Ops server listening on %s\n", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt or terminate signals.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		fmt.Printf("❌ Server error: %v\n", err)
		os.Exit(1)

	case sig := <-shutdown:
		fmt.Printf("\nShutting down... Signal: %v\n", sig)

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
			if err := srv.Close(); err != nil {
				fmt.Printf("Error closing server: %v\n", err)
			}
		}
		fmt.Println("Ops server stopped")
	}
}
