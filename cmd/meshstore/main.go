// meshstore is a small distributed file storage service: nodes discover
// each other through a central discovery service and replicate files
// peer-to-peer with last-write-wins conflict resolution.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meshstore/meshstore/internal/api"
	"github.com/meshstore/meshstore/internal/config"
	"github.com/meshstore/meshstore/internal/discovery"
	"github.com/meshstore/meshstore/internal/metrics"
	"github.com/meshstore/meshstore/internal/node"
	"github.com/meshstore/meshstore/internal/store"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshstore",
		Short: "meshstore - distributed file storage over a self-discovering mesh",
		Long: `meshstore runs a mesh of storage nodes that find each other through a
central discovery service and replicate files lazily with
last-write-wins conflict resolution.

QUICK START:

  # Generate example configs:
  meshstore init

  # Start the discovery service:
  meshstore discovery -c discovery.yaml

  # Start a storage node:
  meshstore serve -c node.yaml

  # Inspect a node's local index over the peer protocol:
  meshstore index 10.0.0.5:7450`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	discoveryCmd := &cobra.Command{
		Use:   "discovery",
		Short: "Run the discovery service",
		RunE:  runDiscovery,
	}
	rootCmd.AddCommand(discoveryCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a storage node",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	indexCmd := &cobra.Command{
		Use:   "index <host:port>",
		Short: "List the files stored on a node",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	}
	rootCmd.AddCommand(indexCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write example configuration files",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meshstore %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	setupLogging()

	path := cfgFile
	if path == "" {
		path = "discovery.yaml"
	}
	cfg, err := config.LoadDiscoveryConfig(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	srv, err := discovery.NewServer(cfg, metrics.NewDiscoveryMetrics(metrics.Registry))
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	return srv.Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	path := cfgFile
	if path == "" {
		path = "node.yaml"
	}
	cfg, err := config.LoadNodeConfig(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.New(cfg.Storage.Dir, cfg.Storage.Compress)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, st, metrics.NewNodeMetrics(metrics.Registry))
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.NewServer(n).Run(ctx, cfg.APIListen)
	}()

	if err := n.Run(ctx); err != nil {
		return err
	}
	return <-apiErr
}

func runIndex(cmd *cobra.Command, args []string) error {
	setupLogging()

	names, err := node.QueryIndex(args[0], 5*time.Second)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
