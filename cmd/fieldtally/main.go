// Package main provides the entry point for the fieldtally counting tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jobrunner/fieldtally/internal/adapters/feedback"
	"github.com/jobrunner/fieldtally/internal/app"
	"github.com/jobrunner/fieldtally/internal/config"
	"github.com/jobrunner/fieldtally/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfgFile string
	v       = config.New()
)

func main() {
	// Storage credentials are usually kept in a local .env file.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fieldtally",
		Short: "fieldtally - count survey points per field",
		Long: `fieldtally counts how many survey points (nodes or vantage points)
fall inside each field polygon and writes the counts to a CSV file.

Features:
  - Node counts and vantage point counts by category
  - GeoPackage, Shapefile and GeoJSON layers
  - Optional R-tree candidate filtering
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - REST API with hot-reload of layer files
  - TLS with automatic certificate management
  - Prometheus metrics`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "json", "log format (json, text)")
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newServeCmd(), newCountCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fieldtally %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the counting API",
		RunE:  runServer,
	}

	cmd.Flags().String("host", "0.0.0.0", "server host")
	cmd.Flags().Int("port", 8080, "server port")
	cmd.Flags().Bool("tls", false, "enable TLS")
	cmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	cmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	cmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	cmd.Flags().String("storage-path", "./data", "local storage path")
	cmd.Flags().String("output-dir", "./output", "base directory for run outputs")
	cmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	_ = v.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("tls.enabled", cmd.Flags().Lookup("tls"))
	_ = v.BindPFlag("tls.domains", cmd.Flags().Lookup("tls-domains"))
	_ = v.BindPFlag("tls.email", cmd.Flags().Lookup("tls-email"))
	_ = v.BindPFlag("storage.type", cmd.Flags().Lookup("storage-type"))
	_ = v.BindPFlag("storage.local_path", cmd.Flags().Lookup("storage-path"))
	_ = v.BindPFlag("output.dir", cmd.Flags().Lookup("output-dir"))
	_ = v.BindPFlag("server.cors.allowed_origins", cmd.Flags().Lookup("cors"))

	return cmd
}

func newCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count points per field and write a CSV file",
		Example: `  fieldtally count --variant node --layer survey.gpkg#fields --layer survey.gpkg#nodes --output nodes.csv
  fieldtally count --variant vp --layer fields.shp --layer vps.geojson --category FARM_CROP --output vps.csv`,
		Args: cobra.NoArgs,
		RunE: runCount,
	}

	cmd.Flags().String("variant", "node", "count variant (node, vp)")
	cmd.Flags().StringArray("layer", nil, "input layer as path#layer (exactly two)")
	cmd.Flags().StringP("output", "o", "", "output CSV path")
	cmd.Flags().StringArray("category", nil, "VP category to count (repeatable; default all)")
	cmd.Flags().Bool("remote", false, "resolve layers as fileId#layer from the configured storage")
	cmd.Flags().Bool("spatial-index", false, "filter candidate pairs with an R-tree")

	_ = v.BindPFlag("engine.spatial_index", cmd.Flags().Lookup("spatial-index"))

	return cmd
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting fieldtally",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runCount(cmd *cobra.Command, _ []string) error {
	// A one-shot run needs neither the metrics listener nor the watcher.
	v.Set("metrics.enabled", false)
	v.Set("watch.enabled", false)

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	req, refs, remote, err := countRequestFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	if remote {
		req.Layers, err = application.ResolveLayers(ctx, refs)
		if err != nil {
			return err
		}
	} else {
		for _, ref := range refs {
			req.Layers = append(req.Layers, domain.ParseLayerRef(ref))
		}
	}

	fb := feedback.Tee{
		feedback.NewConsole(cmd.OutOrStdout()),
		feedback.NewLogger(logger, "variant", req.Variant.Name),
	}

	summary, err := application.CountService.Run(ctx, req, fb)
	if errors.Is(err, domain.ErrCancelled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "run cancelled")
		return nil
	}
	if err != nil {
		return err
	}

	printSummary(cmd, summary)
	return nil
}

// countRequestFromFlags builds a request without layers; the returned refs
// are resolved by the caller.
func countRequestFromFlags(cmd *cobra.Command) (domain.CountRequest, []string, bool, error) {
	var (
		req    domain.CountRequest
		refs   []string
		remote bool
	)
	flags := cmd.Flags()

	name, err := flags.GetString("variant")
	if err != nil {
		return req, nil, false, err
	}
	if req.Variant, err = domain.ParseVariant(name); err != nil {
		return req, nil, false, err
	}

	if refs, err = flags.GetStringArray("layer"); err != nil {
		return req, nil, false, err
	}
	if len(refs) != 2 {
		return req, nil, false, &domain.ValidationError{
			Field:      "layer",
			Value:      len(refs),
			Constraint: "exactly 2",
			Message:    "two input layers are required",
		}
	}

	if req.Output, err = flags.GetString("output"); err != nil {
		return req, nil, false, err
	}
	if remote, err = flags.GetBool("remote"); err != nil {
		return req, nil, false, err
	}

	// An unset flag keeps the nil filter; an explicit list restricts the run.
	if flags.Changed("category") {
		if req.Categories, err = flags.GetStringArray("category"); err != nil {
			return req, nil, false, err
		}
	}
	return req, refs, remote, nil
}

func printSummary(cmd *cobra.Command, s *domain.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", s.RunID)
	fmt.Fprintf(out, "Variant:  %s\n", s.Variant)
	fmt.Fprintf(out, "Fields:   %s\n", s.FieldLayer)
	fmt.Fprintf(out, "Points:   %s\n", s.PointLayer)
	fmt.Fprintf(out, "Pairs:    %d\n", s.Pairs)
	fmt.Fprintf(out, "Rows:     %d\n", s.Rows)
	fmt.Fprintf(out, "Output:   %s\n", s.Output)
	if s.PublishedKey != "" {
		fmt.Fprintf(out, "Published: %s\n", s.PublishedKey)
	}
	fmt.Fprintf(out, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
