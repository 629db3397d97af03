// Package main is the entry point for the Sealbox resumable upload server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sealbox/sealbox/internal/auth"
	"github.com/sealbox/sealbox/internal/blob"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/metrics"
	"github.com/sealbox/sealbox/internal/server"
	"github.com/sealbox/sealbox/internal/session"
	"github.com/sealbox/sealbox/internal/signing"
)

func main() {
	configPath := flag.String("config", "sealbox.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8420)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxUploadLength := flag.Int64("max-upload-length", 0, "maximum declared upload size in bytes (default: from config or 5368709120)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxUploadLength != 0 {
		cfg.Uploads.MaxUploadLength = *maxUploadLength
	}

	// Initialize structured logging.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	metrics.Register()

	// Crash-only design: every startup is recovery. No special recovery
	// mode; the repair steps below run on every boot:
	// - SQLite WAL auto-recovers on open
	// - uncommitted session bytes are truncated back to the committed offset
	// - blob staging leftovers are cleared

	sessions, err := session.NewStore(cfg.Uploads.RootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize upload store: %v\n", err)
		os.Exit(1)
	}
	if err := sessions.Recover(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to recover upload store: %v\n", err)
		os.Exit(1)
	}

	// Initialize the blob index.
	indexPath := cfg.Blob.IndexPath
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create blob index directory: %v\n", err)
		os.Exit(1)
	}
	index, err := blob.NewIndex(indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize blob index: %v\n", err)
		os.Exit(1)
	}
	defer index.Close()

	// Initialize the blob backend based on config.
	var backend blob.Backend
	switch cfg.Blob.Backend {
	case "aws":
		awsBucket := cfg.Blob.AWSBucket
		awsRegion := cfg.Blob.AWSRegion
		if awsBucket == "" {
			fmt.Fprintf(os.Stderr, "blob.aws_bucket is required when backend is 'aws'\n")
			os.Exit(1)
		}
		if awsRegion == "" {
			awsRegion = "us-east-1"
		}
		awsBackend, awsErr := blob.NewAWSGatewayBackend(context.Background(), awsBucket, awsRegion, cfg.Blob.AWSPrefix, cfg.Blob.AWSAccessKeyID, cfg.Blob.AWSSecretAccessKey)
		if awsErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize AWS blob backend: %v\n", awsErr)
			os.Exit(1)
		}
		backend = awsBackend
		slog.Info("Blob backend initialized", "backend", "aws", "bucket", awsBucket, "region", awsRegion, "prefix", cfg.Blob.AWSPrefix)
	case "gcp":
		gcpBucket := cfg.Blob.GCPBucket
		if gcpBucket == "" {
			fmt.Fprintf(os.Stderr, "blob.gcp_bucket is required when backend is 'gcp'\n")
			os.Exit(1)
		}
		gcpBackend, gcpErr := blob.NewGCPGatewayBackend(context.Background(), gcpBucket, cfg.Blob.GCPPrefix)
		if gcpErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize GCP blob backend: %v\n", gcpErr)
			os.Exit(1)
		}
		backend = gcpBackend
		slog.Info("Blob backend initialized", "backend", "gcp", "bucket", gcpBucket, "prefix", cfg.Blob.GCPPrefix)
	case "azure":
		azureContainer := cfg.Blob.AzureContainer
		azureAccountURL := cfg.Blob.AzureAccountURL
		if azureContainer == "" {
			fmt.Fprintf(os.Stderr, "blob.azure_container is required when backend is 'azure'\n")
			os.Exit(1)
		}
		if azureAccountURL == "" {
			if cfg.Blob.AzureAccount == "" {
				fmt.Fprintf(os.Stderr, "blob.azure_account or blob.azure_account_url is required when backend is 'azure'\n")
				os.Exit(1)
			}
			azureAccountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Blob.AzureAccount)
		}
		azureBackend, azureErr := blob.NewAzureGatewayBackend(context.Background(), azureContainer, azureAccountURL, cfg.Blob.AzurePrefix)
		if azureErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize Azure blob backend: %v\n", azureErr)
			os.Exit(1)
		}
		backend = azureBackend
		slog.Info("Blob backend initialized", "backend", "azure", "container", azureContainer, "account", azureAccountURL, "prefix", cfg.Blob.AzurePrefix)
	case "memory":
		backend = blob.NewMemoryBackend()
		slog.Info("Blob backend initialized", "backend", "memory")
	default:
		blobRoot := cfg.Blob.Local.RootDir
		localBackend, localErr := blob.NewLocalBackend(blobRoot)
		if localErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize blob backend: %v\n", localErr)
			os.Exit(1)
		}
		backend = localBackend
		slog.Info("Blob backend initialized", "backend", "local", "root", blobRoot)
	}

	blobs := blob.NewStore(index, backend)
	if err := blobs.Recover(context.Background()); err != nil {
		slog.Warn("Failed to clean blob staging area", "error", err)
	}

	if cfg.Signing.Secret == "" {
		fmt.Fprintf(os.Stderr, "signing.secret is required\n")
		os.Exit(1)
	}
	signer := signing.NewSigner([]byte(cfg.Signing.Secret), time.Duration(cfg.Signing.TTLSeconds)*time.Second)

	opts := []server.ServerOption{
		server.WithSessionStore(sessions),
		server.WithBlobStore(blobs),
		server.WithSigner(signer),
	}
	if cfg.Auth.Secret != "" {
		opts = append(opts, server.WithVerifier(auth.NewTokenVerifier([]byte(cfg.Auth.Secret))))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	// Background reaper for abandoned upload sessions.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	reaper := session.NewReaper(
		sessions,
		time.Duration(cfg.Uploads.TTLSeconds)*time.Second,
		time.Duration(cfg.Uploads.SweepIntervalSeconds)*time.Second,
		cfg.Uploads.Enabled,
	)
	go reaper.Run(reaperCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Sealbox listening", "addr", addr, "uploads_enabled", cfg.Uploads.Enabled)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit. No cleanup -- crash-only design.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
		stopReaper()

		// Give in-flight requests time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
