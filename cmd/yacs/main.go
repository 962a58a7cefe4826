package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"yacs/internal/app"
	"yacs/internal/auth"
	"yacs/internal/config"
	"yacs/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("yacs exited")
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("yacs", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", os.Getenv("YACS_CONFIG_FILE"), "path to a YAML or JSON config file")
	hashPhrase := fs.String("hash-phrase", "", "print a bcrypt hash for a *_phrase_hash setting and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *hashPhrase != "" {
		hash, err := auth.HashPassphrase(*hashPhrase)
		if err != nil {
			return fmt.Errorf("failed to hash passphrase: %w", err)
		}
		_, err = fmt.Fprintln(stdout, hash)
		return err
	}

	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return err
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Start and wait for a shutdown signal
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
