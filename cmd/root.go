package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/gdl/internal/config"
	"github.com/NamanBalaji/gdl/internal/engine"
	"github.com/NamanBalaji/gdl/internal/logger"
	"github.com/NamanBalaji/gdl/internal/repository"
)

const shutdownTimeout = 10 * time.Second

var Version = "dev"

var (
	debug bool
	eng   *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:           "gdl",
	Short:         "gdl is a resumable multi-connection download manager",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if serr := shutdown(); err == nil {
		err = serr
	}
	if err != nil {
		PrintError(err.Error())
	}
	logger.Close()

	if err != nil {
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newRemoveCmd())
}

// setup loads the configuration and starts the engine for commands that
// need it.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.GetConfig(cmd.Flags())
	if err != nil {
		return err
	}

	if err := logger.InitLogging(debug, cfg.LogFile); err != nil {
		PrintWarning(fmt.Sprintf("Failed to initialize logging: %v", err))
	}

	repo, err := repository.NewBoltDBRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open download database: %w", err)
	}

	e, err := engine.New(cfg, repo)
	if err != nil {
		return errors.Join(err, repo.Close())
	}
	if err := e.Start(); err != nil {
		return errors.Join(err, repo.Close())
	}
	eng = e

	return nil
}

// shutdown pauses whatever is still running so the next run can resume it.
func shutdown() error {
	if eng == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := eng.Shutdown(ctx)
	eng = nil
	return err
}
