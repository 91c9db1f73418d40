package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/khaledhikmat/asd-go/mode"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/data"
	"github.com/khaledhikmat/asd-go/service/inference"
	"github.com/khaledhikmat/asd-go/service/lgr"
	"github.com/khaledhikmat/asd-go/service/storage"
)

// WARNING: this has to be bigger than the mode processor shutdown time
const waitOnShutdownPadding = 3 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "asd",
		Short:         "Ensemble autism screening inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(mode.Server, args)
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "server",
		Short: "Load the models and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(mode.Server, args)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "fetch",
		Short: "Download every configured model artifact and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(mode.Fetch, args)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "predict <image>",
		Short: "Run the ensemble on one image and print the verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(mode.Predict, args)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "summarize <image>",
		Short: "Run the ensemble on one image and ask the chat model for a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(mode.Summarize, args)
		},
	})

	return rootCmd
}

func run(modeProc mode.Processor, args []string) error {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)
	defer canxFn()

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			lgr.Logger.Info(
				"received kill signal",
				slog.Any("signal", sig),
			)
			canxFn()
		case <-canxCtx.Done():
		}
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			lgr.Logger.Error("error loading .env file", lgr.Err(err))
			return err
		}
	}

	// Startup fails hard without the chat credential
	cfgSvc, err := config.NewEnv()
	if err != nil {
		lgr.Logger.Error("invalid configuration", lgr.Err(err))
		return err
	}

	lgr.Setup(cfgSvc.GetLogFolder(), cfgSvc.GetLogLevel())

	inferenceSvc, err := inference.New(cfgSvc)
	if err != nil {
		return err
	}
	defer inferenceSvc.Close()

	svcs := mode.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      data.NewFilesDB(cfgSvc),
		StorageSvc:   storage.NewRemote(cfgSvc),
		InferenceSvc: inferenceSvc,
		ChatSvc:      chat.NewGroq(cfgSvc),
		Output:       os.Stdout,
	}

	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, args)
	}()

	// Wait for cancellation or the mode processor
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"context cancelled",
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Error(
				"mode processor exited",
				lgr.Err(err),
			)
		}
		return err
	}

	// The mode processor gets its own shutdown period to drain; past that we
	// exit regardless
	waitOnShutdown := time.Duration(cfgSvc.GetModeMaxShutdownTime())*time.Second + waitOnShutdownPadding

	lgr.Logger.Info(
		"waiting for the mode processor to exit",
		slog.Duration("period", waitOnShutdown),
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)
		return nil

	case err := <-modeProcResult:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
