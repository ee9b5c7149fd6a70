package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vpsdash/vpsd/internal/server/app"
	"github.com/vpsdash/vpsd/internal/server/backup"
	"github.com/vpsdash/vpsd/internal/server/config"
	"github.com/vpsdash/vpsd/internal/server/httpapi"
	"github.com/vpsdash/vpsd/internal/server/orchestrator"
	"github.com/vpsdash/vpsd/internal/server/orchestrator/libvirtnet"
	"github.com/vpsdash/vpsd/internal/server/sysinfo"
	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
	"github.com/vpsdash/vpsd/internal/shared/logging"
)

func main() {
	root := &cobra.Command{
		Use:          "vpsd",
		Short:        "VPS administration dashboard daemon",
		SilenceUsage: true,
	}

	var listenAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listenAddr)
		},
	}
	serve.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides VPSD_LISTEN)")
	root.AddCommand(serve)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func runServe(ctx context.Context, listenAddr string) error {
	logger := logging.New("vpsd")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	runner := cmdexec.NewRunner(cfg.CmdTimeout)

	netManager := libvirtnet.New(cfg.NetworkName, runner, logger)

	engine, err := orchestrator.New(orchestrator.Params{
		Runner:       runner,
		Logger:       logger,
		Network:      netManager,
		ImageDir:     cfg.ImageDir,
		SeedDir:      filepath.Join(cfg.ImageDir, "seeds"),
		BaseImageURL: cfg.BaseImageURL,
	})
	if err != nil {
		logger.Error("init orchestrator", "error", err)
		return err
	}

	handler := httpapi.New(httpapi.Deps{
		Logger:       logger,
		Engine:       engine,
		Collector:    sysinfo.New(),
		Runner:       runner,
		Backup:       backup.New(runner, logger, cfg.BackupDir, cfg.CmdTimeout),
		PushInterval: cfg.PushInterval,
	})

	daemon, err := app.New(cfg, logger, handler)
	if err != nil {
		logger.Error("init app", "error", err)
		return err
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exit", "error", err)
		return err
	}
	return nil
}
