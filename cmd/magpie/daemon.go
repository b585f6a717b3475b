package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magpielab/magpie/pkg/api"
	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/orchestrator"
	"github.com/magpielab/magpie/pkg/store"
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit a task file to the configured platforms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read task file: %w", err)
		}

		orch, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer orch.Close()

		submission, err := orch.TaskManager().Submit(data)
		if err != nil {
			return err
		}

		fmt.Printf("Parsed %d tasks\n", submission.Parsed)
		for platform, names := range submission.Added {
			fmt.Printf("  %s: %d added\n", platform, len(names))
			for _, name := range names {
				fmt.Printf("    %s\n", name)
			}
		}
		if !submission.FullyAccepted() {
			fmt.Println("Some tasks were not added (duplicate names or invalid config)")
		}
		return nil
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection pass over all active platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		orch, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer orch.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reports, err := orch.Collect(ctx)
		for platform, report := range reports {
			fmt.Printf("%-12s tasks=%d posts_added=%d\n", platform, len(report.TaskNames), report.PostsAdded)
		}
		return err
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the collection loop and the HTTP API until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		orch, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer orch.Close()

		// Log lifecycle events as they happen.
		sub := orch.Broker().Subscribe()
		defer orch.Broker().Unsubscribe(sub)
		go func() {
			logger := log.WithComponent("events")
			for event := range sub {
				logger.Info().
					Str("type", string(event.Type)).
					Str("platform", event.Platform).
					Msg(event.Message)
			}
		}()

		server := api.NewServer(orch, cfg.APIAddr)
		errCh := make(chan error, 2)
		go func() { errCh <- server.Start() }()
		go func() { errCh <- orch.RunCollectLoop(cmd.Context()) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info(fmt.Sprintf("received %s, shutting down", sig))
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		orch.AbortTasks()
		orch.StopLoop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage stored collection tasks",
}

var tasksResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return every non-DONE task to INIT on all platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for platform, client := range cfg.Clients {
			platformStore, err := store.OpenSQLite(platform, client.DBConfig.Connection.DBPath)
			if err != nil {
				return err
			}
			reset, err := platformStore.ResetUnfinishedTasks()
			platformStore.Close()
			if err != nil {
				return fmt.Errorf("failed to reset tasks on platform %s: %w", platform, err)
			}
			fmt.Printf("%-12s reset %d tasks\n", platform, reset)
		}
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksResetCmd)
}
