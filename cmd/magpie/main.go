package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/magpielab/magpie/pkg/config"
	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/store"
	"github.com/magpielab/magpie/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "magpie",
	Short: "Magpie - multi-platform social media collection orchestrator",
	Long: `Magpie ingests declarative collection task files, expands them into
concrete tasks, and collects posts from social media platforms through
per-platform adapters, with quota-aware scheduling and deduplicating
sqlite stores.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: jsonLogs,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Magpie version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "magpie.yaml", "path to the run config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of console output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(tasksCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directories and the platform catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirs(); err != nil {
			return err
		}

		meta, err := store.OpenMeta(cfg.MetaStorePath())
		if err != nil {
			return err
		}
		defer meta.Close()

		for platform, client := range cfg.Clients {
			if err := meta.AddDatabase(platform, client.DBConfig.Connection.DBPath, true); err != nil {
				return err
			}
			fmt.Printf("  registered %s -> %s\n", platform, client.DBConfig.Connection.DBPath)
		}
		fmt.Printf("Initialized catalog at %s\n", cfg.MetaStorePath())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-platform store totals and task state counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		meta, err := store.OpenMeta(cfg.MetaStorePath())
		if err != nil {
			return err
		}
		defer meta.Close()

		rows, err := meta.GeneralStatus(true)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if row.Err != "" {
				fmt.Printf("%-12s ERROR: %s\n", row.Platform, row.Err)
				continue
			}
			fmt.Printf("%-12s posts=%-8d size=%s\n", row.Platform, row.TotalPosts, formatSize(row.SizeBytes))
			states := make([]string, 0, len(row.StateCounts))
			for state := range row.StateCounts {
				states = append(states, string(state))
			}
			sort.Strings(states)
			for _, state := range states {
				fmt.Printf("  %-12s %d\n", state, row.StateCounts[types.TaskStatus(state)])
			}
		}
		return nil
	},
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var statsPeriod string

var statsCmd = &cobra.Command{
	Use:   "stats PLATFORM",
	Short: "Show post counts per period for one platform store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		platform := args[0]
		client, ok := cfg.Clients[platform]
		if !ok {
			return fmt.Errorf("platform %q is not configured", platform)
		}

		platformStore, err := store.OpenSQLiteReadOnly(platform, client.DBConfig.Connection.DBPath)
		if err != nil {
			return err
		}
		defer platformStore.Close()

		counts, err := platformStore.CountPostsPerPeriod(statsPeriod)
		if err != nil {
			return err
		}

		buckets := make([]string, 0, len(counts))
		for bucket := range counts {
			buckets = append(buckets, bucket)
		}
		sort.Strings(buckets)
		for _, bucket := range buckets {
			fmt.Printf("%-10s %d\n", bucket, counts[bucket])
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsPeriod, "period", "day", "grouping period (day, month, year)")
}
