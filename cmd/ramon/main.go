package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reujab/ramon/internal/agent"
	"github.com/reujab/ramon/internal/logging"
	"github.com/reujab/ramon/pkg/config"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ramon",
	Short: "ramon - host monitoring and notification agent",
	Long: `ramon watches log files, journald units, resources, paths, and
network endpoints, evaluates stateful rules against what it sees, and
delivers aggregated, rate-limited notifications.`,
	RunE:         run,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		log := logging.Init("error")
		if _, err := agent.New(cfg, log); err != nil {
			return err
		}
		fmt.Printf("%s: configuration OK (%d monitors, %d variables)\n",
			configFile, len(cfg.Monitors), len(cfg.Vars))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ramon %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ramon.yaml", "config file path")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logging.Init(cfg.LogLevel)
	log.Info().Str("version", config.Version).Str("config", configFile).Msg("starting ramon")

	a, err := agent.New(cfg, log)
	if err != nil {
		return fmt.Errorf("configure agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run agent: %w", err)
	}
	return nil
}
