package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/launchpadhq/launchpad/internal/config"
	"github.com/launchpadhq/launchpad/internal/health"
	"github.com/launchpadhq/launchpad/internal/log"
	"github.com/launchpadhq/launchpad/internal/pipeline"
	"github.com/launchpadhq/launchpad/internal/supervisor"

	"github.com/spf13/cobra"
)

var (
	configPath string // actual config file used (if loaded)
	cfg        config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is launchpad.yaml in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initLaunchpad

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("launchpad failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "launchpad",
	Short:        "Supervisor keeping the scraping pipelines alive",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run starts the pipelines, the liveness monitor and the health endpoint",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of launchpad",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("launchpad: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("launchpad: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("launchpad",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	slog.InfoContext(ctx, "initializing pipeline supervisor",
		"pipelines", cfg.PipelineNames(),
		"health_port", cfg.Health.Port,
	)

	sup := supervisor.New(supervisor.Options{
		PollInterval:  cfg.Supervisor.PollInterval,
		Stagger:       cfg.Supervisor.Stagger,
		Grace:         cfg.Supervisor.Grace,
		ReportCron:    cfg.Supervisor.ReportCron,
		Health:        health.New(cfg.Health.Port),
		HealthBackoff: cfg.Health.Backoff,
	})

	for _, name := range cfg.PipelineNames() {
		pc := cfg.Pipelines[name]
		worker := pipeline.NewExec(name, pipeline.Command{
			Path: pc.Command[0],
			Args: pc.Command[1:],
		})
		err := sup.Register(supervisor.Spec{
			Name:         name,
			Worker:       worker,
			Pause:        pc.Pause,
			RestartDelay: cfg.Supervisor.RestartDelay,
		})
		if err != nil {
			return fmt.Errorf("registering pipeline %s: %w", name, err)
		}
	}

	// the bridge captures the one supervisor instance it must stop; a
	// second signal re-invokes Stop, which is a safe no-op
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			slog.InfoContext(ctx, "signal received, stopping", "signal", sig.String())
			sup.Stop()
		}
	}()

	if err := sup.Run(ctx); err != nil {
		sup.Stop()
		return err
	}
	return nil
}

func initLaunchpad(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("LAUNCHPADCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if exists("launchpad.yaml") {
		configPath = "launchpad.yaml"
	}

	var err error
	cfg, err = config.FromFile(configPath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Verbose = true
	}

	slog.SetDefault(log.New(cfg.Verbose))
	slog.Debug("launchpad run", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
