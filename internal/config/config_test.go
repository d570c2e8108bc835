package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/launchpadhq/launchpad/internal/config"

	"github.com/stretchr/testify/require"
)

const launchpadConfig = `
verbose: true
supervisor:
  poll_interval: "1s"
  restart_delay: "3s"
  report_cron: "*/5 * * * *"
health:
  port: 9999
  backoff: "2s"
pipelines:
  category-search:
    command: ["python3", "LaunchPad/categorySearchPipeline.py"]
    pause: "7s"
  product-extraction:
    command: ["python3", "LaunchPad/productExtractionPipeline.py"]
    pause: "2s"
`

func TestLoad(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(launchpadConfig))
	require.NoError(t, err)
	t.Logf("got: %+v", cfg)

	require.True(t, cfg.Verbose)
	require.Equal(t, time.Second, cfg.Supervisor.PollInterval)
	require.Equal(t, 3*time.Second, cfg.Supervisor.RestartDelay)
	require.Equal(t, "*/5 * * * *", cfg.Supervisor.ReportCron)
	require.Equal(t, 9999, cfg.Health.Port)
	require.Equal(t, 2*time.Second, cfg.Health.Backoff)
	require.Equal(t, 7*time.Second, cfg.Pipelines["category-search"].Pause)
	require.Equal(t,
		[]string{"python3", "LaunchPad/categorySearchPipeline.py"},
		cfg.Pipelines["category-search"].Command)

	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.Load(nil)
		require.NoError(t, err)
		require.Equal(t, config.DefaultPort, cfg.Health.Port)
		require.Equal(t, config.DefaultPollInterval, cfg.Supervisor.PollInterval)
		require.Equal(t, config.DefaultStagger, cfg.Supervisor.Stagger)
		require.Equal(t, config.DefaultGrace, cfg.Supervisor.Grace)
		require.Equal(t, config.DefaultRestartDelay, cfg.Supervisor.RestartDelay)
		require.Equal(t, config.DefaultHealthBackoff, cfg.Health.Backoff)
		require.Len(t, cfg.Pipelines, 2)
	})

	t.Run("names are stable", func(t *testing.T) {
		cfg, err := config.Load(nil)
		require.NoError(t, err)
		require.Equal(t,
			[]string{"category-search", "product-extraction"},
			cfg.PipelineNames())
	})
}

func TestPortEnv(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		cfg, err := config.Load(nil)
		require.NoError(t, err)
		require.Equal(t, 9090, cfg.Health.Port)
	})

	t.Run("not a number", func(t *testing.T) {
		t.Setenv("PORT", "abc")
		_, err := config.Load(nil)
		require.Error(t, err)
		require.ErrorIs(t, err, config.ErrInvalidPort)
	})

	t.Run("out of range", func(t *testing.T) {
		t.Setenv("PORT", "70000")
		_, err := config.Load(nil)
		require.ErrorIs(t, err, config.ErrInvalidPort)
	})
}

func TestValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
	}{
		{"empty command", `
pipelines:
  broken:
    pause: "1s"
`},
		{"bad cron", `
supervisor:
  report_cron: "not a cron"
`},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := config.Load(strings.NewReader(tc.given))
			require.Error(t, err)
		})
	}
}

func TestValidateCron(t *testing.T) {
	t.Parallel()
	require.NoError(t, config.ValidateCron("*/15 * * * *"))
	require.NoError(t, config.ValidateCron("@hourly"))
	require.NoError(t, config.ValidateCron("@every 5m"))
	require.Error(t, config.ValidateCron(""))
	require.Error(t, config.ValidateCron("* * 32 * *"))
	require.Error(t, config.ValidateCron("* * * *"))
}
