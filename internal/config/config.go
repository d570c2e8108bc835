package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidPort is returned when the PORT environment variable does not
// hold an integer. It is a fatal configuration error: nothing starts.
var ErrInvalidPort = errors.New("invalid PORT value")

const (
	DefaultPort          = 8080
	DefaultRestartDelay  = 10 * time.Second
	DefaultHealthBackoff = 5 * time.Second
	DefaultPollInterval  = 5 * time.Second
	DefaultStagger       = 2 * time.Second
	DefaultGrace         = 2 * time.Second
)

// Config is the full process configuration. All keys are optional, the
// zero config with defaults applied runs the two standard pipelines.
type Config struct {
	Verbose    bool                `mapstructure:"verbose"`
	Supervisor Supervisor          `mapstructure:"supervisor"`
	Health     Health              `mapstructure:"health"`
	Pipelines  map[string]Pipeline `mapstructure:"pipelines"`
}

// Supervisor holds the supervision timings.
type Supervisor struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Stagger      time.Duration `mapstructure:"stagger"`
	Grace        time.Duration `mapstructure:"grace"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	ReportCron   string        `mapstructure:"report_cron"`
}

// Health holds the health endpoint settings. Port may be overridden by
// the PORT environment variable.
type Health struct {
	Port    int           `mapstructure:"port"`
	Backoff time.Duration `mapstructure:"backoff"`
}

// Pipeline describes one supervised pipeline: the command to execute and
// the delay the pipeline inserts between its iterations.
type Pipeline struct {
	Command []string      `mapstructure:"command"`
	Pause   time.Duration `mapstructure:"pause"`
}

// Load reads a YAML configuration from r, applies defaults and the PORT
// environment override, and validates the result.
func Load(r io.Reader) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if r != nil {
		if err := v.ReadConfig(r); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if raw, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %q", ErrInvalidPort, raw)
		}
		cfg.Health.Port = port
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromFile loads the configuration from path, or the defaults when path
// is empty.
func FromFile(path string) (Config, error) {
	if path == "" {
		return Load(nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.poll_interval", DefaultPollInterval)
	v.SetDefault("supervisor.stagger", DefaultStagger)
	v.SetDefault("supervisor.grace", DefaultGrace)
	v.SetDefault("supervisor.restart_delay", DefaultRestartDelay)
	v.SetDefault("health.port", DefaultPort)
	v.SetDefault("health.backoff", DefaultHealthBackoff)

	// the two pipelines this process was born to keep alive
	v.SetDefault("pipelines.category-search.command",
		[]string{"python3", "LaunchPad/categorySearchPipeline.py"})
	v.SetDefault("pipelines.category-search.pause", 5*time.Second)
	v.SetDefault("pipelines.product-extraction.command",
		[]string{"python3", "LaunchPad/productExtractionPipeline.py"})
	v.SetDefault("pipelines.product-extraction.pause", 2*time.Second)
}

func (c Config) validate() error {
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("%w: %d out of range", ErrInvalidPort, c.Health.Port)
	}
	if len(c.Pipelines) == 0 {
		return errors.New("no pipelines configured")
	}
	for name, p := range c.Pipelines {
		if len(p.Command) == 0 || p.Command[0] == "" {
			return fmt.Errorf("pipeline %s: empty command", name)
		}
	}
	if c.Supervisor.ReportCron != "" {
		if err := ValidateCron(c.Supervisor.ReportCron); err != nil {
			return fmt.Errorf("parsing supervisor.report_cron: %w", err)
		}
	}
	return nil
}

// PipelineNames returns the configured pipeline names in a stable order.
// Workers are registered, and therefore started, in this order.
func (c Config) PipelineNames() []string {
	names := make([]string, 0, len(c.Pipelines))
	for name := range c.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
