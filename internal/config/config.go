package config

import (
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/waysn/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// ServiceName is used in the socket file name and config search paths.
	ServiceName = "waysn"

	DefaultLogLevel         = "info"
	DefaultHistoryBatchSize = 16
	DefaultHistoryFlush     = 30

	envPrefix     = "WAYSN"
	envConfigFile = "WAYSN_CONFIG"
	envRuntimeDir = "XDG_RUNTIME_DIR"
	envDisplay    = "WAYLAND_DISPLAY"
)

type Config struct {
	LogLevel     string `mapstructure:"log_level"`
	RuntimeDir   string `mapstructure:"runtime_dir"`
	Display      string `mapstructure:"display"`
	SocketPath   string `mapstructure:"-"`
	History      bool   `mapstructure:"history"`
	HistoryDB    string `mapstructure:"history_db"`
	HistoryBatch int    `mapstructure:"history_batch"`
	HistoryFlush int    `mapstructure:"history_flush"`
}

// Load builds the daemon configuration from defaults, the config file,
// WAYSN_* environment variables and finally the command line.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	flags := pflag.NewFlagSet(ServiceName+"d", pflag.ContinueOnError)
	configFile := flags.String("config", "", "Path to a TOML config file")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	debugFlag := flags.Bool("debug", false, "Enable debugging mode")
	verboseFlag := flags.Bool("verbose", false, "Enable verbose logging")
	flags.Bool("history", false, "Record applied temperatures in a sqlite database")
	flags.String("history-db", "", "Path to the history database")

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("history", false)
	v.SetDefault("history_db", defaultHistoryDB())
	v.SetDefault("history_batch", DefaultHistoryBatchSize)
	v.SetDefault("history_flush", DefaultHistoryFlush)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("runtime_dir", envRuntimeDir); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindEnv("display", envDisplay); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := readConfigFile(v, *configFile); err != nil {
		return nil, err
	}

	// Command line flags win over the config file
	flagKeys := map[string]string{
		"log-level":  "log_level",
		"history":    "history",
		"history-db": "history_db",
	}
	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if *debugFlag {
		cfg.LogLevel = string(LogLevelDebug)
	} else if *verboseFlag && !flags.Changed("log-level") {
		cfg.LogLevel = string(LogLevelInfo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	socketPath, err := SocketPath(cfg.RuntimeDir, cfg.Display)
	if err != nil {
		return nil, err
	}
	cfg.SocketPath = socketPath

	return cfg, nil
}

func readConfigFile(v *viper.Viper, explicit string) error {
	errFactory := errors.New()

	if explicit == "" {
		explicit = os.Getenv(envConfigFile)
	}

	v.SetConfigType("toml")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(ServiceName)
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			v.AddConfigPath(filepath.Join(dir, ServiceName))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ServiceName))
		}
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks values that cannot be expressed as flag types.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.History && c.HistoryDB == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "history enabled without a database path")
	}
	if c.HistoryBatch < 0 || c.HistoryFlush < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "history batching values must not be negative")
	}

	return nil
}

// SocketPath returns the command socket location for a compositor session:
// <runtime-dir>/<display>-waysn.sock. Both values are required.
func SocketPath(runtimeDir, display string) (string, error) {
	errFactory := errors.New()

	if runtimeDir == "" {
		return "", errFactory.WithData(errors.ErrMissingEnvironment, envRuntimeDir)
	}
	if display == "" {
		return "", errFactory.WithData(errors.ErrMissingEnvironment, envDisplay)
	}

	return filepath.Join(runtimeDir, filepath.Base(display)+"-"+ServiceName+".sock"), nil
}

// SocketPathFromEnv resolves SocketPath from the process environment.
func SocketPathFromEnv() (string, error) {
	return SocketPath(os.Getenv(envRuntimeDir), os.Getenv(envDisplay))
}

func defaultHistoryDB() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, ServiceName, "history.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", ServiceName, "history.db")
	}

	return ""
}
