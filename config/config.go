package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"

	EnvPrefix = "RINGLOG"
)

var ErrInvalidConfig = errors.New("invalid config")

type ServerOptions struct {
	Addr          string        `yaml:"addr"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	MaxConns      int           `yaml:"max_conns"`
	MaxLineLength int           `yaml:"max_line_length"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type StoreOptions struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

type LogOptions struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server ServerOptions `yaml:"server"`
	Store  StoreOptions  `yaml:"store"`
	Log    LogOptions    `yaml:"log"`
	Daemon bool          `yaml:"daemon"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9000")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("server.max_conns", 0)
	v.SetDefault("server.max_line_length", 64<<10)
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "/var/tmp/aesdsocketdata")
	v.SetDefault("store.capacity", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("daemon", false)
}

// NewViper returns a viper instance with defaults and RINGLOG_* environment
// overrides, reading path when it is not empty.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	return v, nil
}

func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.MetricsAddr = v.GetString("server.metrics_addr")
	cfg.Server.MaxConns = v.GetInt("server.max_conns")
	cfg.Server.MaxLineLength = v.GetInt("server.max_line_length")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")

	cfg.Store.Backend = strings.ToLower(v.GetString("store.backend"))
	cfg.Store.Path = v.GetString("store.path")
	cfg.Store.Capacity = v.GetInt("store.capacity")

	cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Daemon = v.GetBool("daemon")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
		if c.Store.Capacity <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "store.capacity must be positive, got %d", c.Store.Capacity)
		}
	case BackendFile:
		if c.Store.Path == "" {
			return errors.Wrap(ErrInvalidConfig, "store.path is required for the file backend")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown store.backend %q", c.Store.Backend)
	}

	if c.Server.MaxConns < 0 {
		return errors.Wrapf(ErrInvalidConfig, "server.max_conns must not be negative, got %d", c.Server.MaxConns)
	}

	if c.Server.MaxLineLength < 0 {
		return errors.Wrapf(ErrInvalidConfig, "server.max_line_length must not be negative, got %d", c.Server.MaxLineLength)
	}

	if _, err := LevelOption(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// LevelOption maps a level name to the go-kit filter option that lets it
// and everything more severe through.
func LevelOption(name string) (level.Option, error) {
	switch name {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	case "none":
		return level.AllowNone(), nil
	}

	return nil, errors.Wrapf(ErrInvalidConfig, "unknown log.level %q", name)
}

func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)

	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}

	return out, nil
}

// Watch reloads the config whenever its file changes and hands every valid
// result to onChange. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, logger log.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		level.Info(logger).Log("msg", "config file changed", "file", e.Name, "op", e.Op.String())

		cfg, err := Load(v)

		if err != nil {
			level.Error(logger).Log("msg", "reload config", "err", err)
			return
		}

		onChange(cfg)
	})

	v.WatchConfig()
}
