package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Error is a fatal configuration problem. It aborts startup; nothing is
// retried.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Config is built once at startup and passed by pointer into every
// component. It is never mutated afterwards.
type Config struct {
	// ServerDir is the working directory containing the target executable.
	ServerDir string `mapstructure:"server_dir"`

	Args     ArgsConfig     `mapstructure:"args"`
	Restart  RestartConfig  `mapstructure:"restart"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Rcon     RconConfig     `mapstructure:"rcon"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Log      LogConfig      `mapstructure:"log"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Events   EventsConfig   `mapstructure:"events"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	API      APIConfig      `mapstructure:"api"`
	Tasks    []TaskConfig   `mapstructure:"tasks"`
}

// ArgsConfig selects the startup argument source. Precedence:
// file, then json, then tokens.
type ArgsConfig struct {
	File   string `mapstructure:"file"`
	JSON   string `mapstructure:"json"`
	Tokens string `mapstructure:"tokens"`
}

type RestartConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window"`
	Max     int           `mapstructure:"max"`
	Backoff time.Duration `mapstructure:"backoff"`
}

type WatchdogConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	// ReadyMarker optionally arms the watchdog only after this substring is
	// seen in the child's output; otherwise the first CPU progress arms it.
	ReadyMarker string `mapstructure:"ready_marker"`
}

// RconConfig describes the remote administrative channel.
// Flavor is "binary" (length-prefixed TCP) or "websocket" (JSON frames).
type RconConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	Flavor         string        `mapstructure:"flavor"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// Configured reports whether remote credentials are present.
func (r RconConfig) Configured() bool {
	return r.Password != "" && r.Port > 0
}

func (r RconConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type ConsoleConfig struct {
	// DefaultRoute is "stdin", "rcon" or "auto".
	DefaultRoute string `mapstructure:"default_route"`
}

type ShutdownConfig struct {
	RemoteCommands []string      `mapstructure:"remote_commands"`
	LocalCommands  []string      `mapstructure:"local_commands"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	// File receives the raw, untouched child output. It is rotated aside
	// once per wrapper startup.
	File string `mapstructure:"file"`
	// TailFile is an independently-written server log merged into the
	// console view, followed from the end.
	TailFile   string `mapstructure:"tail_file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	// WrapperFile receives the wrapper's own slog output when set.
	WrapperFile string `mapstructure:"wrapper_file"`
	Level       string `mapstructure:"level"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	// ExtraDir is an external log directory bundled alongside the
	// persistent log, typically the game's own log output.
	ExtraDir string `mapstructure:"extra_dir"`
}

// EventsConfig selects a lifecycle event sink by DSN:
// sqlite:///path, postgres://..., clickhouse://... Empty disables.
type EventsConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type APIConfig struct {
	Listen   string     `mapstructure:"listen"`
	BasePath string     `mapstructure:"base_path"`
	Token    string     `mapstructure:"token"`
	TLS      *TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	AutoCert bool   `mapstructure:"auto_cert"`
}

// TaskConfig is a scheduled console line, e.g. a periodic save or an
// announcement. Schedule supports "@every <duration>".
type TaskConfig struct {
	Name     string `mapstructure:"name"`
	Schedule string `mapstructure:"schedule"`
	Line     string `mapstructure:"line"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_dir", ".")
	v.SetDefault("restart.enabled", true)
	v.SetDefault("restart.window", 5*time.Minute)
	v.SetDefault("restart.max", 5)
	v.SetDefault("restart.backoff", 5*time.Second)
	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.idle_timeout", 3*time.Minute)
	v.SetDefault("watchdog.poll_interval", 10*time.Second)
	v.SetDefault("watchdog.grace_period", 30*time.Second)
	// Empty defaults keep these keys visible to viper so that GAMEWARD_*
	// environment overrides reach Unmarshal even without a config file.
	v.SetDefault("args.file", "")
	v.SetDefault("args.json", "")
	v.SetDefault("args.tokens", "")
	v.SetDefault("rcon.host", "127.0.0.1")
	v.SetDefault("rcon.port", 0)
	v.SetDefault("rcon.password", "")
	v.SetDefault("api.token", "")
	v.SetDefault("log.tail_file", "")
	v.SetDefault("events.dsn", "")
	v.SetDefault("rcon.flavor", "websocket")
	v.SetDefault("rcon.dial_timeout", 5*time.Second)
	v.SetDefault("rcon.command_timeout", 10*time.Second)
	v.SetDefault("console.default_route", "auto")
	v.SetDefault("shutdown.timeout", 30*time.Second)
	v.SetDefault("log.file", "logs/server.log")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.level", "info")
	v.SetDefault("archive.dir", "crash-archives")
	v.SetDefault("api.base_path", "/api")
}

// Load reads the TOML config at path (optional) and applies GAMEWARD_*
// environment overrides, e.g. GAMEWARD_RCON_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GAMEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Field: "file", Reason: err.Error()}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Field: "file", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Console.DefaultRoute {
	case "stdin", "rcon", "auto":
	default:
		return &Error{Field: "console.default_route", Reason: "must be stdin, rcon or auto"}
	}
	switch c.Rcon.Flavor {
	case "binary", "websocket":
	default:
		return &Error{Field: "rcon.flavor", Reason: "must be binary or websocket"}
	}
	if c.Console.DefaultRoute == "rcon" && !c.Rcon.Configured() {
		return &Error{Field: "rcon", Reason: "default route is rcon but no credentials configured"}
	}
	if c.Restart.Max < 0 {
		return &Error{Field: "restart.max", Reason: "must be >= 0"}
	}
	if c.Restart.Window <= 0 {
		return &Error{Field: "restart.window", Reason: "must be > 0"}
	}
	if c.Watchdog.Enabled && c.Watchdog.IdleTimeout <= 0 {
		return &Error{Field: "watchdog.idle_timeout", Reason: "must be > 0"}
	}
	for i, t := range c.Tasks {
		if t.Name == "" || t.Schedule == "" || t.Line == "" {
			return &Error{Field: fmt.Sprintf("tasks[%d]", i), Reason: "name, schedule and line are required"}
		}
	}
	return nil
}
