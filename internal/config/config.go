package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds all bot configuration values.
type Config struct {
	Server          ServerConfig    `mapstructure:"server" yaml:"server"`
	Identity        IdentityConfig  `mapstructure:"identity" yaml:"identity"`
	Auth            AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Movement        MovementConfig  `mapstructure:"movement" yaml:"movement"`
	Reconnect       ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Gateway         GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	State           StateConfig     `mapstructure:"state" yaml:"state"`
	Health          HealthConfig    `mapstructure:"health" yaml:"health"`
	Log             LogConfig       `mapstructure:"log" yaml:"log"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ServerConfig is the game server to keep a session on.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Auth string `mapstructure:"auth" yaml:"auth"`
}

// IdentityConfig is the primary username and the fallbacks tried on a name collision.
type IdentityConfig struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Alternates []string `mapstructure:"alternates" yaml:"alternates"`
}

// AuthConfig drives the chat-command register/login flow.
type AuthConfig struct {
	Password                   string              `mapstructure:"password" yaml:"password"`
	RegisterCommand            string              `mapstructure:"register_command" yaml:"register_command"`
	LoginCommand               string              `mapstructure:"login_command" yaml:"login_command"`
	RegisterToLoginDelay       time.Duration       `mapstructure:"register_to_login_delay" yaml:"register_to_login_delay"`
	LoginDelay                 time.Duration       `mapstructure:"login_delay" yaml:"login_delay"`
	AlreadyRegisteredIsSuccess bool                `mapstructure:"already_registered_is_success" yaml:"already_registered_is_success"`
	ConfirmTimeout             time.Duration       `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	Patterns                   map[string][]string `mapstructure:"patterns" yaml:"patterns,omitempty"`
}

// MovementConfig tunes the idle movement dwell.
type MovementConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxRandom time.Duration `mapstructure:"max_random" yaml:"max_random"`
}

// ReconnectConfig tunes backoff and the name-collision fallback window.
type ReconnectConfig struct {
	Base        time.Duration `mapstructure:"base" yaml:"base"`
	Max         time.Duration `mapstructure:"max" yaml:"max"`
	Jitter      time.Duration `mapstructure:"jitter" yaml:"jitter"`
	FallbackMin time.Duration `mapstructure:"fallback_min" yaml:"fallback_min"`
	FallbackMax time.Duration `mapstructure:"fallback_max" yaml:"fallback_max"`
}

// GatewayConfig configures the WebSocket gateway client.
type GatewayConfig struct {
	Path         string        `mapstructure:"path" yaml:"path"`
	Secret       string        `mapstructure:"secret" yaml:"secret"`
	ChatRate     float64       `mapstructure:"chat_rate" yaml:"chat_rate"`
	ChatBurst    int           `mapstructure:"chat_burst" yaml:"chat_burst"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
}

// StateConfig selects where the registered flag is persisted.
type StateConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// HealthConfig is the health endpoint listener. An empty Addr disables it.
type HealthConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig controls log level and the optional log file.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 25565,
			Auth: "mojang",
		},
		Identity: IdentityConfig{
			Name:       "afkbot",
			Alternates: []string{},
		},
		Auth: AuthConfig{
			RegisterCommand:      "/register {user} {pass}",
			LoginCommand:         "/login {pass}",
			RegisterToLoginDelay: 2 * time.Second,
			LoginDelay:           1500 * time.Millisecond,
		},
		Movement: MovementConfig{
			Interval:  2 * time.Second,
			MaxRandom: 5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Base:        5 * time.Second,
			Max:         60 * time.Second,
			Jitter:      time.Second,
			FallbackMin: time.Second,
			FallbackMax: 3 * time.Second,
		},
		Gateway: GatewayConfig{
			Path:         "/gateway",
			ChatRate:     1,
			ChatBurst:    3,
			WriteTimeout: 5 * time.Second,
			QueueSize:    64,
			DialTimeout:  10 * time.Second,
			PingInterval: 15 * time.Second,
			PingTimeout:  10 * time.Second,
		},
		State: StateConfig{
			Backend: BackendJSON,
			Path:    "state.json",
		},
		Health: HealthConfig{
			Addr: ":2323",
		},
		Log: LogConfig{
			Level: "info",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, errors.New("server.host is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Identity.Name) == "" {
		errs = append(errs, errors.New("identity.name is required"))
	}
	if c.Auth.LoginCommand == "" {
		errs = append(errs, errors.New("auth.login_command is required"))
	}
	if c.Auth.RegisterCommand == "" {
		errs = append(errs, errors.New("auth.register_command is required"))
	}
	for key, d := range map[string]time.Duration{
		"auth.register_to_login_delay": c.Auth.RegisterToLoginDelay,
		"auth.login_delay":             c.Auth.LoginDelay,
		"auth.confirm_timeout":         c.Auth.ConfirmTimeout,
		"movement.max_random":          c.Movement.MaxRandom,
		"reconnect.jitter":             c.Reconnect.Jitter,
		"reconnect.fallback_min":       c.Reconnect.FallbackMin,
		"gateway.ping_interval":        c.Gateway.PingInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	if c.Movement.Interval <= 0 {
		errs = append(errs, errors.New("movement.interval must be positive"))
	}
	if c.Reconnect.Base <= 0 {
		errs = append(errs, errors.New("reconnect.base must be positive"))
	}
	if c.Reconnect.Max < c.Reconnect.Base {
		errs = append(errs, errors.New("reconnect.max must be at least reconnect.base"))
	}
	if c.Reconnect.FallbackMax < c.Reconnect.FallbackMin {
		errs = append(errs, errors.New("reconnect.fallback_max must be at least reconnect.fallback_min"))
	}
	if c.Gateway.DialTimeout <= 0 {
		errs = append(errs, errors.New("gateway.dial_timeout must be positive"))
	}
	if c.Gateway.PingInterval > 0 && c.Gateway.PingTimeout <= 0 {
		errs = append(errs, errors.New("gateway.ping_timeout must be positive when pings are enabled"))
	}
	if c.Gateway.ChatRate < 0 {
		errs = append(errs, errors.New("gateway.chat_rate must not be negative"))
	}
	switch c.State.Backend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("state.backend %q is not one of json, sqlite", c.State.Backend))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	return errors.Join(errs...)
}
