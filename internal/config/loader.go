package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "AFKBOT"
	envConfigDefaultPath = "AFKBOT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"

	legacyLoginDelayMs = "LOGIN_DELAY_MS"
)

// legacyEnv maps config keys to the environment names older deployments used.
// The AFKBOT_ name wins when both are set.
var legacyEnv = map[string]string{
	"server.host":           "MC_HOST",
	"server.port":           "MC_PORT",
	"server.auth":           "MC_AUTH",
	"identity.name":         "MC_USERNAME",
	"auth.register_command": "REGISTER_CMD",
	"auth.login_command":    "LOGIN_CMD",
}

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, envName(key), legacy); err != nil {
			return cfg, "", fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := applyLegacyLoginDelay(&cfg); err != nil {
		return cfg, configPath, err
	}
	cfg.Identity.Alternates = splitNames(cfg.Identity.Alternates)

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	for key, value := range flatten("", defaultDocument(cfg)) {
		v.SetDefault(key, value)
	}
}

// applyLegacyLoginDelay honours LOGIN_DELAY_MS, an integer in milliseconds.
func applyLegacyLoginDelay(cfg *Config) error {
	raw, ok := os.LookupEnv(legacyLoginDelayMs)
	if !ok || raw == "" {
		return nil
	}
	if _, modern := os.LookupEnv(envName("auth.login_delay")); modern {
		return nil
	}
	ms, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", legacyLoginDelayMs, err)
	}
	cfg.Auth.LoginDelay = time.Duration(ms) * time.Millisecond
	return nil
}

// splitNames accepts both a YAML list and a single comma separated env value.
func splitNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, name := range strings.Split(item, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(defaultDocument(cfg))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// defaultDocument renders cfg as a YAML tree with durations written as "1.5s".
func defaultDocument(cfg Config) map[string]any {
	var node yaml.Node
	if err := node.Encode(cfg); err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := node.Decode(&doc); err != nil {
		return map[string]any{}
	}
	durations := map[string]time.Duration{
		"auth.register_to_login_delay": cfg.Auth.RegisterToLoginDelay,
		"auth.login_delay":             cfg.Auth.LoginDelay,
		"auth.confirm_timeout":         cfg.Auth.ConfirmTimeout,
		"movement.interval":            cfg.Movement.Interval,
		"movement.max_random":          cfg.Movement.MaxRandom,
		"reconnect.base":               cfg.Reconnect.Base,
		"reconnect.max":                cfg.Reconnect.Max,
		"reconnect.jitter":             cfg.Reconnect.Jitter,
		"reconnect.fallback_min":       cfg.Reconnect.FallbackMin,
		"reconnect.fallback_max":       cfg.Reconnect.FallbackMax,
		"gateway.write_timeout":        cfg.Gateway.WriteTimeout,
		"gateway.dial_timeout":         cfg.Gateway.DialTimeout,
		"gateway.ping_interval":        cfg.Gateway.PingInterval,
		"gateway.ping_timeout":         cfg.Gateway.PingTimeout,
		"shutdown_timeout":             cfg.ShutdownTimeout,
	}
	for key, d := range durations {
		section, field, nested := strings.Cut(key, ".")
		if !nested {
			doc[key] = d.String()
			continue
		}
		if m, ok := doc[section].(map[string]any); ok {
			m[field] = d.String()
		}
	}
	return doc
}

func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && k != "patterns" {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
