// Package config loads and validates the daemon's static configuration:
// the list of Asterisk servers to reconcile, plus the ambient
// logging/metrics/health sections. Grounded on the teacher's viper-based
// config loader.
package config

import (
    "fmt"
    "regexp"
    "time"

    "github.com/spf13/viper"
)

// Config is the complete daemon configuration.
type Config struct {
    Servers []ServerConfig `mapstructure:"servers"`
    Logging LoggingConfig  `mapstructure:"logging"`
    Metrics MetricsConfig  `mapstructure:"metrics"`
    Health  HealthConfig   `mapstructure:"health"`
}

// ServerConfig is the immutable per-server configuration described in
// spec.md §3.
type ServerConfig struct {
    Name             string        `mapstructure:"name"`
    Host             string        `mapstructure:"host"`
    Port             int           `mapstructure:"port"`
    Prefix           string        `mapstructure:"prefix"`
    Timeout          time.Duration `mapstructure:"timeout"`
    RetryInterval    time.Duration `mapstructure:"retry_interval"`
    Username         string        `mapstructure:"username"`
    Secret           string        `mapstructure:"secret"`
    ExtensionPattern string        `mapstructure:"extension_pattern"`
    DeviceFormat     string        `mapstructure:"device_format"`

    // CompiledPattern is filled in by Validate from ExtensionPattern.
    CompiledPattern *regexp.Regexp `mapstructure:"-"`
}

// LoggingConfig holds logging configuration, passed straight through to
// pkg/logger.Config.
type LoggingConfig struct {
    Level  string            `mapstructure:"level"`
    Format string            `mapstructure:"format"`
    Output string            `mapstructure:"output"`
    File   FileLogConfig     `mapstructure:"file"`
    Fields map[string]string `mapstructure:"fields"`
}

// FileLogConfig holds file-based logging configuration.
type FileLogConfig struct {
    Enabled    bool   `mapstructure:"enabled"`
    Path       string `mapstructure:"path"`
    MaxSize    int    `mapstructure:"max_size"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAge     int    `mapstructure:"max_age"`
    Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
    Enabled bool   `mapstructure:"enabled"`
    Port    int    `mapstructure:"port"`
    Path    string `mapstructure:"path"`
}

// HealthConfig configures the liveness/readiness endpoint.
type HealthConfig struct {
    Enabled       bool   `mapstructure:"enabled"`
    Port          int    `mapstructure:"port"`
    LivenessPath  string `mapstructure:"liveness_path"`
    ReadinessPath string `mapstructure:"readiness_path"`
}

// Load reads configuration from configFile (or the default search path)
// and environment variables, applies defaults, and validates the result.
func Load(configFile string) (*Config, error) {
    v := viper.New()

    if configFile != "" {
        v.SetConfigFile(configFile)
    } else {
        v.SetConfigName("blfsyncd")
        v.SetConfigType("yaml")
        v.AddConfigPath("/etc/blfsyncd")
        v.AddConfigPath(".")
    }

    v.SetEnvPrefix("BLFSYNCD")
    v.AutomaticEnv()

    setDefaults(v)

    if err := v.ReadInConfig(); err != nil {
        if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
            return nil, fmt.Errorf("failed to read config file: %w", err)
        }
    }

    var cfg Config
    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("failed to unmarshal config: %w", err)
    }

    if err := cfg.Validate(); err != nil {
        return nil, fmt.Errorf("invalid configuration: %w", err)
    }

    return &cfg, nil
}

func setDefaults(v *viper.Viper) {
    v.SetDefault("logging.level", "info")
    v.SetDefault("logging.format", "text")
    v.SetDefault("logging.output", "stdout")

    v.SetDefault("metrics.enabled", true)
    v.SetDefault("metrics.port", 9090)
    v.SetDefault("metrics.path", "/metrics")

    v.SetDefault("health.enabled", true)
    v.SetDefault("health.port", 8080)
    v.SetDefault("health.liveness_path", "/healthz")
    v.SetDefault("health.readiness_path", "/readyz")
}

// Validate applies per-server defaults (port 8088, prefix "asterisk",
// timeout 45s, retryInterval 30s, deviceFormat "Custom:$0"), rejects
// duplicate server names, and compiles each ExtensionPattern.
func (c *Config) Validate() error {
    if len(c.Servers) == 0 {
        return fmt.Errorf("no servers configured")
    }

    seen := make(map[string]bool, len(c.Servers))

    for i := range c.Servers {
        s := &c.Servers[i]

        if s.Name == "" {
            return fmt.Errorf("server[%d]: name is required", i)
        }
        if seen[s.Name] {
            return fmt.Errorf("duplicate server name %q", s.Name)
        }
        seen[s.Name] = true

        if s.Host == "" {
            return fmt.Errorf("server %q: host is required", s.Name)
        }
        if s.Port == 0 {
            s.Port = 8088
        }
        if s.Port < 0 || s.Port > 65535 {
            return fmt.Errorf("server %q: invalid port %d", s.Name, s.Port)
        }
        if s.Prefix == "" {
            s.Prefix = "asterisk"
        }
        if s.Timeout <= 0 {
            s.Timeout = 45 * time.Second
        }
        if s.RetryInterval <= 0 {
            s.RetryInterval = 30 * time.Second
        }
        if s.Username == "" {
            return fmt.Errorf("server %q: username is required", s.Name)
        }
        if s.DeviceFormat == "" {
            s.DeviceFormat = "Custom:$0"
        }
        if s.ExtensionPattern == "" {
            return fmt.Errorf("server %q: extension_pattern is required", s.Name)
        }

        pattern, err := regexp.Compile(s.ExtensionPattern)
        if err != nil {
            return fmt.Errorf("server %q: invalid extension_pattern: %w", s.Name, err)
        }
        s.CompiledPattern = pattern
    }

    if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
        return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
    }
    if c.Health.Enabled && (c.Health.Port <= 0 || c.Health.Port > 65535) {
        return fmt.Errorf("invalid health port: %d", c.Health.Port)
    }

    return nil
}

// Addr returns the "host:port" of the server.
func (s *ServerConfig) Addr() string {
    return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
