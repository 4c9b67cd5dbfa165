package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvHostRoot is the legacy environment variable naming the host-side
// directory that backs workspace.root.
const EnvHostRoot = "HOST_TEMPFILES_ROOT"

// EnvConfigFile names an explicit config file to load
const EnvConfigFile = "CODERUNNER_CONFIG"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Workspace WorkspaceConfig     `mapstructure:"workspace"`
	Container ContainerConfig     `mapstructure:"container"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport      string `mapstructure:"transport"`
	HTTPPort       int    `mapstructure:"http_port"`
	ReadTimeoutSec int    `mapstructure:"read_timeout_sec"`
	// CORSOrigins are the browser origins allowed to call the HTTP API.
	// Empty disables CORS handling.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Mode           string `mapstructure:"mode"`
	Backend        string `mapstructure:"backend"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	MaxOutputKB    int    `mapstructure:"max_output_kb"`
	MemoryMB       int    `mapstructure:"memory_mb"`
	PidsLimit      int    `mapstructure:"pids_limit"`
	NetworkEnabled bool   `mapstructure:"network_enabled"`
}

// WorkspaceConfig holds workspace configuration
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// ContainerConfig holds container executor configuration
type ContainerConfig struct {
	Image     string `mapstructure:"image"`
	MountPath string `mapstructure:"mount_path"`
	HostRoot  string `mapstructure:"host_root"`
	Shell     string `mapstructure:"shell"`
	User      string `mapstructure:"user"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Language holds language-specific configuration
type Language struct {
	Image       string            `mapstructure:"image"`
	Interpreter string            `mapstructure:"interpreter"`
	Compiler    string            `mapstructure:"compiler"`
	Runtime     string            `mapstructure:"runtime"`
	Environment map[string]string `mapstructure:"environment"`
}

// New loads and validates the application configuration. The file named by
// CODERUNNER_CONFIG is used when set; otherwise config.yaml is searched in
// . and ./config.
func New() (*Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load loads and validates the configuration from file, or from the default
// search paths when file is empty.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("CODERUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("container.host_root", "CODERUNNER_CONTAINER_HOST_ROOT", EnvHostRoot); err != nil {
		return nil, fmt.Errorf("error binding environment: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5176"})

	v.SetDefault("sandbox.mode", "container")
	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.network_enabled", false)

	v.SetDefault("workspace.root", os.TempDir())

	v.SetDefault("container.image", "coderunner-sandbox:latest")
	v.SetDefault("container.mount_path", "/workspace")
	v.SetDefault("container.shell", "/bin/sh")
	v.SetDefault("container.user", "")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("languages.python.interpreter", "python3")
	v.SetDefault("languages.java.compiler", "javac")
	v.SetDefault("languages.java.runtime", "java")
	v.SetDefault("languages.javascript.interpreter", "node")
	v.SetDefault("languages.go.compiler", "go")
	v.SetDefault("languages.cpp.compiler", "g++")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.Mode != "direct" && c.Sandbox.Mode != "container" {
		return fmt.Errorf("invalid sandbox.mode: %s, must be 'direct' or 'container'", c.Sandbox.Mode)
	}

	supportedBackends := map[string]bool{
		"docker":     true,
		"podman":     true,
		"docker-api": true,
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Container.MountPath == "" || !path.IsAbs(c.Container.MountPath) {
		return fmt.Errorf("container.mount_path must be an absolute path, got: %q", c.Container.MountPath)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// Env returns the language environment with upper-case variable names.
// Viper folds map keys to lower case when reading files.
func (l Language) Env() map[string]string {
	if len(l.Environment) == 0 {
		return nil
	}
	env := make(map[string]string, len(l.Environment))
	for key, value := range l.Environment {
		env[strings.ToUpper(key)] = value
	}
	return env
}

// MaxOutputBytes returns the captured output limit in bytes
func (c *Config) MaxOutputBytes() int {
	return c.Sandbox.MaxOutputKB * 1024
}
