// Package config provides Viper-based configuration loading for the client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/mudforge/internal/ansi"
)

// ConnectionConfig holds Telnet transport settings.
type ConnectionConfig struct {
	// Host is the MUD host to connect to on startup. Empty means no
	// automatic connection.
	Host string `mapstructure:"host"`
	// Port is the TCP port of the MUD.
	Port int `mapstructure:"port"`
	// DialTimeout bounds the blocking connect.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// PollWindow is how long a socket read or write may wait before it is
	// treated as would-block.
	PollWindow time.Duration `mapstructure:"poll_window"`
	// TerminalType is reported in TTYPE sub-negotiation.
	TerminalType string `mapstructure:"terminal_type"`
	// FlushPartial appends unterminated text (prompts) at the end of every read.
	FlushPartial bool `mapstructure:"flush_partial"`
	// ReadBufferSize is the size of a single non-blocking read.
	ReadBufferSize int `mapstructure:"read_buffer_size"`
}

// Addr returns the "host:port" address.
//
// Postcondition: Returns a string in "host:port" format.
func (c ConnectionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ScriptingConfig holds Lua sandbox settings.
type ScriptingConfig struct {
	// Dir holds *.lua files loaded into every new script session.
	Dir string `mapstructure:"dir"`
	// InstructionLimit caps Lua opcodes per Execute; 0 selects the default.
	InstructionLimit int `mapstructure:"instruction_limit"`
	// Timeout caps wall-clock time per Execute; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// Prefix marks input lines that are executed as Lua instead of sent.
	Prefix string `mapstructure:"prefix"`
}

// DisplayConfig holds console settings.
type DisplayConfig struct {
	// TickInterval is the cadence of the poll loop.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// EchoColour colours locally echoed commands.
	EchoColour string `mapstructure:"echo_colour"`
	// ErrorColour colours client error messages.
	ErrorColour string `mapstructure:"error_colour"`
	// ScrollbackCapacity preallocates the scrollback.
	ScrollbackCapacity int `mapstructure:"scrollback_capacity"`
	// Tail is the number of scrollback lines replayed by the #tail command.
	Tail int `mapstructure:"tail"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Output is a file path, "stderr" or "stdout".
	Output string `mapstructure:"output"`
}

// Config is the top-level application configuration.
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection"`
	Scripting  ScriptingConfig  `mapstructure:"scripting"`
	Display    DisplayConfig    `mapstructure:"display"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateConnection(c.Connection); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateScripting(c.Scripting); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDisplay(c.Display); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateConnection(c ConnectionConfig) error {
	var errs []string
	if c.Host != "" && (c.Port < 1 || c.Port > 65535) {
		errs = append(errs, fmt.Sprintf("connection.port must be 1-65535, got %d", c.Port))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, "connection.dial_timeout must be positive")
	}
	if c.PollWindow <= 0 || c.PollWindow > time.Second {
		errs = append(errs, fmt.Sprintf("connection.poll_window must be in (0, 1s], got %s", c.PollWindow))
	}
	if c.TerminalType == "" {
		errs = append(errs, "connection.terminal_type must not be empty")
	}
	if c.ReadBufferSize < 512 {
		errs = append(errs, fmt.Sprintf("connection.read_buffer_size must be >= 512, got %d", c.ReadBufferSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateScripting(s ScriptingConfig) error {
	var errs []string
	if s.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("scripting.instruction_limit must be >= 0, got %d", s.InstructionLimit))
	}
	if s.Timeout < 0 {
		errs = append(errs, "scripting.timeout must not be negative")
	}
	if s.Prefix == "" {
		errs = append(errs, "scripting.prefix must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDisplay(d DisplayConfig) error {
	var errs []string
	if d.TickInterval <= 0 {
		errs = append(errs, "display.tick_interval must be positive")
	}
	if _, ok := ansi.DefaultTable.ResolveName(d.EchoColour); !ok {
		errs = append(errs, fmt.Sprintf("display.echo_colour %q is not a known colour", d.EchoColour))
	}
	if _, ok := ansi.DefaultTable.ResolveName(d.ErrorColour); !ok {
		errs = append(errs, fmt.Sprintf("display.error_colour %q is not a known colour", d.ErrorColour))
	}
	if d.ScrollbackCapacity < 0 {
		errs = append(errs, "display.scrollback_capacity must not be negative")
	}
	if d.Tail < 0 {
		errs = append(errs, "display.tail must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.Output == "" {
		return errors.New("logging.output must not be empty")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with MUDFORGE_ prefix
	v.SetEnvPrefix("MUDFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.host", "")
	v.SetDefault("connection.port", 4000)
	v.SetDefault("connection.dial_timeout", "10s")
	v.SetDefault("connection.poll_window", "1ms")
	v.SetDefault("connection.terminal_type", "xterm-256color")
	v.SetDefault("connection.flush_partial", true)
	v.SetDefault("connection.read_buffer_size", 8192)

	v.SetDefault("scripting.dir", "lua")
	v.SetDefault("scripting.instruction_limit", 1_000_000)
	v.SetDefault("scripting.timeout", "2s")
	v.SetDefault("scripting.prefix", "/")

	v.SetDefault("display.tick_interval", "20ms")
	v.SetDefault("display.echo_colour", "yellow")
	v.SetDefault("display.error_colour", "red")
	v.SetDefault("display.scrollback_capacity", 4096)
	v.SetDefault("display.tail", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "mudforge.log")
}
