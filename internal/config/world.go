package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// World is a read-only connection profile for one MUD.
type World struct {
	Name      string
	Host      string
	Port      int
	ScriptDir string
	OnConnect []string
}

// Addr returns the "host:port" address of the world.
func (w World) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// yamlWorldFile is the top-level YAML structure for world files.
type yamlWorldFile struct {
	World yamlWorld `yaml:"world"`
}

// yamlWorld is the YAML representation of a world.
type yamlWorld struct {
	Name      string   `yaml:"name"`
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	Scripts   string   `yaml:"scripts"`
	OnConnect []string `yaml:"on_connect"`
}

// Validate checks the world invariants.
//
// Postcondition: Returns nil if the world is usable, or an error describing all violations.
func (w World) Validate() error {
	var errs []string
	if w.Name == "" {
		errs = append(errs, "world.name must not be empty")
	}
	if w.Host == "" {
		errs = append(errs, "world.host must not be empty")
	}
	if w.Port < 1 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("world.port must be 1-65535, got %d", w.Port))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// LoadWorld reads and validates a world YAML file.
//
// Precondition: path must point to a YAML world file.
// Postcondition: Returns a validated World or a non-nil error.
func LoadWorld(path string) (World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return World{}, fmt.Errorf("reading world file %s: %w", path, err)
	}
	return LoadWorldFromBytes(data)
}

// LoadWorldFromBytes parses and validates a world from YAML bytes.
func LoadWorldFromBytes(data []byte) (World, error) {
	var file yamlWorldFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return World{}, fmt.Errorf("parsing world YAML: %w", err)
	}
	w := World{
		Name:      file.World.Name,
		Host:      file.World.Host,
		Port:      file.World.Port,
		ScriptDir: file.World.Scripts,
		OnConnect: file.World.OnConnect,
	}
	if err := w.Validate(); err != nil {
		return World{}, fmt.Errorf("validating world: %w", err)
	}
	return w, nil
}

// Apply overlays the world onto cfg: connection target and, when set, the
// script directory.
func (w World) Apply(cfg *Config) {
	cfg.Connection.Host = w.Host
	cfg.Connection.Port = w.Port
	if w.ScriptDir != "" {
		cfg.Scripting.Dir = w.ScriptDir
	}
}
