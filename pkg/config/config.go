// Package config loads the logtap.yaml file that declares which
// workloads to watch.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/logtap/pkg/core"
)

// Config represents a logtap.yaml configuration file.
type Config struct {
	Version   int                 `yaml:"version" json:"version"`
	Project   string              `yaml:"project" json:"project"`
	Root      string              `yaml:"root"    json:"root"`
	Resources map[string]Resource `yaml:"resources" json:"resources"`
	Compose   *ComposeRef         `yaml:"compose" json:"compose,omitempty"`

	// FilePath is where the config was loaded from; not serialized.
	FilePath string `yaml:"-" json:"-"`
}

// Resource is a watched workload definition in the config.
type Resource struct {
	Kind string `yaml:"kind" json:"kind"`

	// container
	Container     string `yaml:"container,omitempty"      json:"container,omitempty"`
	InitContainer string `yaml:"init_container,omitempty" json:"init_container,omitempty"`

	// systemd
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`

	// exec
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Dir     string            `yaml:"dir,omitempty"     json:"dir,omitempty"`
	Restart string            `yaml:"restart,omitempty" json:"restart,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"     json:"env,omitempty"`

	// file
	File      string `yaml:"file,omitempty"       json:"file,omitempty"`
	ErrorFile string `yaml:"error_file,omitempty" json:"error_file,omitempty"`
}

// ComposeRef points to a compose.yml for auto-importing container services.
type ComposeRef struct {
	File string `yaml:"file" json:"file"`
}

// Parse decodes a config from YAML and interpolates "${root}" in paths
// and directories.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for name, res := range c.Resources {
		res.Dir = interpolate(res.Dir, c.Root)
		res.File = interpolate(res.File, c.Root)
		res.ErrorFile = interpolate(res.ErrorFile, c.Root)
		c.Resources[name] = res
	}
	if c.Compose != nil {
		c.Compose.File = interpolate(c.Compose.File, c.Root)
	}
	return &c, nil
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.FilePath = path
	return c, nil
}

// Save writes the config back as YAML.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// CoreResource converts a named config entry to the core resource used
// by the sources and the streaming layer.
func (r Resource) CoreResource(name string) core.Resource {
	kind := core.Kind(r.Kind)
	return core.Resource{
		ID:            core.ResourceID(kind, name),
		Kind:          kind,
		Name:          name,
		Container:     r.Container,
		InitContainer: r.InitContainer,
		Unit:          r.Unit,
		Command:       r.Command,
		Dir:           r.Dir,
		Env:           r.Env,
		Restart:       r.Restart,
		File:          r.File,
		ErrorFile:     r.ErrorFile,
	}
}

func interpolate(s, root string) string {
	return strings.ReplaceAll(s, "${root}", root)
}
