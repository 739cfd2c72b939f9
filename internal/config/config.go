// Package config holds the run configuration and authentication variant
// for a replay run: an explicit AuthMethod tagged variant plus a flat
// Config record, loadable from a YAML file and overridable by CLI flags
// bound with spf13/pflag.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credential is a username/password pair, used by BasicAuth and by the
// explicit (integrated-explicit) form of IntegratedAuth.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AuthMethod is a sealed tagged-variant interface:
// Integrated(optional-credential) | Basic(credential) | Token(string).
type AuthMethod interface {
	authMethod()
	fmt.Stringer
}

// IntegratedAuth authenticates with the ambient OS identity, optionally
// impersonating an explicit credential (integrated-default vs
// integrated-explicit).
type IntegratedAuth struct {
	Credential *Credential
}

func (IntegratedAuth) authMethod() {}
func (a IntegratedAuth) String() string {
	if a.Credential == nil {
		return "integrated-default"
	}
	return "integrated-explicit(" + a.Credential.Username + ")"
}

// BasicAuth authenticates with an explicit username/password.
type BasicAuth struct {
	Credential Credential
}

func (BasicAuth) authMethod() {}
func (a BasicAuth) String() string {
	return "basic(" + a.Credential.Username + ")"
}

// TokenAuth authenticates with a bearer token.
type TokenAuth struct {
	Token string
}

func (TokenAuth) authMethod() {}
func (TokenAuth) String() string { return "bearer-token" }

// Config is the flat configuration record for one replay run, covering
// the full CLI surface: tfsEndpoint, projectPath, outputDir,
// primaryName, fromCID, withIntegrityCheck, resume, gitBinaryPath,
// logPath, dryRun, useGitDiff.
type Config struct {
	TFSEndpoint        string     `yaml:"tfsEndpoint"`
	ProjectPath        string     `yaml:"projectPath"`
	OutputDir          string     `yaml:"outputDir"`
	PrimaryName        string     `yaml:"primaryName"`
	FromCID            int        `yaml:"fromCID"`
	WithIntegrityCheck bool       `yaml:"withIntegrityCheck"`
	Resume             bool       `yaml:"resume"`
	GitBinaryPath      string     `yaml:"gitBinaryPath"`
	LogPath            string     `yaml:"logPath"`
	DryRun             bool       `yaml:"dryRun"`
	UseGitDiff         bool       `yaml:"useGitDiff"`

	Auth AuthMethod `yaml:"-"` // populated by the CLI layer, not serialized
}

// Validate checks the required fields are set and fills in defaults,
// and must be called before constructing a Session from this Config.
func (c *Config) Validate() error {
	if c.TFSEndpoint == "" {
		return fmt.Errorf("config: tfsEndpoint is required")
	}
	if c.ProjectPath == "" {
		return fmt.Errorf("config: projectPath is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: outputDir is required")
	}
	if c.PrimaryName == "" {
		c.PrimaryName = "main"
	}
	if c.GitBinaryPath == "" {
		c.GitBinaryPath = "git"
	}
	if c.Auth == nil {
		c.Auth = IntegratedAuth{}
	}
	return nil
}

// Load reads a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
