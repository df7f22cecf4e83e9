// Package config loads the application configuration from a YAML file
// in the data directory. A missing file is not an error; every field
// has a usable default so a fresh install works with zero setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Constants
const (
	FileName = "config.yaml"
	FileMode = 0600
	DirMode  = 0700

	DefaultDirName   = ".rdcred"
	DefaultRDPClient = "xfreerdp"
)

// Errors
var (
	ErrConfigSymlink = errors.New("config: config file is a symlink")
	ErrConfigInvalid = errors.New("config: config file is not valid YAML")
)

// Config is the application configuration.
type Config struct {
	// Dir is the data directory holding the server database, key files
	// and audit log. Resolved at load time, never stored in the file.
	Dir string `yaml:"-"`

	// RDPClient is the client binary used by the connect command.
	RDPClient string `yaml:"rdp_client"`

	// RDPArgs are extra arguments appended to every client invocation.
	RDPArgs []string `yaml:"rdp_args"`

	// StrictContext makes a credential's embedded server context binding
	// instead of advisory.
	StrictContext bool `yaml:"strict_context"`

	// Audit enables the tamper-evident audit log.
	Audit bool `yaml:"audit"`
}

// DefaultDir returns the default data directory (~/.rdcred), honoring
// the RDCRED_DIR override.
func DefaultDir() (string, error) {
	if dir := os.Getenv("RDCRED_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// defaults returns a configuration with every field at its default.
func defaults(dir string) *Config {
	return &Config{
		Dir:       dir,
		RDPClient: DefaultRDPClient,
		Audit:     true,
	}
}

// Load reads the configuration from dir. A missing file yields the
// defaults; a present but malformed file is an error, silently ignoring
// a file the user wrote would be worse.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)

	// Reject symlinked config files
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrConfigSymlink
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults(dir), nil
		}
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	warnInsecurePermissions(path)

	cfg := defaults(dir)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	cfg.Dir = dir

	if cfg.RDPClient == "" {
		cfg.RDPClient = DefaultRDPClient
	}

	return cfg, nil
}

// Save writes the configuration to its data directory with 0600
// permissions.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Dir, DirMode); err != nil {
		return fmt.Errorf("config: failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}

	path := filepath.Join(c.Dir, FileName)
	if err := os.WriteFile(path, data, FileMode); err != nil {
		return fmt.Errorf("config: failed to write config file: %w", err)
	}
	return nil
}

// warnInsecurePermissions prints a warning for group/other-readable
// config files. Advisory only; the config holds no secrets.
func warnInsecurePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	if info, err := os.Stat(path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			fmt.Fprintf(os.Stderr, "warning: %s has insecure permissions %04o (expected 0600)\n", filepath.Base(path), perm)
		}
	}
}
