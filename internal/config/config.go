package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/epalmerini/msgscope/internal/broker"
)

const (
	defaultPageSize      = 100
	defaultReadTimeoutMS = 2000
	defaultVPN           = "default"
	defaultLogLevel      = "info"
)

// FileConfig is the TOML file structure.
type FileConfig struct {
	LogLevel      string             `toml:"log_level"`
	LogFormat     string             `toml:"log_format"`
	PageSize      int                `toml:"page_size"`
	ReadTimeoutMS int                `toml:"read_timeout_ms"`
	ReplaySlack   int                `toml:"replay_slack"`
	DBPath        string             `toml:"db"`
	Proto         string             `toml:"proto"`
	Profiles      map[string]Profile `toml:"profiles"`
}

// Profile is a named broker connection.
type Profile struct {
	VPN        string   `toml:"vpn"`
	Management Endpoint `toml:"management"`
	Messaging  Endpoint `toml:"messaging"`
	Proto      string   `toml:"proto,omitempty"`
}

// Endpoint is given as a URL; username and password, when set, override
// the URL's credentials.
type Endpoint struct {
	URL      string `toml:"url"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
}

// Config is the resolved runtime config after profile selection.
type Config struct {
	Profile    string
	Connection broker.Connection

	ProtoPath string
	DBPath    string
	LogLevel  string
	LogFormat string

	PageSize    int
	ReadTimeout time.Duration
	ReplaySlack int
}

// LoadFileConfig loads the TOML file at path. A missing file yields a
// zero-value FileConfig and no error.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &FileConfig{}, nil
		}
		return nil, err
	}

	var cfg FileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve merges a profile (by name) with global settings and env vars into
// a runtime Config. An empty profileName uses only globals and env vars; a
// name that does not exist is an error.
func (fc FileConfig) Resolve(profileName string) (Config, error) {
	cfg := Config{
		Profile:     profileName,
		ProtoPath:   fc.Proto,
		DBPath:      fc.DBPath,
		LogLevel:    fc.LogLevel,
		LogFormat:   fc.LogFormat,
		PageSize:    fc.PageSize,
		ReadTimeout: time.Duration(fc.ReadTimeoutMS) * time.Millisecond,
		ReplaySlack: fc.ReplaySlack,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeoutMS * time.Millisecond
	}
	if cfg.ReplaySlack <= 0 {
		cfg.ReplaySlack = cfg.PageSize
	}

	var p Profile
	if profileName != "" {
		var ok bool
		if p, ok = fc.Profiles[profileName]; !ok {
			return Config{}, fmt.Errorf("unknown profile %q (have %v)", profileName, fc.ProfileNames())
		}
		if p.Proto != "" {
			cfg.ProtoPath = p.Proto
		}
	}

	// Fall back to env vars for anything the profile left unset
	if p.VPN == "" {
		p.VPN = os.Getenv("MSGSCOPE_VPN")
	}
	if p.VPN == "" {
		p.VPN = defaultVPN
	}
	if p.Management.URL == "" {
		p.Management.URL = os.Getenv("SEMP_URL")
	}
	if p.Messaging.URL == "" {
		p.Messaging.URL = os.Getenv("AMQP_URL")
	}

	cfg.Connection.MsgVPN = p.VPN
	var err error
	if cfg.Connection.Management, err = p.Management.resolve("management"); err != nil {
		return Config{}, err
	}
	if cfg.Connection.Messaging, err = p.Messaging.resolve("messaging"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (e Endpoint) resolve(name string) (broker.Endpoint, error) {
	if e.URL == "" {
		return broker.Endpoint{}, nil
	}
	ep, err := broker.ParseEndpoint(e.URL)
	if err != nil {
		return broker.Endpoint{}, fmt.Errorf("%s endpoint: %w", name, err)
	}
	if e.Username != "" {
		ep.Username = e.Username
	}
	if e.Password != "" {
		ep.Password = e.Password
	}
	return ep, nil
}

// SaveProfile adds or replaces a profile in the TOML file at path, keeping
// every other setting.
func SaveProfile(path, name string, p Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	cfg, err := LoadFileConfig(path)
	if err != nil {
		return err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	cfg.Profiles[name] = p

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	// Profiles may carry passwords.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// ProfileNames returns a sorted list of profile names.
func (fc FileConfig) ProfileNames() []string {
	return slices.Sorted(maps.Keys(fc.Profiles))
}
