// Package config loads sopdesk configuration from a YAML file, an optional
// .env file and SOPDESK_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete sopdesk configuration.
type Config struct {
	Listen      string            `yaml:"listen"`
	LogLevel    string            `yaml:"log_level"`
	Database    DatabaseConfig    `yaml:"database"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Search      SearchConfig      `yaml:"search"`
}

// DatabaseConfig configures the working database and its network-share origin.
type DatabaseConfig struct {
	// Path is the local working copy of the database file.
	Path string `yaml:"path"`
	// SharePath is the database file on the network share. Empty disables
	// checkout/checkin and Path is used directly.
	SharePath string `yaml:"share_path"`
}

// AttachmentsConfig maps each SOP document category to its target directory.
type AttachmentsConfig struct {
	DipSOP       string `yaml:"dip_sop"`
	AssemblySOP  string `yaml:"assembly_sop"`
	TestSOP      string `yaml:"test_sop"`
	PackagingSOP string `yaml:"packaging_sop"`
	OQCChecklist string `yaml:"oqc_checklist"`
}

// BootstrapConfig names the admin account created on first run.
type BootstrapConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SearchConfig tunes record keyword search.
type SearchConfig struct {
	CaseSensitive bool `yaml:"case_sensitive"`
}

// DefaultBootstrapPassword is used when no bootstrap password is configured.
const DefaultBootstrapPassword = "8463"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Database: DatabaseConfig{
			Path: "troubleshooting.db",
		},
		Attachments: AttachmentsConfig{
			DipSOP:       "documents/dip_sop",
			AssemblySOP:  "documents/assembly_sop",
			TestSOP:      "documents/test_sop",
			PackagingSOP: "documents/packaging_sop",
			OQCChecklist: "documents/oqc_checklist",
		},
		Bootstrap: BootstrapConfig{
			Username: "Nelson",
			Password: DefaultBootstrapPassword,
		},
	}
}

// Load reads the YAML file at path (optional), then .env, then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SOPDESK_LISTEN":             &c.Listen,
		"SOPDESK_LOG_LEVEL":          &c.LogLevel,
		"SOPDESK_DB_PATH":            &c.Database.Path,
		"SOPDESK_DB_SHARE_PATH":      &c.Database.SharePath,
		"SOPDESK_DIR_DIP_SOP":        &c.Attachments.DipSOP,
		"SOPDESK_DIR_ASSEMBLY_SOP":   &c.Attachments.AssemblySOP,
		"SOPDESK_DIR_TEST_SOP":       &c.Attachments.TestSOP,
		"SOPDESK_DIR_PACKAGING_SOP":  &c.Attachments.PackagingSOP,
		"SOPDESK_DIR_OQC_CHECKLIST":  &c.Attachments.OQCChecklist,
		"SOPDESK_BOOTSTRAP_USERNAME": &c.Bootstrap.Username,
		"SOPDESK_BOOTSTRAP_PASSWORD": &c.Bootstrap.Password,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("SOPDESK_SEARCH_CASE_SENSITIVE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SOPDESK_SEARCH_CASE_SENSITIVE %q: %w", v, err)
		}
		c.Search.CaseSensitive = b
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.SharePath != "" && c.Database.SharePath == c.Database.Path {
		return fmt.Errorf("database.share_path must differ from database.path")
	}
	dirs := map[string]string{
		"dip_sop":       c.Attachments.DipSOP,
		"assembly_sop":  c.Attachments.AssemblySOP,
		"test_sop":      c.Attachments.TestSOP,
		"packaging_sop": c.Attachments.PackagingSOP,
		"oqc_checklist": c.Attachments.OQCChecklist,
	}
	for name, dir := range dirs {
		if dir == "" {
			return fmt.Errorf("attachments.%s is required", name)
		}
	}
	if strings.TrimSpace(c.Bootstrap.Username) == "" {
		return fmt.Errorf("bootstrap.username is required")
	}
	if c.Bootstrap.Password == "" {
		return fmt.Errorf("bootstrap.password is required")
	}
	return nil
}
