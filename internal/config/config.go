// Package config loads edmctl settings from an optional YAML file and the
// environment. Environment variables (also read from a .env file) win over
// the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"example.com/edmgate/internal/common"
)

type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

type DecodeConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Timezone    string `yaml:"timezone"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReportConfig struct {
	Author string `yaml:"author"`
}

// RulesConfig points at an acceptance rule pack. Empty means the built-in
// pack.
type RulesConfig struct {
	Pack string `yaml:"pack"`
}

// ServerConfig is only read by edmd.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	StorageDir   string        `yaml:"storageDir"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxUploadMB  int64         `yaml:"maxUploadMB"`
}

type Config struct {
	Logs   LogConfig    `yaml:"logs"`
	Decode DecodeConfig `yaml:"decode"`
	Store  StoreConfig  `yaml:"store"`
	NATS   NATSConfig   `yaml:"nats"`
	Report ReportConfig `yaml:"report"`
	Rules  RulesConfig  `yaml:"rules"`
	Server ServerConfig `yaml:"server"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and fills defaults. envFiles are passed to
// godotenv and must exist; without any, an optional .env in the working
// directory is read.
func Load(path string, envFiles ...string) (Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
		base := filepath.Dir(path)
		cfg.Store.Path = resolvePath(base, cfg.Store.Path)
		cfg.Logs.Directory = resolvePath(base, cfg.Logs.Directory)
		cfg.Server.StorageDir = resolvePath(base, cfg.Server.StorageDir)
		cfg.Rules.Pack = resolvePath(base, cfg.Rules.Pack)
	}

	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.fillDefaults()
	if _, err := common.ParseLevel(cfg.Logs.Level); err != nil {
		return cfg, err
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("EDM_LOG_LEVEL"); v != "" {
		c.Logs.Level = v
	}
	if v := os.Getenv("EDM_LOG_DIR"); v != "" {
		c.Logs.Directory = v
	}
	if v := os.Getenv("EDM_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDM_CONCURRENCY: %w", err)
		}
		c.Decode.Concurrency = n
	}
	if v := os.Getenv("EDM_TIMEZONE"); v != "" {
		c.Decode.Timezone = v
	}
	if v := os.Getenv("EDM_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("EDM_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("EDM_NATS_SUBJECT"); v != "" {
		c.NATS.Subject = v
	}
	if v := os.Getenv("EDM_RULES_PACK"); v != "" {
		c.Rules.Pack = v
	}
	if v := os.Getenv("EDM_SERVER_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDM_SERVER_PORT: %w", err)
		}
		c.Server.Port = n
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Decode.Concurrency <= 0 {
		c.Decode.Concurrency = runtime.NumCPU()
	}
	if c.Decode.Timezone == "" {
		c.Decode.Timezone = "UTC"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(".", "data", "edm.db")
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "edm"
	}
	if c.NATS.Timeout <= 0 {
		c.NATS.Timeout = 5 * time.Second
	}
	if c.Report.Author == "" {
		c.Report.Author = "edmctl"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.StorageDir == "" {
		c.Server.StorageDir = filepath.Join(".", "data")
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 64
	}
}

// Location resolves the configured time zone used for instrument times.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Decode.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Decode.Timezone, err)
	}
	return loc, nil
}

// LogLevel returns the parsed log level; Load has already validated it.
func (c Config) LogLevel() common.Level {
	l, _ := common.ParseLevel(c.Logs.Level)
	return l
}

func (c Config) Rotation() common.RotationConfig {
	return common.RotationConfig{
		Directory:  c.Logs.Directory,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxAgeDays: c.Logs.MaxAgeDays,
		MaxBackups: c.Logs.MaxBackups,
		Compress:   c.Logs.Compress,
	}
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
