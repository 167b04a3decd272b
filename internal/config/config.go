package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/stacksnap/rdsdump/internal/logger"
	"gopkg.in/yaml.v3"
)

type ExecutorType string

const (
	ExecutorLocal  ExecutorType = "local"
	ExecutorDocker ExecutorType = "docker"
)

const (
	DefaultS3Prefix       = "db_dumps"
	DefaultRegion         = "us-east-1"
	DefaultDumpDirectory  = "/mnt/"
	DefaultDumpImage      = "mysql:8.0"
	DefaultPollInterval   = 15 * time.Second
	DefaultPollTimeout    = 2 * time.Hour
	MinPollInterval       = time.Second
	DefaultUploadAttempts = 3
	DefaultLogLevel       = "info"

	EnvPrefix = "RDSDUMP_"
)

// Config is the resolved request for one backup run. It is built once by
// Load and handed to the orchestrator by value.
type Config struct {
	RDSInstanceID      string `yaml:"rds_instance_id"`
	S3Bucket           string `yaml:"s3_bucket"`
	S3Prefix           string `yaml:"s3_prefix"`
	S3Endpoint         string `yaml:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSRegion          string `yaml:"aws_region"`

	MySQLDatabase string `yaml:"mysql_database"`
	MySQLUsername string `yaml:"mysql_username"`
	MySQLPassword string `yaml:"mysql_password"`

	DumpTTL       int          `yaml:"dump_ttl"`
	DumpDirectory string       `yaml:"dump_directory"`
	DumpExecutor  ExecutorType `yaml:"dump_executor"`
	DumpImage     string       `yaml:"dump_image"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	UploadAttempts int           `yaml:"upload_attempts"`

	RestoreInstanceClass string `yaml:"restore_instance_class,omitempty"`
	RestoreSubnetGroup   string `yaml:"restore_subnet_group,omitempty"`

	LogLevel string `yaml:"log_level"`
}

func Defaults() Config {
	return Config{
		S3Prefix:       DefaultS3Prefix,
		AWSRegion:      DefaultRegion,
		DumpDirectory:  DefaultDumpDirectory,
		DumpExecutor:   ExecutorLocal,
		DumpImage:      DefaultDumpImage,
		PollInterval:   DefaultPollInterval,
		PollTimeout:    DefaultPollTimeout,
		UploadAttempts: DefaultUploadAttempts,
		LogLevel:       DefaultLogLevel,
	}
}

// Options returns every option name in sorted order.
func Options() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var setters = map[string]func(c *Config, v string) error{
	"rds_instance_id":        func(c *Config, v string) error { c.RDSInstanceID = v; return nil },
	"s3_bucket":              func(c *Config, v string) error { c.S3Bucket = v; return nil },
	"s3_prefix":              func(c *Config, v string) error { c.S3Prefix = v; return nil },
	"s3_endpoint":            func(c *Config, v string) error { c.S3Endpoint = v; return nil },
	"aws_access_key_id":      func(c *Config, v string) error { c.AWSAccessKeyID = v; return nil },
	"aws_secret_access_key":  func(c *Config, v string) error { c.AWSSecretAccessKey = v; return nil },
	"aws_region":             func(c *Config, v string) error { c.AWSRegion = v; return nil },
	"mysql_database":         func(c *Config, v string) error { c.MySQLDatabase = v; return nil },
	"mysql_username":         func(c *Config, v string) error { c.MySQLUsername = v; return nil },
	"mysql_password":         func(c *Config, v string) error { c.MySQLPassword = v; return nil },
	"dump_ttl":               intSetter(func(c *Config, n int) { c.DumpTTL = n }),
	"dump_directory":         func(c *Config, v string) error { c.DumpDirectory = v; return nil },
	"dump_executor":          func(c *Config, v string) error { c.DumpExecutor = ExecutorType(v); return nil },
	"dump_image":             func(c *Config, v string) error { c.DumpImage = v; return nil },
	"poll_interval":          durationSetter(func(c *Config, d time.Duration) { c.PollInterval = d }),
	"poll_timeout":           durationSetter(func(c *Config, d time.Duration) { c.PollTimeout = d }),
	"upload_attempts":        intSetter(func(c *Config, n int) { c.UploadAttempts = n }),
	"restore_instance_class": func(c *Config, v string) error { c.RestoreInstanceClass = v; return nil },
	"restore_subnet_group":   func(c *Config, v string) error { c.RestoreSubnetGroup = v; return nil },
	"log_level":              func(c *Config, v string) error { c.LogLevel = v; return nil },
}

func intSetter(set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", v, err)
		}
		set(c, n)
		return nil
	}
}

func durationSetter(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		set(c, d)
		return nil
	}
}

// Set assigns a single option by name. Flag names use dashes, file keys
// and environment variables use underscores; both are accepted.
func (c *Config) Set(name, value string) error {
	key := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown option %q", name)
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("option %s: %w", key, err)
	}
	return nil
}

// LoadFile merges a YAML file over c. Keys absent from the file keep their
// current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &FileError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return nil
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment without overriding variables that are already set.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return nil
}

// ApplyEnv reads RDSDUMP_<OPTION> variables through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, name := range Options() {
		v, ok := lookup(EnvPrefix + strings.ToUpper(name))
		if !ok || v == "" {
			continue
		}
		if err := c.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

type Source struct {
	ConfigFile string
	EnvFile    string
	Lookup     func(string) (string, bool)
	Overrides  map[string]string
}

// Load resolves a configuration with precedence overrides > environment >
// config file > defaults.
func Load(src Source) (Config, error) {
	cfg := Defaults()

	if src.ConfigFile != "" {
		if err := cfg.LoadFile(src.ConfigFile); err != nil {
			return cfg, err
		}
	}

	if src.EnvFile != "" {
		if err := LoadEnvFile(src.EnvFile); err != nil {
			return cfg, err
		}
	}

	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	names := make([]string, 0, len(src.Overrides))
	for name := range src.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := cfg.Set(name, src.Overrides[name]); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("unable to read configuration file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

type MissingError struct {
	Options []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("no value provided for required option(s) %s in either config file or options",
		strings.Join(e.Options, " "))
}

var ErrPartialCredentials = errors.New("aws_access_key_id and aws_secret_access_key must be given together")

// ValidateStorage checks the options needed to reach the bucket of one
// source instance.
func (c Config) ValidateStorage() error {
	var missing []string
	if c.RDSInstanceID == "" {
		missing = append(missing, "rds_instance_id")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "s3_bucket")
	}
	if len(missing) > 0 {
		return &MissingError{Options: missing}
	}
	if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		return ErrPartialCredentials
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// Validate checks everything a full dump run needs.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"rds_instance_id", c.RDSInstanceID},
		{"s3_bucket", c.S3Bucket},
		{"mysql_database", c.MySQLDatabase},
		{"mysql_username", c.MySQLUsername},
		{"mysql_password", c.MySQLPassword},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Options: missing}
	}

	if err := c.ValidateStorage(); err != nil {
		return err
	}

	if c.DumpTTL < 0 {
		return fmt.Errorf("dump_ttl must not be negative (got %d)", c.DumpTTL)
	}
	if c.UploadAttempts < 1 {
		return fmt.Errorf("upload_attempts must be at least 1 (got %d)", c.UploadAttempts)
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("poll_interval must be at least %s (got %s); use a unit, e.g. 30s", MinPollInterval, c.PollInterval)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("poll_timeout must not be negative (got %s)", c.PollTimeout)
	}
	switch c.DumpExecutor {
	case ExecutorLocal, ExecutorDocker:
	default:
		return fmt.Errorf("unsupported dump_executor %q", c.DumpExecutor)
	}
	if c.DumpDirectory == "" {
		return &MissingError{Options: []string{"dump_directory"}}
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.MySQLPassword != "" {
		c.MySQLPassword = "****"
	}
	if c.AWSSecretAccessKey != "" {
		c.AWSSecretAccessKey = "****"
	}
	return c
}
