package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// FileName is the optional TOML override file.
const FileName = "ticket-bridge.toml"

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "TICKET_BRIDGE_"

// Duration decodes TOML strings such as "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// FileConfig mirrors the TOML file. Unset keys leave the environment value untouched.
type FileConfig struct {
	ListenAddr          *string   `toml:"listen_addr"`
	QueueCapacity       *int      `toml:"queue_capacity"`
	JobsPerMinute       *int      `toml:"jobs_per_minute"`
	Verbose             *bool     `toml:"verbose"`
	DefaultPrinter      *string   `toml:"default_printer"`
	DefaultPaperWidthMm *float64  `toml:"paper_width_mm"`
	FeedLines           *int      `toml:"feed_lines"`
	PrintingDisabled    *bool     `toml:"printing_disabled"`
	BridgeTimeout       *Duration `toml:"bridge_timeout"`
	ListTimeout         *Duration `toml:"list_timeout"`
	PrintTimeout        *Duration `toml:"print_timeout"`
	DatabasePath        *string   `toml:"database_path"`
	AllowedOrigins      []string  `toml:"allowed_origins"`
}

// Load returns the named environment with overrides applied in order: the TOML file found
// by SearchPaths, a .env file in the working directory, then TICKET_BRIDGE_* variables.
func Load(env string) (Environment, error) {
	cfg := GetEnvironment(env)

	if path, ok := findConfigFile(SearchPaths(FileName)); ok {
		if err := ApplyFile(&cfg, path); err != nil {
			return cfg, err
		}
		log.Printf("[CONFIG] Loaded overrides from %s", path)
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[CONFIG] ⚠️ Could not read .env: %v", err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SearchPaths returns the candidate locations for filename, highest priority first.
func SearchPaths(filename string) []string {
	var paths []string
	if exePath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exePath), filename))
	}
	paths = append(paths, filepath.Join(".", filename))
	return paths
}

func findConfigFile(paths []string) (string, bool) {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ApplyFile decodes the TOML file at path into cfg.
func ApplyFile(cfg *Environment, path string) error {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	fc.apply(cfg)
	return nil
}

func (fc FileConfig) apply(cfg *Environment) {
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setInt(&cfg.QueueCapacity, fc.QueueCapacity)
	setInt(&cfg.JobsPerMinute, fc.JobsPerMinute)
	setInt(&cfg.FeedLines, fc.FeedLines)
	setString(&cfg.DefaultPrinter, fc.DefaultPrinter)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	if fc.PrintingDisabled != nil {
		cfg.PrintingDisabled = *fc.PrintingDisabled
	}
	if fc.DefaultPaperWidthMm != nil && *fc.DefaultPaperWidthMm > 0 {
		cfg.DefaultPaperWidthMm = *fc.DefaultPaperWidthMm
	}
	setDuration(&cfg.BridgeTimeout, fc.BridgeTimeout)
	setDuration(&cfg.ListTimeout, fc.ListTimeout)
	setDuration(&cfg.PrintTimeout, fc.PrintTimeout)
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
}

// ApplyEnv applies TICKET_BRIDGE_* variables read through lookup.
func ApplyEnv(cfg *Environment, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	var errs []error
	if v, ok := get("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := get("DEFAULT_PRINTER"); ok {
		cfg.DefaultPrinter = v
	}
	if v, ok := get("DB_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	for key, dst := range map[string]*int{
		"QUEUE_CAPACITY":  &cfg.QueueCapacity,
		"JOBS_PER_MINUTE": &cfg.JobsPerMinute,
		"FEED_LINES":      &cfg.FeedLines,
	} {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs = append(errs, fmt.Errorf("%s%s: invalid positive integer %q", EnvPrefix, key, v))
				continue
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*bool{
		"VERBOSE":           &cfg.Verbose,
		"PRINTING_DISABLED": &cfg.PrintingDisabled,
	} {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = b
		}
	}
	for key, dst := range map[string]*time.Duration{
		"BRIDGE_TIMEOUT": &cfg.BridgeTimeout,
		"LIST_TIMEOUT":   &cfg.ListTimeout,
		"PRINT_TIMEOUT":  &cfg.PrintTimeout,
	} {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("%s%s: invalid duration %q", EnvPrefix, key, v))
				continue
			}
			*dst = d
		}
	}
	if v, ok := get("PAPER_WIDTH_MM"); ok {
		mm, err := strconv.ParseFloat(v, 64)
		if err != nil || mm <= 0 {
			errs = append(errs, fmt.Errorf("%sPAPER_WIDTH_MM: invalid width %q", EnvPrefix, v))
		} else {
			cfg.DefaultPaperWidthMm = mm
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil && v.Duration > 0 {
		*dst = v.Duration
	}
}
