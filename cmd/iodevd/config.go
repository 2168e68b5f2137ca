// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/logiface"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

var (
	errConfigInvalid      = errors.New("invalid config")
	errConfigFileNotFound = errors.New("config file not found")
	errHelp               = errors.New("help requested")
)

// Duration is a time.Duration that reads as a string like "1.5s" in config
// files.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds all configuration options.
type Config struct {
	Listen        string   `json:"listen"`
	Workers       int      `json:"workers"`
	Broadcast     bool     `json:"broadcast"`
	ReusePort     bool     `json:"reuse_port"`
	IdleTimeout   Duration `json:"idle_timeout"`
	LingerTimeout Duration `json:"linger_timeout"`
	MaxDevices    int      `json:"max_devices"`
	MaxPooled     int      `json:"max_pooled"`
	DumpFile      string   `json:"dump_file,omitempty"`
	DumpInterval  Duration `json:"dump_interval"`
	LogLevel      string   `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Listen:        "127.0.0.1:7000",
		Workers:       4,
		IdleTimeout:   Duration(time.Minute),
		LingerTimeout: Duration(2 * time.Second),
		DumpInterval:  Duration(10 * time.Second),
		LogLevel:      "info",
	}
}

// options are the parsed command line flags.
type options struct {
	configPath string
	overrides  Config
	set        map[string]bool
}

func parseFlags(stderr io.Writer, args []string) (options, error) {
	def := DefaultConfig()
	fs := flag.NewFlagSet("iodevd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts         options
		idle, linger time.Duration
		dumpInterval time.Duration
	)
	overrides := &opts.overrides
	fs.StringVarP(&opts.configPath, "config", "c", "", "JSONC config file")
	fs.StringVarP(&overrides.Listen, "listen", "l", def.Listen, "TCP address to echo on")
	fs.IntVarP(&overrides.Workers, "workers", "w", def.Workers, "number of workers")
	fs.BoolVar(&overrides.Broadcast, "broadcast", false, "bind the listener to every worker")
	fs.BoolVar(&overrides.ReusePort, "reuse-port", false, "set SO_REUSEPORT on the listener")
	fs.DurationVar(&idle, "idle-timeout", time.Duration(def.IdleTimeout), "close silent connections after this long, 0 disables")
	fs.DurationVar(&linger, "linger-timeout", time.Duration(def.LingerTimeout), "drain deadline for closing connections")
	fs.IntVar(&overrides.MaxDevices, "max-devices", 0, "maximum live devices, 0 is unbounded")
	fs.IntVar(&overrides.MaxPooled, "max-pooled", 0, "maximum idle pooled devices, 0 is unbounded, negative disables")
	fs.StringVar(&overrides.DumpFile, "dump-file", "", "periodically write the device table to this file")
	fs.DurationVar(&dumpInterval, "dump-interval", time.Duration(def.DumpInterval), "device table write interval")
	fs.StringVar(&overrides.LogLevel, "log-level", def.LogLevel, "log level (err, warning, info, debug, ...)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return options{}, errHelp
		}
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	overrides.IdleTimeout = Duration(idle)
	overrides.LingerTimeout = Duration(linger)
	overrides.DumpInterval = Duration(dumpInterval)
	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// LoadConfig loads configuration with the following precedence (highest
// wins):
// 1. Defaults
// 2. Config file (if configPath is non-empty)
// 3. Command line flags that were set.
func LoadConfig(opts options) (Config, error) {
	cfg := DefaultConfig()

	if opts.configPath != "" {
		data, err := os.ReadFile(opts.configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, opts.configPath)
			}
			return Config{}, err
		}
		cfg, err = parseConfig(data, cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, opts.configPath, err)
		}
	}

	cfg = applyOverrides(cfg, opts.overrides, opts.set)

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return cfg, nil
}

// parseConfig decodes JSONC over base, so absent keys keep their values.
func parseConfig(data []byte, base Config) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&base); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return base, nil
}

func applyOverrides(cfg, overlay Config, set map[string]bool) Config {
	if set["listen"] {
		cfg.Listen = overlay.Listen
	}
	if set["workers"] {
		cfg.Workers = overlay.Workers
	}
	if set["broadcast"] {
		cfg.Broadcast = overlay.Broadcast
	}
	if set["reuse-port"] {
		cfg.ReusePort = overlay.ReusePort
	}
	if set["idle-timeout"] {
		cfg.IdleTimeout = overlay.IdleTimeout
	}
	if set["linger-timeout"] {
		cfg.LingerTimeout = overlay.LingerTimeout
	}
	if set["max-devices"] {
		cfg.MaxDevices = overlay.MaxDevices
	}
	if set["max-pooled"] {
		cfg.MaxPooled = overlay.MaxPooled
	}
	if set["dump-file"] {
		cfg.DumpFile = overlay.DumpFile
	}
	if set["dump-interval"] {
		cfg.DumpInterval = overlay.DumpInterval
	}
	if set["log-level"] {
		cfg.LogLevel = overlay.LogLevel
	}
	return cfg
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Listen == "":
		return errors.New("listen must not be empty")
	case cfg.Workers <= 0:
		return errors.New("workers must be positive")
	case cfg.IdleTimeout < 0:
		return errors.New("idle_timeout must not be negative")
	case cfg.LingerTimeout <= 0:
		return errors.New("linger_timeout must be positive")
	case cfg.MaxDevices < 0:
		return errors.New("max_devices must not be negative")
	case cfg.DumpFile != "" && cfg.DumpInterval <= 0:
		return errors.New("dump_interval must be positive")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// parseLevel maps a level keyword, as printed by [logiface.Level.String],
// to the level.
func parseLevel(s string) (logiface.Level, error) {
	for l := logiface.LevelDisabled; l <= logiface.LevelTrace; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
