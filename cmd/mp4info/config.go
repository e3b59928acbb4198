package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI settings. A YAML file provides the base values and
// flags given on the command line override them.
type Config struct {
	Format      string   `yaml:"format"`  // text, json or yaml
	Queries     []string `yaml:"queries"` // boxes, tracks, info, samples
	LogLevel    string   `yaml:"log_level"`
	NoColor     bool     `yaml:"no_color"`
	SkipInvalid bool     `yaml:"skip_invalid"`
	CacheSize   int      `yaml:"cache_size"`
}

var allQueries = []string{"info", "tracks", "boxes", "samples"}

func defaultConfig() Config {
	return Config{
		Format:    "text",
		Queries:   []string{"info", "tracks"},
		LogLevel:  "warn",
		CacheSize: 8,
	}
}

// loadConfig reads path into cfg. A missing file is not an error when the
// path was not given explicitly.
func loadConfig(path string, explicit bool, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// parseFlags builds the configuration from args.
func parseFlags(args []string, stderr io.Writer) (Config, []string, error) {
	fset := flag.NewFlagSet("mp4info", flag.ContinueOnError)
	fset.SetOutput(stderr)
	configPath := fset.String("config", "mp4info.yaml", "YAML config file")
	format := fset.String("format", "", "output format: text (default), json, yaml")
	queries := fset.String("query", "", "comma separated queries: "+strings.Join(allQueries, ","))
	level := fset.String("log-level", "", "log level: debug, info, warn, error")
	noColor := fset.Bool("no-color", false, "disable colored log output")
	skip := fset.Bool("skip-invalid", false, "skip tracks that fail instead of aborting")
	cacheSize := fset.Int("cache", 0, "number of parsed files to keep")
	fset.Usage = func() {
		fmt.Fprintf(stderr, "usage: mp4info [flags] <file.mp4>...\n")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return Config{}, nil, err
	}

	set := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := defaultConfig()
	if err := loadConfig(*configPath, set["config"], &cfg); err != nil {
		return Config{}, nil, err
	}
	if set["format"] {
		cfg.Format = *format
	}
	if set["query"] {
		cfg.Queries = strings.Split(*queries, ",")
	}
	if set["log-level"] {
		cfg.LogLevel = *level
	}
	if set["no-color"] {
		cfg.NoColor = *noColor
	}
	if set["skip-invalid"] {
		cfg.SkipInvalid = *skip
	}
	if set["cache"] {
		cfg.CacheSize = *cacheSize
	}
	if err := cfg.validate(); err != nil {
		return Config{}, nil, err
	}
	if fset.NArg() == 0 {
		fset.Usage()
		return Config{}, nil, errors.New("no input files")
	}
	return cfg, fset.Args(), nil
}

func (c *Config) validate() error {
	c.Format = strings.ToLower(c.Format)
	switch c.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format: %s", c.Format)
	}
	for i, q := range c.Queries {
		q = strings.ToLower(strings.TrimSpace(q))
		if !slices.Contains(allQueries, q) {
			return fmt.Errorf("unknown query: %s", q)
		}
		c.Queries[i] = q
	}
	if c.LogLevel != "" {
		var lv slog.Level
		if err := lv.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("unknown log level: %s", c.LogLevel)
		}
	}
	return nil
}

func (c *Config) wants(q string) bool {
	return slices.Contains(c.Queries, q)
}

// level returns the validated LogLevel, falling back to warn.
func (c *Config) level() slog.Level {
	lv := slog.LevelWarn
	if c.LogLevel != "" {
		_ = lv.UnmarshalText([]byte(c.LogLevel))
	}
	return lv
}
