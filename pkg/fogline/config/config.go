// Package config loads typed runtime configuration for the fogline binaries.
//
// Values come from a YAML file (optional) overridden by FOGLINE_* environment
// variables, so a container deployment can run without any file at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Thresholds configure edge-side event classification.
type Thresholds struct {
	// PeopleHigh is the absolute count at or above which a crowd gathering
	// is reported.
	PeopleHigh int `yaml:"people_high"`

	// RapidRise is the minimum increase over two classification cycles that
	// counts as a sudden spike.
	RapidRise int `yaml:"rapid_rise"`
}

// Edge configures the edge node binary.
type Edge struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	BufferFile string `yaml:"buffer_file"`
	BufferMax  int    `yaml:"buffer_max"`

	// Mode selects the observation source: "simulated" or "live".
	Mode        string   `yaml:"mode"`
	LiveFeedURL string   `yaml:"live_feed_url"`
	SourceIDs   []string `yaml:"source_ids"`

	SendInterval    Duration `yaml:"send_interval"`
	FlushInterval   Duration `yaml:"flush_interval"`
	MinSendInterval Duration `yaml:"min_send_interval"`
	SendTimeout     Duration `yaml:"send_timeout"`

	Thresholds Thresholds `yaml:"thresholds"`
}

// Cloud configures the ingestion gateway + processor binary.
type Cloud struct {
	ListenAddr     string   `yaml:"listen_addr"`
	APIKey         string   `yaml:"api_key"`
	SeenCapacity   int      `yaml:"seen_capacity"`
	QueueCapacity  int      `yaml:"queue_capacity"`
	PublishTimeout Duration `yaml:"publish_timeout"`

	// StoreDriver selects durable storage: "sqlite" or "postgres".
	StoreDriver string `yaml:"store_driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// LoadEdge reads edge configuration from the optional YAML file at path,
// applies environment overrides, then validates.
func LoadEdge(path string) (Edge, error) {
	cfg := Edge{
		BufferFile:      "./data/events_pending.jsonl",
		BufferMax:       1000,
		Mode:            "simulated",
		SourceIDs:       []string{"cam-1"},
		SendInterval:    Duration(5 * time.Second),
		FlushInterval:   Duration(10 * time.Second),
		MinSendInterval: Duration(5 * time.Second),
		SendTimeout:     Duration(5 * time.Second),
		Thresholds:      Thresholds{PeopleHigh: 50, RapidRise: 20},
	}
	if err := readYAML(path, &cfg); err != nil {
		return Edge{}, err
	}

	if v := envString("FOGLINE_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := envString("FOGLINE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := envString("FOGLINE_BUFFER_FILE"); v != "" {
		cfg.BufferFile = v
	}
	if v := envString("FOGLINE_MODE"); v != "" {
		cfg.Mode = v
	}

	if cfg.Endpoint == "" {
		return Edge{}, errors.New("endpoint required (set endpoint in config or FOGLINE_ENDPOINT)")
	}
	if cfg.APIKey == "" {
		return Edge{}, errors.New("api_key required (set api_key in config or FOGLINE_API_KEY)")
	}
	if cfg.Mode != "simulated" && cfg.Mode != "live" {
		return Edge{}, fmt.Errorf("mode must be \"simulated\" or \"live\", got %q", cfg.Mode)
	}
	if cfg.Mode == "live" && cfg.LiveFeedURL == "" {
		return Edge{}, errors.New("live_feed_url required in live mode")
	}
	if cfg.BufferMax <= 0 {
		return Edge{}, errors.New("buffer_max must be > 0")
	}
	return cfg, nil
}

// LoadCloud reads cloud configuration from the optional YAML file at path,
// applies environment overrides, then validates.
func LoadCloud(path string) (Cloud, error) {
	cfg := Cloud{
		ListenAddr:     ":8080",
		SeenCapacity:   1024,
		QueueCapacity:  4096,
		PublishTimeout: Duration(5 * time.Second),
		StoreDriver:    "sqlite",
		SQLitePath:     "./data/fogline.db",
	}
	if err := readYAML(path, &cfg); err != nil {
		return Cloud{}, err
	}

	if v := envString("FOGLINE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := envString("FOGLINE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := envString("FOGLINE_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := envString("FOGLINE_POSTGRES_URL"); v != "" {
		cfg.PostgresURL = v
	}

	if cfg.APIKey == "" {
		return Cloud{}, errors.New("api_key required (set api_key in config or FOGLINE_API_KEY)")
	}
	switch cfg.StoreDriver {
	case "sqlite":
		if cfg.SQLitePath == "" {
			return Cloud{}, errors.New("sqlite_path required with the sqlite store driver")
		}
	case "postgres":
		if cfg.PostgresURL == "" {
			return Cloud{}, errors.New("postgres_url required with the postgres store driver (or FOGLINE_POSTGRES_URL)")
		}
	default:
		return Cloud{}, fmt.Errorf("store_driver must be \"sqlite\" or \"postgres\", got %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// readYAML unmarshals the file at path into out. An empty path is a no-op
// so binaries can run on defaults plus environment alone.
func readYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
