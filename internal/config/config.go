package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all neuraldrift configuration.
type Config struct {
	Home        string            `yaml:"home"`
	LogLevel    string            `yaml:"log_level"`
	Paths       PathsConfig       `yaml:"paths"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Temperature TemperatureConfig `yaml:"temperature"`
	Session     SessionConfig     `yaml:"session"`
	Daemon      DaemonConfig      `yaml:"daemon"`
}

// PathsConfig names the files under Home. Relative names are joined with Home.
type PathsConfig struct {
	Ledger  string `yaml:"ledger"`
	Session string `yaml:"session"`
	Socket  string `yaml:"socket"`
	PID     string `yaml:"pid"`
	Journal string `yaml:"journal"`
}

type LedgerConfig struct {
	MaxRecall        int          `yaml:"max_recall"` // 0 = unlimited
	XPPerFact        int          `yaml:"xp_per_fact"`
	XPCitedBonus     int          `yaml:"xp_cited_bonus"`
	XPUncitedPenalty int          `yaml:"xp_uncited_penalty"`
	XPPerMusing      int          `yaml:"xp_per_musing"`
	UncitedGrace     Duration     `yaml:"uncited_grace"`
	LevelTitles      []LevelTitle `yaml:"level_titles"`
}

// LevelTitle maps a minimum level to its display title.
type LevelTitle struct {
	Level int    `yaml:"level"`
	Title string `yaml:"title"`
}

type TemperatureConfig struct {
	DecayRate     float64 `yaml:"decay_rate"`     // per hour
	RecencyWeight float64 `yaml:"recency_weight"` // points at age 0
	RecallWeight  float64 `yaml:"recall_weight"`  // multiplier on ln(1+recalls)
	RecallCap     float64 `yaml:"recall_cap"`
	Hot           float64 `yaml:"hot"`
	Cold          float64 `yaml:"cold"`
}

type SessionConfig struct {
	Fresh Duration `yaml:"fresh"`
	Warm  Duration `yaml:"warm"`
}

type DaemonConfig struct {
	Heartbeat     string   `yaml:"heartbeat"` // cron spec
	WatchDebounce Duration `yaml:"watch_debounce"`
	EventBacklog  int      `yaml:"event_backlog"`
}

// Duration is a time.Duration that reads "2h"-style strings from YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Home:     "", // resolved at runtime via DefaultHome()
		LogLevel: "info",
		Paths: PathsConfig{
			Ledger:  "brain_db.json",
			Session: "session_state.json",
			Socket:  "brain.sock",
			PID:     "braind.pid",
			Journal: "events.db",
		},
		Ledger: LedgerConfig{
			MaxRecall:        8,
			XPPerFact:        10,
			XPCitedBonus:     10,
			XPUncitedPenalty: -30,
			XPPerMusing:      5,
			UncitedGrace:     Duration{6 * time.Hour},
			LevelTitles:      DefaultLevelTitles(),
		},
		Temperature: TemperatureConfig{
			DecayRate:     0.997,
			RecencyWeight: 50,
			RecallWeight:  15,
			RecallCap:     50,
			Hot:           60,
			Cold:          15,
		},
		Session: SessionConfig{
			Fresh: Duration{2 * time.Hour},
			Warm:  Duration{12 * time.Hour},
		},
		Daemon: DaemonConfig{
			Heartbeat:     "@every 30s",
			WatchDebounce: Duration{250 * time.Millisecond},
			EventBacklog:  200,
		},
	}
}

// DefaultLevelTitles is the ordered threshold table used for level-up titles.
func DefaultLevelTitles() []LevelTitle {
	return []LevelTitle{
		{0, "Blank Slate"},
		{1, "Awakened"},
		{2, "Observer"},
		{3, "Student"},
		{5, "Apprentice"},
		{8, "Practitioner"},
		{10, "Specialist"},
		{15, "Expert"},
		{20, "Master"},
		{30, "Sage"},
		{50, "Oracle"},
		{75, "Transcendent"},
		{100, "Omniscient"},
	}
}

// DefaultHome returns ~/.neuraldrift.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".neuraldrift"), nil
}

// Load resolves the home directory, reads $HOME/.env and config.yaml when
// present, and applies environment overrides on top of the defaults.
// A missing config file is not an error.
func Load() (Config, error) {
	cfg := Default()

	home := os.Getenv("NEURALDRIFT_HOME")
	if home == "" {
		var err error
		home, err = DefaultHome()
		if err != nil {
			return cfg, err
		}
	}

	// .env values never override variables already set in the environment.
	if err := godotenv.Load(filepath.Join(home, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if v := os.Getenv("NEURALDRIFT_HOME"); v != "" {
		home = v
	}

	if err := cfg.mergeFile(filepath.Join(home, "config.yaml")); err != nil {
		return cfg, err
	}
	if cfg.Home == "" {
		cfg.Home = home
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NEURALDRIFT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NEURALDRIFT_SOCKET"); v != "" {
		c.Paths.Socket = v
	}
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Home, name)
}

// LedgerPath returns the absolute path of the fact ledger document.
func (c *Config) LedgerPath() string { return c.resolve(c.Paths.Ledger) }

// SessionPath returns the absolute path of the session document.
func (c *Config) SessionPath() string { return c.resolve(c.Paths.Session) }

// SocketPath returns the daemon's unix socket path.
func (c *Config) SocketPath() string { return c.resolve(c.Paths.Socket) }

// PIDPath returns the daemon pid file path.
func (c *Config) PIDPath() string { return c.resolve(c.Paths.PID) }

// JournalPath returns the daemon event journal database path.
func (c *Config) JournalPath() string { return c.resolve(c.Paths.Journal) }
