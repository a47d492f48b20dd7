package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TermConfig describes one selectable academic term.
type TermConfig struct {
	// ID is the term key used in backend URLs, e.g. "2015W".
	ID string `yaml:"id" json:"id"`
	// Name is the label shown in the term selector.
	Name string `yaml:"name" json:"name"`
	// Start / End bound lecture dates (YYYY-MM-DD). Used by the fixture
	// backend and the calendar export.
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// StartDate parses Start; zero time if unset or invalid.
func (t TermConfig) StartDate() time.Time {
	d, _ := time.Parse(time.DateOnly, t.Start)
	return d
}

// EndDate parses End; zero time if unset or invalid.
func (t TermConfig) EndDate() time.Time {
	d, _ := time.Parse(time.DateOnly, t.End)
	return d
}

// CalendarConfig holds display options passed through to the calendar view.
type CalendarConfig struct {
	// FirstDay is the first weekday of the week view (0 = Sunday, 1 = Monday).
	FirstDay     int    `yaml:"first_day" json:"first_day"`
	MinTime      string `yaml:"min_time" json:"min_time"`
	MaxTime      string `yaml:"max_time" json:"max_time"`
	BusinessDays []int  `yaml:"business_days" json:"business_days"`
	AllDayText   string `yaml:"all_day_text" json:"all_day_text"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// BackendURL is the base URL of the scheduling service; requests go to
	// {BackendURL}/schedules/{term}/{courses}.
	BackendURL string `yaml:"backend_url" json:"backend_url"`

	// Fixture, if set, is a YAML file served instead of BackendURL.
	Fixture string `yaml:"fixture,omitempty" json:"fixture,omitempty"`

	// CacheDir stores backend responses. Empty disables the disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CacheTTL is how long a cached response is served without asking the
	// backend, e.g. "24h".
	CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`

	// CachePrune is a cron spec for deleting cache entries older than CacheTTL.
	CachePrune string `yaml:"cache_prune" json:"cache_prune"`

	// RequestTimeout bounds a single backend request, e.g. "30s".
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	Terms       []TermConfig `yaml:"terms" json:"terms"`
	DefaultTerm string       `yaml:"default_term" json:"default_term"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:5000"
	defaultBackendURL     = "http://127.0.0.1:5001/"
	defaultCacheDir       = "./cache/schedules"
	defaultCacheTTL       = "24h"
	defaultCachePrune     = "0 * * * *"
	defaultRequestTimeout = "60s"
)

func defaultTerms() []TermConfig {
	return []TermConfig{
		{ID: "2014S", Name: "Spring 2014", Start: "2014-05-05", End: "2014-08-16"},
		{ID: "2014F", Name: "Fall 2014", Start: "2014-09-04", End: "2014-12-19"},
		{ID: "2015W", Name: "Winter 2015", Start: "2015-01-05", End: "2015-04-25"},
		{ID: "2015S", Name: "Spring 2015", Start: "2015-05-04", End: "2015-08-15"},
	}
}

func defaultCalendar() CalendarConfig {
	return CalendarConfig{
		FirstDay:     1,
		MinTime:      "08:00",
		MaxTime:      "22:00",
		BusinessDays: []int{1, 2, 3, 4, 5},
		AllDayText:   "UNSCHEDULED",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		BackendURL:     defaultBackendURL,
		CacheDir:       defaultCacheDir,
		CacheTTL:       defaultCacheTTL,
		CachePrune:     defaultCachePrune,
		RequestTimeout: defaultRequestTimeout,
		Terms:          defaultTerms(),
		DefaultTerm:    "2015W",
		LogLevel:       "info",
		Calendar:       defaultCalendar(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.BackendURL == "" && c.Fixture == "" {
		c.BackendURL = defaultBackendURL
	}
	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CachePrune == "" {
		c.CachePrune = defaultCachePrune
	}
	if _, err := time.ParseDuration(c.RequestTimeout); err != nil {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Terms == nil {
		c.Terms = defaultTerms()
	}
	if c.DefaultTerm == "" && len(c.Terms) > 0 {
		c.DefaultTerm = c.Terms[len(c.Terms)-1].ID
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	def := defaultCalendar()
	if c.Calendar.FirstDay < 0 || c.Calendar.FirstDay > 6 {
		c.Calendar.FirstDay = def.FirstDay
	}
	if c.Calendar.MinTime == "" {
		c.Calendar.MinTime = def.MinTime
	}
	if c.Calendar.MaxTime == "" {
		c.Calendar.MaxTime = def.MaxTime
	}
	if c.Calendar.BusinessDays == nil {
		c.Calendar.BusinessDays = def.BusinessDays
	}
	if c.Calendar.AllDayText == "" {
		c.Calendar.AllDayText = def.AllDayText
	}
}

// Validate reports configuration errors Normalize cannot paper over.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Terms))
	for _, t := range c.Terms {
		if t.ID == "" {
			return errors.New("config: term with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("config: duplicate term %q", t.ID)
		}
		seen[t.ID] = true
		if t.StartDate().IsZero() || t.EndDate().IsZero() {
			return fmt.Errorf("config: term %q needs start and end dates (YYYY-MM-DD)", t.ID)
		}
		if t.EndDate().Before(t.StartDate()) {
			return fmt.Errorf("config: term %q ends before it starts", t.ID)
		}
	}
	if c.DefaultTerm != "" && len(c.Terms) > 0 && !seen[c.DefaultTerm] {
		return fmt.Errorf("config: default_term %q is not a configured term", c.DefaultTerm)
	}
	return nil
}

// Term looks up a configured term by id.
func (c *Config) Term(id string) (TermConfig, bool) {
	for _, t := range c.Terms {
		if t.ID == id {
			return t, true
		}
	}
	return TermConfig{}, false
}

// TermIDs lists configured term ids in config order.
func (c *Config) TermIDs() []string {
	ids := make([]string, 0, len(c.Terms))
	for _, t := range c.Terms {
		ids = append(ids, t.ID)
	}
	return ids
}

// CacheTTLDuration returns CacheTTL parsed; Normalize guarantees it parses.
func (c *Config) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		d, _ = time.ParseDuration(defaultCacheTTL)
	}
	return d
}

// RequestTimeoutDuration returns RequestTimeout parsed.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		d, _ = time.ParseDuration(defaultRequestTimeout)
	}
	return d
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".courserator-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
