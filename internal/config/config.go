package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"volcal/internal/model"
)

// EnvPrefix namespaces environment overrides, e.g. VOLCAL_SOURCE_URL.
const EnvPrefix = "VOLCAL_"

const (
	SourceNone     = "none"
	SourceDirectus = "directus"
	SourceICS      = "ics"
)

// SourceConfig selects where session records come from.
type SourceConfig struct {
	// Kind is "directus", "ics" or "none".
	Kind string `yaml:"kind" json:"kind"`
	// URL is the Directus base URL or the ICS feed URL.
	URL        string `yaml:"url" json:"url"`
	Collection string `yaml:"collection" json:"collection"`
	// AccessToken is sent as a bearer token to Directus. Prefer setting it
	// through VOLCAL_SOURCE_TOKEN over committing it to the file.
	AccessToken string `yaml:"access_token,omitempty" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web host.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the web host.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone whose calendar days key sessions.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron schedules repository refreshes (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// RenderMode is "grid" or "list".
	RenderMode string `yaml:"render_mode" json:"render_mode"`

	// MonthsAhead defaults to 12 in grid mode and 6 in list mode.
	MonthsAhead int `yaml:"months_ahead" json:"months_ahead"`
	MaxCapacity int `yaml:"max_capacity" json:"max_capacity"`

	UseFallbackDates bool `yaml:"use_fallback_dates" json:"use_fallback_dates"`
	// MergeFallback keeps placeholders for days the source does not cover.
	MergeFallback bool `yaml:"merge_fallback" json:"merge_fallback"`

	Source SourceConfig `yaml:"source" json:"source"`

	FetchTimeout string `yaml:"fetch_timeout" json:"fetch_timeout"`
	// CacheDir enables the on-disk fetch cache when non-empty.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// WidgetIdleTTL is how long an untouched visitor widget is kept.
	WidgetIdleTTL string `yaml:"widget_idle_ttl" json:"widget_idle_ttl"`

	// PreviewPath is where the snapshot command and /preview.png store the
	// rendered widget.
	PreviewPath string `yaml:"preview_path" json:"preview_path"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:           "127.0.0.1:8080",
		Timezone:         "America/New_York",
		WeekStart:        "sunday",
		RefreshCron:      "*/15 * * * *",
		LogLevel:         "info",
		RenderMode:       "grid",
		MaxCapacity:      model.DefaultMaxCapacity,
		UseFallbackDates: true,
		Source: SourceConfig{
			Kind:       SourceNone,
			Collection: "volunteer_sessions",
		},
		FetchTimeout:  "15s",
		WidgetIdleTTL: "30m",
		PreviewPath:   "/tmp/volcal/preview.png",
	}
	// MonthsAhead stays zero so Normalize can pick it from RenderMode.
	return c
}

// Normalize fills in missing or invalid values so partially filled files
// still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart != "monday" {
		c.WeekStart = "sunday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.RenderMode = strings.ToLower(strings.TrimSpace(c.RenderMode))
	if c.RenderMode != "list" {
		c.RenderMode = "grid"
	}
	if c.MonthsAhead <= 0 {
		if c.RenderMode == "list" {
			c.MonthsAhead = 6
		} else {
			c.MonthsAhead = 12
		}
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = model.DefaultMaxCapacity
	}

	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	switch c.Source.Kind {
	case SourceDirectus, SourceICS:
	default:
		c.Source.Kind = SourceNone
	}
	if c.Source.Kind != SourceNone && c.Source.URL == "" {
		c.Source.Kind = SourceNone
	}
	c.Source.URL = strings.TrimRight(c.Source.URL, "/")
	if c.Source.Collection == "" {
		c.Source.Collection = "volunteer_sessions"
	}

	if _, err := time.ParseDuration(c.FetchTimeout); err != nil {
		c.FetchTimeout = "15s"
	}
	if _, err := time.ParseDuration(c.WidgetIdleTTL); err != nil {
		c.WidgetIdleTTL = "30m"
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Weekday returns the configured first day of the week.
func (c *Config) Weekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

func (c *Config) FetchTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.FetchTimeout)
	return d
}

func (c *Config) WidgetIdleTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.WidgetIdleTTL)
	return d
}

// Load reads configuration from the given YAML path.
//
// Behavior:
//   - a .env file next to the working directory is loaded into the process
//     environment first (existing variables win)
//   - if the YAML file does not exist, a default config is written with
//     0600 perms and returned
//   - VOLCAL_* environment variables override file values
//   - the result is normalized
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file. Env overrides are applied
		// to a separate copy so secrets never land in the file.
		saveErr := Save(path, DefaultConfig())
		cfg := DefaultConfig()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return cfg, err
		}
		cfg.Normalize()
		return cfg, saveErr
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides fields from VOLCAL_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("LISTEN", &c.Listen)
	str("TIMEZONE", &c.Timezone)
	str("WEEK_START", &c.WeekStart)
	str("REFRESH", &c.RefreshCron)
	str("LOG_LEVEL", &c.LogLevel)
	str("RENDER_MODE", &c.RenderMode)
	str("SOURCE_KIND", &c.Source.Kind)
	str("SOURCE_URL", &c.Source.URL)
	str("SOURCE_COLLECTION", &c.Source.Collection)
	str("SOURCE_TOKEN", &c.Source.AccessToken)
	str("FETCH_TIMEOUT", &c.FetchTimeout)
	str("CACHE_DIR", &c.CacheDir)
	str("WIDGET_IDLE_TTL", &c.WidgetIdleTTL)
	str("PREVIEW_PATH", &c.PreviewPath)

	for name, dst := range map[string]*int{
		"MONTHS_AHEAD": &c.MonthsAhead,
		"MAX_CAPACITY": &c.MaxCapacity,
	} {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	for name, dst := range map[string]*bool{
		"USE_FALLBACK_DATES": &c.UseFallbackDates,
		"MERGE_FALLBACK":     &c.MergeFallback,
	} {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	user, okUser := lookup(EnvPrefix + "BASIC_AUTH_USER")
	pass, okPass := lookup(EnvPrefix + "BASIC_AUTH_PASSWORD")
	if okUser || okPass {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if okUser {
			c.BasicAuth.Username = user
		}
		if okPass {
			c.BasicAuth.Password = pass
		}
	}
	return nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory with 0700 if needed.
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

	tmp, err := os.CreateTemp(dir, ".volcal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
