package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// InstanceConfig is a pre-configured GitLab instance in the config file.
type InstanceConfig struct {
	Name     string `yaml:"name"     toml:"name"`
	URL      string `yaml:"url"      toml:"url"`
	Token    string `yaml:"token"    toml:"token"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
	CACert   string `yaml:"ca_cert"  toml:"ca_cert"`
}

// Connection converts the entry into a connection record.
func (ic InstanceConfig) Connection() *models.Connection {
	return &models.Connection{
		Name:     ic.Name,
		URL:      ic.URL,
		Token:    ic.Token,
		Insecure: ic.Insecure,
		CACert:   ic.CACert,
	}
}

// PollConfig bounds export and import status polling.
type PollConfig struct {
	Delay    time.Duration `yaml:"delay"     toml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay" toml:"max_delay" split_words:"true"`
	Factor   float64       `yaml:"factor"    toml:"factor"`
	Attempts int           `yaml:"attempts"  toml:"attempts"` // -1 polls until the job ends
}

// Config holds all configuration (config file, GLMIGRATE_* environment
// and CLI flags, in increasing precedence).
type Config struct {
	Listen           string           `yaml:"listen"             toml:"listen"`
	LogJSON          bool             `yaml:"log_json"           toml:"log_json"           split_words:"true"`
	Verbose          bool             `yaml:"verbose"            toml:"verbose"`
	ResultDir        string           `yaml:"result_dir"         toml:"result_dir"         split_words:"true"`
	PerPage          int              `yaml:"per_page"           toml:"per_page"           split_words:"true"`
	PaceBase         time.Duration    `yaml:"pace_base"          toml:"pace_base"          split_words:"true"`
	ItemDelay        time.Duration    `yaml:"item_delay"         toml:"item_delay"         split_words:"true"`
	UserItemDelay    time.Duration    `yaml:"user_item_delay"    toml:"user_item_delay"    split_words:"true"`
	GroupExportGrace time.Duration    `yaml:"group_export_grace" toml:"group_export_grace" split_words:"true"`
	Poll             PollConfig       `yaml:"poll"               toml:"poll"`
	IndexTarget      bool             `yaml:"index_target"       toml:"index_target"       split_words:"true"`
	HistoryDB        string           `yaml:"history_db"         toml:"history_db"         split_words:"true"`
	Instances        []InstanceConfig `yaml:"instances"          toml:"instances"          ignored:"true"`
}

// EnvPrefix prefixes the environment variables read by Load, e.g.
// GLMIGRATE_PER_PAGE or GLMIGRATE_POLL_ATTEMPTS.
const EnvPrefix = "GLMIGRATE"

// Default returns the configuration used when no file is given.
func Default() *Config {
	s := migration.DefaultSettings()
	return &Config{
		Listen:           ":8080",
		ResultDir:        "result",
		PerPage:          s.PerPage,
		PaceBase:         s.PaceBase,
		ItemDelay:        s.ItemDelay,
		UserItemDelay:    s.UserItemDelay,
		GroupExportGrace: s.GroupExportGrace,
		Poll: PollConfig{
			Delay:    s.Poll.Delay,
			MaxDelay: s.Poll.MaxDelay,
			Factor:   s.Poll.Factor,
			Attempts: s.Poll.Attempts,
		},
	}
}

// Load returns the defaults overlaid with the config file at path and then
// with GLMIGRATE_* environment variables. Files ending in .toml are read as
// TOML, anything else as YAML. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, errors.Wrap(err, "parsing environment variables")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return c, nil
}

// decodeFile overlays the file at path; keys absent from it keep their
// current values.
func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), c); err != nil {
			return errors.Wrapf(err, "parsing %s", path)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}

// Validate rejects settings the GitLab API or the poller cannot honour.
func (c *Config) Validate() error {
	if c.PerPage < 1 || c.PerPage > 100 {
		return errors.Newf("per_page must be between 1 and 100, got %d", c.PerPage)
	}
	if c.PaceBase < 0 || c.ItemDelay < 0 || c.UserItemDelay < 0 || c.GroupExportGrace < 0 {
		return errors.New("durations must not be negative")
	}
	if c.Poll.Delay <= 0 {
		return errors.Newf("poll.delay must be positive, got %s", c.Poll.Delay)
	}
	if c.Poll.Factor != 0 && c.Poll.Factor < 1 {
		return errors.Newf("poll.factor must be at least 1, got %g", c.Poll.Factor)
	}
	if c.Poll.Attempts == 0 || c.Poll.Attempts < migration.UnlimitedAttempts {
		return errors.Newf("poll.attempts must be positive or -1, got %d", c.Poll.Attempts)
	}
	seen := map[string]bool{}
	for _, ic := range c.Instances {
		if ic.Name == "" || ic.URL == "" {
			return errors.New("instances need a name and a url")
		}
		if seen[ic.Name] {
			return errors.Newf("duplicate instance %q", ic.Name)
		}
		seen[ic.Name] = true
	}
	return nil
}

// Settings converts the pacing and polling options for the migration engine.
func (c *Config) Settings() migration.Settings {
	return migration.Settings{
		PerPage:          c.PerPage,
		PaceBase:         c.PaceBase,
		ItemDelay:        c.ItemDelay,
		UserItemDelay:    c.UserItemDelay,
		GroupExportGrace: c.GroupExportGrace,
		IndexTarget:      c.IndexTarget,
		Poll: migration.PollConfig{
			Delay:    c.Poll.Delay,
			MaxDelay: c.Poll.MaxDelay,
			Factor:   c.Poll.Factor,
			Attempts: c.Poll.Attempts,
		},
	}
}

// ResultPath is the run directory for phase ("export", "import") of kind.
func (c *Config) ResultPath(phase string, kind models.Kind) string {
	return filepath.Join(c.ResultDir, phase, string(kind))
}

// Instance returns the configured instance called name.
func (c *Config) Instance(name string) (InstanceConfig, bool) {
	for _, ic := range c.Instances {
		if ic.Name == name {
			return ic, true
		}
	}
	return InstanceConfig{}, false
}
