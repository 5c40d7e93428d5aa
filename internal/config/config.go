// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Selector  SelectorConfig  `mapstructure:"selector"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	JobBoard  JobBoardConfig  `mapstructure:"jobboard"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Searches  []SearchBlock   `mapstructure:"searches"`
}

// SearchBlock describes one configured search: keywords crossed with
// locations, sent to job boards and/or company career pages.
type SearchBlock struct {
	Keywords     []string      `mapstructure:"keywords"`
	Locations    []string      `mapstructure:"locations"`
	JobBoards    []string      `mapstructure:"job_boards"`
	CompanyPages []CompanyPage `mapstructure:"company_pages"`
}

// CompanyPage is a career-page URL template with its render mode.
type CompanyPage struct {
	URL      string `mapstructure:"url"`
	JSRender bool   `mapstructure:"js_render"`
}

// CrawlerConfig governs orchestrator behavior.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// ThrottleConfig controls adaptive per-domain pacing.
type ThrottleConfig struct {
	MinDelaySeconds int `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
	CeilingSeconds  int `mapstructure:"ceiling_seconds"`
}

// BreakerConfig controls the per-domain circuit breaker.
type BreakerConfig struct {
	Threshold       int `mapstructure:"threshold"`
	WindowSeconds   int `mapstructure:"window_seconds"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// IdentityConfig controls request identity rotation.
type IdentityConfig struct {
	UserAgents  []string `mapstructure:"user_agents"`
	Proxies     []string `mapstructure:"proxies"`
	RotateAfter int      `mapstructure:"rotate_after"`
}

// HTTPConfig configures the static HTTP transport.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering transport.
type HeadlessConfig struct {
	MaxParallel    int `mapstructure:"max_parallel"`
	NavTimeoutSec  int `mapstructure:"nav_timeout_seconds"`
	SettleDelaySec int `mapstructure:"settle_delay_seconds"`
}

// SelectorConfig controls the selector pattern cache.
type SelectorConfig struct {
	MaxAgeHours int `mapstructure:"max_age_hours"`
}

// ExtractorConfig points at the external extraction service.
type ExtractorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// JobBoardConfig points at the external job-board search service.
type JobBoardConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	ResultsWanted  int    `mapstructure:"results_wanted"`
	HoursOld       int    `mapstructure:"hours_old"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for posting event notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SnapshotConfig controls raw-page snapshots of failed extractions. An empty
// bucket keeps snapshots in memory.
type SnapshotConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"gcs_bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// OpsConfig controls the operational HTTP endpoint.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("throttle.min_delay_seconds", 2)
	v.SetDefault("throttle.max_delay_seconds", 7)
	v.SetDefault("throttle.ceiling_seconds", 90)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.window_seconds", 300)
	v.SetDefault("breaker.cooldown_seconds", 300)
	v.SetDefault("identity.rotate_after", 10)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_delay_seconds", 2)
	v.SetDefault("selector.max_age_hours", 24*7)
	v.SetDefault("extractor.timeout_seconds", 75)
	v.SetDefault("jobboard.results_wanted", 50)
	v.SetDefault("jobboard.timeout_seconds", 60)
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Throttle.MinDelaySeconds <= 0 {
		return fmt.Errorf("throttle.min_delay_seconds must be > 0")
	}
	if c.Throttle.MaxDelaySeconds < c.Throttle.MinDelaySeconds {
		return fmt.Errorf("throttle.max_delay_seconds must be >= throttle.min_delay_seconds")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops is enabled")
	}
	for i, block := range c.Searches {
		if len(block.Keywords) == 0 {
			return fmt.Errorf("searches[%d]: at least one keyword is required", i)
		}
		if len(block.JobBoards) == 0 && len(block.CompanyPages) == 0 {
			return fmt.Errorf("searches[%d]: job_boards or company_pages is required", i)
		}
	}
	return nil
}

// Tasks expands the configured search blocks into crawl tasks: every keyword
// crossed with every location, once per board set and once per company page.
func (c Config) Tasks() ([]crawl.Task, error) {
	var tasks []crawl.Task
	for _, block := range c.Searches {
		locations := block.Locations
		if len(locations) == 0 {
			locations = []string{""}
		}
		for _, keyword := range block.Keywords {
			for _, location := range locations {
				if len(block.JobBoards) > 0 {
					tasks = append(tasks, crawl.Task{
						Keyword:  keyword,
						Location: location,
						Boards:   append([]string(nil), block.JobBoards...),
					})
				}
				for _, page := range block.CompanyPages {
					tasks = append(tasks, crawl.Task{
						Keyword:     keyword,
						Location:    location,
						URLTemplate: page.URL,
						JSRender:    page.JSRender,
					})
				}
			}
		}
	}
	for i, task := range tasks {
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return tasks, nil
}

// ThrottleDurations converts the throttle section into durations.
func (c Config) ThrottleDurations() (min, max, ceiling time.Duration) {
	return time.Duration(c.Throttle.MinDelaySeconds) * time.Second,
		time.Duration(c.Throttle.MaxDelaySeconds) * time.Second,
		time.Duration(c.Throttle.CeilingSeconds) * time.Second
}
