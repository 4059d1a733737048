package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to run the search engine and the
// recursive content extractor.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Search     SearchConfig     `yaml:"search"`
	Crawl      CrawlConfig      `yaml:"crawl"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Robots     RobotsConfig     `yaml:"robots"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BrowserConfig controls the automated browser session.
type BrowserConfig struct {
	TargetURL        string   `yaml:"target_url"`
	UserAgent        string   `yaml:"user_agent"`
	ViewportWidth    int      `yaml:"viewport_width"`
	ViewportHeight   int      `yaml:"viewport_height"`
	DisableHeadless  bool     `yaml:"disable_headless"`
	InitTimeout      Duration `yaml:"init_timeout"`
	NavTimeout       Duration `yaml:"nav_timeout"`
	IdleTimeout      Duration `yaml:"idle_timeout"`
	RecoveryCooldown Duration `yaml:"recovery_cooldown"`
}

// SearchConfig tunes query submission and answer stabilization.
type SearchConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	SelectorTimeout Duration `yaml:"selector_timeout"`
	AnswerTimeout   Duration `yaml:"answer_timeout"`
	PollInterval    Duration `yaml:"poll_interval"`
	TypeDelayMinMS  int      `yaml:"type_delay_min_ms"`
	TypeDelayMaxMS  int      `yaml:"type_delay_max_ms"`
}

// CrawlConfig bounds the recursive extraction of arbitrary URLs.
type CrawlConfig struct {
	Deadline       Duration        `yaml:"deadline"`
	DeadlineBuffer Duration        `yaml:"deadline_buffer"`
	RequestTimeout Duration        `yaml:"request_timeout"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	PerHostDelay   Duration        `yaml:"per_host_delay"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig applies a token bucket per host on the HTTP crawl path.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// ResilienceConfig controls retry backoff and the circuit breaker.
type ResilienceConfig struct {
	MaxAttempts      int      `yaml:"max_attempts"`
	BaseDelay        Duration `yaml:"base_delay"`
	MaxDelay         Duration `yaml:"max_delay"`
	Jitter           bool     `yaml:"jitter"`
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	HalfOpenMax      int      `yaml:"half_open_max"`
}

// RobotsConfig configures robots.txt handling on the HTTP crawl path.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Browser: BrowserConfig{
			TargetURL:        "https://www.perplexity.ai",
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:    1920,
			ViewportHeight:   1080,
			InitTimeout:      DurationFrom(60 * time.Second),
			NavTimeout:       DurationFrom(30 * time.Second),
			IdleTimeout:      DurationFrom(5 * time.Minute),
			RecoveryCooldown: DurationFrom(2 * time.Second),
		},
		Search: SearchConfig{
			MaxAttempts:     10,
			SelectorTimeout: DurationFrom(5 * time.Second),
			AnswerTimeout:   DurationFrom(2 * time.Minute),
			PollInterval:    DurationFrom(500 * time.Millisecond),
			TypeDelayMinMS:  20,
			TypeDelayMaxMS:  40,
		},
		Crawl: CrawlConfig{
			Deadline:       DurationFrom(3 * time.Minute),
			DeadlineBuffer: DurationFrom(10 * time.Second),
			RequestTimeout: DurationFrom(10 * time.Second),
			MaxBodyBytes:   6 * 1024 * 1024,
			PerHostDelay:   DurationFrom(250 * time.Millisecond),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      3,
			BaseDelay:        DurationFrom(time.Second),
			MaxDelay:         DurationFrom(10 * time.Second),
			Jitter:           true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     DurationFrom(30 * time.Second),
			HalfOpenMax:      3,
		},
		Robots: RobotsConfig{
			Respect:   false,
			UserAgent: "ask-crawler/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the engine configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Browser.TargetURL) == "" {
		return errors.New("browser.target_url must be set")
	}
	if strings.TrimSpace(c.Browser.UserAgent) == "" {
		return errors.New("browser.user_agent must be set")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive (got %dx%d)",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Search.MaxAttempts <= 0 {
		return fmt.Errorf("search.max_attempts must be > 0 (got %d)", c.Search.MaxAttempts)
	}
	if c.Search.TypeDelayMinMS < 0 || c.Search.TypeDelayMaxMS < c.Search.TypeDelayMinMS {
		return fmt.Errorf("invalid typing delay range [%d, %d]",
			c.Search.TypeDelayMinMS, c.Search.TypeDelayMaxMS)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if c.Crawl.Deadline.Duration <= c.Crawl.DeadlineBuffer.Duration {
		return errors.New("crawl.deadline must exceed crawl.deadline_buffer")
	}
	if c.Resilience.MaxAttempts <= 0 {
		return fmt.Errorf("resilience.max_attempts must be > 0 (got %d)", c.Resilience.MaxAttempts)
	}
	if c.Resilience.FailureThreshold <= 0 || c.Resilience.SuccessThreshold <= 0 {
		return errors.New("resilience breaker thresholds must be > 0")
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	return nil
}

func (c *Config) normalise() {
	c.Browser.TargetURL = strings.TrimSpace(c.Browser.TargetURL)
	c.Browser.UserAgent = strings.TrimSpace(c.Browser.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
}

// CrawlBudget returns the wall-clock budget for one crawl invocation, leaving
// the buffer free for result assembly.
func (c CrawlConfig) CrawlBudget() time.Duration {
	budget := c.Deadline.Duration - c.DeadlineBuffer.Duration
	if budget <= 0 {
		budget = c.Deadline.Duration
	}
	return budget
}
