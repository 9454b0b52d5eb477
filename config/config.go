package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dyike/CortexThesis/consts"
)

// Duration marshals as a Go duration string ("90s", "1h") so the JSON file
// stays hand-editable.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

type CacheTTLs struct {
	Industry         Duration `json:"industry"`
	Headline         Duration `json:"headline"`
	FundamentalShort Duration `json:"fundamental_short"`
	FundamentalLong  Duration `json:"fundamental_long"`
	Peer             Duration `json:"peer"`
	Filings          Duration `json:"filings"`
	Validation       Duration `json:"validation"`
	EarningsWindow   Duration `json:"earnings_window"`
}

type Config struct {
	ProjectDir string `json:"project_dir"`
	ResultsDir string `json:"results_dir"`
	DataDir    string `json:"data_dir"`

	LLMProvider   string `json:"llm_provider"`
	DeepThinkLLM  string `json:"deep_think_llm"`
	QuickThinkLLM string `json:"quick_think_llm"`
	BackendURL    string `json:"backend_url"`

	MaxRevisions     int      `json:"max_revisions"`
	RevisionEvidence string   `json:"revision_evidence"`
	NodeTimeout      Duration `json:"node_timeout"`
	RequestTimeout   Duration `json:"request_timeout"`
	TokenBudget      int      `json:"token_budget"`

	CacheEnabled  bool   `json:"cache_enabled"`
	CacheBackend  string `json:"cache_backend"`
	CacheCapacity int    `json:"cache_capacity"`
	RedisAddr     string `json:"redis_addr"`
	// zstd | lz4 | none, applied to entries above 1KiB
	CacheCompression string    `json:"cache_compression"`
	CacheTTL         CacheTTLs `json:"cache_ttl"`

	ListenAddr         string `json:"listen_addr"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Debug     bool   `json:"debug"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// AI Model API Keys
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`

	FinnhubAPIKey string `json:"finnhub_api_key"`
	FredAPIKey    string `json:"fred_api_key"`
	SECUserAgent  string `json:"sec_user_agent"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendSQLite = "sqlite"
)

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns defaults with every directory rooted at root.
// Environment overrides are not applied.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir: root,
		ResultsDir: filepath.Join(root, "results"),
		DataDir:    filepath.Join(root, "data"),

		LLMProvider:   "deepseek",
		DeepThinkLLM:  "deepseek-chat",
		QuickThinkLLM: "deepseek-chat",
		BackendURL:    "",

		MaxRevisions:     2,
		RevisionEvidence: consts.EvidenceSummaryOnly,
		NodeTimeout:      Duration(60 * time.Second),
		RequestTimeout:   Duration(180 * time.Second),
		TokenBudget:      4000,

		CacheEnabled:     true,
		CacheBackend:     CacheBackendMemory,
		CacheCapacity:    1024,
		RedisAddr:        "127.0.0.1:6379",
		CacheCompression: "zstd",
		CacheTTL: CacheTTLs{
			Industry:         Duration(time.Hour),
			Headline:         Duration(15 * time.Minute),
			FundamentalShort: Duration(time.Hour),
			FundamentalLong:  Duration(24 * time.Hour),
			Peer:             Duration(6 * time.Hour),
			Filings:          Duration(24 * time.Hour),
			Validation:       Duration(24 * time.Hour),
			EarningsWindow:   Duration(7 * 24 * time.Hour),
		},

		ListenAddr:         ":8080",
		RateLimitPerMinute: 10,

		LogLevel:  "info",
		LogFormat: "console",

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,

		SECUserAgent: "CortexThesis research@example.com",
	}
}

func (c *Config) loadFromEnv() {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}
	setDuration := func(key string, dst *Duration) {
		if val := os.Getenv(key); val != "" {
			if v, err := time.ParseDuration(val); err == nil {
				*dst = Duration(v)
			}
		}
	}

	setString("PROJECT_DIR", &c.ProjectDir)
	setString("RESULTS_DIR", &c.ResultsDir)
	setString("DATA_DIR", &c.DataDir)

	setString("LLM_PROVIDER", &c.LLMProvider)
	setString("DEEP_THINK_LLM", &c.DeepThinkLLM)
	setString("QUICK_THINK_LLM", &c.QuickThinkLLM)
	setString("BACKEND_URL", &c.BackendURL)

	setInt("MAX_REVISIONS", &c.MaxRevisions)
	setString("REVISION_EVIDENCE", &c.RevisionEvidence)
	setDuration("NODE_TIMEOUT", &c.NodeTimeout)
	setDuration("REQUEST_TIMEOUT", &c.RequestTimeout)
	setInt("TOKEN_BUDGET", &c.TokenBudget)

	setBool("CACHE_ENABLED", &c.CacheEnabled)
	setString("CACHE_BACKEND", &c.CacheBackend)
	setInt("CACHE_CAPACITY", &c.CacheCapacity)
	setString("REDIS_ADDR", &c.RedisAddr)
	setString("CACHE_COMPRESSION", &c.CacheCompression)
	setDuration("EARNINGS_WINDOW", &c.CacheTTL.EarningsWindow)

	setString("LISTEN_ADDR", &c.ListenAddr)
	setInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)

	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FORMAT", &c.LogFormat)
	setBool("CORTEX_DEBUG", &c.Debug)

	setBool("EINO_DEBUG_ENABLED", &c.EinoDebugEnabled)
	setInt("EINO_DEBUG_PORT", &c.EinoDebugPort)

	setString("LONGPORT_APP_KEY", &c.LongportAppKey)
	setString("LONGPORT_APP_SECRET", &c.LongportAppSecret)
	setString("LONGPORT_ACCESS_TOKEN", &c.LongportAccessToken)

	setString("DEEPSEEK_API_KEY", &c.DeepSeekAPIKey)
	setString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	setString("CORTEX_FINNHUB_API_KEY", &c.FinnhubAPIKey)
	setString("CORTEX_FRED_API_KEY", &c.FredAPIKey)
	setString("SEC_USER_AGENT", &c.SECUserAgent)
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxRevisions < 0 {
		errs = append(errs, fmt.Errorf("max_revisions must be >= 0, got %d", c.MaxRevisions))
	}
	switch c.RevisionEvidence {
	case consts.EvidenceSummaryOnly, consts.EvidenceFull:
	default:
		errs = append(errs, fmt.Errorf("revision_evidence must be %q or %q, got %q",
			consts.EvidenceSummaryOnly, consts.EvidenceFull, c.RevisionEvidence))
	}
	if c.NodeTimeout <= 0 || c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("node_timeout and request_timeout must be positive"))
	} else if c.NodeTimeout >= c.RequestTimeout {
		errs = append(errs, fmt.Errorf("node_timeout (%s) must be shorter than request_timeout (%s)",
			c.NodeTimeout.Std(), c.RequestTimeout.Std()))
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown cache_backend %q", c.CacheBackend))
	}
	if c.CacheBackend == CacheBackendRedis && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("redis_addr is required for the redis cache backend"))
	}
	switch c.CacheCompression {
	case "", "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown cache_compression %q", c.CacheCompression))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_per_minute must be positive, got %d", c.RateLimitPerMinute))
	}
	return errors.Join(errs...)
}

// APIKey returns the key matching the configured LLM provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.DeepSeekAPIKey
}

func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cortexthesis.db")
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.CacheDir()}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
