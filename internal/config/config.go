package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "TVCOLLECTOR_"

// Config holds collector settings. Load reads the environment; LoadFile
// overlays a YAML file.
type Config struct {
	// Sources are playlist URLs, HTML pages or local paths, in precedence order.
	Sources []string
	// Xtream-style provider: each base URL becomes a get.php source.
	ProviderBaseURLs []string
	ProviderUser     string
	ProviderPass     string
	// Preflight drops unreachable sources before fetching.
	Preflight        bool
	PreflightBlockCF bool

	// Validation
	Workers             int
	ProbeTimeout        time.Duration
	ValidationBudget    time.Duration // 0 = already spent; negative = no budget
	CacheTTL            time.Duration
	MaxChannels         int
	MaxEntriesPerSource int
	DefaultLogo         string
	CheckExtensions     []string
	CheckAllowBare      bool
	AcceptRedirects     bool
	SchemeFallback      bool
	HostConcurrency     int
	HostRPS             float64
	VariantConcurrency  int

	// Cache persistence
	CacheBackend string // file | sqlite | redis
	CachePath    string // file path, sqlite path or redis URL

	// Fetching
	UserAgent        string
	FetchTimeout     time.Duration
	FetchConcurrency int
	FollowHTML       bool

	// Output
	OutputDir     string
	PlaylistName  string
	ChannelDir    string
	PublicBaseURL string
	Fallback      FallbackChannel

	// Notification
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
	AMQPQueue      string

	// Ops
	MetricsTextfile string
	LogLevel        string
	LogFormat       string
	ServeAddr       string
	RefreshInterval time.Duration
}

// FallbackChannel is published when a run yields nothing. Empty URL means
// the built-in demo stream.
type FallbackChannel struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Group string `yaml:"group"`
	Logo  string `yaml:"logo"`
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load()
// to use a .env file.
func Load() *Config {
	c := &Config{
		Sources:             getEnvList("SOURCES"),
		ProviderBaseURLs:    getEnvList("PROVIDER_URLS"),
		ProviderUser:        os.Getenv(envPrefix + "PROVIDER_USER"),
		ProviderPass:        os.Getenv(envPrefix + "PROVIDER_PASS"),
		Preflight:           getEnvBool("PREFLIGHT", false),
		PreflightBlockCF:    getEnvBool("PREFLIGHT_BLOCK_CF", false),
		Workers:             getEnvInt("WORKERS", 8),
		ProbeTimeout:        getEnvDuration("PROBE_TIMEOUT", 3*time.Second),
		ValidationBudget:    getEnvBudget("VALIDATION_BUDGET", 60*time.Second),
		CacheTTL:            getEnvDuration("CACHE_TTL", 24*time.Hour),
		MaxChannels:         getEnvInt("MAX_CHANNELS", 600),
		MaxEntriesPerSource: getEnvInt("MAX_ENTRIES_PER_SOURCE", 1000),
		DefaultLogo:         getEnv("DEFAULT_LOGO", "https://via.placeholder.com/150"),
		CheckExtensions:     getEnvList("CHECK_EXTENSIONS"),
		CheckAllowBare:      getEnvBool("CHECK_ALLOW_BARE", true),
		AcceptRedirects:     getEnvBool("ACCEPT_REDIRECTS", false),
		SchemeFallback:      getEnvBool("SCHEME_FALLBACK", true),
		HostConcurrency:     getEnvInt("HOST_CONCURRENCY", 4),
		HostRPS:             getEnvFloat("HOST_RPS", 0),
		VariantConcurrency:  getEnvInt("VARIANT_CONCURRENCY", 4),
		CacheBackend:        getEnv("CACHE_BACKEND", "file"),
		CachePath:           getEnv("CACHE_PATH", "./validation_cache.json"),
		UserAgent:           os.Getenv(envPrefix + "USER_AGENT"),
		FetchTimeout:        getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchConcurrency:    getEnvInt("FETCH_CONCURRENCY", 4),
		FollowHTML:          getEnvBool("FOLLOW_HTML", true),
		OutputDir:           getEnv("OUTPUT_DIR", "./output"),
		PlaylistName:        getEnv("PLAYLIST_NAME", "playlist.m3u"),
		ChannelDir:          getEnv("CHANNEL_DIR", "channels"),
		PublicBaseURL:       os.Getenv(envPrefix + "PUBLIC_BASE_URL"),
		Fallback: FallbackChannel{
			Name:  os.Getenv(envPrefix + "FALLBACK_NAME"),
			URL:   os.Getenv(envPrefix + "FALLBACK_URL"),
			Group: os.Getenv(envPrefix + "FALLBACK_GROUP"),
		},
		AMQPURL:         os.Getenv(envPrefix + "AMQP_URL"),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "tvcollector"),
		AMQPRoutingKey:  getEnv("AMQP_ROUTING_KEY", "runs"),
		AMQPQueue:       os.Getenv(envPrefix + "AMQP_QUEUE"),
		MetricsTextfile: os.Getenv(envPrefix + "METRICS_TEXTFILE"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		ServeAddr:       getEnv("SERVE_ADDR", ":8080"),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 6*time.Hour),
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	return c
}

// AllSources returns Sources followed by one get.php URL per provider base
// URL when provider credentials are set.
func (c *Config) AllSources() []string {
	out := append([]string(nil), c.Sources...)
	if c.ProviderUser == "" || c.ProviderPass == "" {
		return out
	}
	for _, base := range c.ProviderBaseURLs {
		base = strings.TrimSuffix(base, "/")
		out = append(out, base+"/get.php?username="+url.QueryEscape(c.ProviderUser)+"&password="+url.QueryEscape(c.ProviderPass)+"&type=m3u_plus&output=ts")
	}
	return out
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if len(c.AllSources()) == 0 {
		errs = append(errs, errors.New("no sources configured (set TVCOLLECTOR_SOURCES)"))
	}
	switch c.CacheBackend {
	case "", "file", "json", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache TTL must not be negative: %s", c.CacheTTL))
	}
	if c.MaxChannels < 0 || c.MaxEntriesPerSource < 0 {
		errs = append(errs, errors.New("channel caps must not be negative"))
	}
	if c.PublicBaseURL != "" {
		if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("public base URL %q is not absolute", c.PublicBaseURL))
		}
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvBudget is getEnvDuration that also accepts "off", "none" and "-1" as
// no budget, and a bare "0" as an exhausted one.
func getEnvBudget(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(envPrefix + key)))
	switch v {
	case "":
		return defaultVal
	case "off", "none", "-1":
		return -1
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return getEnvDuration(key, defaultVal)
}

// getEnvList splits a comma or newline separated value, dropping blanks.
func getEnvList(key string) []string {
	return splitList(os.Getenv(envPrefix + key))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
