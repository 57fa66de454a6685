package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	LogFile        LogFileConfig
	UserAgent      string

	SourcesFile   string
	SourcesInline string

	ParallelismCap       int
	InterBatchDelay      time.Duration
	ContentFilterWords   []string
	ContentFilterOff     bool
	TitleMatchFilter     bool
	CacheTTL             time.Duration
	CacheDisabled        bool
	HTTPRateLimitRPS     float64
	HTTPRateLimitBurst   int
	ProbeQuickTimeout    time.Duration
	ProbeOverallTimeout  time.Duration
	ProbeBackupTimeout   time.Duration
	ProbeMaxSegments     int
	ProbeCacheTTL        time.Duration
	ProbeAllowPrivateNet bool

	RedisURL string
	MongoURI string
	MongoDB  string

	SiteName     string
	Announcement string
}

type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const defaultAnnouncement = "This site only provides video search; all content comes from third-party sites."

// DefaultContentFilterWords is the category blocklist used when
// SEARCH_CONTENT_FILTER_WORDS is unset.
var DefaultContentFilterWords = []string{
	"伦理片", "福利", "里番动漫", "门事件", "萝莉少女", "制服诱惑", "国产传媒", "cosplay",
	"黑丝诱惑", "无码", "日本无码", "有码", "日本有码", "SWAG", "网红主播", "色情片",
	"同性片", "福利视频", "福利片",
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout: time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile: LogFileConfig{
			Path:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 14),
			Compress:   getEnvBool("LOG_FILE_COMPRESS", true),
		},
		UserAgent: getEnv("SEARCH_USER_AGENT", "Mozilla/5.0 (compatible; vodstream-search/1.0)"),

		SourcesFile:   getEnv("SOURCES_FILE", "config.json"),
		SourcesInline: getEnv("SOURCES", ""),

		ParallelismCap:       getEnvInt("SEARCH_PARALLELISM_CAP", 5),
		InterBatchDelay:      getEnvDurationMS("SEARCH_BATCH_DELAY_MS", 500*time.Millisecond),
		ContentFilterWords:   getEnvList("SEARCH_CONTENT_FILTER_WORDS", DefaultContentFilterWords),
		ContentFilterOff:     getEnvBool("SEARCH_CONTENT_FILTER_DISABLED", false),
		TitleMatchFilter:     getEnvBool("SEARCH_TITLE_MATCH_FILTER", true),
		CacheTTL:             time.Duration(getEnvInt("SEARCH_CACHE_TTL_SECONDS", 7200)) * time.Second,
		CacheDisabled:        getEnvBool("SEARCH_CACHE_DISABLED", false),
		HTTPRateLimitRPS:     float64(getEnvInt("HTTP_RATE_LIMIT_RPS", 50)),
		HTTPRateLimitBurst:   getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
		ProbeQuickTimeout:    getEnvDurationMS("PROBE_QUICK_TIMEOUT_MS", 3*time.Second),
		ProbeOverallTimeout:  getEnvDurationMS("PROBE_OVERALL_TIMEOUT_MS", 10*time.Second),
		ProbeBackupTimeout:   getEnvDurationMS("PROBE_BACKUP_TIMEOUT_MS", 8*time.Second),
		ProbeMaxSegments:     getEnvInt("PROBE_MAX_SEGMENTS", 3),
		ProbeCacheTTL:        time.Duration(getEnvInt("PROBE_CACHE_TTL_SECONDS", 600)) * time.Second,
		ProbeAllowPrivateNet: getEnvBool("PROBE_ALLOW_PRIVATE", false),

		RedisURL: getEnv("REDIS_URL", ""),
		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "vodstream"),

		SiteName:     getEnv("SITE_NAME", "MoonTV"),
		Announcement: getEnv("ANNOUNCEMENT", defaultAnnouncement),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDurationMS reads a millisecond count. Zero is allowed so the batch
// delay can be switched off.
func getEnvDurationMS(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}
