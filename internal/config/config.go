package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultOCREndpoints はOCR APIのフォールバック順のエンドポイント一覧。
var DefaultOCREndpoints = []string{
	"https://api.ocr.space/parse/image",
	"https://apipro1.ocr.space/parse/image",
	"https://apipro2.ocr.space/parse/image",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// API
	APIKey string

	// Slack
	SlackSigningSecret  string
	SlackBotToken       string
	SlackAPIURL         string
	SlackWorkspaceURL   string
	SlackCheckChannel   string
	SlackReportChannel  string
	SlackModChannel     string
	SlackErrorChannel   string
	SlackSponsorChannel string

	// GitHub Sponsors
	GitHubSponsorsSecret string

	// OCR
	OCRAPIKey    string
	OCREndpoints []string
	OCRTimeout   time.Duration

	// Queue
	ExpiredDefaultHours int
	ArchivistDelay      time.Duration

	// Sampling
	LowActivityDays int

	// Worker
	WorkerQueueSize int
	WorkerSync      bool

	// Rate Limit
	RateLimitGeneral int
	RateLimitWrite   int

	// Ingest
	IngestFeeds         []FeedSource
	IngestInterval      time.Duration
	IngestMaxConcurrent int
	IngestTimeout       time.Duration
	IngestMaxSize       int64

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// FeedSource はingestワーカーが巡回するフィードとその投稿に付与するソース名の組。
type FeedSource struct {
	Source string
	URL    string
}

// LoadDotEnv は指定パスの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.APIKey == "" {
		missing = append(missing, "API_KEY")
	}

	cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	if cfg.SlackSigningSecret == "" {
		missing = append(missing, "SLACK_SIGNING_SECRET")
	}

	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	if cfg.SlackBotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	feeds, err := parseFeedSources(os.Getenv("INGEST_FEEDS"))
	if err != nil {
		return nil, err
	}
	cfg.IngestFeeds = feeds

	// Optional fields with defaults
	cfg.SlackAPIURL = strings.TrimRight(getEnvString("SLACK_API_URL", "https://slack.com/api"), "/")
	cfg.SlackWorkspaceURL = strings.TrimRight(getEnvString("SLACK_WORKSPACE_URL", ""), "/")
	cfg.SlackCheckChannel = getEnvString("SLACK_CHECK_CHANNEL", "")
	cfg.SlackReportChannel = getEnvString("SLACK_REPORT_CHANNEL", "")
	cfg.SlackModChannel = getEnvString("SLACK_MOD_CHANNEL", "")
	cfg.SlackErrorChannel = getEnvString("SLACK_ERROR_CHANNEL", "")
	cfg.SlackSponsorChannel = getEnvString("SLACK_SPONSOR_CHANNEL", "")
	cfg.GitHubSponsorsSecret = getEnvString("GITHUB_SPONSORS_SECRET", "")
	cfg.OCRAPIKey = getEnvString("OCR_API_KEY", "")
	cfg.OCREndpoints = getEnvList("OCR_ENDPOINTS", DefaultOCREndpoints)
	cfg.OCRTimeout = getEnvDuration("OCR_TIMEOUT", 10*time.Second)
	cfg.ExpiredDefaultHours = getEnvInt("EXPIRED_DEFAULT_HOURS", 18)
	cfg.ArchivistDelay = getEnvDuration("ARCHIVIST_DELAY", 30*time.Minute)
	cfg.LowActivityDays = getEnvInt("LOW_ACTIVITY_DAYS", 0)
	cfg.WorkerQueueSize = getEnvInt("WORKER_QUEUE_SIZE", 1024)
	cfg.WorkerSync = getEnvBool("WORKER_SYNC", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 600)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 120)
	cfg.IngestInterval = getEnvDuration("INGEST_INTERVAL", 2*time.Minute)
	cfg.IngestMaxConcurrent = getEnvInt("INGEST_MAX_CONCURRENT", 4)
	cfg.IngestTimeout = getEnvDuration("INGEST_TIMEOUT", 10*time.Second)
	cfg.IngestMaxSize = getEnvInt64("INGEST_MAX_SIZE", 2097152)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// parseFeedSources は "source=url,source=url" 形式の文字列を解析する。
func parseFeedSources(v string) ([]FeedSource, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	var feeds []FeedSource
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		source, url, ok := strings.Cut(entry, "=")
		if !ok || source == "" || url == "" {
			return nil, fmt.Errorf("invalid INGEST_FEEDS entry %q: expected source=url", entry)
		}
		feeds = append(feeds, FeedSource{Source: strings.TrimSpace(source), URL: strings.TrimSpace(url)})
	}
	return feeds, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
