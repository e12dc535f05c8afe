package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by TRANSCRIPT_BOT_BACKEND.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config carries all runtime settings for one process. It is built once at
// startup and passed to constructors; nothing mutates it afterwards, so test
// suites can vary behavior per run without cross-test leakage.
type Config struct {
	ListenAddr string
	DataDir    string
	ConfigDir  string
	Secure     bool

	SessionAuthKey       []byte
	AdminInitialPassword string

	// Transcription backend selection.
	Backend      string // local|remote
	Model        string // whisper model name (remote) or model file path (local)
	OpenAIAPIKey string
	ChatModel    string

	// Segment limits imposed by the transcription backend.
	MaxSegmentBytes    int64
	MaxSegmentDuration time.Duration

	// Admission limits for submitted media, by tier.
	RegularLimitBytes int64
	PremiumLimitBytes int64

	PoolSize    int
	MaxAttempts int

	DownloadTimeout  time.Duration
	SegmentTimeout   time.Duration
	StructureTimeout time.Duration
	DeliverTimeout   time.Duration

	GeneratePDF bool

	TelegramBotToken string
	GroupChatID      string
	RelayBotToken    string
	RelayChatID      string
}

func Load() (Config, error) {
	cfg := Config{}

	cfg.ListenAddr = envOrDefault("TRANSCRIPT_BOT_LISTEN_ADDR", ":8080")
	cfg.DataDir = envOrDefault("TRANSCRIPT_BOT_DATA_DIR", "data")
	cfg.ConfigDir = envOrDefault("TRANSCRIPT_BOT_CONFIG_DIR", filepath.Join(cfg.DataDir, "config"))
	cfg.Secure = envBool("TRANSCRIPT_BOT_SECURE")

	key := os.Getenv("TRANSCRIPT_BOT_SESSION_AUTH_KEY")
	if key == "" {
		return Config{}, fmt.Errorf("please set TRANSCRIPT_BOT_SESSION_AUTH_KEY")
	}
	cfg.SessionAuthKey = []byte(key)
	cfg.AdminInitialPassword = os.Getenv("TRANSCRIPT_BOT_ADMIN_INITIAL_PASSWORD")

	cfg.Backend = envOrDefault("TRANSCRIPT_BOT_BACKEND", BackendRemote)
	if cfg.Backend != BackendLocal && cfg.Backend != BackendRemote {
		return Config{}, fmt.Errorf("unknown backend %q (want local or remote)", cfg.Backend)
	}
	if cfg.Backend == BackendLocal {
		cfg.Model = envOrDefault("TRANSCRIPT_BOT_MODEL", "models/ggml-base.bin")
	} else {
		cfg.Model = envOrDefault("TRANSCRIPT_BOT_MODEL", "whisper-1")
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.Backend == BackendRemote && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("remote backend selected but OPENAI_API_KEY is not set")
	}
	cfg.ChatModel = envOrDefault("TRANSCRIPT_BOT_CHAT_MODEL", "gpt-4o-mini")

	maxSegmentMB, err := envInt("TRANSCRIPT_BOT_MAX_SEGMENT_MB", 20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSegmentBytes = maxSegmentMB * 1024 * 1024

	maxSegmentMinutes, err := envInt("TRANSCRIPT_BOT_MAX_SEGMENT_MINUTES", 25)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSegmentDuration = time.Duration(maxSegmentMinutes) * time.Minute

	regularMB, err := envInt("TRANSCRIPT_BOT_REGULAR_LIMIT_MB", 20)
	if err != nil {
		return Config{}, err
	}
	cfg.RegularLimitBytes = regularMB * 1024 * 1024

	premiumMB, err := envInt("TRANSCRIPT_BOT_PREMIUM_LIMIT_MB", 2048)
	if err != nil {
		return Config{}, err
	}
	cfg.PremiumLimitBytes = premiumMB * 1024 * 1024

	poolSize, err := envInt("TRANSCRIPT_BOT_POOL_SIZE", 3)
	if err != nil {
		return Config{}, err
	}
	cfg.PoolSize = int(poolSize)

	maxAttempts, err := envInt("TRANSCRIPT_BOT_MAX_ATTEMPTS", 4)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAttempts = int(maxAttempts)

	cfg.DownloadTimeout = 30 * time.Minute
	cfg.SegmentTimeout = 10 * time.Minute
	cfg.StructureTimeout = 10 * time.Minute
	cfg.DeliverTimeout = 2 * time.Minute

	cfg.GeneratePDF = envBoolDefault("TRANSCRIPT_BOT_GENERATE_PDF", true)

	cfg.TelegramBotToken = os.Getenv("TRANSCRIPT_BOT_TOKEN")
	cfg.GroupChatID = os.Getenv("TRANSCRIPT_BOT_GROUP_CHAT_ID")
	cfg.RelayBotToken = os.Getenv("TRANSCRIPT_BOT_RELAY_TOKEN")
	cfg.RelayChatID = os.Getenv("TRANSCRIPT_BOT_RELAY_CHAT_ID")

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	return cfg, nil
}

// TempDir is the root for per-job scratch directories.
func (c Config) TempDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// AdmissionLimitBytes returns the declared-size limit for the given tier.
func (c Config) AdmissionLimitBytes(premium bool) int64 {
	if premium {
		return c.PremiumLimitBytes
	}
	return c.RegularLimitBytes
}

func envOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int64) (int64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return num, nil
}

func envBool(key string) bool {
	if value, exists := os.LookupEnv(key); exists {
		lower := strings.ToLower(value)
		if lower == "on" || lower == "1" || lower == "true" || lower == "yes" {
			return true
		}
	}
	return false
}

func envBoolDefault(key string, fallback bool) bool {
	if _, exists := os.LookupEnv(key); !exists {
		return fallback
	}
	return envBool(key)
}
