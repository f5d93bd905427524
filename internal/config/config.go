package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	GeminiAPIKey   string
	GeminiModel    string
	OCRLanguages   []string
	CallTimeout    time.Duration
	BaseURL        string
	ShareSecret    string
	ShareTTL       time.Duration
	MaxUploadBytes int64
	DataDir        string
}

func LoadConfig() (Config, error) {
	cfg := Config{}

	cfg.Port = envOrDefault("PORT", "8080")
	// The Gemini key is optional: without it the grading and feedback
	// stages run their deterministic fallbacks.
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = envOrDefault("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.BaseURL = envOrDefault("BASE_URL", "http://localhost:8080")
	cfg.ShareSecret = envOrDefault("SHARE_SECRET", "dev-secret")
	cfg.DataDir = envOrDefault("DATA_DIR", "data")

	cfg.OCRLanguages = splitList(envOrDefault("OCR_LANGUAGES", "eng"))

	callTimeoutSeconds, err := parseIntEnv("CALL_TIMEOUT_SECONDS", 60)
	if err != nil {
		return Config{}, fmt.Errorf("parse CALL_TIMEOUT_SECONDS: %w", err)
	}
	cfg.CallTimeout = time.Duration(callTimeoutSeconds) * time.Second

	shareTTLSeconds, err := parseIntEnv("SHARE_TTL_SECONDS", 86400)
	if err != nil {
		return Config{}, fmt.Errorf("parse SHARE_TTL_SECONDS: %w", err)
	}
	cfg.ShareTTL = time.Duration(shareTTLSeconds) * time.Second

	maxUploadMB, err := parseIntEnv("MAX_UPLOAD_MB", 20)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_UPLOAD_MB: %w", err)
	}
	cfg.MaxUploadBytes = maxUploadMB * 1024 * 1024

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int64) (int64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
