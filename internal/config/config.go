package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr       string
	DBPath           string
	SpeciesPath      string
	PhotoBackend     string
	PhotoPath        string
	PhotoStagingPath string
	PhotoBaseURL     string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3PathStyle      bool
	S3PublicBaseURL  string
	IdentifyBackend  string
	OllamaHost       string
	OllamaModel      string
	ClaudeAPIKey     string
	ClaudeModel      string
	JWTSecret        string
	TokenTTL         time.Duration
	SessionTTL       time.Duration
	SubmitRatePerSec float64
	SubmitBurst      int
	LogLevel         string
	LogFile          string
}

func Load() *Config {
	return &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "/data/treetag.db"),
		SpeciesPath:      getEnv("SPECIES_PATH", ""),
		PhotoBackend:     getEnv("PHOTO_BACKEND", "local"),
		PhotoPath:        getEnv("PHOTO_LOCAL_PATH", "/data/photos"),
		PhotoStagingPath: getEnv("PHOTO_STAGING_PATH", "/data/staging"),
		PhotoBaseURL:     getEnv("PHOTO_BASE_URL", "/photos"),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3PathStyle:      getEnv("S3_PATH_STYLE", "false") == "true",
		S3PublicBaseURL:  getEnv("S3_PUBLIC_BASE_URL", ""),
		IdentifyBackend:  getEnv("IDENTIFY_BACKEND", "none"),
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:      getEnv("OLLAMA_MODEL", "llava"),
		ClaudeAPIKey:     getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:      getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		TokenTTL:         getDuration("TOKEN_TTL", 30*24*time.Hour),
		SessionTTL:       getDuration("SESSION_TTL", 2*time.Hour),
		SubmitRatePerSec: getFloat("SUBMIT_RATE_PER_SEC", 1),
		SubmitBurst:      getInt("SUBMIT_BURST", 3),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if i, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return i
	}
	return defaultVal
}
