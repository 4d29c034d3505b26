package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	JWTSecret          string
	Port               string
	DatabasePath       string
	LogLevel           string
	UploadDir          string
	MaxUploadSizeBytes int64

	SessionTTL      time.Duration
	CleanupInterval time.Duration

	// AllowReexecute controls whether a session survives a completed
	// execute call. When false (the default) the session is deleted after
	// the commit pass and a second execute fails with not-found.
	AllowReexecute bool
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes")
	if jwtSecret == "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	sessionTTL := getEnvAsDuration("SESSION_TTL", 30*time.Minute)
	cleanupInterval := getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute)

	allowReexecuteStr := getEnv("IMPORT_ALLOW_REEXECUTE", "false")
	allowReexecute, err := strconv.ParseBool(allowReexecuteStr)
	if err != nil {
		log.Printf("WARNING: Invalid IMPORT_ALLOW_REEXECUTE value '%s'. Using default false. Error: %v", allowReexecuteStr, err)
		allowReexecute = false
	}

	Cfg = &AppConfig{
		JWTSecret:          jwtSecret,
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./tradejournal.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		UploadDir:          getEnv("UPLOAD_DIR", "./uploads"),
		MaxUploadSizeBytes: maxUploadSizeBytes,
		SessionTTL:         sessionTTL,
		CleanupInterval:    cleanupInterval,
		AllowReexecute:     allowReexecute,
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, UploadDir=%s, SessionTTL=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.UploadDir, Cfg.SessionTTL)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
