package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	Environment     string
	JWTSecret       string
	JWTExpiry       int64

	ServiceAccountJSON string
	ServiceAccountPath string
	StorageBucket      string
	StoreBackend       string
	DevUsers           string

	RedisAddr         string
	DirectoryCacheTTL time.Duration

	MessageWindow int
	MaxUploadSize int64
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		FirebaseProject: getEnv("FIREBASE_PROJECT_ID", ""),
		Environment:     getEnv("ENVIRONMENT", "development"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiry:       getEnvAsInt64("JWT_EXPIRY", 24*60*60), // 24 hours

		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		StoreBackend:       getEnv("STORE_BACKEND", StoreBackendFirestore),
		DevUsers:           getEnv("DEV_USERS", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		DirectoryCacheTTL: time.Duration(getEnvAsInt64("DIRECTORY_CACHE_TTL", 60)) * time.Second,

		MessageWindow: int(getEnvAsInt64("MESSAGE_WINDOW", 50)),
		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 5*1024*1024),
	}

	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
