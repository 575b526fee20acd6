package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the messaging service settings
type Config struct {
	Port                    string
	Env                     string
	JWTSecret               string
	FirebaseCredentialsPath string
	PostgresConnStr         string
	MongoURI                string
	MongoDatabase           string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
}

// ClientConfig holds the CLI client settings
type ClientConfig struct {
	Env               string
	APIBaseURL        string
	TokenFile         string
	SyncInterval      time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	RefreshDelay      time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func loadDotEnv() {
	// a missing .env is normal in containers; the environment is used as is
	_ = godotenv.Load()
}

// Load reads the service configuration from the environment (and .env)
func Load() *Config {
	loadDotEnv()
	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		JWTSecret:               getEnv("JWT_SECRET", ""),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		PostgresConnStr:         getEnv("POSTGRES_CONN_STR", ""),
		MongoURI:                getEnv("MONGO_URI", ""),
		MongoDatabase:           getEnv("MONGO_DATABASE", "quartissimo"),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisDB:                 getEnvInt("REDIS_DB", 0),
	}
}

// LoadClient reads the CLI configuration from the environment (and .env)
func LoadClient() *ClientConfig {
	loadDotEnv()
	return &ClientConfig{
		Env:               getEnv("ENV", "development"),
		APIBaseURL:        getEnv("QUARTISSIMO_API_URL", "http://localhost:8080"),
		TokenFile:         getEnv("QUARTISSIMO_TOKEN_FILE", defaultTokenFile()),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryDelay:        getEnvDuration("RETRY_DELAY", time.Second),
		RefreshDelay:      getEnvDuration("REFRESH_DELAY", time.Second),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", time.Second),
	}
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quartissimo-token"
	}
	return filepath.Join(home, ".quartissimo", "token")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
