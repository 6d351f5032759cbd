package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds all environment-derived settings. It is built once at process
// start and passed into the provider adapter and the ingestion pipeline, so
// nothing downstream reads the environment directly.
type Config struct {
	Port        string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	JWTSecret   string
	Environment string

	// Market data provider
	VendorAPIKey  string
	VendorBaseURL string

	// Ingestion pacing. The external provider enforces per-minute call
	// budgets, so these are tunable rather than hard-coded.
	BulkBatchSize    int
	BulkBatchDelayMS int
	ChunkSize        int
	CallDelayMS      int
	ChunkDelayMS     int
	ChartBatchSize   int
	ChartYears       int

	// Daily scheduled ingestion time (UTC, HH:MM)
	IngestScheduleAt string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "watchlist_db"),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),
		Environment: getEnv("ENVIRONMENT", "development"),

		VendorAPIKey:  getEnv("VENDOR_API_KEY", ""),
		VendorBaseURL: getEnv("VENDOR_BASE_URL", "https://www.alphavantage.co"),

		BulkBatchSize:    getEnvInt("INGEST_BULK_BATCH_SIZE", 100),
		BulkBatchDelayMS: getEnvInt("INGEST_BULK_BATCH_DELAY_MS", 500),
		ChunkSize:        getEnvInt("INGEST_CHUNK_SIZE", 5),
		CallDelayMS:      getEnvInt("INGEST_CALL_DELAY_MS", 200),
		ChunkDelayMS:     getEnvInt("INGEST_CHUNK_DELAY_MS", 1000),
		ChartBatchSize:   getEnvInt("INGEST_CHART_BATCH_SIZE", 1000),
		ChartYears:       getEnvInt("INGEST_CHART_YEARS", 5),

		IngestScheduleAt: getEnv("INGEST_SCHEDULE_AT", "21:30"),
	}

	if config.VendorAPIKey == "" {
		log.Println("Warning: VENDOR_API_KEY not set, market data fetches will fail")
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=UTC",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
