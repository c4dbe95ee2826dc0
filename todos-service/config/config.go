package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chepyr/go-todo-service/todos-service/paging"
)

const (
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ServerPort string
	LogLevel   string

	Store            string
	TodosTable       string
	AWSRegion        string
	DynamoDBEndpoint string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	SQLitePath       string

	AttachmentBucket    string
	S3Endpoint          string
	SignedURLExpiration time.Duration

	JWKSURL      string
	JWKSCacheTTL time.Duration

	DefaultPageLimit int
	AllowedOrigins   []string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT_TODOS", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Store:            strings.ToLower(getEnv("TODO_STORE", StoreDynamoDB)),
		TodosTable:       getEnv("TODOS_TABLE", "todos"),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		DynamoDBEndpoint: os.Getenv("DYNAMODB_ENDPOINT"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		SQLitePath:       getEnv("SQLITE_PATH", "todos.db"),
		AttachmentBucket: os.Getenv("ATTACHMENT_S3_BUCKET"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		JWKSURL:          os.Getenv("JWKS_URL"),
		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.SignedURLExpiration, err = getSeconds("SIGNED_URL_EXPIRATION", 300); err != nil {
		return nil, err
	}
	if cfg.JWKSCacheTTL, err = getDuration("JWKS_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DefaultPageLimit, err = getInt("DEFAULT_PAGE_LIMIT", 9); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	required := map[string]string{
		"JWKS_URL":             c.JWKSURL,
		"ATTACHMENT_S3_BUCKET": c.AttachmentBucket,
		"TODOS_TABLE":          c.TodosTable,
	}
	switch c.Store {
	case StoreDynamoDB:
		required["AWS_REGION"] = c.AWSRegion
	case StorePostgres:
		required["POSTGRES_USER"] = c.PostgresUser
		required["POSTGRES_PASSWORD"] = c.PostgresPassword
		required["POSTGRES_DB"] = c.PostgresDB
	case StoreSQLite:
		required["SQLITE_PATH"] = c.SQLitePath
	default:
		return fmt.Errorf("unknown TODO_STORE %q", c.Store)
	}

	for env, value := range required {
		if value == "" {
			return fmt.Errorf("environment variable %s must be set", env)
		}
	}
	if c.DefaultPageLimit <= 0 || c.DefaultPageLimit > paging.MaxLimit {
		return fmt.Errorf("DEFAULT_PAGE_LIMIT must be between 1 and %d, got %d", paging.MaxLimit, c.DefaultPageLimit)
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getSeconds(key string, fallback int) (time.Duration, error) {
	n, err := getInt(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
