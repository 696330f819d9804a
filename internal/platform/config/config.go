package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr              string
	DatabaseURL       string
	Redis             RedisConfig
	Kafka             KafkaConfig
	JWTSigningKey     string
	QuestionnairePath string
	AutoMigrate       bool
	MigrationsDir     string
}

// RedisConfig configures the optional profile read cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ProfileTTL   time.Duration
}

// KafkaConfig configures the optional audit event sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	addr := os.Getenv("FOLIO_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "folio.review.audit"
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "./migrations"
	}

	return Config{
		Addr:        addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			ProfileTTL:   5 * time.Minute,
		},
		Kafka:             KafkaConfig{Brokers: brokers, Topic: topic},
		JWTSigningKey:     jwtSigningKey,
		QuestionnairePath: os.Getenv("QUESTIONNAIRE_PATH"),
		AutoMigrate:       os.Getenv("AUTO_MIGRATE") != "false",
		MigrationsDir:     migrationsDir,
	}
}
