// Package config provides configuration loading for the Port Daddy daemon.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the daemon reads from its environment.
type Config struct {
	// Store settings
	DBPath string

	// Transport settings
	SocketPath string
	HTTPHost   string
	HTTPPort   int

	// Port allocator settings
	PortRangeMin  int
	PortRangeMax  int
	ReservedPorts []int

	// Agent liveness settings
	AgentTTL              time.Duration
	StaleAfter            time.Duration
	DeadAfter             time.Duration
	ResurrectionRetention time.Duration

	// Lock settings
	LockDefaultTTL time.Duration
	LockMaxTTL     time.Duration

	// Janitor settings
	JanitorInterval time.Duration

	// Activity log settings
	ActivityLogCap    int
	ActivityRetention time.Duration

	// Webhook settings
	WebhookQueueCap int
	WebhookMax      int

	// Request settings
	RequestTimeout     time.Duration
	LongPollMaxTimeout time.Duration
}

// Load reads configuration from environment variables, defaulting every
// field per spec so the daemon runs out of the box with no configuration.
func Load() *Config {
	return &Config{
		DBPath: getEnv("PORT_DADDY_DB", "./port-registry.db"),

		SocketPath: getEnv("PORT_DADDY_SOCKET", "/tmp/port-daddy.sock"),
		HTTPHost:   getEnv("PORT_DADDY_HTTP_HOST", "127.0.0.1"),
		HTTPPort:   getEnvInt("PORT_DADDY_HTTP_PORT", 9876),

		PortRangeMin:  getEnvInt("PORT_DADDY_PORT_RANGE_MIN", 3100),
		PortRangeMax:  getEnvInt("PORT_DADDY_PORT_RANGE_MAX", 9999),
		ReservedPorts: getEnvIntSlice("PORT_DADDY_RESERVED_PORTS", []int{8080, 8000}),

		AgentTTL:              getEnvDuration("PORT_DADDY_AGENT_TTL", 2*time.Minute),
		StaleAfter:            getEnvDuration("PORT_DADDY_STALE_AFTER", 10*time.Minute),
		DeadAfter:             getEnvDuration("PORT_DADDY_DEAD_AFTER", 20*time.Minute),
		ResurrectionRetention: getEnvDuration("PORT_DADDY_RESURRECTION_RETENTION", 168*time.Hour),

		LockDefaultTTL: getEnvDuration("PORT_DADDY_LOCK_DEFAULT_TTL", 5*time.Minute),
		LockMaxTTL:     getEnvDuration("PORT_DADDY_LOCK_MAX_TTL", 1*time.Hour),

		JanitorInterval: getEnvDuration("PORT_DADDY_JANITOR_INTERVAL", 5*time.Second),

		ActivityLogCap:    getEnvInt("PORT_DADDY_ACTIVITY_LOG_CAP", 10000),
		ActivityRetention: getEnvDuration("PORT_DADDY_ACTIVITY_RETENTION", 168*time.Hour),

		WebhookQueueCap: getEnvInt("PORT_DADDY_WEBHOOK_QUEUE_CAP", 10000),
		WebhookMax:      getEnvInt("PORT_DADDY_WEBHOOK_MAX", 100),

		RequestTimeout:     getEnvDuration("PORT_DADDY_REQUEST_TIMEOUT", 5*time.Second),
		LongPollMaxTimeout: getEnvDuration("PORT_DADDY_LONGPOLL_MAX_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

// getEnvIntSlice returns a slice of ints from a comma-separated environment
// variable, e.g. PORT_DADDY_RESERVED_PORTS=8080,8000,9000.
func getEnvIntSlice(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if i, err := strconv.Atoi(trimmed); err == nil {
			result = append(result, i)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
