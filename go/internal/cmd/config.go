package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/racesync/go/internal/race"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var defaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
}

// ServeConfig is the gateway process configuration
type ServeConfig struct {
	Port           string
	AllowedOrigins []string
	NATSURL        string
	EventQueueSize int
	SendBufferSize int
	PingInterval   time.Duration
}

func loadServeConfig() ServeConfig {
	return ServeConfig{
		Port:           getEnv("PORT", "3001"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", defaultAllowedOrigins),
		NATSURL:        getEnv("NATS_URL", ""),
		EventQueueSize: getEnvAsInt("EVENT_QUEUE_SIZE", 1024),
		SendBufferSize: getEnvAsInt("SEND_BUFFER_SIZE", 256),
		PingInterval:   getEnvAsDuration("PING_INTERVAL", 30*time.Second),
	}
}

// loadTrack reads RACE_TRACK_FILE when set, otherwise the built-in track
func loadTrack() (race.Track, error) {
	path := getEnv("RACE_TRACK_FILE", "")
	if path == "" {
		return race.DefaultTrack(), nil
	}
	return race.LoadTrack(path)
}

func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
