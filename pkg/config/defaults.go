// Package config provides centralized default values for the Limi visit agent
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func init() {
	// Ensure .env is loaded before any config access
	loadEnvFile()
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvStringList reads a comma-separated environment variable
func getEnvStringList(key string, defaultValue []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// Server Configuration
var (
	Port               = getEnvString("PORT", "8090")
	ServerReadTimeout  = time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SECONDS", 15)) * time.Second
	ServerWriteTimeout = time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SECONDS", 15)) * time.Second
	ServerIdleTimeout  = time.Duration(getEnvInt("SERVER_IDLE_TIMEOUT_SECONDS", 60)) * time.Second
)

// Collector Configuration
var (
	CollectorURL    = getEnvString("COLLECTOR_URL", "https://collect.limilighting.com/api/v1/sessions")
	DispatchTimeout = time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 10)) * time.Second
	// Teardown dispatches get a much shorter window; the process is about
	// to exit and cannot wait on a slow collector.
	TeardownDispatchTimeout = time.Duration(getEnvInt("TEARDOWN_DISPATCH_TIMEOUT_SECONDS", 3)) * time.Second
)

// Tracking Configuration
var (
	// Comments in the prior implementation said 30s while the constant said
	// 300s; both knobs are tunable so the answer is operational, not baked in.
	IdleThreshold = time.Duration(getEnvInt("IDLE_THRESHOLD_SECONDS", 300)) * time.Second
	FlushInterval = time.Duration(getEnvInt("FLUSH_INTERVAL_SECONDS", 30)) * time.Second
)

// Geo Resolution Configuration
var (
	GeoProviderTimeout = time.Duration(getEnvInt("GEO_PROVIDER_TIMEOUT_SECONDS", 3)) * time.Second
	GeoCacheTTL        = time.Duration(getEnvInt("GEO_CACHE_TTL_MINUTES", 60)) * time.Minute
	GeoProviderURLs    = getEnvStringList("GEO_PROVIDER_URLS", []string{
		"https://ipapi.co/json/",
		"https://ipwho.is/",
		"https://ipinfo.io/json",
	})
	// Last-resort lookup endpoint, served next to the collector.
	GeoFallbackURL = getEnvString("GEO_FALLBACK_URL", "https://collect.limilighting.com/api/v1/geo")
)

// State Store Configuration
var (
	StateDBPath          = getEnvString("STATE_DB_PATH", "visit-state.db")
	StorageTimeout       = time.Duration(getEnvInt("STORAGE_TIMEOUT_SECONDS", 5)) * time.Second
	DBMaxOpenConns       = getEnvInt("DB_MAX_OPEN_CONNS", 2)
	DBMaxIdleConns       = getEnvInt("DB_MAX_IDLE_CONNS", 1)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)
)
