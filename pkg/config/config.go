// Copyright 2025 Certen Protocol
//
// Package config loads the relayer's process-wide configuration from
// environment variables and the per-chain configuration registry from
// YAML files on disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration for the relayer service.
type Config struct {
	// Chain registry
	ChainConfigDir   string   // directory containing one YAML file per chain
	SupportedChains  []string // empty => load all known chains from ChainConfigDir

	// Server configuration
	ListenAddr  string
	HealthAddr  string
	MetricsAddr string

	// Database configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	// Attestation API
	AttestationAPIBase string
	AttestationTimeout time.Duration

	// Scheduler cadence
	InitializePassInterval time.Duration
	FinalizePassInterval   time.Duration
	BridgingPassInterval   time.Duration
	RedemptionVaaInterval  time.Duration
	RedemptionL1Interval   time.Duration
	PastDepositScanInterval time.Duration
	RetryInterval           time.Duration // default 5 min, per lastActivityAt filtering

	// Worker pool
	WorkerPoolSize int

	// Firestore audit mirror (optional)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	LogLevel string
}

// Load reads configuration from environment variables. Call Validate()
// afterwards before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ChainConfigDir:  getEnv("CHAIN_CONFIG_DIR", "./config/chains"),
		SupportedChains: parseCommaList(getEnv("SUPPORTED_CHAINS", "")),

		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		HealthAddr:  getEnv("HEALTH_ADDR", "0.0.0.0:8081"),
		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		AttestationAPIBase: getEnv("ATTESTATION_API_BASE", ""),
		AttestationTimeout: getEnvDuration("ATTESTATION_TIMEOUT", 10*time.Minute),

		InitializePassInterval:  getEnvDuration("INITIALIZE_PASS_INTERVAL", 30*time.Second),
		FinalizePassInterval:    getEnvDuration("FINALIZE_PASS_INTERVAL", 30*time.Second),
		BridgingPassInterval:    getEnvDuration("BRIDGING_PASS_INTERVAL", 60*time.Second),
		RedemptionVaaInterval:   getEnvDuration("REDEMPTION_VAA_INTERVAL", 60*time.Second),
		RedemptionL1Interval:    getEnvDuration("REDEMPTION_L1_INTERVAL", 60*time.Second),
		PastDepositScanInterval: getEnvDuration("PAST_DEPOSIT_SCAN_INTERVAL", 10*time.Minute),
		RetryInterval:           getEnvDuration("RETRY_INTERVAL", 5*time.Minute),

		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 16),

		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present, collecting
// every failure into one joined error before returning.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.ChainConfigDir == "" {
		errs = append(errs, "CHAIN_CONFIG_DIR is required but not set")
	}
	if c.AttestationAPIBase == "" {
		errs = append(errs, "ATTESTATION_API_BASE is required but not set")
	}
	if c.WorkerPoolSize <= 0 {
		errs = append(errs, "WORKER_POOL_SIZE must be positive")
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, "RETRY_INTERVAL must be positive")
	}
	if c.FirestoreEnabled && c.FirebaseProjectID == "" {
		errs = append(errs, "FIREBASE_PROJECT_ID is required when FIRESTORE_ENABLED is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func parseCommaList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
