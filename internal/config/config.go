// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/aristath/alphapulse/internal/modules/analysis"
)

// scheduleParser accepts the six-field (seconds first) specs the scheduler runs.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds application configuration
type Config struct {
	DataDir        string // Directory holding history.db and backup staging (always absolute)
	Port           int
	LogLevel       string
	DevMode        bool
	RequestTimeout time.Duration

	Simulation SimulationConfig

	RetainRuns           int           // Analyses kept in memory
	PriceCacheTTL        time.Duration // How long a cached range is trusted when it reaches today
	PriceRefreshSchedule string        // Cron spec for the price refresh job; empty disables it

	Backup BackupConfig
}

// SimulationConfig holds the default analysis inputs
type SimulationConfig struct {
	Tickers           []string
	StartDate         string // YYYY-MM-DD
	HorizonDays       int
	Runs              int
	InitialInvestment float64
	Seed              uint64
	Workers           int
	Timeout           time.Duration // 0 means no limit
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Bucket          string
	Endpoint        string // Custom endpoint for R2, MinIO etc; empty uses AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
	RetentionDays   int
}

// Enabled reports whether a backup bucket is configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALPHAPULSE_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	defaults := analysis.DefaultDefaults()

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("GO_PORT", 8001),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		RequestTimeout: getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
		Simulation: SimulationConfig{
			Tickers:           getEnvAsList("DEFAULT_TICKERS", defaults.Tickers),
			StartDate:         getEnv("DEFAULT_START_DATE", defaults.Start),
			HorizonDays:       getEnvAsInt("SIM_HORIZON_DAYS", defaults.Horizon),
			Runs:              getEnvAsInt("SIM_RUNS", defaults.Runs),
			InitialInvestment: getEnvAsFloat("SIM_INITIAL_INVESTMENT", defaults.InitialInvestment),
			Seed:              getEnvAsUint64("SIM_SEED", defaults.Seed),
			Workers:           getEnvAsInt("SIM_WORKERS", defaultWorkers()),
			Timeout:           getEnvAsDuration("SIM_TIMEOUT", 0),
		},
		RetainRuns:           getEnvAsInt("ANALYSIS_RETAIN_RUNS", 20),
		PriceCacheTTL:        getEnvAsDuration("PRICE_CACHE_TTL", 12*time.Hour),
		PriceRefreshSchedule: getEnv("PRICE_REFRESH_SCHEDULE", "0 30 22 * * MON-FRI"),
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT must be between 1 and 65535, got %d", c.Port)
	}

	sim := c.Simulation
	if len(sim.Tickers) == 0 {
		return fmt.Errorf("DEFAULT_TICKERS must name at least one ticker")
	}
	if len(sim.Tickers) > analysis.MaxTickers {
		return fmt.Errorf("DEFAULT_TICKERS must not exceed %d tickers", analysis.MaxTickers)
	}
	if _, err := time.Parse("2006-01-02", sim.StartDate); err != nil {
		return fmt.Errorf("DEFAULT_START_DATE must be YYYY-MM-DD: %w", err)
	}
	if sim.HorizonDays <= 0 || sim.HorizonDays > analysis.MaxHorizon {
		return fmt.Errorf("SIM_HORIZON_DAYS must be between 1 and %d, got %d", analysis.MaxHorizon, sim.HorizonDays)
	}
	if sim.Runs <= 0 || sim.Runs > analysis.MaxRuns {
		return fmt.Errorf("SIM_RUNS must be between 1 and %d, got %d", analysis.MaxRuns, sim.Runs)
	}
	if sim.Runs*sim.HorizonDays > analysis.MaxCells {
		return fmt.Errorf("SIM_RUNS x SIM_HORIZON_DAYS must not exceed %d, got %d", analysis.MaxCells, sim.Runs*sim.HorizonDays)
	}
	if sim.InitialInvestment <= 0 || math.IsInf(sim.InitialInvestment, 0) || math.IsNaN(sim.InitialInvestment) {
		return fmt.Errorf("SIM_INITIAL_INVESTMENT must be a positive amount, got %v", sim.InitialInvestment)
	}
	if sim.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be positive, got %d", sim.Workers)
	}
	if sim.Timeout < 0 {
		return fmt.Errorf("SIM_TIMEOUT must not be negative")
	}

	if c.RetainRuns <= 0 {
		return fmt.Errorf("ANALYSIS_RETAIN_RUNS must be positive, got %d", c.RetainRuns)
	}
	if c.PriceCacheTTL < 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must not be negative")
	}
	if c.PriceRefreshSchedule != "" {
		if _, err := scheduleParser.Parse(c.PriceRefreshSchedule); err != nil {
			return fmt.Errorf("PRICE_REFRESH_SCHEDULE is invalid: %w", err)
		}
	}

	if c.Backup.Enabled() {
		if _, err := scheduleParser.Parse(c.Backup.Schedule); err != nil {
			return fmt.Errorf("BACKUP_SCHEDULE is invalid: %w", err)
		}
		if (c.Backup.AccessKeyID == "") != (c.Backup.SecretAccessKey == "") {
			return fmt.Errorf("BACKUP_S3_ACCESS_KEY_ID and BACKUP_S3_SECRET_ACCESS_KEY must be set together")
		}
		if c.Backup.RetentionDays < 0 {
			return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative")
		}
	}

	return nil
}

// AnalysisDefaults converts the simulation settings into analysis defaults.
func (c *Config) AnalysisDefaults() analysis.Defaults {
	sim := c.Simulation
	return analysis.Defaults{
		Tickers:           append([]string(nil), sim.Tickers...),
		Start:             sim.StartDate,
		Horizon:           sim.HorizonDays,
		Runs:              sim.Runs,
		InitialInvestment: sim.InitialInvestment,
		Seed:              sim.Seed,
		Workers:           sim.Workers,
		Timeout:           sim.Timeout,
	}
}

// HistoryDBPath returns the location of the price cache database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// BackupStagingDir returns where backup archives are assembled before upload.
func (c *Config) BackupStagingDir() string {
	return filepath.Join(c.DataDir, "backup-staging")
}

// defaultWorkers uses the physical core count, falling back to logical CPUs.
func defaultWorkers() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
