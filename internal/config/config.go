package config

import (
	"fmt"
	"os"
	"strconv"

	"librarian/internal/ledger"
)

// Config holds the application configuration.
type Config struct {
	// HTTP server
	Port string

	// SQLite configuration
	SQLitePath string

	// Lending rules. Defaults preserve the classic values: a 14 day loan
	// period and 10 currency units of fine per overdue day.
	LoanPeriodDays int
	FinePerDay     int64

	UseMockDB bool

	// DevLogging switches zap to its development encoder.
	DevLogging bool
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	config.Port = os.Getenv("PORT")
	if config.Port == "" {
		config.Port = "8080"
	}

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"

	// SQLite path (required if not using mock)
	if !config.UseMockDB {
		config.SQLitePath = os.Getenv("SQLITE_PATH")
		if config.SQLitePath == "" {
			config.SQLitePath = "data/librarian.db"
		}
	}

	config.LoanPeriodDays = ledger.DefaultLoanPeriodDays
	if v := os.Getenv("LOAN_PERIOD_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid LOAN_PERIOD_DAYS: %s", v)
		}
		config.LoanPeriodDays = days
	}

	config.FinePerDay = ledger.DefaultFinePerDay
	if v := os.Getenv("FINE_PER_DAY"); v != "" {
		rate, err := strconv.ParseInt(v, 10, 64)
		if err != nil || rate < 0 {
			return nil, fmt.Errorf("invalid FINE_PER_DAY: %s", v)
		}
		config.FinePerDay = rate
	}

	config.DevLogging = os.Getenv("DEV_LOGGING") == "true"

	return config, nil
}
