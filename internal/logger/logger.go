package logger

import (
	"os"

	"github.com/perpdex/keeper-gateway/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	// loggingConfig stores the current logging configuration
	loggingConfig config.LoggingConfig
)

// Init initializes the logger with the given configuration
func Init(cfg config.LoggingConfig) {
	// Store the config for later use
	loggingConfig = cfg

	// In production mode, only show errors and warnings
	var level logrus.Level
	if cfg.Production {
		level = logrus.WarnLevel
	} else {
		var err error
		level, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			logrus.Warnf("Invalid log level %s, using info", cfg.Level)
			level = logrus.InfoLevel
		}
	}
	logrus.SetLevel(level)

	// Set log format
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	logrus.SetOutput(os.Stdout)
}

// WithChain returns a logger with chain field
func WithChain(chain string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"chain": chain,
		"app":   "keeper-gateway",
	})
}

// WithEndpoint returns a logger with chain and keeper endpoint fields
func WithEndpoint(chain, endpoint string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"chain":    chain,
		"endpoint": endpoint,
		"app":      "keeper-gateway",
	})
}

// WithSymbol returns a logger with chain and token symbol fields
func WithSymbol(chain, symbol string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"chain":  chain,
		"symbol": symbol,
		"app":    "keeper-gateway",
	})
}

// ShouldLogFetchAttempts returns true if individual fetch attempts should be logged
func ShouldLogFetchAttempts() bool {
	return loggingConfig.FetchDebug
}

// IsProduction returns true if running in production mode
func IsProduction() bool {
	return loggingConfig.Production
}
