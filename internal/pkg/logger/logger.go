package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with fraud-pipeline-specific functionality
type Logger struct {
	*zap.Logger
	serviceName string
}

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// NewNop returns a no-op logger for tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "test"}
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithTransaction returns a logger with transaction context
func (l *Logger) WithTransaction(txID, userID string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("transaction_id", txID),
			zap.String("user_id", userID),
		),
		serviceName: l.serviceName,
	}
}

// TransactionScored logs a completed scoring decision
func (l *Logger) TransactionScored(txID string, anomalyScore, fraudProbability float64, durationMs int64) {
	l.Info("transaction scored",
		zap.String("transaction_id", txID),
		zap.Float64("anomaly_score", anomalyScore),
		zap.Float64("fraud_probability", fraudProbability),
		zap.Int64("duration_ms", durationMs),
	)
}

// AlertCreated logs alert creation
func (l *Logger) AlertCreated(alertID, txID, userID, tier string, fraudProbability float64) {
	l.Warn("fraud alert created",
		zap.String("alert_id", alertID),
		zap.String("transaction_id", txID),
		zap.String("user_id", userID),
		zap.String("risk_tier", tier),
		zap.Float64("fraud_probability", fraudProbability),
	)
}

// AlertStatusChanged logs an operator status transition
func (l *Logger) AlertStatusChanged(txID, from, to string) {
	l.Info("alert status changed",
		zap.String("transaction_id", txID),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// DeadLettered logs routing of a transaction to the dead-letter topic
func (l *Logger) DeadLettered(txID, reason string, attempts int) {
	l.Error("transaction dead-lettered",
		zap.String("transaction_id", txID),
		zap.String("reason", reason),
		zap.Int("attempts", attempts),
	)
}

// ProfileEvicted logs removal of an idle user profile
func (l *Logger) ProfileEvicted(userID, reason string) {
	l.Debug("user profile evicted",
		zap.String("user_id", userID),
		zap.String("reason", reason),
	)
}

// LatencyWarning logs when an operation exceeds its latency budget
func (l *Logger) LatencyWarning(operation string, durationMs, thresholdMs int64) {
	l.Warn("latency threshold exceeded",
		zap.String("operation", operation),
		zap.Int64("duration_ms", durationMs),
		zap.Int64("threshold_ms", thresholdMs),
	)
}

// Helper field functions

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// DurationField creates a duration field
func DurationField(name string, d time.Duration) zap.Field {
	return zap.Duration(name, d)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Float64Field creates a float64 field
func Float64Field(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}
