package logger

import (
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"

    "github.com/unclebandit/portal-dispatch/internal/config"
)

// New builds the process logger from the log section of the config.
func New(cfg config.LogConfig) (*zap.Logger, error) {
    zcfg := zap.NewProductionConfig()
    if cfg.Development {
        zcfg = zap.NewDevelopmentConfig()
    }

    level, err := zapcore.ParseLevel(cfg.Level)
    if err != nil {
        return nil, err
    }
    zcfg.Level = zap.NewAtomicLevelAt(level)

    return zcfg.Build()
}

// Email returns a zap field with the address masked.
func Email(email string) zap.Field {
    return zap.String("email", RedactEmail(email))
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" -> "jo***@example.com"
func RedactEmail(email string) string {
    parts := strings.Split(email, "@")
    if len(parts) != 2 {
        return "***@***"
    }
    name := parts[0]
    if len(name) > 2 {
        return name[:2] + "***@" + parts[1]
    }
    return "***@" + parts[1]
}
