package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New creates a zap logger. "dev" and "development" get the console
// encoder at debug level; anything else gets production JSON.
func New(env string) *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		logger = zap.NewExample()
	}
	return logger.Sugar()
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
