package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
)

// SetupLogger builds the process-wide JSON logger: debug level in dev, warn
// under APP_ENV=test so fixtures stay quiet, info everywhere else. Every
// record carries the service name and environment.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case cfg.IsDev():
		level = slog.LevelDebug
	case cfg.IsTest():
		level = slog.LevelWarn
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
