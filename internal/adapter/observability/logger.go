package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/dex-order-engine/internal/config"
)

// SetupLogger builds the process-wide JSON logger, tagged with the service
// name and environment. Dev runs at debug with source locations; test logs
// warnings and above.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch {
	case cfg.IsDev():
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	case cfg.IsTest():
		opts.Level = slog.LevelWarn
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
