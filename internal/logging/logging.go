// Package logging builds the process logger and bridges classifier
// telemetry into it.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taxonav/internal/telemetry"
)

// New returns a JSON logger on stderr. verbose lowers the level to debug.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Observer logs classifier events. Failures go to error, hallucinations
// and fallbacks to warn, everything else to debug.
func Observer(logger *zap.Logger) telemetry.Observer {
	if logger == nil {
		return telemetry.Nop
	}
	return telemetry.ObserverFunc(func(e telemetry.Event) {
		fields := []zap.Field{
			zap.String("stage", string(e.Stage)),
			zap.String("kind", string(e.Kind)),
		}
		if e.Product != "" {
			fields = append(fields, zap.String("product", truncate(e.Product, 100)))
		}
		if e.Stage == telemetry.StageLeaf {
			fields = append(fields, zap.Int("branch", e.Branch))
		}
		if e.Offered > 0 {
			fields = append(fields, zap.Int("offered", e.Offered))
		}
		if e.Accepted > 0 {
			fields = append(fields, zap.Int("accepted", e.Accepted))
		}
		if e.Rejected > 0 {
			fields = append(fields, zap.Int("rejected", e.Rejected))
		}
		if e.Label != "" {
			fields = append(fields, zap.String("label", e.Label))
		}
		if e.Detail != "" {
			fields = append(fields, zap.String("detail", e.Detail))
		}
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
		}

		switch e.Kind {
		case telemetry.Failed:
			logger.Error("classification step failed", fields...)
		case telemetry.Hallucination:
			logger.Warn("oracle named labels outside the candidate set", fields...)
		case telemetry.Degraded:
			logger.Warn("oracle unavailable, using first candidates", fields...)
		case telemetry.ParseFallback:
			logger.Warn("final answer unparseable, using first candidate", fields...)
		default:
			logger.Debug("classification step", fields...)
		}
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
