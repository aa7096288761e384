// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - console output (stderr by default) and an optional OTEL log bridge
//   - context field injection (trace_id, span_id, request.id, run.id, collection)
//   - redaction of sensitive keys and credential-shaped values
//   - per-level sampling; Error and above are never sampled
//
// Usage:
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "batch ingested", zap.Int("inserted", n))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
