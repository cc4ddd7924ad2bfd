/*
Package log provides structured logging for Forager using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initializing the Logger:

	import "github.com/cuemby/forager/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("run started")
	log.Warn("rate limit approaching")
	log.Error("failed to open bundle")

Structured Logging:

	log.Logger.Info().
		Str("bid", ref.BID).
		Int("resources", ref.ResourcesCount).
		Msg("bundle closed")

Component Loggers:

	fetcherLog := log.WithComponent("fetcher")
	fetcherLog.Info().Str("run_id", runID).Msg("starting workers")

	locatorLog := log.WithLocator("paginated-api").
		With().Str("run_id", runID).Logger()
	locatorLog.Debug().Str("cursor", cursor).Msg("advancing cursor")

# Integration Points

This package integrates with:

  - pkg/fetcher: run lifecycle, worker errors, termination
  - pkg/locator: cursor advancement, queue state, error records
  - pkg/loader: per-request fetch outcomes
  - pkg/protocol: rate-limit waits, retries, gate delays
  - pkg/storage: bundle open/close, decorator fallbacks

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data (.Str, .Int, .Err)
  - Create component-specific loggers
  - Include context (run ID, locator name, bundle ID)

Don't:
  - Log credentials or tokens
  - Use Debug level in production
  - Log in tight per-byte loops
*/
package log
