// Package logger provides a structured logging interface for landscraper.
//
// It wraps zerolog and offers:
//   - human readable, colored console output
//   - JSON lines in a per-run file, readable by the watchdog
//   - structured fields and error context
//   - a global logger instance plus injectable instances for components
//
// Basic Usage:
//
//	cfg := &config.LoggingConfig{
//	    Level:   "info",
//	    File:    logger.RunLogPath("logs", "extraction", time.Now()),
//	    Console: true,
//	}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("component", "prober")
//	log.InfoWithFields("Region is valid", map[string]interface{}{
//	    "region": "12",
//	})
//
// Components accept a Logger so tests can pass NewNopLogger or NewTestLogger.
package logger
