// Package logger wraps zerolog behind a small structured logging interface.
//
// Console output is colored and goes to stderr; with Format "json" each
// entry is a JSON line. A log file, when configured, receives a copy of
// every entry.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	logger.WithField("query", "cats").Info("Search started")
//
// Components take a Logger in their constructor; tests pass a TestLogger
// and assert on the captured messages.
package logger
