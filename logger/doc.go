// Package logger provides structured logging capabilities.
//
// The logger package builds the application's zap logger from the
// logging section of the configuration.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("Application started")
package logger
