// Package logger wraps zap with a global sugared logger and context helpers.
//
// Pipeline stages take a context and log through it, so a caller can scope
// every message of one export with WithName and WithKV.
package logger
