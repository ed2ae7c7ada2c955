// Package logging builds the zap logger shared by every process.
package logging

import "go.uber.org/zap"

// New returns a production JSON logger, or a human-friendly development
// logger when env is "dev" or "test".
func New(env string) (*zap.Logger, error) {
	if env == "dev" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
