package observability

import "go.uber.org/zap"

// NewLogger builds the process-wide zap logger: production encoding for
// normal operation, development encoding (human-readable, stack traces on
// Warn+) when debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
