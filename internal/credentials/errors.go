package credentials

import "errors"

var (
	// ErrNotConfigured signals that the user has not stored an aggregator key.
	ErrNotConfigured = errors.New("aggregator credentials not configured")
	// ErrEmptyKey rejects blank API keys.
	ErrEmptyKey = errors.New("api key is required")
	// ErrSealingDisabled is returned when no sealing key was configured.
	ErrSealingDisabled = errors.New("credential sealing key not configured")
)
