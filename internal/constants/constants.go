// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Queue capacity constants
const (
	// SingleQueueCapacity is the number of tracked files in single mode
	SingleQueueCapacity = 1

	// BatchQueueCapacity is the maximum number of tracked files in batch mode.
	// The anonymization service rejects batches larger than this.
	BatchQueueCapacity = 10
)

// Anonymization parameter bounds
const (
	// MinIntensity is the lowest accepted anonymization intensity
	MinIntensity = 10

	// MaxIntensity is the highest accepted anonymization intensity
	MaxIntensity = 100

	// DefaultIntensity is the service default when none is supplied
	DefaultIntensity = 51
)

// File handling constants
const (
	// MaxUploadSize is the maximum multipart upload size in bytes (100MB)
	MaxUploadSize = 100 << 20

	// AnonymizedPrefix is prepended to original filenames for downloads
	AnonymizedPrefix = "anonymized_"
)
