// Package constants provides shared defaults used across the codebase.
package constants

// Verification constants
const (
	// DefaultThreshold is the similarity a selfie needs to match its passport
	DefaultThreshold = 0.80

	// DefaultConcurrency is the default number of subjects processed in parallel
	DefaultConcurrency = 4

	// MaxImageSize is the maximum dimension (width or height) uploaded to the face service
	MaxImageSize = 1920
)

// Download constants
const (
	// DownloadAttempts is how many times one image URL is tried
	DownloadAttempts = 3

	// DownloadConcurrency is the default number of CSV rows downloaded in parallel
	DownloadConcurrency = 4
)

// History constants
const (
	// DefaultHistoryLimit is the default number of runs listed
	DefaultHistoryLimit = 20
)
