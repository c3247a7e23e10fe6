// Package matcher turns a face-comparison call into a thresholded match decision.
package matcher

import "context"

// ImageSource hints the face service about where an image came from.
type ImageSource int

const (
	SourceDocumentPrinted ImageSource = 1
	SourceLive            ImageSource = 3
)

// CompareRequest is one passport/selfie comparison.
type CompareRequest struct {
	Passport []byte
	Selfie   []byte
	// DetectAll asks the service to compare every detected face, not just the most prominent one.
	DetectAll bool
}

// Comparison is the raw answer of the face service.
// Similarities holds one score per face comparison in the order the service returned them.
type Comparison struct {
	Similarities []float64
}

// Service is the external face matching capability.
type Service interface {
	Compare(ctx context.Context, req CompareRequest) (*Comparison, error)
	// Crop returns the aligned crop of the most prominent face in the image.
	Crop(ctx context.Context, image []byte) ([]byte, error)
}

// CropSink stores face crops produced during matching.
type CropSink interface {
	SaveCrop(subjectID, role string, data []byte) error
}
