package imaging

import (
	"image"
	"math"
)

// ROIToCorners converts an [x, y, w, h] region to [x1, y1, x2, y2] corner format.
func ROIToCorners(roi []float64) []float64 {
	if len(roi) != 4 {
		return roi
	}
	return []float64{roi[0], roi[1], roi[0] + roi[2], roi[1] + roi[3]}
}

// ClampRect rounds a [x1, y1, x2, y2] box outward to whole pixels and intersects it with bounds.
func ClampRect(corners []float64, bounds image.Rectangle) image.Rectangle {
	if len(corners) != 4 {
		return image.Rectangle{}
	}
	r := image.Rect(
		int(math.Floor(corners[0])),
		int(math.Floor(corners[1])),
		int(math.Ceil(corners[2])),
		int(math.Ceil(corners[3])),
	)
	return r.Intersect(bounds)
}

// Area returns the area of an [x, y, w, h] region, or 0 when malformed.
func Area(roi []float64) float64 {
	if len(roi) != 4 || roi[2] <= 0 || roi[3] <= 0 {
		return 0
	}
	return roi[2] * roi[3]
}
