package faceapi

// matchImage is one image in a match request.
type matchImage struct {
	Index     int    `json:"index"`
	Type      int    `json:"type"`
	Data      string `json:"data"`
	DetectAll bool   `json:"detectAll,omitempty"`
}

// matchRequest is the body of POST /api/match.
type matchRequest struct {
	Images     []matchImage `json:"images"`
	Thumbnails bool         `json:"thumbnails,omitempty"`
}

// MatchResult is one face-to-face comparison.
type MatchResult struct {
	FirstIndex      int     `json:"firstIndex"`
	FirstFaceIndex  int     `json:"firstFaceIndex"`
	SecondIndex     int     `json:"secondIndex"`
	SecondFaceIndex int     `json:"secondFaceIndex"`
	Score           float64 `json:"score"`
	Similarity      float64 `json:"similarity"`
}

// matchResponse is the body returned by POST /api/match.
type matchResponse struct {
	Code    int           `json:"code"`
	Msg     string        `json:"msg,omitempty"`
	Results []MatchResult `json:"results"`
}

// detectRequest is the body of POST /api/detect.
type detectRequest struct {
	Image string `json:"image"`
}

// Detection is one face found by POST /api/detect.
type Detection struct {
	Crop    string    `json:"crop,omitempty"`
	ROI     []float64 `json:"roi,omitempty"` // [x, y, w, h] in pixels
	Quality *struct {
		Score float64 `json:"score"`
	} `json:"quality,omitempty"`
}

// detectResponse is the body returned by POST /api/detect.
type detectResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg,omitempty"`
	Results struct {
		Detections []Detection `json:"detections"`
	} `json:"results"`
}
