// Package faceapi is the HTTP client for the face comparison web service.
package faceapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/facecheck/internal/imaging"
	"github.com/kozaktomas/facecheck/internal/matcher"
)

const (
	defaultBaseURL = "http://localhost:41101"
	// maxErrorBody bounds how much of an error response ends up in messages.
	maxErrorBody = 512
)

// Client talks to a Regula-style Face SDK web service.
type Client struct {
	baseURL       string
	client        *http.Client
	logger        *zap.Logger
	maxUploadSize int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMaxUploadSize sets the largest image dimension uploaded; 0 disables downscaling.
func WithMaxUploadSize(px int) Option {
	return func(c *Client) { c.maxUploadSize = px }
}

// NewClient creates a new face service client.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		client:        &http.Client{},
		logger:        zap.NewNop(),
		maxUploadSize: imaging.MaxUploadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ matcher.Service = (*Client)(nil)

// Compare sends both images to /api/match and returns every similarity in result order.
func (c *Client) Compare(ctx context.Context, req matcher.CompareRequest) (*matcher.Comparison, error) {
	body := matchRequest{
		Images: []matchImage{
			{Index: 0, Type: int(matcher.SourceDocumentPrinted), Data: c.encode(req.Passport), DetectAll: req.DetectAll},
			{Index: 1, Type: int(matcher.SourceLive), Data: c.encode(req.Selfie), DetectAll: req.DetectAll},
		},
	}

	resp, err := postJSON[matchResponse](ctx, c, "/api/match", body)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, serviceError("match", resp.Code, resp.Msg)
	}
	if len(resp.Results) == 0 {
		return nil, errors.New("no faces matched")
	}

	sims := make([]float64, len(resp.Results))
	for i, r := range resp.Results {
		sims[i] = r.Similarity
	}
	return &matcher.Comparison{Similarities: sims}, nil
}

// Crop detects faces in the image and returns the crop of the largest one.
// When the service returns only a region, the crop is cut locally.
func (c *Client) Crop(ctx context.Context, image []byte) ([]byte, error) {
	resp, err := postJSON[detectResponse](ctx, c, "/api/detect", detectRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, serviceError("detect", resp.Code, resp.Msg)
	}

	det := largestDetection(resp.Results.Detections)
	if det == nil {
		return nil, errors.New("no face detected")
	}
	if det.Crop != "" {
		crop, err := base64.StdEncoding.DecodeString(det.Crop)
		if err != nil {
			return nil, fmt.Errorf("could not decode crop: %w", err)
		}
		return crop, nil
	}
	if len(det.ROI) == 4 {
		return imaging.CropROI(image, det.ROI)
	}
	return nil, errors.New("detection has neither crop nor region")
}

// largestDetection picks the detection with the biggest region, falling back to the first one.
func largestDetection(detections []Detection) *Detection {
	if len(detections) == 0 {
		return nil
	}
	best := &detections[0]
	for i := range detections[1:] {
		d := &detections[i+1]
		if imaging.Area(d.ROI) > imaging.Area(best.ROI) {
			best = d
		}
	}
	return best
}

// encode base64-encodes an image, downscaling it first when it is larger than the upload limit.
// Images that cannot be decoded locally are sent as-is and left to the service to judge.
func (c *Client) encode(data []byte) string {
	if c.maxUploadSize > 0 {
		resized, err := imaging.Downscale(data, c.maxUploadSize)
		if err != nil {
			c.logger.Debug("sending image without downscaling", zap.Error(err))
		} else {
			data = resized
		}
	}
	return base64.StdEncoding.EncodeToString(data)
}

// postJSON performs a POST request with a JSON body and unmarshals the JSON response.
func postJSON[T any](ctx context.Context, c *Client, endpoint string, requestBody any) (*T, error) {
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), maxErrorBody))
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

func serviceError(op string, code int, msg string) error {
	if msg == "" {
		return fmt.Errorf("%s rejected by service (code %d)", op, code)
	}
	return fmt.Errorf("%s rejected by service (code %d): %s", op, code, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
