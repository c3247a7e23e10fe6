package matcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facecheck/internal/logging"
)

// Mode selects how multiple face comparisons are reduced to one similarity.
type Mode string

const (
	// ModeSingle uses the first comparison result.
	ModeSingle Mode = "single"
	// ModeBest compares all detected faces and keeps the highest similarity.
	ModeBest Mode = "best"
)

// ParseMode validates a mode name. Empty means ModeSingle.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeBest:
		return ModeBest, nil
	default:
		return "", fmt.Errorf("unknown match mode %q (supported: single, best)", s)
	}
}

// ReasonOK is the reason of a successful match.
const ReasonOK = "ok"

// Outcome is the normalized result of one match call.
type Outcome struct {
	Similarity  float64
	Match       bool
	Reason      string
	Threshold   float64
	Comparisons int
}

// InvocationError is a failed match call. Detail is what ends up in the report status.
type InvocationError struct {
	Detail string
	Err    error
}

func (e *InvocationError) Error() string {
	return e.Detail
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// DetailTimeout is reported when the service does not answer within the per-call timeout.
const DetailTimeout = "timeout"

// Invoker wraps a single call to the face service and applies the threshold policy.
type Invoker struct {
	Service   Service
	Threshold float64
	Timeout   time.Duration
	Mode      Mode
	Crops     CropSink
	SaveCrops bool
	Logger    *zap.Logger
}

// Invoke compares the two images. The returned error is always an *InvocationError.
func (inv *Invoker) Invoke(ctx context.Context, subjectID string, passport, selfie []byte) (*Outcome, error) {
	callCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmp, err := inv.Service.Compare(callCtx, CompareRequest{
		Passport:  passport,
		Selfie:    selfie,
		DetectAll: inv.Mode == ModeBest,
	})
	if err == nil && (cmp == nil || len(cmp.Similarities) == 0) {
		err = errors.New("no face comparisons returned")
	}
	if err != nil {
		return nil, toInvocationError(callCtx, err)
	}

	outcome := Decide(inv.reduce(cmp.Similarities), inv.Threshold, len(cmp.Similarities), inv.Mode)

	if inv.SaveCrops && inv.Crops != nil {
		inv.saveCrops(ctx, subjectID, passport, selfie)
	}

	return outcome, nil
}

func (inv *Invoker) reduce(similarities []float64) float64 {
	if inv.Mode != ModeBest {
		return Normalize(similarities[0])
	}
	best := 0.0
	for _, s := range similarities {
		best = max(best, Normalize(s))
	}
	return best
}

// saveCrops fetches and stores both face crops. Failures are logged, never returned.
func (inv *Invoker) saveCrops(ctx context.Context, subjectID string, passport, selfie []byte) {
	logger := inv.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opLogger := logging.WithOperation(logger, "matcher.save_crops", subjectID)

	for _, item := range []struct {
		role string
		data []byte
	}{
		{"passport", passport},
		{"selfie", selfie},
	} {
		cropCtx := ctx
		var cancel context.CancelFunc = func() {}
		if inv.Timeout > 0 {
			cropCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		}
		crop, err := inv.Service.Crop(cropCtx, item.data)
		cancel()
		if err != nil {
			opLogger.Warn("face crop failed", zap.String("role", item.role), zap.Error(err))
			continue
		}
		if err := inv.Crops.SaveCrop(subjectID, item.role, crop); err != nil {
			opLogger.Warn("saving face crop failed", zap.String("role", item.role), zap.Error(err))
		}
	}
}

// Normalize maps a raw service similarity to [0, 1].
// Values above 1 and up to 100 are treated as percentages.
func Normalize(raw float64) float64 {
	if raw > 1 && raw <= 100 {
		raw /= 100
	}
	return min(max(raw, 0), 1)
}

// Decide applies the threshold to a normalized similarity.
func Decide(similarity, threshold float64, comparisons int, mode Mode) *Outcome {
	match := similarity >= threshold
	reason := ReasonOK
	if !match {
		reason = "below threshold " + strconv.FormatFloat(threshold, 'f', -1, 64)
	}
	if mode == ModeBest && comparisons > 1 {
		reason = fmt.Sprintf("%s (best of %d face comparisons)", reason, comparisons)
	}
	return &Outcome{
		Similarity:  similarity,
		Match:       match,
		Reason:      reason,
		Threshold:   threshold,
		Comparisons: comparisons,
	}
}

func toInvocationError(callCtx context.Context, err error) *InvocationError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &InvocationError{Detail: DetailTimeout, Err: err}
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr
	}
	return &InvocationError{Detail: err.Error(), Err: err}
}
