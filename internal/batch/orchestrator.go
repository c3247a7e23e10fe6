package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/facecheck/internal/constants"
	"github.com/kozaktomas/facecheck/internal/logging"
	"github.com/kozaktomas/facecheck/internal/matcher"
	"github.com/kozaktomas/facecheck/internal/pairing"
)

// PairSelector chooses the passport and selfie inside a subject folder.
type PairSelector interface {
	Select(dir string) (*pairing.ImagePair, error)
}

// MatchInvoker compares a passport with a selfie.
type MatchInvoker interface {
	Invoke(ctx context.Context, subjectID string, passport, selfie []byte) (*matcher.Outcome, error)
}

// Orchestrator processes subjects with a bounded worker pool.
type Orchestrator struct {
	Selector    PairSelector
	Invoker     MatchInvoker
	Concurrency int
	// ReadFile loads image bytes. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
	// OnProgress is called after every finished subject. It may be called from several goroutines.
	OnProgress func(completed, total int)
	Logger     *zap.Logger

	completed atomic.Int64
}

// Completed returns the number of subjects finished so far.
func (o *Orchestrator) Completed() int {
	return int(o.completed.Load())
}

// Run processes subjects and returns their records in input order.
// Once ctx is cancelled no further subjects are started; subjects already running
// finish, bounded by the invoker timeout, and the returned slice holds only the
// records that were produced.
func (o *Orchestrator) Run(ctx context.Context, subjects []Subject) []Record {
	o.completed.Store(0)

	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = constants.DefaultConcurrency
	}

	slots := make([]*Record, len(subjects))
	total := len(subjects)

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, subject := range subjects {
		if ctx.Err() != nil {
			break
		}
		i, subject := i, subject
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rec := o.processSubject(context.WithoutCancel(ctx), subject)
			slots[i] = &rec

			done := int(o.completed.Add(1))
			if o.OnProgress != nil {
				o.OnProgress(done, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]Record, 0, len(subjects))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records
}

// processSubject turns every failure into a status so one subject never affects another.
func (o *Orchestrator) processSubject(ctx context.Context, subject Subject) Record {
	logger := logging.WithOperation(o.logger(), "batch.subject", subject.ID)
	rec := Record{SubjectID: subject.ID}

	pair, err := o.Selector.Select(subject.Dir)
	if err != nil {
		var failure *pairing.PairingFailure
		if errors.As(err, &failure) {
			logger.Info("subject skipped", zap.String("reason", failure.Reason))
			rec.Status = Skipped(failure.Reason)
			return rec
		}
		logger.Warn("subject folder unreadable", zap.Error(err))
		rec.Status = Errored(err.Error())
		return rec
	}
	rec.PassportPath = pair.Passport.Path
	rec.SelfiePath = pair.Selfie.Path

	passport, err := o.readFile(pair.Passport.Path)
	if err != nil {
		logger.Warn("failed to read passport image", zap.Error(err))
		rec.Status = Errored(fmt.Sprintf("cannot read %s", pair.Passport.Name))
		return rec
	}
	selfie, err := o.readFile(pair.Selfie.Path)
	if err != nil {
		logger.Warn("failed to read selfie image", zap.Error(err))
		rec.Status = Errored(fmt.Sprintf("cannot read %s", pair.Selfie.Name))
		return rec
	}

	outcome, err := o.Invoker.Invoke(ctx, subject.ID, passport, selfie)
	if err != nil {
		detail := err.Error()
		var invErr *matcher.InvocationError
		if errors.As(err, &invErr) {
			detail = invErr.Detail
		}
		logger.Warn("match failed", zap.Error(err))
		rec.Status = Errored(detail)
		return rec
	}

	logger.Debug("subject matched",
		zap.Float64("similarity", outcome.Similarity),
		zap.Bool("match", outcome.Match),
	)
	rec.Outcome = outcome
	rec.Status = StatusOK
	return rec
}

func (o *Orchestrator) readFile(path string) ([]byte, error) {
	if o.ReadFile != nil {
		return o.ReadFile(path)
	}
	return os.ReadFile(path)
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
