package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facecheck/internal/matcher"
	"github.com/kozaktomas/facecheck/internal/pairing"
)

// fakeService answers by the subject id written at the start of each passport file.
type fakeService struct {
	similarity map[string]float64
	fail       map[string]error
	hang       map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeService) Compare(ctx context.Context, req matcher.CompareRequest) (*matcher.Comparison, error) {
	id, _, _ := strings.Cut(string(req.Passport), "|")
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	if f.hang[id] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return &matcher.Comparison{Similarities: []float64{f.similarity[id]}}, nil
}

func (f *fakeService) Crop(ctx context.Context, image []byte) ([]byte, error) {
	return nil, errors.New("not supported")
}

func writeImage(t *testing.T, dir, name, subjectID string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := []byte(subjectID + "|" + name + "|")
	if pad := size - len(content); pad > 0 {
		content = append(content, make([]byte, pad)...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0644))
}

// scenarioDataset builds the four reference subjects.
func scenarioDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeImage(t, filepath.Join(root, "10001"), "passport.jpg", "10001", 50*1024)
	writeImage(t, filepath.Join(root, "10001"), "selfie.jpg", "10001", 20*1024)

	writeImage(t, filepath.Join(root, "10002"), "kenya_passport.png", "10002", 4096)
	writeImage(t, filepath.Join(root, "10002"), "face_1.jpg", "10002", 8192)

	writeImage(t, filepath.Join(root, "10003"), "passport.jpg", "10003", 1024)

	writeImage(t, filepath.Join(root, "10004"), "passport.jpg", "10004", 2048)
	writeImage(t, filepath.Join(root, "10004"), "selfie.jpg", "10004", 1024)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0644))
	return root
}

func newScenarioOrchestrator(svc matcher.Service, concurrency int) *Orchestrator {
	return &Orchestrator{
		Selector: pairing.NewSelector(nil),
		Invoker: &matcher.Invoker{
			Service:   svc,
			Threshold: 0.85,
			Timeout:   50 * time.Millisecond,
		},
		Concurrency: concurrency,
	}
}

func scenarioService() *fakeService {
	return &fakeService{
		similarity: map[string]float64{"10001": 0.913, "10002": 0.712},
		hang:       map[string]bool{"10004": true},
	}
}

func TestDiscover(t *testing.T) {
	root := scenarioDataset(t)

	subjects, err := Discover(root)
	require.NoError(t, err)

	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"10001", "10002", "10003", "10004"}, ids)
	assert.Equal(t, filepath.Join(root, "10002"), subjects[1].Dir)
}

func TestDiscoverUnreadableRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRunScenarios(t *testing.T) {
	root := scenarioDataset(t)
	subjects, err := Discover(root)
	require.NoError(t, err)

	orch := newScenarioOrchestrator(scenarioService(), 1)
	records := orch.Run(context.Background(), subjects)
	require.Len(t, records, 4)

	ok := records[0]
	assert.Equal(t, "10001", ok.SubjectID)
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, filepath.Join(root, "10001", "passport.jpg"), ok.PassportPath)
	assert.Equal(t, filepath.Join(root, "10001", "selfie.jpg"), ok.SelfiePath)
	require.NotNil(t, ok.Outcome)
	assert.InDelta(t, 0.913, ok.Outcome.Similarity, 1e-9)
	assert.True(t, ok.Outcome.Match)
	assert.Equal(t, "ok", ok.Outcome.Reason)

	below := records[1]
	assert.Equal(t, StatusOK, below.Status)
	assert.Equal(t, filepath.Join(root, "10002", "kenya_passport.png"), below.PassportPath)
	assert.Equal(t, filepath.Join(root, "10002", "face_1.jpg"), below.SelfiePath)
	require.NotNil(t, below.Outcome)
	assert.False(t, below.Outcome.Match)
	assert.Equal(t, "below threshold 0.85", below.Outcome.Reason)

	skipped := records[2]
	assert.Equal(t, "skipped:not_enough_images", skipped.Status)
	assert.Nil(t, skipped.Outcome)
	assert.Empty(t, skipped.PassportPath)
	assert.Empty(t, skipped.SelfiePath)

	timedOut := records[3]
	assert.Equal(t, "error:timeout", timedOut.Status)
	assert.Nil(t, timedOut.Outcome)
	assert.NotEmpty(t, timedOut.PassportPath)

	assert.Equal(t, 4, orch.Completed())
}

func TestRunFailureIsolation(t *testing.T) {
	root := scenarioDataset(t)
	subjects, err := Discover(root)
	require.NoError(t, err)

	clean := newScenarioOrchestrator(&fakeService{similarity: map[string]float64{"10001": 0.913, "10002": 0.712, "10004": 0.9}}, 2).
		Run(context.Background(), subjects)

	broken := newScenarioOrchestrator(&fakeService{
		similarity: map[string]float64{"10001": 0.913, "10002": 0.712, "10004": 0.9},
		fail:       map[string]error{"10002": errors.New("API error (status 503): unavailable")},
	}, 2).Run(context.Background(), subjects)

	require.Len(t, broken, len(clean))
	for i := range clean {
		if clean[i].SubjectID == "10002" {
			assert.Equal(t, "error:API error (status 503): unavailable", broken[i].Status)
			continue
		}
		assert.Equal(t, clean[i], broken[i], "subject %s changed", clean[i].SubjectID)
	}
}

func TestRunOrderStableUnderConcurrency(t *testing.T) {
	root := t.TempDir()
	svc := &fakeService{similarity: map[string]float64{}}
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("%05d", 20000+i)
		writeImage(t, filepath.Join(root, id), "passport.jpg", id, 2048)
		writeImage(t, filepath.Join(root, id), "selfie.jpg", id, 1024)
		svc.similarity[id] = float64(i%10) / 10
	}
	subjects, err := Discover(root)
	require.NoError(t, err)

	orch := newScenarioOrchestrator(svc, 8)
	first := orch.Run(context.Background(), subjects)
	second := orch.Run(context.Background(), subjects)

	require.Len(t, first, len(subjects))
	for i, rec := range first {
		assert.Equal(t, subjects[i].ID, rec.SubjectID)
	}
	assert.Equal(t, first, second, "reruns over unchanged input must be identical")
}

func TestRunProgressIsMonotonic(t *testing.T) {
	root := t.TempDir()
	svc := &fakeService{similarity: map[string]float64{}}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("%05d", 30000+i)
		writeImage(t, filepath.Join(root, id), "passport.jpg", id, 2048)
		writeImage(t, filepath.Join(root, id), "selfie.jpg", id, 1024)
		svc.similarity[id] = 0.9
	}
	subjects, err := Discover(root)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []int
	orch := newScenarioOrchestrator(svc, 5)
	orch.OnProgress = func(completed, total int) {
		assert.Equal(t, 25, total)
		mu.Lock()
		seen = append(seen, completed)
		mu.Unlock()
	}
	orch.Run(context.Background(), subjects)

	require.Len(t, seen, 25)
	assert.ElementsMatch(t, seq(1, 25), seen)
	assert.Equal(t, 25, orch.Completed())
}

func TestRunStopsStartingSubjectsAfterCancel(t *testing.T) {
	root := t.TempDir()
	svc := &fakeService{similarity: map[string]float64{}}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("%05d", 40000+i)
		writeImage(t, filepath.Join(root, id), "passport.jpg", id, 2048)
		writeImage(t, filepath.Join(root, id), "selfie.jpg", id, 1024)
		svc.similarity[id] = 0.9
	}
	subjects, err := Discover(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := newScenarioOrchestrator(svc, 1)
	orch.OnProgress = func(completed, total int) {
		if completed == 3 {
			cancel()
		}
	}
	records := orch.Run(ctx, subjects)

	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, subjects[i].ID, rec.SubjectID)
		assert.Equal(t, StatusOK, rec.Status)
	}
	assert.Len(t, svc.calls, 3)
}

func TestRunInFlightSubjectSurvivesCancel(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "50000"), "passport.jpg", "50000", 2048)
	writeImage(t, filepath.Join(root, "50000"), "selfie.jpg", "50000", 1024)
	subjects, err := Discover(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := newScenarioOrchestrator(&fakeService{similarity: map[string]float64{"50000": 0.9}}, 1)
	orch.ReadFile = func(path string) ([]byte, error) {
		cancel()
		return os.ReadFile(path)
	}
	records := orch.Run(ctx, subjects)

	require.Len(t, records, 1)
	assert.Equal(t, StatusOK, records[0].Status)
}

func TestRunReadFailure(t *testing.T) {
	root := scenarioDataset(t)
	subjects, err := Discover(root)
	require.NoError(t, err)

	orch := newScenarioOrchestrator(scenarioService(), 2)
	orch.ReadFile = func(path string) ([]byte, error) {
		if filepath.Base(filepath.Dir(path)) == "10001" {
			return nil, os.ErrPermission
		}
		return os.ReadFile(path)
	}
	records := orch.Run(context.Background(), subjects[:2])

	require.Len(t, records, 2)
	assert.Equal(t, "error:cannot read passport.jpg", records[0].Status)
	assert.Equal(t, StatusOK, records[1].Status)
}

func TestSummarize(t *testing.T) {
	records := []Record{
		{SubjectID: "1", Status: StatusOK, Outcome: &matcher.Outcome{Match: true}},
		{SubjectID: "2", Status: StatusOK, Outcome: &matcher.Outcome{Match: false}},
		{SubjectID: "3", Status: Skipped(pairing.ReasonNotEnoughImages)},
		{SubjectID: "4", Status: Errored("timeout")},
		{SubjectID: "5", Status: Skipped(pairing.ReasonCantChoosePair)},
	}

	assert.Equal(t, Summary{Total: 5, OK: 2, Matched: 1, BelowThreshold: 1, Skipped: 2, Errored: 1}, Summarize(records))
}

func seq(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
