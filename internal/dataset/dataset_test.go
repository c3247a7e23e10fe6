package dataset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLayout(t *testing.T) {
	header := []string{"Maid ID", "Passport Number", "Passport Rejected Link", "Face Photo", "Face Photo.1", "Notes URL"}
	rows := [][]string{
		{"10001", "A123", "http://x/p1.jpg", "http://x/f1.jpg", "http://x/f1b.jpg", "see ticket"},
		{"10002", "B456", "http://x/p2.jpg", "", "", ""},
	}

	layout, err := DetectLayout(header, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, layout.IDColumn)
	assert.Equal(t, []int{2, 3}, layout.URLColumns, "number column, duplicate column and non-link column are ignored")
}

func TestDetectLayoutErrors(t *testing.T) {
	_, err := DetectLayout([]string{"name", "photo_url"}, [][]string{{"a", "http://x"}})
	assert.ErrorContains(t, err, "no subject id column")

	_, err = DetectLayout([]string{"id", "photo_url"}, [][]string{{"1", "n/a"}})
	assert.ErrorContains(t, err, "no image URL columns")
}

func TestImageFilename(t *testing.T) {
	tests := []struct {
		column   string
		position int
		file     string
		kind     string
	}{
		{"Passport Rejected Link", 0, "10001_passport.jpg", "passport"},
		{"Document URL", 0, "10001_passport.jpg", "passport"},
		{"Face Photo", 1, "10001_face.jpg", "face_photo"},
		{"selfie_link", 1, "10001_face.jpg", "face_photo"},
		{"Image URL", 2, "10001_image_2.jpg", "image_2"},
		{"video_url", 3, "10001_image_3.jpg", "image_3"},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			file, kind := ImageFilename("10001", tt.column, tt.position)
			assert.Equal(t, tt.file, file)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rejected_CC.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestDownloader(root string) *Downloader {
	d := NewDownloader(root, nil)
	d.RetryDelay = time.Millisecond
	d.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return d
}

func TestProcessCSV(t *testing.T) {
	var flaky atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky.jpg":
			if flaky.Add(1) < 3 {
				http.Error(w, "try again", http.StatusServiceUnavailable)
				return
			}
		case "/missing.jpg":
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("image:" + r.URL.Path))
	}))
	defer srv.Close()

	csvPath := writeCSV(t, strings.Join([]string{
		"maid_id,Passport Link,Face Photo,Comment",
		"10001," + srv.URL + "/p1.jpg," + srv.URL + "/flaky.jpg,first",
		"10002," + srv.URL + "/p2.jpg," + srv.URL + "/missing.jpg,second",
		"10003,,,no images",
		",http://x/p.jpg,,no id",
	}, "\n"))

	root := t.TempDir()
	d := newTestDownloader(root)
	var progress atomic.Int32
	d.OnProgress = func(done, total int) {
		assert.Equal(t, 4, total)
		progress.Add(1)
	}

	stats, err := d.ProcessCSV(context.Background(), "CC", csvPath)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 4, Success: 1, Failed: 3}, stats)
	assert.EqualValues(t, 4, progress.Load())

	got, err := os.ReadFile(filepath.Join(root, "CC", "10001", "10001_passport.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image:/p1.jpg", string(got))
	got, err = os.ReadFile(filepath.Join(root, "CC", "10001", "10001_face.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image:/flaky.jpg", string(got), "third attempt succeeds")

	_, err = os.Stat(filepath.Join(root, "CC", "10002", "10002_face.jpg"))
	assert.True(t, os.IsNotExist(err))

	raw, err := os.ReadFile(filepath.Join(root, "CC", "10001", "info.json"))
	require.NoError(t, err)
	var info Info
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, "10001", info.SubjectID)
	assert.Equal(t, "CC", info.Category)
	assert.Equal(t, "rejected_CC.csv", info.CSVSource)
	assert.Equal(t, "first", info.OriginalData["Comment"])
	require.Contains(t, info.DownloadedImages, "passport")
	assert.Equal(t, "CC/10001/10001_passport.jpg", info.DownloadedImages["passport"].Path)
	assert.Equal(t, "Face Photo", info.DownloadedImages["face_photo"].Column)

	entries, err := os.ReadDir(filepath.Join(root, "CC", "10002"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), "partial download left behind: %s", e.Name())
	}
}

func TestProcessCSVErrors(t *testing.T) {
	d := newTestDownloader(t.TempDir())

	_, err := d.ProcessCSV(context.Background(), "CC", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = d.ProcessCSV(context.Background(), "CC", writeCSV(t, ""))
	assert.ErrorContains(t, err, "empty")

	_, err = d.ProcessCSV(context.Background(), "CC", writeCSV(t, "name,notes\nx,y\n"))
	assert.ErrorContains(t, err, "no subject id column")
}

func TestProcessCSVStripsBOM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	}))
	defer srv.Close()

	root := t.TempDir()
	stats, err := newTestDownloader(root).ProcessCSV(context.Background(), "MV",
		writeCSV(t, "\ufeffid,photo_url\n7,"+srv.URL+"/a.jpg\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Success)
	_, err = os.Stat(filepath.Join(root, "MV", "7", "7_face.jpg"))
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	var total Stats
	total.Add(Stats{Processed: 3, Success: 2, Failed: 1})
	total.Add(Stats{Processed: 1, Success: 1})
	assert.Equal(t, Stats{Processed: 4, Success: 3, Failed: 1}, total)
	assert.InDelta(t, 75.0, total.SuccessRate(), 1e-9)
	assert.Zero(t, Stats{}.SuccessRate())
}
