package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/facecheck/internal/constants"
	"github.com/kozaktomas/facecheck/internal/logging"
)

// Stats counts processed CSV rows.
type Stats struct {
	Processed int
	Success   int
	Failed    int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.Success += other.Success
	s.Failed += other.Failed
}

// SuccessRate returns the share of successful rows in percent.
func (s Stats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Processed) * 100
}

// DownloadedImage is one entry of info.json.
type DownloadedImage struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Column   string `json:"column"`
	Path     string `json:"path"`
}

// Info is written as info.json next to the downloaded images of a subject.
type Info struct {
	SubjectID           string                     `json:"maid_id"`
	Category            string                     `json:"category"`
	CSVSource           string                     `json:"csv_source"`
	DownloadedImages    map[string]DownloadedImage `json:"downloaded_images"`
	OriginalData        map[string]string          `json:"original_data"`
	ProcessingTimestamp time.Time                  `json:"processing_timestamp"`
}

// Downloader fetches subject images into Root/<category>/<id>/.
type Downloader struct {
	Root        string
	Client      *http.Client
	Attempts    int
	RetryDelay  time.Duration
	Concurrency int
	Logger      *zap.Logger
	// OnProgress is called after every processed row.
	OnProgress func(done, total int)

	now func() time.Time
}

// NewDownloader returns a downloader with three attempts per image and a one second pause between them.
func NewDownloader(root string, logger *zap.Logger) *Downloader {
	return &Downloader{
		Root:        root,
		Client:      &http.Client{Timeout: 30 * time.Second},
		Attempts:    constants.DownloadAttempts,
		RetryDelay:  time.Second,
		Concurrency: constants.DownloadConcurrency,
		Logger:      logger,
		now:         time.Now,
	}
}

// ProcessCSV downloads the images of every row in csvPath into Root/category.
// Rows that fail to download are counted, never fatal; an unreadable CSV or one
// without usable columns is an error.
func (d *Downloader) ProcessCSV(ctx context.Context, category, csvPath string) (Stats, error) {
	header, rows, err := readCSV(csvPath)
	if err != nil {
		return Stats{}, err
	}
	layout, err := DetectLayout(header, rows)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", csvPath, err)
	}

	logger := d.logger().With(zap.String("category", category), zap.String("csv", csvPath))
	urlColumns := make([]string, len(layout.URLColumns))
	for i, c := range layout.URLColumns {
		urlColumns[i] = header[c]
	}
	logger.Info("detected csv layout",
		zap.String("id_column", header[layout.IDColumn]),
		zap.Strings("url_columns", urlColumns),
		zap.Int("rows", len(rows)),
	)

	var (
		mu        sync.Mutex
		stats     Stats
		completed atomic.Int64
	)

	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		row := row
		g.Go(func() error {
			ok := d.processRow(ctx, category, filepath.Base(csvPath), header, layout, row)

			mu.Lock()
			stats.Processed++
			if ok {
				stats.Success++
			} else {
				stats.Failed++
			}
			mu.Unlock()

			done := int(completed.Add(1))
			if d.OnProgress != nil {
				d.OnProgress(done, len(rows))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (d *Downloader) processRow(ctx context.Context, category, csvName string, header []string, layout Layout, row []string) bool {
	id := strings.TrimSpace(cell(row, layout.IDColumn))
	logger := logging.WithOperation(d.logger(), "dataset.row", id)
	if !validSubjectID(id) {
		logger.Warn("row has no usable subject id", zap.String("id", id))
		return false
	}

	subjectDir := filepath.Join(d.Root, category, id)
	if err := os.MkdirAll(subjectDir, 0755); err != nil {
		logger.Error("failed to create subject directory", zap.Error(err))
		return false
	}

	allOK := true
	downloaded := map[string]DownloadedImage{}
	for pos, col := range layout.URLColumns {
		url := strings.TrimSpace(cell(row, col))
		if url == "" {
			continue
		}
		filename, imageType := ImageFilename(id, header[col], pos)
		target := filepath.Join(subjectDir, filename)

		if err := d.downloadWithRetry(ctx, url, target); err != nil {
			logger.Warn("image download failed", zap.String("url", url), zap.Error(err))
			allOK = false
			continue
		}
		downloaded[imageType] = DownloadedImage{
			Filename: filename,
			URL:      url,
			Column:   header[col],
			Path:     filepath.ToSlash(filepath.Join(category, id, filename)),
		}
	}

	original := make(map[string]string, len(header))
	for i, name := range header {
		original[name] = cell(row, i)
	}
	info := Info{
		SubjectID:           id,
		Category:            category,
		CSVSource:           csvName,
		DownloadedImages:    downloaded,
		OriginalData:        original,
		ProcessingTimestamp: d.clock(),
	}
	if err := writeInfo(filepath.Join(subjectDir, "info.json"), info); err != nil {
		logger.Error("failed to write info.json", zap.Error(err))
		return false
	}

	return allOK && len(downloaded) > 0
}

func (d *Downloader) downloadWithRetry(ctx context.Context, url, target string) error {
	attempts := max(d.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.RetryDelay):
			}
		}
		if err = d.download(ctx, url, target); err == nil {
			return nil
		}
		d.logger().Debug("download attempt failed",
			zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

func (d *Downloader) download(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("could not read body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("could not set file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("could not move file into place: %w", err)
	}
	return nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot parse csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("csv %s is empty", path)
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, records[1:], nil
}

func writeInfo(path string, info Info) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		return fmt.Errorf("could not encode info: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func validSubjectID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (d *Downloader) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Downloader) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
