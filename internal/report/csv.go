// Package report renders verification results to CSV and stores face crops.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kozaktomas/facecheck/internal/batch"
)

// Columns is the fixed report header.
var Columns = []string{
	"inputs.maid_id",
	"inputs.passport_path",
	"inputs.selfie_path",
	"outputs.similarity",
	"outputs.match",
	"outputs.reason",
	"status",
}

// ConstructionError reports a record that cannot be rendered. Nothing is written when it occurs.
type ConstructionError struct {
	Index     int
	SubjectID string
	Problem   string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("record %d (subject %q): %s", e.Index, e.SubjectID, e.Problem)
}

// Write validates all records and then writes the report to path atomically.
func Write(path string, records []batch.Record) error {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, Columns)
	for i, rec := range records {
		if problem := validate(rec); problem != "" {
			return &ConstructionError{Index: i, SubjectID: rec.SubjectID, Problem: problem}
		}
		rows = append(rows, Row(rec))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cannot create report file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot flush report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot close report: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("cannot set report permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("cannot move report into place: %w", err)
	}
	return nil
}

// Row renders a record in Columns order. The record is assumed valid.
func Row(rec batch.Record) []string {
	var similarity, match, reason string
	if rec.Outcome != nil {
		similarity = strconv.FormatFloat(rec.Outcome.Similarity, 'f', -1, 64)
		match = strconv.FormatBool(rec.Outcome.Match)
		reason = rec.Outcome.Reason
	}
	return []string{
		rec.SubjectID,
		rec.PassportPath,
		rec.SelfiePath,
		similarity,
		match,
		reason,
		rec.Status,
	}
}

func validate(rec batch.Record) string {
	switch {
	case rec.SubjectID == "":
		return "missing subject id"
	case rec.Status == "":
		return "missing status"
	case rec.Status == batch.StatusOK:
		if rec.Outcome == nil {
			return "status ok without match outcome"
		}
		if rec.PassportPath == "" || rec.SelfiePath == "" {
			return "status ok without image pair"
		}
		if s := rec.Outcome.Similarity; math.IsNaN(s) || s < 0 || s > 1 {
			return fmt.Sprintf("similarity %v outside [0, 1]", s)
		}
		if rec.Outcome.Reason == "" {
			return "missing match reason"
		}
	case rec.IsSkipped(), rec.IsErrored():
		if rec.Outcome != nil {
			return "match outcome on a " + strings.SplitN(rec.Status, ":", 2)[0] + " record"
		}
	default:
		return fmt.Sprintf("unknown status %q", rec.Status)
	}
	return ""
}
