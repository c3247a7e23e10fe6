package batch

import (
	"strings"

	"github.com/kozaktomas/facecheck/internal/matcher"
)

// StatusOK marks a subject whose images were compared.
const StatusOK = "ok"

const (
	skippedPrefix = "skipped:"
	errorPrefix   = "error:"
)

// Skipped builds the status of a subject that could not be paired.
func Skipped(reason string) string { return skippedPrefix + reason }

// Errored builds the status of a subject whose comparison failed.
func Errored(detail string) string { return errorPrefix + detail }

// Record is the result for one subject. Paths are empty when no pair was chosen
// and Outcome is nil unless Status is StatusOK.
type Record struct {
	SubjectID    string
	PassportPath string
	SelfiePath   string
	Outcome      *matcher.Outcome
	Status       string
}

func (r Record) IsSkipped() bool { return strings.HasPrefix(r.Status, skippedPrefix) }
func (r Record) IsErrored() bool { return strings.HasPrefix(r.Status, errorPrefix) }

// Summary counts records by result.
type Summary struct {
	Total          int
	OK             int
	Matched        int
	BelowThreshold int
	Skipped        int
	Errored        int
}

// Summarize tallies a result set.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		switch {
		case r.Status == StatusOK:
			s.OK++
			if r.Outcome != nil && r.Outcome.Match {
				s.Matched++
			} else {
				s.BelowThreshold++
			}
		case r.IsSkipped():
			s.Skipped++
		case r.IsErrored():
			s.Errored++
		}
	}
	return s
}
