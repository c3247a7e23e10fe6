// Package dataset downloads subject images listed in category CSV exports
// into the folder layout the verify command reads.
package dataset

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/kozaktomas/facecheck/internal/pairing"
)

// sampleRows is how many non-empty values are checked to confirm a URL column.
const sampleRows = 3

var (
	urlColumnWords      = []string{"url", "link", "image", "photo", "face", "selfie"}
	passportLinkWords   = []string{"rejected", "link", "url", "download"}
	passportColumnWords = []string{"passport", "document", "doc", "id"}
	faceColumnWords     = []string{"photo", "face", "selfie", "live"}

	duplicateSuffix = regexp.MustCompile(`\.\d+$`)
)

// Layout is the detected meaning of a CSV header.
type Layout struct {
	IDColumn   int
	URLColumns []int
}

func columnTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(pairing.RemoveDiacritics(name)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasAny(tokens []string, words []string) bool {
	for _, w := range words {
		if slices.Contains(tokens, w) {
			return true
		}
	}
	return false
}

// isIDColumn accepts "id", "maid_id", "Maid ID" and any column mentioning maid.
func isIDColumn(name string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if normalized == "id" || normalized == "maid_id" {
		return true
	}
	return strings.Contains(normalized, "maid")
}

func looksLikeURLColumn(name string) bool {
	tokens := columnTokens(duplicateSuffix.ReplaceAllString(name, ""))
	if hasAny(tokens, urlColumnWords) {
		return true
	}
	return slices.Contains(tokens, "passport") && hasAny(tokens, passportLinkWords)
}

func sampleHasURL(rows [][]string, col int) bool {
	seen := 0
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if strings.Contains(v, "http") {
			return true
		}
		seen++
		if seen >= sampleRows {
			break
		}
	}
	return false
}

// DetectLayout finds the subject id column and the image URL columns.
// A URL column must have a link in its first values; pandas-style duplicates
// ("Face", "Face.1") are kept only once.
func DetectLayout(header []string, rows [][]string) (Layout, error) {
	layout := Layout{IDColumn: -1}
	for i, name := range header {
		if isIDColumn(name) {
			layout.IDColumn = i
			break
		}
	}
	if layout.IDColumn < 0 {
		return Layout{}, fmt.Errorf("no subject id column found (columns: %s)", strings.Join(header, ", "))
	}

	seenBases := map[string]bool{}
	for i, name := range header {
		if i == layout.IDColumn || !looksLikeURLColumn(name) || !sampleHasURL(rows, i) {
			continue
		}
		base := strings.ToLower(duplicateSuffix.ReplaceAllString(name, ""))
		if seenBases[base] {
			continue
		}
		seenBases[base] = true
		layout.URLColumns = append(layout.URLColumns, i)
	}
	if len(layout.URLColumns) == 0 {
		return Layout{}, errors.New("no image URL columns detected")
	}
	return layout, nil
}

// ImageFilename names the download for a URL column. position is the index of the
// column among the detected URL columns.
func ImageFilename(subjectID, column string, position int) (filename, imageType string) {
	tokens := columnTokens(column)
	switch {
	case hasAny(tokens, passportColumnWords):
		return subjectID + "_passport.jpg", "passport"
	case hasAny(tokens, faceColumnWords):
		return subjectID + "_face.jpg", "face_photo"
	default:
		return fmt.Sprintf("%s_image_%d.jpg", subjectID, position), fmt.Sprintf("image_%d", position)
	}
}
