package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/facecheck/internal/imaging"
	"github.com/kozaktomas/facecheck/internal/matcher"
)

var _ matcher.CropSink = DirSink{}

// DirSink stores face crops under Root/<subject>/<role>_crop.<ext>.
type DirSink struct {
	Root string
}

// CropPath returns where a crop with the given extension is stored.
func (s DirSink) CropPath(subjectID, role, ext string) string {
	return filepath.Join(s.Root, subjectID, role+"_crop."+ext)
}

// SaveCrop writes the crop, replacing any earlier crop for the same subject and role.
func (s DirSink) SaveCrop(subjectID, role string, data []byte) error {
	if subjectID == "" || role == "" {
		return fmt.Errorf("crop needs subject and role (got %q, %q)", subjectID, role)
	}
	if strings.ContainsAny(subjectID+role, `/\`) || subjectID == ".." || subjectID == "." {
		return fmt.Errorf("invalid crop name %q/%q", subjectID, role)
	}

	dir := filepath.Join(s.Root, subjectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create crop directory: %w", err)
	}

	target := s.CropPath(subjectID, role, imaging.Extension(data))
	old, err := filepath.Glob(filepath.Join(dir, role+"_crop.*"))
	if err != nil {
		return fmt.Errorf("cannot list old crops: %w", err)
	}
	for _, p := range old {
		if p == target {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot remove old crop %s: %w", p, err)
		}
	}

	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("cannot write crop: %w", err)
	}
	return nil
}
