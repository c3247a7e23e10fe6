// Package pairing decides which image in a subject folder is the passport and which is the selfie.
package pairing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// imageExtensions are the file types considered as candidate images.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// CandidateImage is one image file found in a subject folder.
type CandidateImage struct {
	Path   string
	Name   string
	Size   int64
	Tokens []string
}

// IsImageFile reports whether the name has a recognized image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ListImages returns the image files directly inside dir, sorted by name.
// Subdirectories and other files (info.json, notes) are ignored.
func ListImages(dir string) ([]CandidateImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read folder %s: %w", dir, err)
	}

	var images []CandidateImage
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsImageFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("cannot stat %s: %w", entry.Name(), err)
		}
		images = append(images, CandidateImage{
			Path:   filepath.Join(dir, entry.Name()),
			Name:   entry.Name(),
			Size:   info.Size(),
			Tokens: Tokenize(entry.Name()),
		})
	}
	return images, nil
}
