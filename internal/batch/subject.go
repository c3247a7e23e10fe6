// Package batch runs pairing and matching over every subject folder of a dataset.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Subject is one folder of images belonging to a single person.
type Subject struct {
	ID  string
	Dir string
}

// Discover lists the subject folders directly under root, sorted by name.
// Plain files in root are ignored.
func Discover(root string) ([]Subject, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("cannot read root directory %s: %w", root, err)
	}

	var subjects []Subject
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		subjects = append(subjects, Subject{ID: e.Name(), Dir: filepath.Join(root, e.Name())})
	}
	return subjects, nil
}
