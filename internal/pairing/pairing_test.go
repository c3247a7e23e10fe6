package pairing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFiles creates files of the given sizes in a fresh temp dir.
func writeFiles(t *testing.T, files map[string]int) string {
	t.Helper()
	dir := t.TempDir()
	for name, size := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
	}
	return dir
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
	}{
		{"passport.jpg", []string{"passport"}},
		{"Kenya_Passport-2.PNG", []string{"kenya", "passport", "2"}},
		{"10001_face.jpg", []string{"10001", "face"}},
		{"Fotografía selfie.jpeg", []string{"fotografia", "selfie"}},
		{"scan.tiff", []string{"scan"}},
		{"__.jpg", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.name))
		})
	}
}

func TestKeywordClassifierRole(t *testing.T) {
	c := NewKeywordClassifier(nil, nil)

	tests := []struct {
		name     string
		expected Role
	}{
		{"passport.jpg", RolePassport},
		{"kenya_passport.png", RolePassport},
		{"MRZ_scan.jpg", RolePassport},
		{"selfie.jpg", RoleSelfie},
		{"face_1.jpg", RoleSelfie},
		{"LIVE-capture.webp", RoleSelfie},
		{"passport_photo.jpg", RoleUnknown},
		{"img_0001.jpg", RoleUnknown},
		// substring hints do not count, only whole tokens
		{"passenger.jpg", RoleUnknown},
		{"idea.jpg", RoleUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Role(CandidateImage{Name: tt.name}))
		})
	}
}

func TestKeywordClassifierCustomKeywords(t *testing.T) {
	c := NewKeywordClassifier([]string{"paspoort"}, []string{"gezicht"})

	assert.Equal(t, RolePassport, c.Role(CandidateImage{Name: "paspoort.jpg"}))
	assert.Equal(t, RoleSelfie, c.Role(CandidateImage{Name: "gezicht.jpg"}))
	assert.Equal(t, RoleUnknown, c.Role(CandidateImage{Name: "passport.jpg"}))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewKeywordClassifier(nil, nil)
	images := []CandidateImage{
		{Path: "/a/passport.jpg", Name: "passport.jpg"},
		{Path: "/a/selfie.jpg", Name: "selfie.jpg"},
		{Path: "/a/other.jpg", Name: "other.jpg"},
	}

	first := c.Classify(images)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(images))
	}
	assert.Equal(t, RoleUnknown, first["/a/other.jpg"])
}

func TestListImagesFiltersAndSorts(t *testing.T) {
	dir := writeFiles(t, map[string]int{
		"b_selfie.JPG":   10,
		"a_passport.png": 20,
		"info.json":      5,
		"notes.txt":      5,
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755))

	images, err := ListImages(dir)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "a_passport.png", images[0].Name)
	assert.Equal(t, int64(20), images[0].Size)
	assert.Equal(t, "b_selfie.JPG", images[1].Name)
	assert.Equal(t, []string{"b", "selfie"}, images[1].Tokens)
}

func TestListImagesMissingDir(t *testing.T) {
	_, err := ListImages(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSelectKeywordPairRegardlessOfOrder(t *testing.T) {
	for _, files := range []map[string]int{
		{"passport.jpg": 100, "selfie.jpg": 500},
		{"a_selfie.jpg": 500, "z_passport.jpg": 100},
		{"0_selfie.jpg": 100, "1_passport.jpg": 500, "extra.jpg": 900},
	} {
		dir := writeFiles(t, files)
		pair, err := NewSelector(nil).Select(dir)
		require.NoError(t, err)
		assert.Contains(t, pair.Passport.Tokens, "passport")
		assert.Contains(t, pair.Selfie.Tokens, "selfie")
	}
}

func TestSelectSizeFallbackWithoutKeywords(t *testing.T) {
	dir := writeFiles(t, map[string]int{
		"img_a.jpg": 20_000,
		"img_b.jpg": 50_000,
	})

	pair, err := NewSelector(nil).Select(dir)
	require.NoError(t, err)
	assert.Equal(t, "img_b.jpg", pair.Passport.Name)
	assert.Equal(t, "img_a.jpg", pair.Selfie.Name)
}

func TestSelectSizeFallbackWhenAmbiguous(t *testing.T) {
	// two passport hints make the keyword path ambiguous
	dir := writeFiles(t, map[string]int{
		"passport_front.jpg": 70_000,
		"passport_back.jpg":  60_000,
		"selfie.jpg":         20_000,
	})

	pair, err := NewSelector(nil).Select(dir)
	require.NoError(t, err)
	assert.Equal(t, "passport_front.jpg", pair.Passport.Name)
	assert.Equal(t, "passport_back.jpg", pair.Selfie.Name)
}

func TestSelectSizeFallbackSkipsEqualSizes(t *testing.T) {
	dir := writeFiles(t, map[string]int{
		"a.jpg": 500,
		"b.jpg": 500,
		"c.jpg": 100,
	})

	pair, err := NewSelector(nil).Select(dir)
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", pair.Passport.Name)
	assert.Equal(t, "c.jpg", pair.Selfie.Name)
}

func TestSelectFailures(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]int
		reason string
	}{
		{"no images", map[string]int{"info.json": 10}, ReasonNotEnoughImages},
		{"one image", map[string]int{"passport.jpg": 10}, ReasonNotEnoughImages},
		{"same size unlabeled", map[string]int{"a.jpg": 10, "b.jpg": 10}, ReasonCantChoosePair},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFiles(t, tt.files)
			pair, err := NewSelector(nil).Select(dir)
			assert.Nil(t, pair)

			var failure *PairingFailure
			require.True(t, errors.As(err, &failure), "expected PairingFailure, got %v", err)
			assert.Equal(t, tt.reason, failure.Reason)
		})
	}
}

func TestSelectRejectsSameFileFromFallback(t *testing.T) {
	s := &Selector{
		Fallback: func(c []CandidateImage) *ImagePair {
			return &ImagePair{Passport: c[0], Selfie: c[0]}
		},
	}
	_, err := s.Choose([]CandidateImage{{Path: "/x/a.jpg"}, {Path: "/x/b.jpg"}})

	var failure *PairingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, ReasonCantChoosePair, failure.Reason)
}

func TestSelectUsesInjectedClassifier(t *testing.T) {
	s := &Selector{
		Classify: func(c []CandidateImage) map[string]Role {
			return map[string]Role{c[0].Path: RoleSelfie, c[1].Path: RolePassport}
		},
	}
	pair, err := s.Choose([]CandidateImage{{Path: "/x/a.jpg"}, {Path: "/x/b.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "/x/b.jpg", pair.Passport.Path)
	assert.Equal(t, "/x/a.jpg", pair.Selfie.Path)
}
