package pairing

import (
	"cmp"
	"slices"
)

// Pairing failure reasons, reported as "skipped:<reason>".
const (
	ReasonNotEnoughImages = "not_enough_images"
	ReasonCantChoosePair  = "cant_choose_pair"
)

// ImagePair is the chosen passport and selfie for one subject. The two never share a path.
type ImagePair struct {
	Passport CandidateImage
	Selfie   CandidateImage
}

// PairingFailure is the expected "cannot pair" outcome of Select.
type PairingFailure struct {
	Reason string
}

func (f *PairingFailure) Error() string {
	return "cannot pair images: " + f.Reason
}

// FallbackFunc picks a pair when classification is ambiguous. It returns nil when it cannot.
type FallbackFunc func(candidates []CandidateImage) *ImagePair

// SizeFallback treats the largest image as the passport and the next strictly smaller
// image as the selfie. Scanned documents are usually larger than phone selfies.
func SizeFallback(candidates []CandidateImage) *ImagePair {
	if len(candidates) < 2 {
		return nil
	}
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b CandidateImage) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	passport := ranked[0]
	for _, img := range ranked[1:] {
		if img.Size < passport.Size {
			return &ImagePair{Passport: passport, Selfie: img}
		}
	}
	return nil
}

// Selector chooses at most one pair per subject folder.
type Selector struct {
	Classify ClassifyFunc
	Fallback FallbackFunc
}

// NewSelector returns a selector using keyword classification and the size fallback.
func NewSelector(classifier *KeywordClassifier) *Selector {
	if classifier == nil {
		classifier = NewKeywordClassifier(nil, nil)
	}
	return &Selector{
		Classify: classifier.Classify,
		Fallback: SizeFallback,
	}
}

// Select lists the images in dir and picks a pair.
// Expected failures come back as *PairingFailure; any other error means the folder could not be read.
func (s *Selector) Select(dir string) (*ImagePair, error) {
	images, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	return s.Choose(images)
}

// Choose picks a pair from already listed candidates.
func (s *Selector) Choose(images []CandidateImage) (*ImagePair, error) {
	if len(images) < 2 {
		return nil, &PairingFailure{Reason: ReasonNotEnoughImages}
	}

	if s.Classify != nil {
		roles := s.Classify(images)
		var passports, selfies []CandidateImage
		for _, img := range images {
			switch roles[img.Path] {
			case RolePassport:
				passports = append(passports, img)
			case RoleSelfie:
				selfies = append(selfies, img)
			}
		}
		if len(passports) == 1 && len(selfies) == 1 {
			return &ImagePair{Passport: passports[0], Selfie: selfies[0]}, nil
		}
	}

	fallback := s.Fallback
	if fallback == nil {
		fallback = SizeFallback
	}
	pair := fallback(images)
	if pair == nil || pair.Passport.Path == pair.Selfie.Path {
		return nil, &PairingFailure{Reason: ReasonCantChoosePair}
	}
	return pair, nil
}
