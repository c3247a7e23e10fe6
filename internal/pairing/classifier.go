package pairing

// Role is the part an image plays in a verification pair.
type Role string

const (
	RolePassport Role = "passport"
	RoleSelfie   Role = "selfie"
	RoleUnknown  Role = "unknown"
)

// DefaultPassportKeywords mark printed-document images.
var DefaultPassportKeywords = []string{"pass", "passport", "doc", "document", "mrz", "bio", "id"}

// DefaultSelfieKeywords mark live-capture images.
var DefaultSelfieKeywords = []string{"selfie", "face", "live", "photo", "portrait"}

// ClassifyFunc assigns a role to every candidate, keyed by candidate path.
// Implementations must be pure: the same candidates always yield the same roles.
type ClassifyFunc func(candidates []CandidateImage) map[string]Role

// KeywordClassifier classifies images by the hint tokens in their file names.
type KeywordClassifier struct {
	passport map[string]bool
	selfie   map[string]bool
}

// NewKeywordClassifier builds a classifier from two keyword lists.
// Empty lists fall back to the defaults.
func NewKeywordClassifier(passport, selfie []string) *KeywordClassifier {
	if len(passport) == 0 {
		passport = DefaultPassportKeywords
	}
	if len(selfie) == 0 {
		selfie = DefaultSelfieKeywords
	}
	return &KeywordClassifier{
		passport: keywordSet(passport),
		selfie:   keywordSet(selfie),
	}
}

func keywordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		for _, tok := range Tokenize(w) {
			set[tok] = true
		}
	}
	return set
}

// Role classifies a single candidate. A name hinting at both roles, or neither, is unknown.
func (c *KeywordClassifier) Role(img CandidateImage) Role {
	tokens := img.Tokens
	if tokens == nil {
		tokens = Tokenize(img.Name)
	}

	var isPassport, isSelfie bool
	for _, tok := range tokens {
		if c.passport[tok] {
			isPassport = true
		}
		if c.selfie[tok] {
			isSelfie = true
		}
	}

	switch {
	case isPassport && !isSelfie:
		return RolePassport
	case isSelfie && !isPassport:
		return RoleSelfie
	default:
		return RoleUnknown
	}
}

// Classify implements ClassifyFunc.
func (c *KeywordClassifier) Classify(candidates []CandidateImage) map[string]Role {
	roles := make(map[string]Role, len(candidates))
	for _, img := range candidates {
		roles[img.Path] = c.Role(img)
	}
	return roles
}
