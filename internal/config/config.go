package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facecheck/internal/constants"
	"github.com/kozaktomas/facecheck/internal/matcher"
)

//go:embed keywords.yaml
var keywordsYAML []byte

type Config struct {
	Face       FaceConfig
	Data       DataConfig
	Verify     VerifyConfig
	Classifier ClassifierConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	LogLevel   string
}

type FaceConfig struct {
	URL       string        // defaults to http://localhost:41101
	Threshold float64       // defaults to 0.80
	Timeout   time.Duration // per-call timeout, defaults to 30s
	Mode      string        // single or best
}

type DataConfig struct {
	Root       string // subject folders, defaults to data/CC
	ResultsCSV string // defaults to results/CC_results.csv
	CropsDir   string // defaults to results/crops
	SaveCrops  bool
}

type VerifyConfig struct {
	Concurrency int // defaults to 4
}

type ClassifierConfig struct {
	KeywordsPath string // optional YAML file replacing the embedded keyword lists
}

type RedisConfig struct {
	Addr string        // empty disables the comparison cache
	TTL  time.Duration // defaults to 24h
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL, empty disables run history
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

// Keywords are the file name tokens that mark each image role.
type Keywords struct {
	Passport []string `yaml:"passport"`
	Selfie   []string `yaml:"selfie"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat returns defaultVal when the variable is unset or not a number.
// Range checks are left to Validate.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("45s") and plain seconds ("45").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Face: FaceConfig{
			URL:       envString("FACE_API_URL", "http://localhost:41101"),
			Threshold: envFloat("FACE_MATCH_THRESHOLD", constants.DefaultThreshold),
			Timeout:   envDuration("FACE_API_TIMEOUT", 30*time.Second),
			Mode:      envString("FACE_MATCH_MODE", string(matcher.ModeSingle)),
		},
		Data: DataConfig{
			Root:       envString("DATA_ROOT", "data/CC"),
			ResultsCSV: envString("RESULTS_CSV", "results/CC_results.csv"),
			CropsDir:   envString("CROPS_DIR", "results/crops"),
			SaveCrops:  envBool("SAVE_CROPS", false),
		},
		Verify: VerifyConfig{
			Concurrency: envInt("VERIFY_CONCURRENCY", constants.DefaultConcurrency),
		},
		Classifier: ClassifierConfig{
			KeywordsPath: os.Getenv("CLASSIFIER_KEYWORDS"),
		},
		Redis: RedisConfig{
			Addr: os.Getenv("REDIS_ADDR"),
			TTL:  envDuration("REDIS_CACHE_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		LogLevel: envString("LOG_LEVEL", "info"),
	}
}

// Validate reports the first setting that would make a verification run meaningless.
func (c *Config) Validate() error {
	if c.Face.Threshold <= 0 || c.Face.Threshold >= 1 {
		return fmt.Errorf("match threshold must be between 0 and 1 (exclusive), got %v", c.Face.Threshold)
	}
	if c.Face.Timeout <= 0 {
		return fmt.Errorf("face service timeout must be positive, got %s", c.Face.Timeout)
	}
	if c.Verify.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Verify.Concurrency)
	}
	if _, err := matcher.ParseMode(c.Face.Mode); err != nil {
		return err
	}
	if strings.TrimSpace(c.Face.URL) == "" {
		return errors.New("face service URL is required")
	}
	if c.Data.Root == "" {
		return errors.New("data root is required")
	}
	if c.Data.ResultsCSV == "" {
		return errors.New("results CSV path is required")
	}
	return nil
}

// Keywords returns the classifier keyword lists, from KeywordsPath when set.
func (c *Config) Keywords() (Keywords, error) {
	if c.Classifier.KeywordsPath == "" {
		return DefaultKeywords(), nil
	}
	return LoadKeywords(c.Classifier.KeywordsPath)
}

// DefaultKeywords returns the embedded keyword lists.
func DefaultKeywords() Keywords {
	var kw Keywords
	if err := yaml.Unmarshal(keywordsYAML, &kw); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded keywords.yaml: " + err.Error())
	}
	return kw
}

// LoadKeywords reads keyword lists from a YAML file. A list missing from the file
// keeps its embedded default.
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("failed to read keywords file: %w", err)
	}

	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, fmt.Errorf("failed to parse keywords file %s: %w", path, err)
	}

	defaults := DefaultKeywords()
	if len(kw.Passport) == 0 {
		kw.Passport = defaults.Passport
	}
	if len(kw.Selfie) == 0 {
		kw.Selfie = defaults.Selfie
	}
	return kw, nil
}
