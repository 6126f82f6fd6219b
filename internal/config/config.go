package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"sqlite://pharmawatch.db"`
	DBMinConns  int32  `envconfig:"PW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PW_DB_MAX_CONNS" default:"8"`

	FuzzyMatchThreshold      float64       `envconfig:"FUZZY_MATCH_THRESHOLD" default:"0.85"`
	DedupSimilarityThreshold float64       `envconfig:"DEDUP_SIMILARITY_THRESHOLD" default:"0.90"`
	DedupWindowHours         int           `envconfig:"DEDUP_WINDOW_HOURS" default:"72"`
	TopTermsCount            int           `envconfig:"TOP_TERMS_COUNT" default:"10"`
	SentimentScorer          string        `envconfig:"SENTIMENT_SCORER" default:"lexicon"`
	SourceTimeout            time.Duration `envconfig:"SOURCE_TIMEOUT" default:"30s"`
	FetchRetryAttempts       int           `envconfig:"FETCH_RETRY_ATTEMPTS" default:"3"`
	FetchRetryBaseDelay      time.Duration `envconfig:"FETCH_RETRY_BASE_DELAY" default:"2s"`
	StalenessThresholdHours  int           `envconfig:"STALENESS_THRESHOLD_HOURS" default:"24"`

	TrialsBaseURL string `envconfig:"TRIALS_BASE_URL" default:"https://classic.clinicaltrials.gov/api/query/study_fields"`
	PubMedBaseURL string `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey  string `envconfig:"PUBMED_API_KEY" default:""`
	FDABaseURL    string `envconfig:"FDA_BASE_URL" default:"https://api.fda.gov/drug/drugsfda.json"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PW_DB_MIN_CONNS (%d) cannot exceed PW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.FuzzyMatchThreshold <= 0 || c.FuzzyMatchThreshold > 1 {
		return fmt.Errorf("FUZZY_MATCH_THRESHOLD must be in (0,1]")
	}
	if c.DedupSimilarityThreshold <= 0 || c.DedupSimilarityThreshold > 1 {
		return fmt.Errorf("DEDUP_SIMILARITY_THRESHOLD must be in (0,1]")
	}
	if c.DedupWindowHours < 1 {
		return fmt.Errorf("DEDUP_WINDOW_HOURS must be >= 1")
	}
	if c.TopTermsCount < 1 {
		return fmt.Errorf("TOP_TERMS_COUNT must be >= 1")
	}
	if strings.TrimSpace(c.SentimentScorer) == "" {
		return fmt.Errorf("SENTIMENT_SCORER is required")
	}
	if c.SourceTimeout < time.Second {
		return fmt.Errorf("SOURCE_TIMEOUT must be >= 1s")
	}
	if c.FetchRetryAttempts < 1 {
		return fmt.Errorf("FETCH_RETRY_ATTEMPTS must be >= 1")
	}
	if c.FetchRetryBaseDelay < 0 {
		return fmt.Errorf("FETCH_RETRY_BASE_DELAY must be >= 0")
	}
	if c.StalenessThresholdHours < 1 {
		return fmt.Errorf("STALENESS_THRESHOLD_HOURS must be >= 1")
	}
	return nil
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowHours) * time.Hour
}

func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessThresholdHours) * time.Hour
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
