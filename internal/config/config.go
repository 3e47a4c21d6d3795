package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port        string   `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type LogConfig struct {
	Mode string `toml:"mode" validate:"omitempty,oneof=dev development prod production test"`
}

// RankingConfig holds every constant of the multi-signal formula.
type RankingConfig struct {
	WeightSemantic   float64 `toml:"weight_semantic" validate:"gte=0,lte=1"`
	WeightPageRank   float64 `toml:"weight_pagerank" validate:"gte=0,lte=1"`
	WeightPageViews  float64 `toml:"weight_pageviews" validate:"gte=0,lte=1"`
	WeightTitleMatch float64 `toml:"weight_title_match" validate:"gte=0,lte=1"`
	Epsilon          float64 `toml:"epsilon" validate:"gt=0,lt=1"`

	PageViewFloor      float64 `toml:"pageview_floor" validate:"gt=0"`
	PageViewCeiling    float64 `toml:"pageview_ceiling" validate:"gtfield=PageViewFloor"`
	PageViewFloorScore float64 `toml:"pageview_floor_score" validate:"gte=0,lte=1"`

	ObscurityPageViews float64 `toml:"obscurity_pageviews" validate:"gte=0,lte=1"`
	ObscurityPageRank  float64 `toml:"obscurity_pagerank" validate:"gte=0,lte=1"`
	ObscurityFactor    float64 `toml:"obscurity_factor" validate:"gt=0,lte=1"`

	PlacePenalty float64 `toml:"place_penalty" validate:"gte=0,lte=1"`
	YearPenalty  float64 `toml:"year_penalty" validate:"gte=0,lte=1"`
	ListPenalty  float64 `toml:"list_penalty" validate:"gte=0,lte=1"`
}

type SearchConfig struct {
	CandidatePoolSize int `toml:"candidate_pool_size" validate:"gt=0"`
	ResultsToReturn   int `toml:"results_to_return" validate:"gt=0"`
	MaxResults        int `toml:"max_results" validate:"gtefield=ResultsToReturn"`
}

type ConnectivityConfig struct {
	Threshold          float64 `toml:"threshold" validate:"gte=0,lt=1"`
	MaxPerNode         int     `toml:"max_per_node" validate:"gt=0"`
	ModelVersion       string  `toml:"model_version" validate:"required"`
	ReconstructWorkers int     `toml:"reconstruct_workers" validate:"gt=0"`
}

type LLMConfig struct {
	Provider       string `toml:"provider" validate:"omitempty,oneof=openai ollama gemini claude"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type IndexConfig struct {
	Provider    string `toml:"provider" validate:"oneof=qdrant memory"`
	URL         string `toml:"url" validate:"required_if=Provider qdrant"`
	Collection  string `toml:"collection" validate:"required_if=Provider qdrant"`
	VectorName  string `toml:"vector_name"`
	VectorDim   int    `toml:"vector_dim" validate:"gte=0"`
	Reconstruct string `toml:"reconstruct" validate:"oneof=auto on off"`
	ProbeID     int64  `toml:"probe_id" validate:"gte=0"`
	// Path is the flat vector dump loaded by the memory provider.
	Path string `toml:"path" validate:"required_if=Provider memory"`
}

type MetadataConfig struct {
	Path string `toml:"path" validate:"required"`
}

type EdgeCacheConfig struct {
	Backend string `toml:"backend" validate:"oneof=postgres sqlite memgraph"`
	DSN     string `toml:"dsn" validate:"required_unless=Backend memgraph"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri" validate:"omitempty,uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db" validate:"gte=0"`
	TTLSeconds int    `toml:"ttl_seconds" validate:"gte=0"`
}

type Config struct {
	Server       ServerConfig       `toml:"server"`
	Log          LogConfig          `toml:"log"`
	Ranking      RankingConfig      `toml:"ranking"`
	Search       SearchConfig       `toml:"search"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	LLM          LLMConfig          `toml:"llm"`
	Index        IndexConfig        `toml:"index"`
	Metadata     MetadataConfig     `toml:"metadata"`
	EdgeCache    EdgeCacheConfig    `toml:"edge_cache"`
	Memgraph     MemgraphConfig     `toml:"memgraph"`
	Redis        RedisConfig        `toml:"redis"`
}

// Default returns the configuration the service runs with when a key is
// absent from the TOML file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Mode: "dev"},
		Ranking: RankingConfig{
			WeightSemantic:     0.30,
			WeightPageRank:     0.50,
			WeightPageViews:    0.15,
			WeightTitleMatch:   0.05,
			Epsilon:            1e-8,
			PageViewFloor:      100,
			PageViewCeiling:    10_000_000,
			PageViewFloorScore: 0.1,
			ObscurityPageViews: 0.2,
			ObscurityPageRank:  0.1,
			ObscurityFactor:    0.5,
			PlacePenalty:       0.5,
			YearPenalty:        0.4,
			ListPenalty:        0.1,
		},
		Search: SearchConfig{
			CandidatePoolSize: 1000,
			ResultsToReturn:   60,
			MaxResults:        100,
		},
		Connectivity: ConnectivityConfig{
			Threshold:          0.62,
			MaxPerNode:         5,
			ModelVersion:       "all-MiniLM-L6-v2",
			ReconstructWorkers: 8,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			EmbeddingModel: "all-minilm",
			BaseURL:        "http://localhost:11434",
		},
		Index: IndexConfig{
			Provider:    "qdrant",
			URL:         "http://localhost:6333",
			Collection:  "articles",
			VectorDim:   384,
			Reconstruct: "auto",
		},
		Metadata:  MetadataConfig{Path: "data/metadata.db"},
		EdgeCache: EdgeCacheConfig{Backend: "sqlite", DSN: "data/edges.db"},
		Memgraph:  MemgraphConfig{URI: "bolt://localhost:7687"},
		Redis:     RedisConfig{TTLSeconds: 86400},
	}
}

// Load reads a TOML file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with environment variables when present.
func (c *Config) ApplyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Log.Mode, "LOG_MODE")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")

	setString(&c.Index.Provider, "INDEX_PROVIDER")
	setString(&c.Index.URL, "QDRANT_URL")
	setString(&c.Index.Collection, "QDRANT_COLLECTION")
	setInt(&c.Index.VectorDim, "QDRANT_VECTOR_DIM")
	setString(&c.Index.Path, "INDEX_PATH")

	setString(&c.Metadata.Path, "METADATA_PATH")

	setString(&c.EdgeCache.Backend, "EDGE_CACHE_BACKEND")
	setString(&c.EdgeCache.DSN, "DATABASE_URL")

	setString(&c.Memgraph.URI, "MEMGRAPH_URI")
	setString(&c.Memgraph.User, "MEMGRAPH_USER")
	setString(&c.Memgraph.Password, "MEMGRAPH_PASSWORD")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	if v := strings.TrimSpace(os.Getenv("CROSS_EDGE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Connectivity.Threshold = f
		}
	}
}

var validate = validator.New()

// Validate checks field ranges and that the ranking weights form a proper
// geometric mean.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value: '%v')", e.Namespace(), e.Tag(), e.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	r := c.Ranking
	sum := r.WeightSemantic + r.WeightPageRank + r.WeightPageViews + r.WeightTitleMatch
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("invalid config: ranking weights must sum to 1, got %.6f", sum)
	}
	return nil
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}
