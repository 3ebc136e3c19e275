package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Index     IndexConfig     `mapstructure:"index"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Signals   SignalsConfig   `mapstructure:"signals"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
	// MaxBodyBytes bounds request bodies; oversized requests are a client
	// error, everything else is absorbed internally.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type IndexConfig struct {
	// Backend selects "local" (in-process generations) or "qdrant".
	Backend       string       `mapstructure:"backend"`
	Dim           int          `mapstructure:"dim"`
	SchemeVersion string       `mapstructure:"scheme_version"`
	Qdrant        QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type CacheConfig struct {
	Dir             string `mapstructure:"dir"`
	SimilarityK     int    `mapstructure:"similarity_k"`
	SimilarityDepth int    `mapstructure:"similarity_depth"`
	RandomPoolSize  int    `mapstructure:"random_pool_size"`
	PoolMaxAuthor   int    `mapstructure:"pool_max_per_author"`
	PoolMaxInstance int    `mapstructure:"pool_max_per_instance"`
}

type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Scoped rewrites only sources already cached instead of a full
	// rebuild on timer-driven cycles.
	Scoped  bool `mapstructure:"scoped"`
	OnStart bool `mapstructure:"on_start"`
}

type SignalsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ArtifactsConfig struct {
	// Publish promoted cache artifacts to object storage and bootstrap
	// missing ones from it at startup.
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type RecommendConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
	MaxLikes     int `mapstructure:"max_likes"`

	Profiles ProfilesConfig `mapstructure:"profiles"`
}

type ProfilesConfig struct {
	Home              ProfileConfig `mapstructure:"home"`
	HomeGuest         ProfileConfig `mapstructure:"home_guest"`
	Continuation      ProfileConfig `mapstructure:"continuation"`
	ContinuationGuest ProfileConfig `mapstructure:"continuation_guest"`
}

// ProfileConfig is one named bundle of layer set, weights and ratios,
// loaded once at startup and never mutated at request time.
type ProfileConfig struct {
	Layers        []string           `mapstructure:"layers"`
	GatherRatio   map[string]float64 `mapstructure:"gather_ratio"`
	MixRatio      map[string]float64 `mapstructure:"mix_ratio"`
	FallbackOrder []string           `mapstructure:"fallback_order"`

	Weights WeightsConfig `mapstructure:"weights"`

	MaxPerAuthor   int `mapstructure:"max_per_author"`
	MaxPerInstance int `mapstructure:"max_per_instance"`

	// Exploit broadening bounds.
	MinPool         int     `mapstructure:"min_pool"`
	MaxSteps        int     `mapstructure:"max_steps"`
	SearchDepth     int     `mapstructure:"search_depth"`
	DepthStep       int     `mapstructure:"depth_step"`
	SimilarityFloor float64 `mapstructure:"similarity_floor"`
	FloorStep       float64 `mapstructure:"floor_step"`

	// Explore similarity band; the closest matches above BandHigh are
	// excluded as too obvious.
	ExploreBandLow  float64 `mapstructure:"explore_band_low"`
	ExploreBandHigh float64 `mapstructure:"explore_band_high"`

	// Fresh recency window for the guest path.
	FreshWindowDays int `mapstructure:"fresh_window_days"`

	// Popular weighted sampling: weight = similarity^Gamma.
	PopularGamma float64 `mapstructure:"popular_gamma"`

	// Random layer upper similarity bound when likes exist.
	RandomSimilarityCap float64 `mapstructure:"random_similarity_cap"`
}

type WeightsConfig struct {
	Similarity        float64 `mapstructure:"similarity"`
	Freshness         float64 `mapstructure:"freshness"`
	Popularity        float64 `mapstructure:"popularity"`
	RepetitionPenalty float64 `mapstructure:"repetition_penalty"`

	// FreshnessHalfLifeDays drives the freshness decay curve.
	FreshnessHalfLifeDays float64 `mapstructure:"freshness_half_life_days"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/videos.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("index.backend", "local")
	v.SetDefault("index.dim", 384)
	v.SetDefault("index.scheme_version", "xxhash64-v1")
	v.SetDefault("index.qdrant.host", "localhost")
	v.SetDefault("index.qdrant.port", 6334)
	v.SetDefault("index.qdrant.collection", "videos")

	v.SetDefault("cache.dir", "./data/cache")
	v.SetDefault("cache.similarity_k", 40)
	v.SetDefault("cache.similarity_depth", 200)
	v.SetDefault("cache.random_pool_size", 2000)
	v.SetDefault("cache.pool_max_per_author", 3)
	v.SetDefault("cache.pool_max_per_instance", 200)

	v.SetDefault("refresh.interval", 6*time.Hour)
	v.SetDefault("refresh.scoped", false)
	v.SetDefault("refresh.on_start", true)

	v.SetDefault("signals.enabled", false)
	v.SetDefault("signals.base_url", "http://localhost:8090")
	v.SetDefault("signals.timeout", 2*time.Second)

	v.SetDefault("artifacts.enabled", false)
	v.SetDefault("artifacts.endpoint", "localhost:9000")
	v.SetDefault("artifacts.use_ssl", false)
	v.SetDefault("artifacts.bucket", "recommender-artifacts")
	v.SetDefault("artifacts.prefix", "cache")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("recommend.default_limit", 24)
	v.SetDefault("recommend.max_limit", 100)
	v.SetDefault("recommend.max_likes", 50)

	setProfileDefaults(v, "recommend.profiles.home", ProfileConfig{
		Layers:        []string{"exploit", "explore", "fresh", "popular", "random"},
		GatherRatio:   map[string]float64{"exploit": 2.0, "explore": 1.5, "fresh": 1.0, "popular": 1.0, "random": 1.0},
		MixRatio:      map[string]float64{"exploit": 0.35, "explore": 0.2, "fresh": 0.15, "popular": 0.2, "random": 0.1},
		FallbackOrder: []string{"explore", "exploit", "fresh", "popular", "random"},
		Weights: WeightsConfig{
			Similarity: 1.0, Freshness: 0.3, Popularity: 0.3, RepetitionPenalty: 0.4,
			FreshnessHalfLifeDays: 14,
		},
		MaxPerAuthor: 3, MaxPerInstance: 8,
		MinPool: 30, MaxSteps: 4, SearchDepth: 100, DepthStep: 100,
		SimilarityFloor: 0.55, FloorStep: 0.1,
		ExploreBandLow: 0.35, ExploreBandHigh: 0.7,
		FreshWindowDays: 30, PopularGamma: 2.0, RandomSimilarityCap: 0.35,
	})
	setProfileDefaults(v, "recommend.profiles.home_guest", ProfileConfig{
		Layers:        []string{"fresh", "popular", "random"},
		GatherRatio:   map[string]float64{"fresh": 1.5, "popular": 1.5, "random": 1.5},
		MixRatio:      map[string]float64{"fresh": 0.3, "popular": 0.4, "random": 0.3},
		FallbackOrder: []string{"popular", "fresh", "random"},
		Weights: WeightsConfig{
			Similarity: 0, Freshness: 0.5, Popularity: 0.5, RepetitionPenalty: 0.4,
			FreshnessHalfLifeDays: 14,
		},
		MaxPerAuthor: 3, MaxPerInstance: 8,
		MinPool: 30, MaxSteps: 4, SearchDepth: 100, DepthStep: 100,
		SimilarityFloor: 0.55, FloorStep: 0.1,
		FreshWindowDays: 30, PopularGamma: 2.0, RandomSimilarityCap: 0.35,
	})
	setProfileDefaults(v, "recommend.profiles.continuation", ProfileConfig{
		Layers:        []string{"exploit", "explore", "fresh", "popular"},
		GatherRatio:   map[string]float64{"exploit": 2.5, "explore": 1.5, "fresh": 1.0, "popular": 1.0},
		MixRatio:      map[string]float64{"exploit": 0.5, "explore": 0.2, "fresh": 0.15, "popular": 0.15},
		FallbackOrder: []string{"explore", "exploit", "fresh", "popular"},
		Weights: WeightsConfig{
			Similarity: 1.2, Freshness: 0.2, Popularity: 0.25, RepetitionPenalty: 0.5,
			FreshnessHalfLifeDays: 21,
		},
		MaxPerAuthor: 2, MaxPerInstance: 6,
		MinPool: 40, MaxSteps: 5, SearchDepth: 150, DepthStep: 150,
		SimilarityFloor: 0.6, FloorStep: 0.1,
		ExploreBandLow: 0.4, ExploreBandHigh: 0.75,
		FreshWindowDays: 30, PopularGamma: 2.0, RandomSimilarityCap: 0.35,
	})
	setProfileDefaults(v, "recommend.profiles.continuation_guest", ProfileConfig{
		Layers:        []string{"exploit", "explore", "popular", "random"},
		GatherRatio:   map[string]float64{"exploit": 2.5, "explore": 1.5, "popular": 1.0, "random": 1.0},
		MixRatio:      map[string]float64{"exploit": 0.5, "explore": 0.25, "popular": 0.15, "random": 0.1},
		FallbackOrder: []string{"explore", "exploit", "popular", "random"},
		Weights: WeightsConfig{
			Similarity: 1.2, Freshness: 0.2, Popularity: 0.25, RepetitionPenalty: 0.5,
			FreshnessHalfLifeDays: 21,
		},
		MaxPerAuthor: 2, MaxPerInstance: 6,
		MinPool: 40, MaxSteps: 5, SearchDepth: 150, DepthStep: 150,
		SimilarityFloor: 0.6, FloorStep: 0.1,
		ExploreBandLow: 0.4, ExploreBandHigh: 0.75,
		FreshWindowDays: 30, PopularGamma: 2.0, RandomSimilarityCap: 0.35,
	})
}

func setProfileDefaults(v *viper.Viper, prefix string, p ProfileConfig) {
	v.SetDefault(prefix+".layers", p.Layers)
	v.SetDefault(prefix+".gather_ratio", p.GatherRatio)
	v.SetDefault(prefix+".mix_ratio", p.MixRatio)
	v.SetDefault(prefix+".fallback_order", p.FallbackOrder)
	v.SetDefault(prefix+".weights.similarity", p.Weights.Similarity)
	v.SetDefault(prefix+".weights.freshness", p.Weights.Freshness)
	v.SetDefault(prefix+".weights.popularity", p.Weights.Popularity)
	v.SetDefault(prefix+".weights.repetition_penalty", p.Weights.RepetitionPenalty)
	v.SetDefault(prefix+".weights.freshness_half_life_days", p.Weights.FreshnessHalfLifeDays)
	v.SetDefault(prefix+".max_per_author", p.MaxPerAuthor)
	v.SetDefault(prefix+".max_per_instance", p.MaxPerInstance)
	v.SetDefault(prefix+".min_pool", p.MinPool)
	v.SetDefault(prefix+".max_steps", p.MaxSteps)
	v.SetDefault(prefix+".search_depth", p.SearchDepth)
	v.SetDefault(prefix+".depth_step", p.DepthStep)
	v.SetDefault(prefix+".similarity_floor", p.SimilarityFloor)
	v.SetDefault(prefix+".floor_step", p.FloorStep)
	v.SetDefault(prefix+".explore_band_low", p.ExploreBandLow)
	v.SetDefault(prefix+".explore_band_high", p.ExploreBandHigh)
	v.SetDefault(prefix+".fresh_window_days", p.FreshWindowDays)
	v.SetDefault(prefix+".popular_gamma", p.PopularGamma)
	v.SetDefault(prefix+".random_similarity_cap", p.RandomSimilarityCap)
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Index.Backend != "local" && c.Index.Backend != "qdrant" {
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}
	if c.Index.Dim <= 0 {
		return fmt.Errorf("config: index dim must be positive, got %d", c.Index.Dim)
	}
	if c.Cache.SimilarityK <= 0 {
		return fmt.Errorf("config: cache similarity_k must be positive")
	}
	if c.Recommend.DefaultLimit <= 0 || c.Recommend.DefaultLimit > c.Recommend.MaxLimit {
		return fmt.Errorf("config: default_limit %d out of range (max %d)",
			c.Recommend.DefaultLimit, c.Recommend.MaxLimit)
	}
	for name, p := range map[string]ProfileConfig{
		"home":               c.Recommend.Profiles.Home,
		"home_guest":         c.Recommend.Profiles.HomeGuest,
		"continuation":       c.Recommend.Profiles.Continuation,
		"continuation_guest": c.Recommend.Profiles.ContinuationGuest,
	} {
		if err := p.validate(); err != nil {
			return fmt.Errorf("config: profile %s: %w", name, err)
		}
	}
	return nil
}

func (p *ProfileConfig) validate() error {
	if len(p.Layers) == 0 {
		return fmt.Errorf("no layers configured")
	}
	for _, l := range p.Layers {
		switch l {
		case "exploit", "explore", "fresh", "popular", "random":
		default:
			return fmt.Errorf("unknown layer %q", l)
		}
		if p.MixRatio[l] < 0 {
			return fmt.Errorf("negative mix ratio for layer %q", l)
		}
	}
	if p.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative")
	}
	if p.Weights.FreshnessHalfLifeDays <= 0 {
		return fmt.Errorf("freshness_half_life_days must be positive")
	}
	return nil
}
