package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Catalog CatalogConfig
	TMDB    TMDBConfig
	Harvest HarvestConfig
	Engine  EngineConfig
	Session SessionConfig
	API     APIConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// CatalogConfig locates the persisted catalog and account files. Empty paths
// resolve to fixed file names inside the data directory.
type CatalogConfig struct {
	Path         string
	AccountsPath string
	PollInterval string
}

type TMDBConfig struct {
	BaseURL       string
	Token         string
	Language      string
	Timeout       string
	RatePerSecond float64
}

type HarvestConfig struct {
	Pages          int
	MinVoteCount   int
	ReleaseDateGTE string
	SortBy         string
	Concurrency    int
	CastLimit      int
}

type EngineConfig struct {
	TopK             int
	GenreBoost       int
	ActorBoost       int
	DefaultMinRating float64
}

type SessionConfig struct {
	TTL string
}

type APIConfig struct {
	RateLimit int
}

const (
	catalogFileName  = "ma_base_films.csv"
	accountsFileName = "exo.csv"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Catalog: CatalogConfig{
			PollInterval: "5s",
		},
		TMDB: TMDBConfig{
			BaseURL:       "https://api.themoviedb.org/3",
			Language:      "fr-FR",
			Timeout:       "10s",
			RatePerSecond: 20,
		},
		Harvest: HarvestConfig{
			Pages:          500,
			MinVoteCount:   50,
			ReleaseDateGTE: "1996-01-01",
			SortBy:         "popularity.desc",
			Concurrency:    1,
			CastLimit:      3,
		},
		Engine: EngineConfig{
			TopK:             5,
			GenreBoost:       3,
			ActorBoost:       2,
			DefaultMinRating: 5.0,
		},
		Session: SessionConfig{
			TTL: "30m",
		},
		API: APIConfig{
			RateLimit: 120,
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.cinematch.app) and the
// API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/cinematch/config.json
// and the token falls back to a secrets file in the data directory.
//
// Environment variables (CINEMATCH_*) override backend values on all platforms.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.TMDB.Token == "" {
		if tok, err := kc.Get(secretService, tokenAccount); err == nil && tok != "" {
			cfg.TMDB.Token = tok
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Harvest.Pages < 1 {
		return fmt.Errorf("harvest.pages must be >= 1, got %d", c.Harvest.Pages)
	}
	if c.Harvest.Concurrency < 1 {
		return fmt.Errorf("harvest.concurrency must be >= 1, got %d", c.Harvest.Concurrency)
	}
	if c.Engine.DefaultMinRating < 0 || c.Engine.DefaultMinRating > 10 {
		return fmt.Errorf("engine.default_min_rating must be 0-10, got %g", c.Engine.DefaultMinRating)
	}
	if c.Engine.GenreBoost < 0 || c.Engine.ActorBoost < 0 {
		return fmt.Errorf("engine boosts must be >= 0")
	}
	return nil
}

// RequireToken returns an error naming every place the API token can come
// from. Only the harvester needs it; serving recommendations does not.
func (c Config) RequireToken() error {
	if c.TMDB.Token != "" {
		return nil
	}
	return fmt.Errorf("missing required config: movie API token. "+
		"Set it via environment variable CINEMATCH_TMDB_TOKEN, a .env file, "+
		"or `cinematch config set-token`%s", tokenHint())
}

// CatalogPath resolves the catalog file location.
func (c Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Storage.DataDir, catalogFileName)
}

// AccountsPath resolves the accounts file location.
func (c Config) AccountsPath() string {
	if c.Catalog.AccountsPath != "" {
		return c.Catalog.AccountsPath
	}
	return filepath.Join(c.Storage.DataDir, accountsFileName)
}

// Duration parses a duration-valued setting, falling back to def when the
// value is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

const (
	secretService = "cinematch"
	tokenAccount  = "tmdb_token"
)

// SetToken stores the movie API token in the platform secret store.
func SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	return keychainSet(secretService, tokenAccount, token)
}
