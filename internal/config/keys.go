package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CINEMATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "CINEMATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CINEMATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.path", typ: kString, env: "CINEMATCH_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.CatalogPath() },
	},
	{
		key: "accounts.path", typ: kString, env: "CINEMATCH_ACCOUNTS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.AccountsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.AccountsPath() },
	},
	{
		key: "catalog.poll_interval", typ: kString, env: "CINEMATCH_CATALOG_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.PollInterval },
	},
	{
		key: "tmdb.base_url", typ: kString, env: "CINEMATCH_TMDB_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.TMDB.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.TMDB.BaseURL },
	},
	{
		key: "tmdb.token", typ: kString, env: "CINEMATCH_TMDB_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.TMDB.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.TMDB.Token },
	},
	{
		key: "tmdb.language", typ: kString, env: "CINEMATCH_TMDB_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.TMDB.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.TMDB.Language },
	},
	{
		key: "tmdb.timeout", typ: kString, env: "CINEMATCH_TMDB_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.TMDB.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.TMDB.Timeout },
	},
	{
		key: "tmdb.rate_per_second", typ: kFloat, env: "CINEMATCH_TMDB_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.TMDB.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.TMDB.RatePerSecond },
	},
	{
		key: "harvest.pages", typ: kInt, env: "CINEMATCH_HARVEST_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Harvest.Pages = v.(int) },
		extract: func(cfg Config) any { return cfg.Harvest.Pages },
	},
	{
		key: "harvest.min_vote_count", typ: kInt, env: "CINEMATCH_HARVEST_MIN_VOTE_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Harvest.MinVoteCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Harvest.MinVoteCount },
	},
	{
		key: "harvest.release_date_gte", typ: kString, env: "CINEMATCH_HARVEST_RELEASE_DATE_GTE",
		apply:   func(cfg *Config, v any) { cfg.Harvest.ReleaseDateGTE = v.(string) },
		extract: func(cfg Config) any { return cfg.Harvest.ReleaseDateGTE },
	},
	{
		key: "harvest.sort_by", typ: kString, env: "CINEMATCH_HARVEST_SORT_BY",
		apply:   func(cfg *Config, v any) { cfg.Harvest.SortBy = v.(string) },
		extract: func(cfg Config) any { return cfg.Harvest.SortBy },
	},
	{
		key: "harvest.concurrency", typ: kInt, env: "CINEMATCH_HARVEST_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Harvest.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Harvest.Concurrency },
	},
	{
		key: "harvest.cast_limit", typ: kInt, env: "CINEMATCH_HARVEST_CAST_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Harvest.CastLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Harvest.CastLimit },
	},
	{
		key: "engine.top_k", typ: kInt, env: "CINEMATCH_ENGINE_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Engine.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.TopK },
	},
	{
		key: "engine.genre_boost", typ: kInt, env: "CINEMATCH_ENGINE_GENRE_BOOST",
		apply:   func(cfg *Config, v any) { cfg.Engine.GenreBoost = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.GenreBoost },
	},
	{
		key: "engine.actor_boost", typ: kInt, env: "CINEMATCH_ENGINE_ACTOR_BOOST",
		apply:   func(cfg *Config, v any) { cfg.Engine.ActorBoost = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.ActorBoost },
	},
	{
		key: "engine.default_min_rating", typ: kFloat, env: "CINEMATCH_ENGINE_DEFAULT_MIN_RATING",
		apply:   func(cfg *Config, v any) { cfg.Engine.DefaultMinRating = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.DefaultMinRating },
	},
	{
		key: "session.ttl", typ: kString, env: "CINEMATCH_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "api.rate_limit", typ: kInt, env: "CINEMATCH_API_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.API.RateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.API.RateLimit },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
