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
		key: "server.port", typ: kInt, env: "VIOLETMEM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "VIOLETMEM_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "ollama.base_url", typ: kString, env: "VIOLETMEM_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "VIOLETMEM_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "VIOLETMEM_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "vector.backends", typ: kString, env: "VIOLETMEM_VECTOR_BACKENDS",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backends = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backends },
	},
	{
		key: "vector.qdrant_addr", typ: kString, env: "VIOLETMEM_VECTOR_QDRANT_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Vector.QdrantAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.QdrantAddr },
	},
	{
		key: "vector.qdrant_collection", typ: kString, env: "VIOLETMEM_VECTOR_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Vector.QdrantCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.QdrantCollection },
	},
	{
		key: "vector.chromem_path", typ: kString, env: "VIOLETMEM_VECTOR_CHROMEM_PATH",
		apply:   func(cfg *Config, v any) { cfg.Vector.ChromemPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.ChromemPath },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VIOLETMEM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "worker.poll_interval", typ: kString, env: "VIOLETMEM_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.batch_size", typ: kInt, env: "VIOLETMEM_WORKER_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Worker.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.BatchSize },
	},
	{
		key: "log.level", typ: kString, env: "VIOLETMEM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "api.token", typ: kString, env: "VIOLETMEM_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
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
		}
	}
}
