package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Vector    VectorConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Log       LogConfig
	API       APIConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type EmbeddingConfig struct {
	Dimension int
}

// VectorConfig selects the vector index backends. Backends is a
// comma-separated priority list; searches try them left to right.
type VectorConfig struct {
	Backends         string
	QdrantAddr       string
	QdrantCollection string
	ChromemPath      string
}

type StorageConfig struct {
	DataDir string
}

type WorkerConfig struct {
	PollInterval string
	BatchSize    int
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4200,
			MCPPort: 4201,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Embedding: EmbeddingConfig{
			Dimension: 768,
		},
		Vector: VectorConfig{
			Backends:         "sqlite",
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "violetmem",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Worker: WorkerConfig{
			PollInterval: "5s",
			BatchSize:    16,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.violetmem.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/violetmem/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (VIOLETMEM_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Vector.ChromemPath == "" {
		cfg.Vector.ChromemPath = filepath.Join(cfg.Storage.DataDir, "chromem")
	}

	// Try platform keychain for the API token if still empty.
	if cfg.API.Token == "" {
		if tok, err := kc.Get("violetmem", "api_token"); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	if cfg.API.Token == "" {
		msg := "missing required config: API token. " +
			"Set it via environment variable VIOLETMEM_API_TOKEN" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
