// Package config loads service configuration from defaults, an optional
// JSON config file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Corpus     CorpusConfig
	Retrieval  RetrievalConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type GenerationConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type CorpusConfig struct {
	Path   string
	PDFDir string
}

type RetrievalConfig struct {
	TopK            int
	MaxContextChars int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Generation: GenerationConfig{
			Model: "gpt-4o-mini",
		},
		Corpus: CorpusConfig{
			Path: "corpus.json",
		},
		Retrieval: RetrievalConfig{
			TopK:            3,
			MaxContextChars: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "grimoire-data"
		}
	}
	return filepath.Join(dir, "grimoire")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "grimoire", "config.json")
}

// Load reads configuration from a JSON file at
// $XDG_CONFIG_HOME/grimoire/config.json (when present), then applies
// GRIMOIRE_* environment variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b *fileBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generation.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: generation API key. Set it via environment variable GRIMOIRE_GENERATION_API_KEY")
	}

	return cfg, nil
}
