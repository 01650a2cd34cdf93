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
	key    string
	typ    keyType
	env    string
	secret bool
	apply  func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "GRIMOIRE_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "ollama.base_url", typ: kString, env: "GRIMOIRE_OLLAMA_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "GRIMOIRE_OLLAMA_EMBED_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
	},
	{
		key: "generation.api_key", typ: kString, env: "GRIMOIRE_GENERATION_API_KEY",
		secret: true,
		apply:  func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
	},
	{
		key: "generation.base_url", typ: kString, env: "GRIMOIRE_GENERATION_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
	},
	{
		key: "generation.model", typ: kString, env: "GRIMOIRE_GENERATION_MODEL",
		apply: func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
	},
	{
		key: "corpus.path", typ: kString, env: "GRIMOIRE_CORPUS_PATH",
		apply: func(cfg *Config, v any) { cfg.Corpus.Path = v.(string) },
	},
	{
		key: "corpus.pdf_dir", typ: kString, env: "GRIMOIRE_CORPUS_PDF_DIR",
		apply: func(cfg *Config, v any) { cfg.Corpus.PDFDir = v.(string) },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "GRIMOIRE_RETRIEVAL_TOP_K",
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		key: "retrieval.max_context_chars", typ: kInt, env: "GRIMOIRE_RETRIEVAL_MAX_CONTEXT_CHARS",
		apply: func(cfg *Config, v any) { cfg.Retrieval.MaxContextChars = v.(int) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GRIMOIRE_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "log.level", typ: kString, env: "GRIMOIRE_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b *fileBackend) error {
	for _, s := range specs {
		if s.secret {
			// Secrets never live in the config file.
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
