package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/dictumlabs/dictum/internal/pipeline"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anyllm"},
	"speech":     {"deepgram", "whisper"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("speech", cfg.Providers.Speech.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; transcripts cannot be classified or polished")
	}
	if cfg.Providers.Speech.Name == "" {
		slog.Warn("no speech provider configured; recording sessions cannot be transcribed")
	}

	// Pipeline
	p := cfg.Pipeline
	if p.Mode != "" && p.Mode != pipeline.ModeStaged && p.Mode != pipeline.ModeUnified {
		errs = append(errs, fmt.Errorf("pipeline.mode %q is invalid; valid values: staged, unified", p.Mode))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"pipeline.context_radius", p.ContextRadius},
		{"pipeline.max_in_flight", p.MaxInFlight},
		{"pipeline.classify_batch", p.ClassifyBatch},
		{"pipeline.split_batch", p.SplitBatch},
		{"pipeline.transform_batch", p.TransformBatch},
		{"pipeline.unified_batch", p.UnifiedBatch},
		{"pipeline.retry.max_attempts", p.Retry.MaxAttempts},
		{"pipeline.retry.base_delay_ms", p.Retry.BaseDelayMS},
		{"pipeline.retry.max_delay_ms", p.Retry.MaxDelayMS},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}

	// Transcription
	ch := cfg.Transcription.Chunking
	if ch.Enabled && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("transcription.chunking.enabled requires providers.embeddings"))
	}
	if ch.SimilarityThreshold != 0 && (ch.SimilarityThreshold <= 0 || ch.SimilarityThreshold > 1) {
		errs = append(errs, fmt.Errorf("transcription.chunking.similarity_threshold %.2f is out of range (0, 1]", ch.SimilarityThreshold))
	}

	// Location
	loc := cfg.Location
	if loc.MaxCandidates < 0 {
		errs = append(errs, errors.New("location.max_candidates must not be negative"))
	}
	if loc.CursorPadding < 0 {
		errs = append(errs, errors.New("location.cursor_padding must not be negative"))
	}
	if loc.SymbolPadding < 0 {
		errs = append(errs, errors.New("location.symbol_padding must not be negative"))
	}
	if loc.Symbols.Command != "" && loc.Symbols.URL != "" {
		errs = append(errs, errors.New("location.symbols: command and url are mutually exclusive"))
	}

	// Store
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, errors.New("store.embedding_dimensions must not be negative"))
	}
	if cfg.Store.PostgresDSN != "" && cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions == 0 {
		slog.Warn("store.postgres_dsn is set but store.embedding_dimensions is not; defaulting to 1536")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; sessions and comments will not survive a restart")
	}

	// GitHub
	if cfg.GitHub.Token == "" {
		slog.Warn("github.token is empty; finished comments will not be published")
	}

	// Review
	if cfg.Review.MaxAudioMB < 0 {
		errs = append(errs, errors.New("review.max_audio_mb must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
