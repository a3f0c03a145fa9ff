package config_test

import (
	"slices"
	"testing"

	"github.com/dictumlabs/dictum/internal/config"
)

func TestCompareNoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Transcription: config.TranscriptionConfig{
			Language: "en-US",
			Keywords: []string{"goroutine"},
		},
	}
	d := config.Compare(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestCompareLogLevelIsHot(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Compare(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("log level change should not need a restart, got %v", d.RestartNeeded)
	}
}

func TestCompareTranscriptionIsHot(t *testing.T) {
	t.Parallel()
	old := &config.Config{Transcription: config.TranscriptionConfig{Language: "en-US"}}
	new := &config.Config{Transcription: config.TranscriptionConfig{Language: "de-DE"}}

	d := config.Compare(old, new)
	if !d.TranscriptionChanged {
		t.Error("expected TranscriptionChanged=true")
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("transcription change should not need a restart, got %v", d.RestartNeeded)
	}
}

func TestCompareKeywordReorderCounts(t *testing.T) {
	t.Parallel()
	old := &config.Config{Transcription: config.TranscriptionConfig{Keywords: []string{"a", "b"}}}
	new := &config.Config{Transcription: config.TranscriptionConfig{Keywords: []string{"b", "a"}}}

	d := config.Compare(old, new)
	if !d.TranscriptionChanged {
		t.Error("expected TranscriptionChanged=true for reordered keywords")
	}
}

func TestCompareListenAddrNeedsRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
	new := &config.Config{Server: config.ServerConfig{ListenAddr: ":9090"}}

	d := config.Compare(old, new)
	if !slices.Contains(d.RestartNeeded, "server") {
		t.Errorf("expected server in RestartNeeded, got %v", d.RestartNeeded)
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestCompareTLSPointerNeedsRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{
		Server: config.ServerConfig{TLS: &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}},
	}

	d := config.Compare(old, new)
	if !slices.Contains(d.RestartNeeded, "server") {
		t.Errorf("expected server in RestartNeeded, got %v", d.RestartNeeded)
	}
}

func TestCompareProviderOptionsNeedRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			Speech: config.ProviderEntry{Name: "deepgram", Options: map[string]any{"diarize": true}},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			Speech: config.ProviderEntry{Name: "deepgram", Options: map[string]any{"diarize": false}},
		},
	}

	d := config.Compare(old, new)
	if !slices.Contains(d.RestartNeeded, "providers") {
		t.Errorf("expected providers in RestartNeeded, got %v", d.RestartNeeded)
	}
}

func TestCompareManySections(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Store:  config.StoreConfig{PostgresDSN: "postgres://old"},
		GitHub: config.GitHubConfig{Token: "t1"},
		Review: config.ReviewConfig{MaxAudioMB: 256},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Store:  config.StoreConfig{PostgresDSN: "postgres://new"},
		GitHub: config.GitHubConfig{Token: "t2"},
		Review: config.ReviewConfig{MaxAudioMB: 512},
	}

	d := config.Compare(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	for _, section := range []string{"store", "github", "review"} {
		if !slices.Contains(d.RestartNeeded, section) {
			t.Errorf("expected %s in RestartNeeded, got %v", section, d.RestartNeeded)
		}
	}
	if slices.Contains(d.RestartNeeded, "pipeline") {
		t.Errorf("pipeline did not change, got %v", d.RestartNeeded)
	}
	if !d.Changed() {
		t.Error("expected Changed()=true")
	}
}

func TestDiffZeroValueUnchanged(t *testing.T) {
	t.Parallel()
	var d config.Diff
	if d.Changed() {
		t.Error("zero Diff should report no change")
	}
}
