package config

import (
	"reflect"
	"slices"
)

// Diff describes what changed between two configs. Log level and the
// transcription defaults for new sessions apply without a restart; changes
// to anything else are reported so the operator can be told a restart is
// needed.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptionChanged is true when language, keywords, correction, or
	// chunking defaults differ. New recordings pick these up immediately.
	TranscriptionChanged bool

	// RestartNeeded lists the top-level sections whose changes only take
	// effect at startup.
	RestartNeeded []string
}

// Changed reports whether the diff carries any change at all.
func (d Diff) Changed() bool {
	return d.LogLevelChanged || d.TranscriptionChanged || len(d.RestartNeeded) > 0
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !transcriptionEqual(old.Transcription, new.Transcription) {
		d.TranscriptionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartNeeded = append(d.RestartNeeded, "server")
	}
	// ProviderEntry carries an options map, so this one section needs deep
	// comparison.
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartNeeded = append(d.RestartNeeded, "providers")
	}
	if old.Pipeline != new.Pipeline {
		d.RestartNeeded = append(d.RestartNeeded, "pipeline")
	}
	if old.Location != new.Location {
		d.RestartNeeded = append(d.RestartNeeded, "location")
	}
	if old.Store != new.Store {
		d.RestartNeeded = append(d.RestartNeeded, "store")
	}
	if old.GitHub != new.GitHub {
		d.RestartNeeded = append(d.RestartNeeded, "github")
	}
	if old.Review != new.Review {
		d.RestartNeeded = append(d.RestartNeeded, "review")
	}
	return d
}

func transcriptionEqual(a, b TranscriptionConfig) bool {
	return a.Language == b.Language &&
		a.DisableCorrection == b.DisableCorrection &&
		a.Chunking == b.Chunking &&
		slices.Equal(a.Keywords, b.Keywords)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
