package lexicon_test

import (
	"testing"

	"github.com/dictumlabs/dictum/internal/lexicon"
)

func TestMatchExactSpokenForm(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ParseHeader", "FlushCache"})

	corrected, conf, matched := m.Match("parse header", lex)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "parse header")
	}
	if corrected != "ParseHeader" {
		t.Errorf("Match(%q): corrected=%q, want %q", "parse header", corrected, "ParseHeader")
	}
	if conf < 0.99 {
		t.Errorf("Match(%q): confidence=%f, want ~1.0 for exact spoken form", "parse header", conf)
	}
}

func TestMatchMisheardPhonetic(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ParseHeader", "FlushCache"})

	// "hedder" shares Double Metaphone codes with "header".
	corrected, conf, matched := m.Match("parse hedder", lex)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "parse hedder")
	}
	if corrected != "ParseHeader" {
		t.Errorf("Match(%q): corrected=%q, want %q", "parse hedder", corrected, "ParseHeader")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "parse hedder", conf)
	}
}

func TestMatchHeardAsOneWord(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ParseHeader"})

	// The engine sometimes collapses a spoken identifier into one token.
	corrected, conf, matched := m.Match("parseheader", lex)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "parseheader")
	}
	if corrected != "ParseHeader" {
		t.Errorf("Match(%q): corrected=%q, want %q", "parseheader", corrected, "ParseHeader")
	}
	if conf < 0.99 {
		t.Errorf("Match(%q): confidence=%f, want ~1.0", "parseheader", conf)
	}
}

func TestMatchSplitsCamelCase(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"maxRetryCount"})

	corrected, _, matched := m.Match("max retry count", lex)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "max retry count")
	}
	if corrected != "maxRetryCount" {
		t.Errorf("Match(%q): corrected=%q, want %q", "max retry count", corrected, "maxRetryCount")
	}
}

func TestMatchSplitsAllCapsAndSeparators(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"HTTPServer", "user_name"})

	corrected, _, matched := m.Match("http server", lex)
	if !matched || corrected != "HTTPServer" {
		t.Errorf("Match(%q): got (%q, matched=%v), want (%q, true)",
			"http server", corrected, matched, "HTTPServer")
	}

	corrected, _, matched = m.Match("user name", lex)
	if !matched || corrected != "user_name" {
		t.Errorf("Match(%q): got (%q, matched=%v), want (%q, true)",
			"user name", corrected, matched, "user_name")
	}
}

func TestMatchRejectsLoneSuffixWord(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ParseHeader"})

	// "header" alone resembles only the tail of the identifier and must not
	// claim the whole thing.
	corrected, conf, matched := m.Match("header", lex)
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "header")
	}
	if corrected != "header" {
		t.Errorf("Match(%q): corrected=%q, want original", "header", corrected)
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "header", conf)
	}
}

func TestMatchPicksClosestIdentifier(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ParseFooter", "ParseHeader"})

	corrected, _, matched := m.Match("parse hedder", lex)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "parse hedder")
	}
	if corrected != "ParseHeader" {
		t.Errorf("Match(%q): corrected=%q, want %q", "parse hedder", corrected, "ParseHeader")
	}
}

func TestMatchShortIdentifierExactOnly(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ID"})

	corrected, conf, matched := m.Match("id", lex)
	if !matched || corrected != "ID" || conf != 1 {
		t.Errorf("Match(%q): got (%q, %f, %v), want (%q, 1, true)", "id", corrected, conf, matched, "ID")
	}

	if _, _, matched := m.Match("idea", lex); matched {
		t.Errorf("Match(%q): matched=true, want false for a short identifier", "idea")
	}
}

func TestMatchThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher(
		lexicon.WithPhoneticThreshold(0.99),
		lexicon.WithFuzzyThreshold(0.99),
	)
	lex := lexicon.Build([]string{"ParseHeader"})

	if _, _, matched := m.Match("parse hedder", lex); matched {
		t.Error("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatchEmptyLexicon(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()

	corrected, conf, matched := m.Match("parse header", lexicon.Build(nil))
	if matched {
		t.Fatal("Match against an empty lexicon should return matched=false")
	}
	if corrected != "parse header" {
		t.Errorf("corrected=%q, want original", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatchEmptyPhrase(t *testing.T) {
	t.Parallel()

	m := lexicon.NewMatcher()
	lex := lexicon.Build([]string{"ParseHeader"})

	if _, _, matched := m.Match("", lex); matched {
		t.Error("Match(\"\"): matched=true, want false")
	}
	if _, _, matched := m.Match("   ", lex); matched {
		t.Error("Match of blank phrase: matched=true, want false")
	}
}

func TestBuildDedupesAndSkipsBlanks(t *testing.T) {
	t.Parallel()

	lex := lexicon.Build([]string{"ParseHeader", "ParseHeader", "", "   ", "FlushCache"})
	if got := lex.Len(); got != 2 {
		t.Errorf("Len()=%d, want 2", got)
	}
	if got := lex.MaxWords(); got != 2 {
		t.Errorf("MaxWords()=%d, want 2", got)
	}
}

func TestLexiconNilSafe(t *testing.T) {
	t.Parallel()

	var lex *lexicon.Lexicon
	if lex.Len() != 0 || lex.MaxWords() != 0 {
		t.Errorf("nil lexicon: Len=%d MaxWords=%d, want 0 0", lex.Len(), lex.MaxWords())
	}

	m := lexicon.NewMatcher()
	if _, _, matched := m.Match("parse header", lex); matched {
		t.Error("Match against nil lexicon: matched=true, want false")
	}
}
