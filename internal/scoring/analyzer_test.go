package scoring

import (
	"math"
	"testing"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	return NewAnalyzer(NewLexicon(nil))
}

func TestAnalyzeTextKnownScore(t *testing.T) {
	a := newTestAnalyzer(t)

	// leaked -5, passwords -5, sale unknown, for unknown; 4 tokens.
	ts := a.AnalyzeText("leaked passwords for sale")
	if ts.Score != -10 {
		t.Errorf("score = %d, want -10", ts.Score)
	}
	if ts.WordCount != 4 {
		t.Errorf("word count = %d, want 4", ts.WordCount)
	}
	if got, want := ts.Comparative, -2.5; got != want {
		t.Errorf("comparative = %v, want %v", got, want)
	}
}

func TestAnalyzeTextPhraseMatch(t *testing.T) {
	a := newTestAnalyzer(t)

	// Phrase "credit card" -5 plus token "dump" -4.
	ts := a.AnalyzeText("credit card dump")
	if ts.Score != -9 {
		t.Errorf("score = %d, want -9", ts.Score)
	}
	if ts.WordCount != 3 {
		t.Errorf("word count = %d, want 3", ts.WordCount)
	}
	found := false
	for _, m := range ts.Matched {
		if m == "credit card" {
			found = true
		}
	}
	if !found {
		t.Errorf("matched = %v, want to contain %q", ts.Matched, "credit card")
	}
}

func TestAnalyzeTextDeterministic(t *testing.T) {
	a := newTestAnalyzer(t)
	text := "stolen credentials and malware on the black market"

	first := a.AnalyzeText(text)
	for i := 0; i < 10; i++ {
		got := a.AnalyzeText(text)
		if got.Score != first.Score || got.Comparative != first.Comparative {
			t.Fatalf("run %d: got (%d, %v), want (%d, %v)",
				i, got.Score, got.Comparative, first.Score, first.Comparative)
		}
		if len(got.Matched) != len(first.Matched) {
			t.Fatalf("run %d: matched %v, want %v", i, got.Matched, first.Matched)
		}
		for j := range got.Matched {
			if got.Matched[j] != first.Matched[j] {
				t.Fatalf("run %d: matched %v, want %v", i, got.Matched, first.Matched)
			}
		}
	}
}

func TestAnalyzeTextEmpty(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := a.AnalyzeText("")
	if ts.Score != 0 || ts.Comparative != 0 || ts.WordCount != 0 {
		t.Errorf("empty text scored %+v, want zero values", ts)
	}
	if ts.Matched == nil {
		t.Error("matched should be empty, not nil")
	}
}

func TestAnalyzeTextNoLexiconHits(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := a.AnalyzeText("the quick brown fox jumps over the lazy dog")
	if ts.Score != 0 {
		t.Errorf("score = %d, want 0", ts.Score)
	}
	if ts.Comparative != 0 {
		t.Errorf("comparative = %v, want 0", ts.Comparative)
	}
}

func TestComparativeRounding(t *testing.T) {
	a := newTestAnalyzer(t)

	// ddos -3 over 7 tokens: -3/7 = -0.42857... rounds to -0.4286.
	ts := a.AnalyzeText("a b c d e f ddos")
	if ts.Comparative != -0.4286 {
		t.Errorf("comparative = %v, want -0.4286", ts.Comparative)
	}
}

func TestScoreFieldsAggregation(t *testing.T) {
	a := newTestAnalyzer(t)

	res := a.ScoreFields([]Field{
		{Name: "title", Text: "leaked passwords"},
		{Name: "content", Text: ""},
		{Name: "author", Text: "anonymous"},
	})
	// title: -10 over 2 tokens (comparative -5); author: -1 over 1 token.
	if res.Score != -11 {
		t.Errorf("score = %d, want -11", res.Score)
	}
	if res.Comparative != -6 {
		t.Errorf("comparative = %v, want -6", res.Comparative)
	}
}

func TestScoreFieldsMatchedTermsSortedUnique(t *testing.T) {
	a := newTestAnalyzer(t)

	res := a.ScoreFields([]Field{
		{Name: "title", Text: "malware malware breach"},
		{Name: "content", Text: "breach and malware again"},
	})
	want := []string{"breach", "malware"}
	if len(res.MatchedTerms) != len(want) {
		t.Fatalf("matched terms = %v, want %v", res.MatchedTerms, want)
	}
	for i := range want {
		if res.MatchedTerms[i] != want[i] {
			t.Fatalf("matched terms = %v, want %v", res.MatchedTerms, want)
		}
	}
}

func TestScoreFieldsAllBlank(t *testing.T) {
	a := newTestAnalyzer(t)
	res := a.ScoreFields([]Field{{Name: "title", Text: "   "}})
	if res.Score != 0 || res.Comparative != 0 {
		t.Errorf("blank fields scored %+v, want zeros", res)
	}
	if res.MatchedTerms == nil {
		t.Error("matched terms should be empty, not nil")
	}
}

func TestThreatLevelBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{10, LevelNeutral},
		{0, LevelNeutral},
		{-1, LevelLow},
		{-9, LevelLow},
		{-10, LevelMedium},
		{-24, LevelMedium},
		{-25, LevelHigh},
		{-49, LevelHigh},
		{-50, LevelCritical},
		{-200, LevelCritical},
	}
	for _, tt := range tests {
		if got := ThreatLevel(tt.score); got != tt.want {
			t.Errorf("ThreatLevel(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestTokenizeWordBoundaries(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"zero-day exploit", []string{"zero", "day", "exploit"}},
		{"0day exploit", []string{"exploit"}},
		{"foo_bar baz", []string{"baz"}},
		{"", nil},
		{"...!!!", nil},
	}
	for _, tt := range tests {
		got := tokenize(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("tokenize(%q) = %v, want %v", tt.text, got, tt.want)
				break
			}
		}
	}
}

func TestExtraKeywordsOverrideAndThreat(t *testing.T) {
	lex := NewLexicon(map[string]int{"infostealer": -4, "good": -1})
	a := NewAnalyzer(lex)

	ts := a.AnalyzeText("infostealer logs")
	if ts.Score != -4 {
		t.Errorf("score = %d, want -4", ts.Score)
	}
	if len(ts.Matched) != 1 || ts.Matched[0] != "infostealer" {
		t.Errorf("matched = %v, want [infostealer]", ts.Matched)
	}

	// Extras override built-in weights.
	if w, _ := lex.Weight("good"); w != -1 {
		t.Errorf("weight(good) = %d, want -1", w)
	}
}

func BenchmarkAnalyzeText(b *testing.B) {
	a := NewAnalyzer(NewLexicon(nil))
	text := "leaked credentials and malware for sale on the black market, " +
		"fresh credit card dump with cvv, untraceable bitcoin payment accepted"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a.AnalyzeText(text)
	}
}

func BenchmarkScoreFields(b *testing.B) {
	a := NewAnalyzer(NewLexicon(nil))
	fields := []Field{
		{Name: "title", Text: "leaked passwords for sale"},
		{Name: "content", Text: "stolen credit card dump with cvv and fullz, payment in monero"},
		{Name: "author", Text: "anonymous"},
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a.ScoreFields(fields)
	}
}

func TestRound4(t *testing.T) {
	if got := round4(1.0 / 3.0); got != 0.3333 {
		t.Errorf("round4(1/3) = %v, want 0.3333", got)
	}
	if got := round4(-1.0 / 3.0); got != -0.3333 {
		t.Errorf("round4(-1/3) = %v, want -0.3333", got)
	}
	if math.Signbit(round4(0)) {
		t.Error("round4(0) should not be negative zero")
	}
}
