package scoring

import (
	"math"
	"sort"
	"strings"
)

// Threat levels derived from the aggregate score.
const (
	LevelCritical = "critical"
	LevelHigh     = "high"
	LevelMedium   = "medium"
	LevelLow      = "low"
	LevelNeutral  = "neutral"
)

// Field is one named text field of a document submitted for scoring.
type Field struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// TextScore is the result of analysing a single piece of text.
type TextScore struct {
	Score       int      `json:"score"`
	Comparative float64  `json:"comparative"`
	Matched     []string `json:"matched"`
	WordCount   int      `json:"word_count"`
}

// Result is the aggregate over all fields of a document.
type Result struct {
	Score        int      `json:"score"`
	Comparative  float64  `json:"comparative"`
	MatchedTerms []string `json:"matched_terms"`
}

// Analyzer scores text against a Lexicon. It is stateless beyond the
// immutable lexicon and safe for concurrent use.
type Analyzer struct {
	lex *Lexicon
}

// NewAnalyzer creates an Analyzer over the given lexicon.
func NewAnalyzer(lex *Lexicon) *Analyzer {
	return &Analyzer{lex: lex}
}

// Lexicon returns the analyzer's term table.
func (a *Analyzer) Lexicon() *Lexicon {
	return a.lex
}

// AnalyzeText scores one piece of text. Multi-word phrases are matched by
// substring first, then each word token is looked up in the lexicon. The
// comparative value is the score normalised by token count, rounded to four
// decimals. Output depends only on the input bytes.
func (a *Analyzer) AnalyzeText(text string) TextScore {
	if text == "" {
		return TextScore{Matched: []string{}}
	}
	lower := strings.ToLower(text)
	score := 0
	var matched []string

	for phrase, weight := range a.lex.phrases {
		if strings.Contains(lower, phrase) {
			score += weight
			if a.lex.IsThreat(phrase) {
				matched = append(matched, phrase)
			}
		}
	}

	tokens := tokenize(lower)
	for _, tok := range tokens {
		weight, ok := a.lex.Weight(tok)
		if !ok {
			continue
		}
		score += weight
		if a.lex.IsThreat(tok) {
			matched = append(matched, tok)
		}
	}

	comparative := 0.0
	if len(tokens) > 0 {
		comparative = round4(float64(score) / float64(len(tokens)))
	}
	return TextScore{
		Score:       score,
		Comparative: comparative,
		Matched:     dedupe(matched),
		WordCount:   len(tokens),
	}
}

// ScoreFields aggregates per-field scores: the total score is the sum of the
// per-field scores, the comparative is the sum of the per-field comparatives
// (deliberately not renormalised by field count; see DESIGN.md), and the
// matched terms are the de-duplicated union across fields. Blank fields and
// fields producing a non-finite comparative are skipped.
func (a *Analyzer) ScoreFields(fields []Field) Result {
	res := Result{MatchedTerms: []string{}}
	for _, f := range fields {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		ts := a.AnalyzeText(f.Text)
		if math.IsNaN(ts.Comparative) || math.IsInf(ts.Comparative, 0) {
			continue
		}
		res.Score += ts.Score
		res.Comparative += ts.Comparative
		res.MatchedTerms = append(res.MatchedTerms, ts.Matched...)
	}
	res.MatchedTerms = dedupe(res.MatchedTerms)
	return res
}

// ThreatLevel buckets a score into a discrete triage tier. Boundary scores
// fall into the more severe tier: -50 is critical, -25 is high, -10 is
// medium.
func ThreatLevel(score int) string {
	switch {
	case score >= 0:
		return LevelNeutral
	case score > -10:
		return LevelLow
	case score > -25:
		return LevelMedium
	case score > -50:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// tokenize extracts maximal runs of ASCII letters bounded by non-word
// characters from already-lowercased text. Digits and underscores glue to
// adjacent letters and disqualify the run, so "0day" yields no token while
// "zero-day" yields "zero" and "day".
func tokenize(lower string) []string {
	var tokens []string
	start := -1
	lettersOnly := true
	flush := func(end int) {
		if start >= 0 && lettersOnly {
			tokens = append(tokens, lower[start:end])
		}
		start = -1
		lettersOnly = true
	}
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		switch {
		case c >= 'a' && c <= 'z':
			if start < 0 {
				start = i
			}
		case c >= '0' && c <= '9' || c == '_':
			if start < 0 {
				start = i
			}
			lettersOnly = false
		default:
			flush(i)
		}
	}
	flush(len(lower))
	return tokens
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
