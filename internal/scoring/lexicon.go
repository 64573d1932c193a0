// Package scoring implements the deterministic lexicon-weighted scoring
// engine. A base polarity table provides general sentiment weights and a
// threat-term table biases the score toward domain-specific severity; the
// more negative the aggregate score, the more concerning the document.
package scoring

import "strings"

// basePolarity is a general-purpose polarity table for common sentiment
// words. It augments the threat terms so ordinary language still moves the
// score.
var basePolarity = map[string]int{
	"good": 3, "great": 3, "excellent": 3, "amazing": 4, "awesome": 4,
	"bad": -3, "terrible": -3, "awful": -3, "horrible": -4,
	"love": 3, "hate": -3, "like": 2, "dislike": -2,
	"happy": 3, "sad": -2, "angry": -3, "fear": -2,
	"success": 3, "fail": -2, "failure": -2, "error": -1,
	"secure": 2, "insecure": -2, "safe": 2, "danger": -3,
	"free": 1, "cheap": 1, "expensive": -1,
	"fast": 1, "slow": -1, "easy": 1, "hard": -1,
	"new": 1, "old": -1, "fresh": 1, "stale": -1,
	"trust": 2, "distrust": -2, "reliable": 2, "unreliable": -2,
	"legal": 1, "illegal": -3, "legit": 1, "scam": -4,
}

// threatTerms carries the monitored-marketplace vocabulary. Matches land in a
// document's keywords_found set in addition to contributing their weight.
var threatTerms = map[string]int{
	// Cyber attacks
	"ddos": -3, "exploits": -4, "exploit": -4, "attack": -3,
	"malware": -4, "ransomware": -4, "trojan": -4, "botnet": -4,
	"backdoor": -4, "rootkit": -5, "zero-day": -5, "0day": -5,
	"vulnerability": -3, "cve": -2,

	// Credentials and data
	"passwords": -5, "password": -5, "credentials": -5, "username": -5,
	"account": -3, "leaked": -5, "breach": -5, "dump": -4,
	"fullz": -5, "ssn": -5, "dob": -3, "stolen": -5,
	"hacked": -4, "cracked": -4, "combo": -3, "combolist": -4,

	// Financial
	"credit cards": -5, "credit card": -5, "cc": -3, "cvv": -5,
	"bin": -3, "carding": -5, "cashout": -4,
	"bitcoin": -2, "btc": -2, "monero": -2, "xmr": -2,
	"crypto": -1, "wallet": -2, "money": -2, "dollar": -1,

	// Illegal goods
	"weapons": -5, "guns": -5, "explosives": -5,
	"drugs": -4, "narcotics": -4,

	// General dark web
	"forbidden": -3, "underground": -2, "black market": -4,
	"darknet": -2, "onion": -1, "tor": -1, "anonymous": -1,
	"untraceable": -3,

	// Fraud
	"fraud": -4, "phishing": -4, "spoof": -3, "fake": -2,
	"counterfeit": -4, "forged": -4,

	// Access
	"admin": -2, "root": -2, "shell": -3, "rdp": -3,
	"vpn": -1, "proxy": -1, "access": -2,

	// PII
	"identity": -3, "biometric": -3, "passport": -4, "license": -3,
	"social security": -5,

	// Transliterated terms
	"vzlomschik": -4, "zaliv": -3, "beznal": -3, "vzlom": -4,
}

// Lexicon is the merged, immutable weighted-term table used by the Analyzer.
// Multi-word entries are matched as phrases, single words as tokens.
type Lexicon struct {
	words   map[string]int
	phrases map[string]int
	threat  map[string]struct{}
}

// LexiconStats summarises the loaded table for the admin endpoint.
type LexiconStats struct {
	TotalTerms   int `json:"total_terms"`
	ThreatTerms  int `json:"threat_terms"`
	Positive     int `json:"positive"`
	Negative     int `json:"negative"`
	MostNegative int `json:"most_negative"`
	MostPositive int `json:"most_positive"`
}

// NewLexicon builds the lexicon from the built-in tables plus any extra
// entries from configuration. Extras override built-ins on conflict and are
// treated as threat terms: an operator adds them to be alerted on matches.
// The returned Lexicon is immutable and safe for concurrent use.
func NewLexicon(extra map[string]int) *Lexicon {
	l := &Lexicon{
		words:   make(map[string]int, len(basePolarity)+len(threatTerms)+len(extra)),
		phrases: make(map[string]int),
		threat:  make(map[string]struct{}, len(threatTerms)+len(extra)),
	}
	for term, weight := range basePolarity {
		l.add(term, weight, false)
	}
	for term, weight := range threatTerms {
		l.add(term, weight, true)
	}
	for term, weight := range extra {
		l.add(term, weight, true)
	}
	return l
}

func (l *Lexicon) add(term string, weight int, isThreat bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return
	}
	if strings.Contains(term, " ") {
		l.phrases[term] = weight
	} else {
		l.words[term] = weight
	}
	if isThreat {
		l.threat[term] = struct{}{}
	}
}

// Weight returns the configured weight for a single-word term.
func (l *Lexicon) Weight(word string) (int, bool) {
	w, ok := l.words[word]
	return w, ok
}

// IsThreat reports whether the term belongs to the threat vocabulary.
func (l *Lexicon) IsThreat(term string) bool {
	_, ok := l.threat[term]
	return ok
}

// Stats summarises the table contents.
func (l *Lexicon) Stats() LexiconStats {
	s := LexiconStats{ThreatTerms: len(l.threat)}
	scan := func(weights map[string]int) {
		for _, w := range weights {
			s.TotalTerms++
			if w > 0 {
				s.Positive++
			} else if w < 0 {
				s.Negative++
			}
			if w < s.MostNegative {
				s.MostNegative = w
			}
			if w > s.MostPositive {
				s.MostPositive = w
			}
		}
	}
	scan(l.words)
	scan(l.phrases)
	return s
}
