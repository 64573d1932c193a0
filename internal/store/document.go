// Package store is the document store adapter. It owns the PostgreSQL
// connection to the search index, computes content-addressed document ids,
// and exposes bulk-upsert, lookup, paginated search, count, and aggregation
// primitives. All free text reaching SQL travels as bind parameters built
// through squirrel; column names come only from internal allow-lists.
package store

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
)

// Field length caps enforced before any write.
const (
	MaxTitleLength   = 500
	MaxContentLength = 10000
	MaxURLLength     = 2000
)

// TimeLayout is the canonical string form of scraped_at timestamps.
const TimeLayout = "2006-01-02 15:04:05"

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Timestamp is a time.Time that accepts either the canonical string layout
// or epoch milliseconds on input, and always serialises to the canonical
// layout in UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(TimeLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		t.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseInLocation(TimeLayout, s, time.UTC)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("timestamp %q: want %q or epoch millis", s, TimeLayout)
			}
		}
		t.Time = parsed.UTC()
		return nil
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("timestamp: want %q or epoch millis", TimeLayout)
	}
	t.Time = time.UnixMilli(millis).UTC()
	return nil
}

// Key returns the id-digest component for this timestamp: the canonical
// string, or "" when unset. Documents submitted without a timestamp get the
// ingestion time filled in afterwards, so the empty component keeps their id
// stable across the fill.
func (t Timestamp) Key() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// Document is the unit of collected intelligence.
type Document struct {
	ID                   string    `json:"id"`
	URL                  string    `json:"url"`
	Title                string    `json:"title"`
	Content              string    `json:"content"`
	Author               string    `json:"author,omitempty"`
	Source               string    `json:"source,omitempty"`
	Domain               string    `json:"domain,omitempty"`
	ScrapedAt            Timestamp `json:"scraped_at"`
	IsOnion              bool      `json:"is_onion"`
	FetchLayer           string    `json:"fetch_layer,omitempty"`
	StatusCode           int       `json:"status_code,omitempty"`
	SentimentScore       float64   `json:"sentiment_score"`
	SentimentComparative float64   `json:"sentiment_comparative"`
	KeywordsFound        []string  `json:"keywords_found"`
}

// ComputeID derives the content-addressed document id from the dedup key
// fields. Re-submitting the same (url, scraped_at, title) always produces the
// same id.
func ComputeID(url string, scrapedAt Timestamp, title string) string {
	sum := md5.Sum([]byte(url + scrapedAt.Key() + title))
	return hex.EncodeToString(sum[:])
}

// ValidateID rejects ids that cannot be a ComputeID digest, so malformed
// lookups fail before a store round-trip.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return apperrors.Newf(apperrors.ErrInvalidID, 400, "id %q is not a 32-char hex digest", id)
	}
	return nil
}

// Normalize enforces the ingestion-time invariants in place: the id is
// computed from the dedup key, oversized fields are truncated, a missing
// scraped_at is filled with now, and a missing keyword set becomes empty.
// The id is computed before the timestamp fill so documents submitted
// without a timestamp stay re-addressable. A document without a URL is
// rejected.
func (d *Document) Normalize(now time.Time) error {
	if strings.TrimSpace(d.URL) == "" {
		return apperrors.New(apperrors.ErrValidation, 400, "document url is required")
	}
	d.Title = truncateRunes(d.Title, MaxTitleLength)
	d.Content = truncateRunes(d.Content, MaxContentLength)
	d.URL = truncateRunes(d.URL, MaxURLLength)

	d.ID = ComputeID(d.URL, d.ScrapedAt, d.Title)
	if d.ScrapedAt.IsZero() {
		d.ScrapedAt = NewTimestamp(now)
	}
	if d.KeywordsFound == nil {
		d.KeywordsFound = []string{}
	}
	return nil
}

func truncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
