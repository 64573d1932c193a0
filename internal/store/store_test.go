package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
	"github.com/duskwatch/duskwatch/pkg/postgres"
)

func TestValidateFields(t *testing.T) {
	if err := validateFields(DefaultSearchFields); err != nil {
		t.Errorf("default fields rejected: %v", err)
	}
	if err := validateFields(nil); err == nil {
		t.Error("empty field list accepted")
	}
	err := validateFields([]string{"title", "password"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("unknown field: err = %v, want ErrValidation", err)
	}
}

func TestApplyMatchParameterizesQueryText(t *testing.T) {
	hostile := `'; DROP TABLE documents; --`
	builder := applyMatch(psql.Select("id").From("documents"), hostile, []string{"title", "content"})
	query, args, err := builder.ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(query, "DROP TABLE") {
		t.Errorf("query text leaked into SQL: %s", query)
	}
	if !strings.Contains(query, "ILIKE") {
		t.Errorf("expected ILIKE predicate, got: %s", query)
	}
	if len(args) != 2 {
		t.Fatalf("args = %v, want one bind per field", args)
	}
	for _, a := range args {
		if a != "%"+hostile+"%" {
			t.Errorf("arg = %v, want wrapped pattern", a)
		}
	}
}

func TestApplyMatchEscapesLikeWildcards(t *testing.T) {
	// % and _ survive the query sanitizer, so the pattern builder must
	// neutralize them or they act as wildcards inside ILIKE.
	builder := applyMatch(psql.Select("id").From("documents"), "100%_off", []string{"title"})
	_, args, err := builder.ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 {
		t.Fatalf("args = %v, want one bind", args)
	}
	if want := `%100\%\_off%`; args[0] != want {
		t.Errorf("pattern = %v, want %q", args[0], want)
	}
}

func TestSearchQueryPaginationStable(t *testing.T) {
	query, args, err := searchQuery("", DefaultSearchFields, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(query, "ORDER BY scraped_at DESC, id DESC") {
		t.Errorf("query lacks the stable sort: %s", query)
	}
	if !strings.HasSuffix(query, "LIMIT 10 OFFSET 20") {
		t.Errorf("page 2 of 10 built wrong bounds: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none for match-all", args)
	}

	query, _, err = searchQuery("", DefaultSearchFields, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(query, "LIMIT 10 OFFSET 0") {
		t.Errorf("page 0 must start at the top: %s", query)
	}
}

func TestQueryCtxBoundsRoundTrips(t *testing.T) {
	s := &Store{client: &postgres.Client{}, logger: slog.Default()}
	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("store round-trip context carries no deadline")
	}
	if until := time.Until(deadline); until <= 0 || until > 10*time.Second {
		t.Errorf("deadline %v from now, want within the query timeout", until)
	}
}

func TestApplyMatchEmptyQueryMatchesAll(t *testing.T) {
	builder := applyMatch(psql.Select("id").From("documents"), "", DefaultSearchFields)
	query, args, err := builder.ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(query, "WHERE") {
		t.Errorf("empty query added a predicate: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

func TestTermFrequencyRejectsUnknownColumn(t *testing.T) {
	s := &Store{logger: slog.Default()}
	_, err := s.TermFrequency(context.Background(), "password", 10)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestTimelineRejectsUnknownInterval(t *testing.T) {
	s := &Store{logger: slog.Default()}
	_, err := s.Timeline(context.Background(), "millennium", 30)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestBulkUpsertRejectsOversizedBatch(t *testing.T) {
	s := &Store{logger: slog.Default()}
	docs := make([]Document, DefaultMaxBatch+1)
	for i := range docs {
		docs[i] = Document{URL: "http://example.onion/x"}
	}
	_, _, err := s.BulkUpsert(context.Background(), docs, DefaultMaxBatch)
	if !errors.Is(err, apperrors.ErrBatchTooLarge) {
		t.Errorf("err = %v, want ErrBatchTooLarge", err)
	}
}

func TestStoreErrWrapsSentinel(t *testing.T) {
	err := storeErr("probing", errors.New("connection refused"))
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v, want cause preserved", err)
	}
}
