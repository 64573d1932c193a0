package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
	"github.com/duskwatch/duskwatch/pkg/postgres"
)

// DefaultMaxBatch is the contracted bulk-upsert batch cap.
const DefaultMaxBatch = 100

// psql builds queries with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// searchableColumns is the allow-list of full-text columns callers may search
// across. Anything else is rejected before query construction.
var searchableColumns = map[string]struct{}{
	"title":   {},
	"content": {},
	"author":  {},
	"url":     {},
}

// DefaultSearchFields is the field set used when a caller does not narrow the
// search.
var DefaultSearchFields = []string{"title", "content", "author", "url"}

var docColumns = []string{
	"id", "url", "title", "content", "author", "source", "domain",
	"scraped_at", "is_onion", "fetch_layer", "status_code",
	"sentiment_score", "sentiment_comparative", "keywords_found",
}

// Store is the PostgreSQL-backed document store adapter.
type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

// New creates a Store over an open postgres client.
func New(client *postgres.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "document-store"),
	}
}

// EnsureSchema creates the documents table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id                    CHAR(32) PRIMARY KEY,
			url                   TEXT NOT NULL,
			title                 TEXT NOT NULL DEFAULT '',
			content               TEXT NOT NULL DEFAULT '',
			author                TEXT NOT NULL DEFAULT '',
			source                TEXT NOT NULL DEFAULT '',
			domain                TEXT NOT NULL DEFAULT '',
			scraped_at            TIMESTAMPTZ NOT NULL,
			is_onion              BOOLEAN NOT NULL DEFAULT FALSE,
			fetch_layer           TEXT NOT NULL DEFAULT '',
			status_code           INTEGER NOT NULL DEFAULT 0,
			sentiment_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			sentiment_comparative DOUBLE PRECISION NOT NULL DEFAULT 0,
			keywords_found        TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_scraped_at ON documents (scraped_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_domain ON documents (domain)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_is_onion ON documents (is_onion)`,
	}
	for _, stmt := range stmts {
		qctx, cancel := s.queryCtx(ctx)
		_, err := s.client.DB.ExecContext(qctx, stmt)
		cancel()
		if err != nil {
			return storeErr("ensuring schema", err)
		}
	}
	return nil
}

// Upsert writes a single document, overwriting any existing document with the
// same content-addressed id. The document must already be normalized.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	indexed, failed, err := s.BulkUpsert(ctx, []Document{doc}, 1)
	if err != nil {
		return err
	}
	if indexed == 0 || failed > 0 {
		return apperrors.New(apperrors.ErrValidation, 400, "document rejected during normalization")
	}
	return nil
}

// BulkUpsert normalizes and writes a batch of documents atomically. Batches
// over maxBatch are rejected wholesale before any work. Documents failing
// normalization are counted as per-item failures and skipped; the survivors
// are written in a single transaction, so readers never observe a partial
// batch. Within a batch, later documents win id collisions, matching the
// overwrite-on-resubmit dedup semantics.
func (s *Store) BulkUpsert(ctx context.Context, docs []Document, maxBatch int) (indexed int, failed int, err error) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if len(docs) > maxBatch {
		return 0, 0, apperrors.Newf(apperrors.ErrBatchTooLarge, 400,
			"batch of %d exceeds limit of %d", len(docs), maxBatch)
	}
	if len(docs) == 0 {
		return 0, 0, nil
	}

	now := time.Now().UTC()
	byID := make(map[string]int, len(docs))
	rows := make([]Document, 0, len(docs))
	for i := range docs {
		doc := docs[i]
		if normErr := doc.Normalize(now); normErr != nil {
			failed++
			s.logger.Warn("document rejected", "index", i, "error", normErr)
			continue
		}
		if pos, ok := byID[doc.ID]; ok {
			rows[pos] = doc
			continue
		}
		byID[doc.ID] = len(rows)
		rows = append(rows, doc)
	}
	if len(rows) == 0 {
		return 0, failed, nil
	}

	builder := psql.Insert("documents").Columns(docColumns...)
	for _, d := range rows {
		builder = builder.Values(
			d.ID, d.URL, d.Title, d.Content, d.Author, d.Source, d.Domain,
			d.ScrapedAt.Time, d.IsOnion, d.FetchLayer, d.StatusCode,
			d.SentimentScore, d.SentimentComparative, pq.Array(d.KeywordsFound),
		)
	}
	builder = builder.Suffix(`ON CONFLICT (id) DO UPDATE SET
		url = EXCLUDED.url,
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		author = EXCLUDED.author,
		source = EXCLUDED.source,
		domain = EXCLUDED.domain,
		scraped_at = EXCLUDED.scraped_at,
		is_onion = EXCLUDED.is_onion,
		fetch_layer = EXCLUDED.fetch_layer,
		status_code = EXCLUDED.status_code,
		sentiment_score = EXCLUDED.sentiment_score,
		sentiment_comparative = EXCLUDED.sentiment_comparative,
		keywords_found = EXCLUDED.keywords_found`)

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, failed, fmt.Errorf("building bulk upsert: %w", err)
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	err = s.client.InTx(qctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(qctx, query, args...)
		return execErr
	})
	if err != nil {
		return 0, failed, storeErr("bulk upsert", err)
	}
	return len(rows), failed, nil
}

// GetByID fetches a single document. Malformed ids are rejected without a
// store round-trip; missing ids map to ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*Document, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	query, args, err := psql.Select(docColumns...).
		From("documents").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	doc, err := scanDocument(s.client.DB.QueryRowContext(qctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found", id)
	}
	if err != nil {
		return nil, storeErr("getting document", err)
	}
	return doc, nil
}

// Search returns one page of documents matching sanitizedQuery across the
// given full-text fields, newest first. An empty query matches every
// document. Results are ordered by (scraped_at DESC, id DESC) so consecutive
// pages neither overlap nor skip, absent concurrent writes.
func (s *Store) Search(ctx context.Context, sanitizedQuery string, fields []string, page, pageSize int) ([]Document, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = 10
	}

	query, args, err := searchQuery(sanitizedQuery, fields, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("building search query: %w", err)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.client.DB.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, storeErr("searching documents", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, pageSize)
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, storeErr("scanning document", scanErr)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating documents", err)
	}
	return docs, nil
}

// Count returns the number of documents matching sanitizedQuery with the same
// semantics as Search.
func (s *Store) Count(ctx context.Context, sanitizedQuery string, fields []string) (int64, error) {
	if err := validateFields(fields); err != nil {
		return 0, err
	}
	builder := psql.Select("COUNT(*)").From("documents")
	builder = applyMatch(builder, sanitizedQuery, fields)

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var count int64
	if err := s.client.DB.QueryRowContext(qctx, query, args...).Scan(&count); err != nil {
		return 0, storeErr("counting documents", err)
	}
	return count, nil
}

// Delete removes a document by id, failing with ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	query, args, err := psql.Delete("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	res, err := s.client.DB.ExecContext(qctx, query, args...)
	if err != nil {
		return storeErr("deleting document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("deleting document", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found", id)
	}
	return nil
}

// Stats reports the document count and on-disk table size.
type Stats struct {
	DocumentCount int64 `json:"document_count"`
	SizeBytes     int64 `json:"size_bytes"`
}

// Stats returns index-level statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var st Stats
	err := s.client.DB.QueryRowContext(qctx,
		`SELECT COUNT(*), COALESCE(pg_total_relation_size('documents'), 0) FROM documents`,
	).Scan(&st.DocumentCount, &st.SizeBytes)
	if err != nil {
		return nil, storeErr("reading store stats", err)
	}
	return &st, nil
}

// Ping probes the backing database.
func (s *Store) Ping(ctx context.Context) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.client.Ping(qctx)
}

// queryCtx bounds one store round-trip with the configured query timeout,
// independently of any HTTP-layer deadline.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.client.QueryTimeout())
}

// searchQuery builds one page of the search statement. Ordering by
// (scraped_at DESC, id DESC) keeps consecutive pages overlap- and gap-free
// absent concurrent writes.
func searchQuery(sanitizedQuery string, fields []string, page, pageSize int) (string, []any, error) {
	builder := psql.Select(docColumns...).From("documents")
	builder = applyMatch(builder, sanitizedQuery, fields)
	return builder.
		OrderBy("scraped_at DESC", "id DESC").
		Limit(uint64(pageSize)).
		Offset(uint64(page) * uint64(pageSize)).
		ToSql()
}

// likeEscaper neutralizes the LIKE metacharacters in caller text. The
// sanitizer's backslashes already read as literal escapes under ILIKE, so
// after this step the whole pattern body matches only literally.
var likeEscaper = strings.NewReplacer("%", `\%`, "_", `\_`)

// applyMatch adds the text-match predicate: ILIKE across the allow-listed
// fields for a non-empty query, no predicate (match all) otherwise. The
// only active wildcards in the pattern are the two added here.
func applyMatch(builder sq.SelectBuilder, sanitizedQuery string, fields []string) sq.SelectBuilder {
	if sanitizedQuery == "" {
		return builder
	}
	pattern := "%" + likeEscaper.Replace(sanitizedQuery) + "%"
	match := make(sq.Or, 0, len(fields))
	for _, f := range fields {
		match = append(match, sq.ILike{f: pattern})
	}
	return builder.Where(match)
}

func validateFields(fields []string) error {
	if len(fields) == 0 {
		return apperrors.New(apperrors.ErrValidation, 400, "at least one search field is required")
	}
	for _, f := range fields {
		if _, ok := searchableColumns[f]; !ok {
			return apperrors.Newf(apperrors.ErrValidation, 400, "field %q is not searchable", f)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var scrapedAt time.Time
	err := row.Scan(
		&d.ID, &d.URL, &d.Title, &d.Content, &d.Author, &d.Source, &d.Domain,
		&scrapedAt, &d.IsOnion, &d.FetchLayer, &d.StatusCode,
		&d.SentimentScore, &d.SentimentComparative, pq.Array(&d.KeywordsFound),
	)
	if err != nil {
		return nil, err
	}
	d.ScrapedAt = NewTimestamp(scrapedAt)
	if d.KeywordsFound == nil {
		d.KeywordsFound = []string{}
	}
	return &d, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrStoreUnavailable, err)
}
