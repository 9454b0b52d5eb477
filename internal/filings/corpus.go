package filings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/rs/zerolog"

	"github.com/dyike/CortexThesis/internal/dataflows"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
	"github.com/dyike/CortexThesis/pkg/sqlite"
)

// Corpus is a per-ticker store of filing passages.
type Corpus interface {
	// EnsureIngested makes sure the ticker's filings are searchable. It
	// reports whether new documents were ingested by this call.
	EnsureIngested(ctx context.Context, ticker string) (bool, error)
	Search(ctx context.Context, ticker, query string, topK int) ([]models.Passage, error)
}

// ErrUnknownIssuer means SEC does not list the ticker.
var ErrUnknownIssuer = errors.New("ticker not registered with SEC EDGAR")

// Source fetches filings from EDGAR.
type Source interface {
	CIK(ctx context.Context, ticker string) (string, bool, error)
	RecentFilings(ctx context.Context, cik string, forms []string, n int) ([]dataflows.Filing, error)
	Document(ctx context.Context, f dataflows.Filing) (string, error)
}

const corpusSchema = `
CREATE TABLE IF NOT EXISTS filing_documents (
	ticker      TEXT NOT NULL,
	accession   TEXT NOT NULL,
	form        TEXT NOT NULL,
	filed_at    TEXT NOT NULL,
	ingested_at INTEGER NOT NULL,
	PRIMARY KEY (ticker, accession)
);
CREATE TABLE IF NOT EXISTS filing_chunks (
	ticker    TEXT NOT NULL,
	accession TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	text      TEXT NOT NULL,
	source    TEXT NOT NULL,
	PRIMARY KEY (ticker, accession, seq),
	FOREIGN KEY (ticker, accession) REFERENCES filing_documents(ticker, accession) ON DELETE CASCADE
);
`

// Store is a SQLite-backed Corpus fed from EDGAR. Search ranks chunks with
// BM25; the index of a ticker is built on first search and dropped when
// the ticker is re-ingested.
type Store struct {
	db      *sql.DB
	source  Source
	forms   []string
	perForm int
	refresh time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	indexes map[string]*index
	locks   map[string]*sync.Mutex
}

type StoreOption func(*Store)

// WithRefresh sets how old a ticker's newest ingestion may be before
// EnsureIngested checks EDGAR again.
func WithRefresh(d time.Duration) StoreOption {
	return func(s *Store) { s.refresh = d }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func OpenStore(path string, source Source, opts ...StoreOption) (*Store, error) {
	db, err := sqlite.Open(path, corpusSchema)
	if err != nil {
		return nil, fmt.Errorf("open filings db: %w", err)
	}
	s := &Store{
		db:      db,
		source:  source,
		forms:   []string{"10-K", "10-Q"},
		perForm: 2,
		refresh: 7 * 24 * time.Hour,
		now:     time.Now,
		logger:  logging.Component("filings"),
		indexes: make(map[string]*index),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) tickerLock(ticker string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ticker] = l
	}
	return l
}

func (s *Store) EnsureIngested(ctx context.Context, ticker string) (bool, error) {
	ticker = dataflows.NormalizeSymbol(ticker)
	l := s.tickerLock(ticker)
	l.Lock()
	defer l.Unlock()

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ingested_at) FROM filing_documents WHERE ticker = ?`, ticker).Scan(&last); err != nil {
		return false, fmt.Errorf("check ingestion %s: %w", ticker, err)
	}
	if last.Valid && s.now().Sub(time.Unix(last.Int64, 0)) < s.refresh {
		return false, nil
	}

	cik, ok, err := s.source.CIK(ctx, ticker)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%s: %w", ticker, ErrUnknownIssuer)
	}
	filings, err := s.source.RecentFilings(ctx, cik, s.forms, s.perForm*len(s.forms))
	if err != nil {
		return false, err
	}

	ingested := false
	for _, f := range filings {
		seen, err := s.known(ctx, ticker, f.AccessionNumber)
		if err != nil {
			return ingested, err
		}
		if seen {
			continue
		}
		if err := s.ingest(ctx, ticker, f); err != nil {
			s.logger.Warn().Err(err).Str(logging.FieldTicker, ticker).Str("accession", f.AccessionNumber).Msg("filing ingestion failed")
			continue
		}
		ingested = true
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE filing_documents SET ingested_at = ? WHERE ticker = ?`, s.now().Unix(), ticker); err != nil {
		return ingested, fmt.Errorf("mark ingestion %s: %w", ticker, err)
	}
	if ingested {
		s.mu.Lock()
		delete(s.indexes, ticker)
		s.mu.Unlock()
	}
	return ingested, nil
}

func (s *Store) known(ctx context.Context, ticker, accession string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM filing_documents WHERE ticker = ? AND accession = ?`, ticker, accession).Scan(&n)
	return n > 0, err
}

func (s *Store) ingest(ctx context.Context, ticker string, f dataflows.Filing) error {
	html, err := s.source.Document(ctx, f)
	if err != nil {
		return err
	}
	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return fmt.Errorf("convert %s: %w", f.AccessionNumber, err)
	}
	pieces := Chunk(text, DefaultChunkSize, DefaultChunkOverlap)
	if len(pieces) == 0 {
		return fmt.Errorf("filing %s has no text", f.AccessionNumber)
	}
	source := fmt.Sprintf("%s %s", f.Form, f.FiledAt.Format("2006-01-02"))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO filing_documents (ticker, accession, form, filed_at, ingested_at) VALUES (?, ?, ?, ?, ?)`,
		ticker, f.AccessionNumber, f.Form, f.FiledAt.Format("2006-01-02"), s.now().Unix()); err != nil {
		return fmt.Errorf("insert filing %s: %w", f.AccessionNumber, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO filing_chunks (ticker, accession, seq, text, source) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, p := range pieces {
		if _, err := stmt.ExecContext(ctx, ticker, f.AccessionNumber, i, p, source); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", i, f.AccessionNumber, err)
		}
	}
	return tx.Commit()
}

// Search returns the topK passages of ticker ranked by BM25 relevance.
func (s *Store) Search(ctx context.Context, ticker, query string, topK int) ([]models.Passage, error) {
	ticker = dataflows.NormalizeSymbol(ticker)
	idx, err := s.index(ctx, ticker)
	if err != nil {
		return nil, err
	}
	hits := idx.search(query, topK)
	out := make([]models.Passage, len(hits))
	for i, h := range hits {
		c := idx.chunks[h.pos]
		out[i] = models.Passage{Text: c.Text, Source: c.Source, Score: h.score}
	}
	return out, nil
}

func (s *Store) index(ctx context.Context, ticker string) (*index, error) {
	s.mu.Lock()
	idx, ok := s.indexes[ticker]
	s.mu.Unlock()
	if ok {
		return idx, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.text, c.source FROM filing_chunks c
		JOIN filing_documents d ON d.ticker = c.ticker AND d.accession = c.accession
		WHERE c.ticker = ?
		ORDER BY d.filed_at DESC, c.accession, c.seq`, ticker)
	if err != nil {
		return nil, fmt.Errorf("load chunks %s: %w", ticker, err)
	}
	defer rows.Close()
	var chunks []chunk
	for rows.Next() {
		var c chunk
		if err := rows.Scan(&c.Text, &c.Source); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idx = newIndex(chunks)
	s.mu.Lock()
	s.indexes[ticker] = idx
	s.mu.Unlock()
	return idx, nil
}

// RenderPassages formats passages as numbered excerpts for a prompt.
func RenderPassages(ps []models.Passage) string {
	var b strings.Builder
	for i, p := range ps {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, p.Source, strings.TrimSpace(p.Text))
	}
	return strings.TrimSpace(b.String())
}
