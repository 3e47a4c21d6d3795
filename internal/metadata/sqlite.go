// Package metadata reads the article corpus: titles plus optional authority
// and popularity signals keyed by article id.
package metadata

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/logger"
)

// SQLite caps bound parameters per statement; stay well under it.
const batchSize = 500

// article_key(text) is identity.Key inside SQL. SQLite's own lower() folds
// ASCII only.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("article_key", 1, articleKey)
}

func articleKey(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return identity.Key(v), nil
	case []byte:
		return identity.Key(string(v)), nil
	case nil:
		return nil, nil
	default:
		return identity.Key(fmt.Sprint(v)), nil
	}
}

// Signals reports which optional columns the corpus carries.
type Signals struct {
	PageRank    bool `json:"pagerank"`
	PageViews   bool `json:"pageviews"`
	Backlinks   bool `json:"backlinks"`
	LookupTitle bool `json:"lookup_title"`
}

// Store is a read-only view over the `articles` table. It is safe for
// concurrent use.
type Store struct {
	db      *sql.DB
	signals Signals
	columns string
}

// Open opens the corpus at path and detects its optional columns.
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("metadata store ready",
		"path", path,
		"pagerank", s.signals.PageRank,
		"pageviews", s.signals.PageViews,
		"backlinks", s.signals.Backlinks,
		"lookup_title", s.signals.LookupTitle,
	)
	return s, nil
}

// New wraps an already opened database.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.detectSignals(ctx); err != nil {
		return nil, err
	}
	cols := []string{"article_id", "title"}
	if s.signals.PageRank {
		cols = append(cols, "pagerank")
	}
	if s.signals.PageViews {
		cols = append(cols, "pageviews")
	}
	if s.signals.Backlinks {
		cols = append(cols, "backlinks")
	}
	s.columns = strings.Join(cols, ", ")
	return s, nil
}

func (s *Store) detectSignals(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(articles)")
	if err != nil {
		return fmt.Errorf("inspect articles table: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool)
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table info: %w", err)
		}
		found[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read table info: %w", err)
	}
	if !found["article_id"] || !found["title"] {
		return fmt.Errorf("articles table missing or lacks article_id/title columns")
	}

	s.signals = Signals{
		PageRank:    found["pagerank"],
		PageViews:   found["pageviews"],
		Backlinks:   found["backlinks"],
		LookupTitle: found["lookup_title"],
	}
	return nil
}

func (s *Store) Signals() Signals { return s.signals }

func (s *Store) Close() error { return s.db.Close() }

// Lookup returns the rows for ids. Unknown ids are absent from the result.
func (s *Store) Lookup(ctx context.Context, ids []int64) (map[int64]model.Article, error) {
	out := make(map[int64]model.Article, len(ids))
	for _, chunk := range chunks(identity.DedupeIDs(ids)) {
		q := fmt.Sprintf("SELECT %s FROM articles WHERE article_id IN (%s)", s.columns, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("lookup articles: %w", err)
		}
		if err := s.scanArticles(rows, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) scanArticles(rows *sql.Rows, out map[int64]model.Article) error {
	defer rows.Close()
	for rows.Next() {
		var a model.Article
		var pr, pv, backlinks sql.NullFloat64
		dest := []any{&a.ID, &a.Title}
		if s.signals.PageRank {
			dest = append(dest, &pr)
		}
		if s.signals.PageViews {
			dest = append(dest, &pv)
		}
		if s.signals.Backlinks {
			dest = append(dest, &backlinks)
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan article: %w", err)
		}
		if pr.Valid {
			v := pr.Float64
			a.PageRank = &v
		}
		if pv.Valid {
			v := int64(pv.Float64)
			a.PageViews = &v
		}
		if backlinks.Valid {
			v := int64(backlinks.Float64)
			a.Backlinks = &v
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read articles: %w", err)
	}
	return nil
}

// Titles resolves ids to titles.
func (s *Store) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	for _, chunk := range chunks(identity.DedupeIDs(ids)) {
		q := fmt.Sprintf("SELECT article_id, title FROM articles WHERE article_id IN (%s)", placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("lookup titles: %w", err)
		}
		for rows.Next() {
			var id int64
			var title string
			if err := rows.Scan(&id, &title); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan title: %w", err)
			}
			out[id] = title
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("read titles: %w", err)
		}
	}
	return out, nil
}

// ResolveKeys maps canonical keys to article ids. When several articles
// share a key the smallest id wins. Unknown keys are absent.
func (s *Store) ResolveKeys(ctx context.Context, keys []string) (map[string]int64, error) {
	want := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = identity.Key(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		want = append(want, k)
	}

	column := "article_key(title)"
	if s.signals.LookupTitle {
		column = "article_key(lookup_title)"
	}

	out := make(map[string]int64, len(want))
	for start := 0; start < len(want); start += batchSize {
		end := min(start+batchSize, len(want))
		chunk := want[start:end]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		q := fmt.Sprintf("SELECT article_id, %s FROM articles WHERE %s IN (%s)", column, column, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("resolve keys: %w", err)
		}
		for rows.Next() {
			var id int64
			var raw string
			if err := rows.Scan(&id, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan key: %w", err)
			}
			k := identity.Key(raw)
			if prev, ok := out[k]; !ok || id < prev {
				out[k] = id
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("read keys: %w", err)
		}
	}
	return out, nil
}

func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += batchSize {
		out = append(out, ids[start:min(start+batchSize, len(ids))])
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
