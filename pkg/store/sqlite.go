package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

var (
	collectionRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fieldRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// SQLite keeps one table per collection with the document body as JSON text.
// Filters run on json_extract.
type SQLite struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

var _ DocumentStore = (*SQLite)(nil)

// Open opens (and creates if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps :memory: on one connection
	db.SetConnMaxLifetime(time.Hour)

	return &SQLite{db: db, tables: make(map[string]bool)}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) ensure(ctx context.Context, collection string) error {
	if !collectionRe.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[collection] {
		return nil
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, body TEXT NOT NULL)`, collection)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	s.tables[collection] = true
	return nil
}

func (s *SQLite) Insert(ctx context.Context, collection string, doc any) (string, error) {
	if err := s.ensure(ctx, collection); err != nil {
		return "", err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := uuid.NewString()
	stmt := fmt.Sprintf(`INSERT INTO %q (id, body) VALUES (?, ?)`, collection)
	if _, err := s.db.ExecContext(ctx, stmt, id, string(body)); err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	return id, nil
}

func (s *SQLite) Update(ctx context.Context, collection string, filter Filter, set map[string]any) (int64, error) {
	if err := s.ensure(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, body FROM %q%s`, collection, where), args...)
	if err != nil {
		return 0, fmt.Errorf("select for update: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf(`UPDATE %q SET body = ? WHERE id = ?`, collection)
	for _, d := range docs {
		var m map[string]any
		if err := json.Unmarshal(d.Body, &m); err != nil {
			return 0, fmt.Errorf("document %s is not an object: %w", d.ID, err)
		}
		for k, v := range set {
			m[k] = v
		}
		body, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("encode document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, string(body), d.ID); err != nil {
			return 0, fmt.Errorf("update %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit update: %w", err)
	}
	return int64(len(docs)), nil
}

func (s *SQLite) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := s.GetList(ctx, collection, filter, ListOptions{Limit: 1})
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

func (s *SQLite) GetList(ctx context.Context, collection string, filter Filter, opts ListOptions) ([]Document, error) {
	if err := s.ensure(ctx, collection); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	var q strings.Builder
	fmt.Fprintf(&q, `SELECT id, body FROM %q%s`, collection, where)
	if opts.Sort != "" {
		if !fieldRe.MatchString(opts.Sort) {
			return nil, fmt.Errorf("invalid sort field %q", opts.Sort)
		}
		dir := "ASC"
		if opts.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&q, ` ORDER BY json_extract(body, '$.%s') %s, rowid ASC`, opts.Sort, dir)
	} else {
		q.WriteString(` ORDER BY rowid ASC`)
	}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		q.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return scanDocuments(rows)
}

func (s *SQLite) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := s.ensure(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q%s`, collection, where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Distinct returns the distinct values of field among matching documents,
// sorted by their string form.
func (s *SQLite) Distinct(ctx context.Context, collection, field string, filter Filter) ([]any, error) {
	if err := s.ensure(ctx, collection); err != nil {
		return nil, err
	}
	if !fieldRe.MatchString(field) {
		return nil, fmt.Errorf("invalid field %q", field)
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT DISTINCT json_extract(body, '$.%s') FROM %q%s`, field, collection, where)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	defer rows.Close()

	out := []any{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out, nil
}

func buildWhere(f Filter) (string, []any, error) {
	var clauses []string
	var args []any

	keys := make([]string, 0, len(f.Eq))
	for k := range f.Eq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fieldRe.MatchString(k) {
			return "", nil, fmt.Errorf("invalid filter field %q", k)
		}
		clauses = append(clauses, fmt.Sprintf(`json_extract(body, '$.%s') = ?`, k))
		args = append(args, f.Eq[k])
	}
	for _, r := range f.Range {
		if !fieldRe.MatchString(r.Field) {
			return "", nil, fmt.Errorf("invalid range field %q", r.Field)
		}
		if r.Gte != nil {
			clauses = append(clauses, fmt.Sprintf(`json_extract(body, '$.%s') >= ?`, r.Field))
			args = append(args, r.Gte)
		}
		if r.Lt != nil {
			clauses = append(clauses, fmt.Sprintf(`json_extract(body, '$.%s') < ?`, r.Field))
			args = append(args, r.Lt)
		}
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, Document{ID: id, Body: json.RawMessage(body)})
	}
	return out, rows.Err()
}
