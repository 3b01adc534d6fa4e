// Package postgres stores documents in a single PostgreSQL table. Each row
// carries a version that conditional writes compare against, so the table
// behaves like the versioned document store the job store expects.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/djlord-it/cronstore/internal/docstore"
)

type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to databaseURL and checks the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the handle for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var (
		version int64
		body    []byte
	)
	err := s.db.QueryRowContext(ctx, queryGetDocument, collection, id).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, nil
	}
	if err != nil {
		return docstore.Document{}, transport("get", err)
	}
	return docstore.Document{Found: true, Version: docstore.Version(version), Source: body}, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, body []byte, opts docstore.PutOptions) (docstore.PutResult, error) {
	var version int64

	switch {
	case opts.CreateOnly:
		err := s.db.QueryRowContext(ctx, queryCreateDocument, collection, id, string(body)).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.PutResult{}, docstore.ErrDocumentExists
		}
		if err != nil {
			return docstore.PutResult{}, transport("create", err)
		}
		return docstore.PutResult{Created: true, Version: docstore.Version(version)}, nil

	case opts.IfVersion != 0:
		err := s.db.QueryRowContext(ctx, queryUpdateDocumentIfVersion, collection, id, int64(opts.IfVersion), string(body)).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.PutResult{}, docstore.ErrVersionConflict
		}
		if err != nil {
			return docstore.PutResult{}, transport("conditional update", err)
		}
		return docstore.PutResult{Version: docstore.Version(version)}, nil

	default:
		var created bool
		err := s.db.QueryRowContext(ctx, queryUpsertDocument, collection, id, string(body)).Scan(&version, &created)
		if err != nil {
			return docstore.PutResult{}, transport("upsert", err)
		}
		return docstore.PutResult{Created: created, Version: docstore.Version(version)}, nil
	}
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryDeleteDocument, collection, id)
	if err != nil {
		return false, transport("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, transport("delete", err)
	}
	return n > 0, nil
}

func (s *Store) Search(ctx context.Context, collection string, q docstore.Query) ([]docstore.Hit, error) {
	query, args, err := buildSearch(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transport("search", err)
	}
	defer rows.Close()

	var hits []docstore.Hit
	for rows.Next() {
		var (
			h       docstore.Hit
			version int64
			body    []byte
		)
		if err := rows.Scan(&h.ID, &version, &body); err != nil {
			return nil, transport("search scan", err)
		}
		h.Version = docstore.Version(version)
		h.Source = body
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, transport("search", err)
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, queryCountDocuments, collection).Scan(&n); err != nil {
		return 0, transport("count", err)
	}
	return n, nil
}

// buildSearch turns q into a parameterised SELECT. Term values become
// jsonb containment checks and ranges compare the field as bigint.
func buildSearch(collection string, q docstore.Query) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(querySearchDocumentsPrefix)
	args := []any{collection}

	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	for _, t := range q.Terms {
		if len(t.Values) == 0 {
			sb.WriteString("\n  AND false")
			continue
		}
		alts := make([]string, 0, len(t.Values))
		for _, v := range t.Values {
			probe, err := json.Marshal(map[string]any{t.Field: v})
			if err != nil {
				return "", nil, fmt.Errorf("encode term %s: %w", t.Field, err)
			}
			alts = append(alts, "body @> "+next(string(probe))+"::jsonb")
		}
		sb.WriteString("\n  AND (" + strings.Join(alts, " OR ") + ")")
	}

	for _, r := range q.Ranges {
		field := next(r.Field)
		if r.Gte != nil {
			sb.WriteString("\n  AND (body->>" + field + ")::bigint >= " + next(*r.Gte))
		}
		if r.Lte != nil {
			sb.WriteString("\n  AND (body->>" + field + ")::bigint <= " + next(*r.Lte))
		}
	}

	sb.WriteString("\nORDER BY id")
	if q.Limit > 0 {
		sb.WriteString("\nLIMIT " + next(q.Limit))
	}
	return sb.String(), args, nil
}

func transport(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %v", docstore.ErrTransport, op, err)
}

var _ docstore.Client = (*Store)(nil)
