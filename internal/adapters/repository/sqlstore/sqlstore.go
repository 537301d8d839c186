// Package sqlstore implements repository.Store on a single SQL table of CBOR
// encoded documents, for SQLite and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/repository/sqlstore/migrations"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultPollInterval = time.Second

// Store is a repository.Store backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	hub     *repository.Hub

	pollInterval time.Duration
	maxOpenConns int
	now          func() time.Time
	logger       logger.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

var _ repository.Store = (*Store)(nil)

// Open connects to dsn with driver ("sqlite" or "postgres") and applies the
// embedded migrations. For SQLite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrMissingDSN
	}

	s := &Store{
		dialect:      d,
		hub:          repository.NewHub(),
		pollInterval: defaultPollInterval,
		maxOpenConns: 8,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("sql_store")
	}

	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if err := applyMigrations(ctx, db, d, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s.db = db

	if s.pollInterval > 0 {
		s.startPolling()
	}
	s.logger.Info(ctx, "sql store opened", logger.String("driver", driver))
	return s, nil
}

// startPolling wakes every subscription periodically so writes made by other
// processes reach them.
func (s *Store) startPolling() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.hub.NotifyAll()
			}
		}
	}()
}

// Close ends subscriptions and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.hub.Close()
		err = s.db.Close()
	})
	return err
}

const selectColumns = "seq, collection, id, version, created_at, updated_at, body"

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (repository.Document, error) {
	var (
		doc                  repository.Document
		createdAt, updatedAt int64
		body                 []byte
	)
	if err := row.Scan(&doc.Seq, &doc.Collection, &doc.ID, &doc.Version, &createdAt, &updatedAt, &body); err != nil {
		return repository.Document{}, err
	}
	fields, err := repository.DecodeFields(body)
	if err != nil {
		return repository.Document{}, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	doc.CreatedAt = repository.FromMillis(createdAt)
	doc.UpdatedAt = repository.FromMillis(updatedAt)
	doc.Fields = fields
	return doc, nil
}

func scopeOf(fields map[string]any) string {
	scope, _ := fields[repository.ScopeField].(string)
	return scope
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (doc repository.Document, err error) {
	const op = "sqlstore.get"
	defer func(start time.Time) { repository.Observe(s.dialect.name, "get", start, err) }(time.Now())

	doc, err = s.get(ctx, s.db, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.Document{}, repository.NotFound(op, collection, id)
	}
	if err != nil {
		return repository.Document{}, repository.Transport(op, err)
	}
	return doc, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, collection, id string) (repository.Document, error) {
	row := q.QueryRowContext(ctx,
		s.dialect.rebind("SELECT "+selectColumns+" FROM documents WHERE collection = ? AND id = ?"),
		collection, id)
	return scanDocument(row)
}

// Create implements repository.Store. The UNIQUE(collection, id) constraint
// decides races; the loser reads back the winner's document.
func (s *Store) Create(ctx context.Context, collection, id string, fields map[string]any) (doc repository.Document, created bool, err error) {
	const op = "sqlstore.create"
	defer func(start time.Time) { repository.Observe(s.dialect.name, "create", start, err) }(time.Now())

	if collection == "" || id == "" {
		return repository.Document{}, false, repository.Invalid(op, repository.ErrInvalidArgument)
	}
	norm, err := repository.NormalizeFields(fields)
	if err != nil {
		return repository.Document{}, false, repository.Invalid(op, err)
	}
	body, err := repository.EncodeFields(norm)
	if err != nil {
		return repository.Document{}, false, repository.Invalid(op, err)
	}

	now := s.now().UTC()
	var seq int64
	err = s.db.QueryRowContext(ctx,
		s.dialect.rebind(`INSERT INTO documents (collection, id, scope, version, created_at, updated_at, body)
		 VALUES (?, ?, ?, 1, ?, ?, ?) RETURNING seq`),
		collection, id, scopeOf(norm), repository.ToMillis(now), repository.ToMillis(now), body,
	).Scan(&seq)
	if err != nil {
		if !s.dialect.uniqueErr(err) {
			return repository.Document{}, false, repository.Transport(op, err)
		}
		existing, err := s.get(ctx, s.db, collection, id)
		if err != nil {
			return repository.Document{}, false, repository.Transport(op, err)
		}
		return existing, false, nil
	}

	s.hub.Notify(collection)
	return repository.Document{
		Collection: collection,
		ID:         id,
		Seq:        seq,
		Version:    1,
		CreatedAt:  repository.FromMillis(repository.ToMillis(now)),
		UpdatedAt:  repository.FromMillis(repository.ToMillis(now)),
		Fields:     norm,
	}, true, nil
}

// Put implements repository.Store. The read-merge-write runs in one
// transaction; PostgreSQL locks the row, SQLite has a single connection.
func (s *Store) Put(ctx context.Context, collection, id string, fields map[string]any) (doc repository.Document, err error) {
	const op = "sqlstore.put"
	defer func(start time.Time) { repository.Observe(s.dialect.name, "put", start, err) }(time.Now())

	if collection == "" || id == "" {
		return repository.Document{}, repository.Invalid(op, repository.ErrInvalidArgument)
	}
	norm, err := repository.NormalizeFields(fields)
	if err != nil {
		return repository.Document{}, repository.Invalid(op, err)
	}

	// A concurrent first insert of the same id makes our insert fail; the
	// second attempt then finds the row and merges.
	for attempt := 0; attempt < 2; attempt++ {
		doc, err = s.putOnce(ctx, collection, id, norm)
		if err == nil {
			s.hub.Notify(collection)
			return doc, nil
		}
		if !s.dialect.uniqueErr(err) {
			break
		}
	}
	return repository.Document{}, repository.Transport(op, err)
}

func (s *Store) putOnce(ctx context.Context, collection, id string, norm map[string]any) (repository.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Document{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	row := tx.QueryRowContext(ctx,
		s.dialect.rebind("SELECT "+selectColumns+" FROM documents WHERE collection = ? AND id = ?"+s.dialect.lockClause),
		collection, id)
	doc, err := scanDocument(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		body, err := repository.EncodeFields(norm)
		if err != nil {
			return repository.Document{}, err
		}
		var seq int64
		err = tx.QueryRowContext(ctx,
			s.dialect.rebind(`INSERT INTO documents (collection, id, scope, version, created_at, updated_at, body)
			 VALUES (?, ?, ?, 1, ?, ?, ?) RETURNING seq`),
			collection, id, scopeOf(norm), repository.ToMillis(now), repository.ToMillis(now), body,
		).Scan(&seq)
		if err != nil {
			return repository.Document{}, err
		}
		doc = repository.Document{
			Collection: collection,
			ID:         id,
			Seq:        seq,
			Version:    1,
			CreatedAt:  repository.FromMillis(repository.ToMillis(now)),
			Fields:     norm,
		}
	case err != nil:
		return repository.Document{}, err
	default:
		merged := maps.Clone(doc.Fields)
		maps.Copy(merged, norm)
		body, err := repository.EncodeFields(merged)
		if err != nil {
			return repository.Document{}, err
		}
		doc.Version++
		doc.Fields = merged
		if _, err := tx.ExecContext(ctx,
			s.dialect.rebind("UPDATE documents SET version = ?, updated_at = ?, scope = ?, body = ? WHERE seq = ?"),
			doc.Version, repository.ToMillis(now), scopeOf(merged), body, doc.Seq,
		); err != nil {
			return repository.Document{}, err
		}
	}
	doc.UpdatedAt = repository.FromMillis(repository.ToMillis(now))

	if err := tx.Commit(); err != nil {
		return repository.Document{}, err
	}
	return doc, nil
}

// List implements repository.Store.
func (s *Store) List(ctx context.Context, collection string, filter repository.Filter) (docs []repository.Document, err error) {
	const op = "sqlstore.list"
	defer func(start time.Time) { repository.Observe(s.dialect.name, "list", start, err) }(time.Now())

	docs, err = s.list(ctx, collection, filter)
	if err != nil {
		return nil, repository.Transport(op, err)
	}
	return docs, nil
}

// list narrows by id or scope in SQL and applies the remaining clauses on the
// decoded documents.
func (s *Store) list(ctx context.Context, collection string, filter repository.Filter) ([]repository.Document, error) {
	query := "SELECT " + selectColumns + " FROM documents WHERE collection = ?"
	args := []any{collection}
	if id, ok := filter.ID(); ok {
		query += " AND id = ?"
		args = append(args, id)
	} else if scope, ok := filter.Scope(); ok {
		query += " AND scope = ?"
		args = append(args, scope)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]repository.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

// Subscribe implements repository.Store.
func (s *Store) Subscribe(ctx context.Context, collection string, filter repository.Filter) (repository.Subscription, error) {
	const op = "sqlstore.subscribe"
	sub, err := s.hub.Subscribe(ctx, collection, func(ctx context.Context) ([]repository.Document, error) {
		docs, err := s.list(ctx, collection, filter)
		if err != nil {
			return nil, repository.Transport(op, err)
		}
		return docs, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrClosed) {
			return nil, repository.Transport(op, err)
		}
		return nil, err
	}
	metrics.UpdateStoreSubscriptions(s.hub.Len())
	return sub, nil
}

// Count implements repository.Store. Filters on the scope alone are counted
// in SQL.
func (s *Store) Count(ctx context.Context, collection string, filter repository.Filter) (n int, err error) {
	const op = "sqlstore.count"
	defer func(start time.Time) { repository.Observe(s.dialect.name, "count", start, err) }(time.Now())

	scope, scoped := filter.Scope()
	_, byID := filter.ID()
	if !byID && (len(filter) == 0 || (scoped && len(filter) == 1)) {
		query := "SELECT COUNT(*) FROM documents WHERE collection = ?"
		args := []any{collection}
		if scoped {
			query += " AND scope = ?"
			args = append(args, scope)
		}
		if err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...).Scan(&n); err != nil {
			return 0, repository.Transport(op, err)
		}
		return n, nil
	}

	docs, err := s.list(ctx, collection, filter)
	if err != nil {
		return 0, repository.Transport(op, err)
	}
	return len(docs), nil
}
