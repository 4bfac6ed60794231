package pgdocs

import (
	"context"

	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool
}

var _ docstore.Store = (*Storage)(nil)

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// queryer: общее между пулом и транзакцией.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Storage) Get(ctx context.Context, ref docstore.Ref, dst any) (bool, error) {
	return getDoc(ctx, s.db, ref, dst)
}

func (s *Storage) Create(ctx context.Context, ref docstore.Ref, doc any) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Create(ctx, ref, doc)
	})
}

func (s *Storage) Merge(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Merge(ctx, ref, fields)
	})
}

func (s *Storage) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	var (
		rows pgx.Rows
		err  error
	)
	if q.StartAfter == "" {
		rows, err = s.db.Query(ctx, `
SELECT id, doc
FROM documents
WHERE collection = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, collection, limit)
	} else {
		rows, err = s.db.Query(ctx, `
SELECT id, doc
FROM documents
WHERE collection = $1
  AND (created_at, id) < (
    SELECT created_at, id FROM documents WHERE collection = $1 AND id = $2
  )
ORDER BY created_at DESC, id DESC
LIMIT $3
`, collection, q.StartAfter, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select documents")
	}
	defer rows.Close()

	out := make([]docstore.Snapshot, 0, limit)
	for rows.Next() {
		var snap docstore.Snapshot
		var data []byte
		if err := rows.Scan(&snap.ID, &data); err != nil {
			return nil, errors.Wrap(err, "scan document")
		}
		snap.Data = data
		out = append(out, snap)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// RunInTx runs fn inside one SERIALIZABLE transaction.
// Serialization failures and deadlocks come back as docstore.ErrConflict.
func (s *Storage) RunInTx(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(errors.Wrap(err, "begin tx"))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr(errors.Wrap(err, "commit tx"))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, ref docstore.Ref, dst any) (bool, error) {
	found, err := getDoc(ctx, t.tx, ref, dst)
	return found, mapErr(err)
}

func (t *pgTx) Create(ctx context.Context, ref docstore.Ref, doc any) error {
	b, err := docstore.Encode(doc)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
INSERT INTO documents (collection, id, doc, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, clock_timestamp(), clock_timestamp())
ON CONFLICT (collection, id) DO NOTHING
`, ref.Collection, ref.ID, string(b))
	if err != nil {
		return mapErr(errors.Wrapf(err, "insert %s", ref))
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(docstore.ErrAlreadyExists, "%s", ref)
	}
	return nil
}

func (t *pgTx) Set(ctx context.Context, ref docstore.Ref, doc any) error {
	b, err := docstore.Encode(doc)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO documents (collection, id, doc, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, clock_timestamp(), clock_timestamp())
ON CONFLICT (collection, id) DO UPDATE
SET doc = EXCLUDED.doc, updated_at = clock_timestamp()
`, ref.Collection, ref.ID, string(b))
	if err != nil {
		return mapErr(errors.Wrapf(err, "upsert %s", ref))
	}
	return nil
}

// Merge: jsonb || jsonb, то есть ровно shallow merge верхнего уровня.
func (t *pgTx) Merge(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	b, err := docstore.Encode(fields)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
UPDATE documents
SET doc = doc || $3::jsonb, updated_at = clock_timestamp()
WHERE collection = $1 AND id = $2
`, ref.Collection, ref.ID, string(b))
	if err != nil {
		return mapErr(errors.Wrapf(err, "merge %s", ref))
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(docstore.ErrNotFound, "%s", ref)
	}
	return nil
}

func getDoc(ctx context.Context, q queryer, ref docstore.Ref, dst any) (bool, error) {
	var data []byte
	err := q.QueryRow(ctx, `SELECT doc FROM documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "select %s", ref)
	}
	return true, docstore.Decode(data, dst)
}

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
			return errors.Wrap(docstore.ErrConflict, pgErr.Message)
		}
	}
	return err
}
