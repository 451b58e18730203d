package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	maxTxAttempts  = 5
	txRetryBackoff = 10 * time.Millisecond
)

type PgStore struct {
	conn *sql.DB
}

func NewPgStore(dsn string) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgStore{conn: db}, nil
}

func (db *PgStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// View reads from a single snapshot. Read-only snapshot transactions never
// fail serialization, so fn runs exactly once.
func (db *PgStore) View(ctx context.Context, fn func(Tx) error) error {
	return db.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

// Update runs fn in a serializable transaction, rerunning it from scratch
// when Postgres reports a serialization failure, a deadlock or a unique
// violation. fn must not carry state between runs.
func (db *PgStore) Update(ctx context.Context, fn func(Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	var err error
	for attempt := 1; ; attempt++ {
		err = db.run(ctx, opts, fn)
		if !retryable(err) {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txRetryBackoff):
		}
	}

	return fmt.Errorf("%w: %w", ErrConflict, err)
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	switch pqErr.Code.Name() {
	case "serialization_failure", "deadlock_detected", "unique_violation":
		return true
	}
	return false
}

func (db *PgStore) run(ctx context.Context, opts *sql.TxOptions, fn func(Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *PgStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// DB exposes the underlying connection pool for migrations.
func (db *PgStore) DB() *sql.DB {
	return db.conn
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (t *pgTx) exec(query string, args ...any) (int, error) {
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// execOne runs a statement that must touch exactly one row.
func (t *pgTx) execOne(query string, args ...any) error {
	n, err := t.exec(query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
