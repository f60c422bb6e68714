// Package repository persists and queries each domain entity kind against
// the store schema, one prepared-statement repository per kind.
package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// batchLimit is the chunk size a Batch* call iterates in. A Batch* call
// opens no transaction of its own: its writes run on whatever connection
// or transaction the repository is bound to.
const batchLimit = 100

// BatchResult reports the outcome of a batch write.
type BatchResult struct {
	Inserted int
	Skipped  int
	Errors   []error
}

// scannable abstracts over *sql.Row and *sql.Rows so scan helpers serve
// both single-row and multi-row callers.
type scannable interface {
	Scan(dest ...interface{}) error
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every
// repository run unchanged whether it owns the connection or is bound to
// an in-flight transaction via Repositories.WithTx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Repositories bundles one repository per entity kind over a shared
// connection.
type Repositories struct {
	rawDB *sql.DB

	Sessions         *SessionRepository
	Messages         *MessageRepository
	ToolUses         *ToolUseRepository
	Entities         *EntityRepository
	Links            *LinkRepository
	SessionEntities  *SessionEntityRepository
	EntityLinks      *EntityLinkRepository
	ExtractionStates *ExtractionStateRepository
}

// New constructs the full repository bundle over db.
func New(db *sql.DB) *Repositories {
	return bind(db, db)
}

func bind(raw *sql.DB, q querier) *Repositories {
	return &Repositories{
		rawDB:            raw,
		Sessions:         &SessionRepository{db: q},
		Messages:         &MessageRepository{db: q},
		ToolUses:         &ToolUseRepository{db: q},
		Entities:         &EntityRepository{db: q},
		Links:            &LinkRepository{db: q},
		SessionEntities:  &SessionEntityRepository{db: q},
		EntityLinks:      &EntityLinkRepository{db: q},
		ExtractionStates: &ExtractionStateRepository{db: q},
	}
}

// WithTx runs fn against a Repositories bundle bound to a single
// transaction, committing on success and rolling back if fn returns an
// error. store.Open sets _txlock=immediate on its connection, so there the
// transaction begins with SQLite's BEGIN IMMEDIATE.
func (r *Repositories) WithTx(ctx context.Context, fn func(tx *Repositories) error) error {
	tx, err := r.rawDB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin immediate transaction: %w", err)
	}
	if err := fn(bind(r.rawDB, tx)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Exec runs a statement directly against the underlying connection,
// bypassing the per-kind repositories. Used for maintenance statements
// (PRAGMAs, bulk deletes) that don't belong to any one entity kind.
func (r *Repositories) Exec(query string, args ...any) error {
	_, err := r.rawDB.Exec(query, args...)
	return err
}

// Query runs a read directly against the underlying connection, for
// aggregate reads that join across entity kinds (project-scoped stats)
// rather than belonging to one repository.
func (r *Repositories) Query(query string, args ...any) (*sql.Rows, error) {
	return r.rawDB.Query(query, args...)
}

// QueryRow runs a single-row read directly against the underlying
// connection, for the same cross-entity-kind cases as Query.
func (r *Repositories) QueryRow(query string, args ...any) *sql.Row {
	return r.rawDB.QueryRow(query, args...)
}

func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[0:size:size])
	}
	return append(chunks, items)
}

func wrapScanErr(what string, err error) error {
	if err == sql.ErrNoRows {
		return err
	}
	return fmt.Errorf("scan %s: %w", what, err)
}
