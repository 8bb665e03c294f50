// Package testutil holds pgx test doubles shared by service tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NoopTx satisfies pgx.Tx for test use; repositories under test are fakes
// that ignore it, so only Commit/Rollback are ever called.
type NoopTx struct{}

func (NoopTx) Begin(context.Context) (pgx.Tx, error) { return NoopTx{}, nil }
func (NoopTx) Commit(context.Context) error          { return nil }
func (NoopTx) Rollback(context.Context) error        { return nil }
func (NoopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (NoopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (NoopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (NoopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (NoopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (NoopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (NoopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (NoopTx) Conn() *pgx.Conn { return nil }

// Tx lets in-memory fakes take part in rollback. Fakes apply writes at once
// and register an undo step with Undo; Rollback before Commit runs the steps
// newest first.
type Tx struct {
	NoopTx
	mu   sync.Mutex
	undo []func()
	done bool
}

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.done = true
	steps := t.undo
	t.undo = nil
	t.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
	return nil
}

// Undo registers fn to run if tx rolls back. Transactions that are not *Tx
// ignore it.
func Undo(tx pgx.Tx, fn func()) {
	t, ok := tx.(*Tx)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

// Pool hands out Tx values and counts transactions begun.
type Pool struct {
	Begun atomic.Int64
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	p.Begun.Add(1)
	return &Tx{}, nil
}
