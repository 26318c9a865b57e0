package queue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrClosed is returned for writes submitted after the database was closed.
var ErrClosed = errors.New("queue database is closed")

// TxFn runs inside a write transaction owned by the writer.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type write struct {
	ctx   context.Context
	fn    TxFn
	reply chan error
}

// writer applies every queue mutation on one goroutine, one transaction per
// call, in submission order.
type writer struct {
	conn    *sql.DB
	pending chan write
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newWriter(conn *sql.DB) *writer {
	w := &writer{
		conn:    conn,
		pending: make(chan write, 64),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// close finishes writes already accepted and stops the writer. Later calls
// to do return ErrClosed.
func (w *writer) close() {
	w.once.Do(func() { close(w.quit) })
	<-w.stopped
}

// do submits fn and waits for its commit.
func (w *writer) do(ctx context.Context, fn TxFn) error {
	reply := make(chan error, 1)
	select {
	case <-w.quit:
		return ErrClosed
	default:
	}
	select {
	case w.pending <- write{ctx: ctx, fn: fn, reply: reply}:
	case <-w.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		// the write may have been applied just before the writer stopped
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (w *writer) run() {
	defer close(w.stopped)
	for {
		select {
		case wr := <-w.pending:
			wr.reply <- w.apply(wr)
		case <-w.quit:
			for {
				select {
				case wr := <-w.pending:
					wr.reply <- w.apply(wr)
				default:
					return
				}
			}
		}
	}
}

func (w *writer) apply(wr write) error {
	if err := wr.ctx.Err(); err != nil {
		return err
	}
	tx, err := w.conn.BeginTx(wr.ctx, nil)
	if err != nil {
		return err
	}
	if err := wr.fn(wr.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
