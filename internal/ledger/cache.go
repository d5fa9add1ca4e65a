// internal/ledger/cache.go
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
)

const maxSyncAttempts = 5

type opKind int

const (
	opInsert opKind = iota
	opClose
	opSetFinePaid
	opMarkOverdue
	opMarkRecovered
)

// pendingOp is one local write waiting to be replayed against the remote
// ledger. Ops replay in order; a failed op blocks the queue so the remote
// never sees writes out of order.
type pendingOp struct {
	kind     opKind
	loan     *Loan
	id       uuid.UUID
	closure  Closure
	paid     bool
	cond     catalog.Condition
	note     string
	attempts int
}

// CachedStore is the offline-first two-tier ledger: the in-memory local
// tier answers every read and takes every write immediately, and
// Reconcile pushes queued writes to the authoritative remote store when
// connectivity allows. The engine only ever sees the Store interface.
type CachedStore struct {
	local  *MemoryStore
	remote Store
	log    *slog.Logger

	mu      sync.Mutex
	pending []*pendingOp
}

func NewCachedStore(remote Store, log *slog.Logger) *CachedStore {
	return &CachedStore{
		local:  NewMemoryStore(),
		remote: remote,
		log:    log,
	}
}

// Warm pulls the remote's active loans into the local tier. Called once at
// startup before the store serves traffic.
func (c *CachedStore) Warm(ctx context.Context) error {
	active, err := c.remote.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("warm local ledger: %w", err)
	}
	for _, l := range active {
		if err := c.local.Insert(ctx, l); err != nil {
			return fmt.Errorf("seed local ledger: %w", err)
		}
	}
	c.log.Info("local ledger warmed", "active_loans", len(active))
	return nil
}

func (c *CachedStore) Insert(ctx context.Context, loan *Loan) error {
	if err := c.local.Insert(ctx, loan); err != nil {
		return err
	}
	c.enqueue(&pendingOp{kind: opInsert, loan: copyLoan(loan)})
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return c.local.Get(ctx, id)
}

func (c *CachedStore) FindActiveByTrackingCode(ctx context.Context, code string) (*Loan, error) {
	return c.local.FindActiveByTrackingCode(ctx, code)
}

func (c *CachedStore) ListActive(ctx context.Context) ([]*Loan, error) {
	return c.local.ListActive(ctx)
}

func (c *CachedStore) Close(ctx context.Context, id uuid.UUID, closure Closure) error {
	if err := c.local.Close(ctx, id, closure); err != nil {
		return err
	}
	c.enqueue(&pendingOp{kind: opClose, id: id, closure: closure})
	return nil
}

func (c *CachedStore) SetFinePaid(ctx context.Context, id uuid.UUID, paid bool) error {
	if err := c.local.SetFinePaid(ctx, id, paid); err != nil {
		return err
	}
	c.enqueue(&pendingOp{kind: opSetFinePaid, id: id, paid: paid})
	return nil
}

func (c *CachedStore) MarkOverdue(ctx context.Context, id uuid.UUID) error {
	if err := c.local.MarkOverdue(ctx, id); err != nil {
		return err
	}
	c.enqueue(&pendingOp{kind: opMarkOverdue, id: id})
	return nil
}

func (c *CachedStore) MarkRecovered(ctx context.Context, id uuid.UUID, cond catalog.Condition, note string) error {
	if err := c.local.MarkRecovered(ctx, id, cond, note); err != nil {
		return err
	}
	c.enqueue(&pendingOp{kind: opMarkRecovered, id: id, cond: cond, note: note})
	return nil
}

func (c *CachedStore) enqueue(op *pendingOp) {
	c.mu.Lock()
	c.pending = append(c.pending, op)
	c.mu.Unlock()
}

// PendingOps reports the queue depth, for health reporting.
func (c *CachedStore) PendingOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reconcile replays queued writes against the remote store in order. The
// first failing op stays queued with its attempt count bumped; ops that
// keep failing past maxSyncAttempts are dropped with an error log so one
// poisoned record cannot wedge the queue forever.
func (c *CachedStore) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.mu.Unlock()

	for i, op := range queue {
		if err := c.apply(ctx, op); err != nil {
			op.attempts++
			if op.attempts >= maxSyncAttempts {
				c.log.Error("dropping unsyncable ledger op",
					"kind", op.kind, "loan_id", op.id, "attempts", op.attempts, "err", err)
				continue
			}
			// requeue this op and everything behind it
			c.mu.Lock()
			c.pending = append(queue[i:], c.pending...)
			c.mu.Unlock()
			return fmt.Errorf("reconcile ledger: %w", err)
		}
	}
	return nil
}

func (c *CachedStore) apply(ctx context.Context, op *pendingOp) error {
	switch op.kind {
	case opInsert:
		return c.remote.Insert(ctx, op.loan)
	case opClose:
		return c.remote.Close(ctx, op.id, op.closure)
	case opSetFinePaid:
		return c.remote.SetFinePaid(ctx, op.id, op.paid)
	case opMarkOverdue:
		return c.remote.MarkOverdue(ctx, op.id)
	case opMarkRecovered:
		return c.remote.MarkRecovered(ctx, op.id, op.cond, op.note)
	}
	return fmt.Errorf("unknown pending op kind %d", op.kind)
}
