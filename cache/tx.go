package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpKind is the kind of a buffered transaction operation.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
	OpClear
)

// String returns the string representation of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpClear:
		return "clear"
	default:
		return "unknown"
	}
}

// TxOp is one buffered operation. Key and Value apply to OpSet; Key
// alone to OpDelete; neither to OpClear.
type TxOp[V any] struct {
	Kind  OpKind
	Key   string
	Value V
	TTL   time.Duration
}

type txState int

const (
	txPending txState = iota
	txAborted
)

type transaction[V any] struct {
	id    string
	ops   []TxOp[V]
	state txState
}

// Begin opens a transaction and returns its id.
func (s *Store[V]) Begin() string {
	id := uuid.NewString()

	s.txMu.Lock()
	s.txs[id] = &transaction[V]{id: id}
	s.txMu.Unlock()

	return id
}

// Enqueue buffers an operation on the transaction. Nothing is applied
// until Commit.
func (s *Store[V]) Enqueue(txID string, op TxOp[V]) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	if tx.state == txAborted {
		return fmt.Errorf("%w: %s", ErrTxAborted, txID)
	}

	tx.ops = append(tx.ops, op)
	return nil
}

// Commit applies the buffered operations in order. Commit is
// best-effort, not atomic: the first failing step marks the transaction
// aborted and stops the remaining steps, but steps already applied are
// not rolled back. The returned error wraps ErrTxPartiallyApplied when
// at least one step was applied before the failure.
func (s *Store[V]) Commit(ctx context.Context, txID string) error {
	s.txMu.Lock()
	tx, ok := s.txs[txID]
	if ok {
		delete(s.txs, txID)
	}
	s.txMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	if tx.state == txAborted {
		return fmt.Errorf("%w: %s", ErrTxAborted, txID)
	}

	for i, op := range tx.ops {
		var err error
		switch op.Kind {
		case OpSet:
			if op.TTL > 0 {
				err = s.Set(ctx, op.Key, op.Value, op.TTL)
			} else {
				err = s.Set(ctx, op.Key, op.Value)
			}
		case OpDelete:
			s.Delete(ctx, op.Key)
		case OpClear:
			s.Clear(ctx)
		default:
			err = fmt.Errorf("unknown operation kind %d", op.Kind)
		}

		if err != nil {
			tx.state = txAborted
			s.logger.Warn("transaction aborted mid-commit",
				zap.String("tx", txID),
				zap.Int("applied", i),
				zap.Int("total", len(tx.ops)),
				zap.Error(err),
			)
			if i > 0 {
				return fmt.Errorf("%w: step %d of %d (%s %q): %w",
					ErrTxPartiallyApplied, i+1, len(tx.ops), op.Kind, op.Key, err)
			}
			return fmt.Errorf("transaction step 1 of %d (%s %q): %w",
				len(tx.ops), op.Kind, op.Key, err)
		}
	}

	return nil
}

// Abort discards the transaction without applying anything.
func (s *Store[V]) Abort(txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if _, ok := s.txs[txID]; !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	delete(s.txs, txID)
	return nil
}
