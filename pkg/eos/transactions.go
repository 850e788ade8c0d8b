package eos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrTransactionNotActive is returned when committing or rolling back a transaction that
// is not the innermost open one.
var ErrTransactionNotActive = errors.New("transaction is not the active scope")

// UndoFunc compensates one operation made inside a transaction.
type UndoFunc func(ctx context.Context) error

// Transaction is one scope on a TransactionManager's stack.
type Transaction struct {
	ID      uuid.UUID
	undo    []UndoFunc
	manager *TransactionManager
}

// RecordUndo registers fn to run if the transaction is rolled back.
func (t *Transaction) RecordUndo(fn UndoFunc) {
	t.manager.txLock.Lock()
	defer t.manager.txLock.Unlock()
	t.undo = append(t.undo, fn)
}

// TransactionManager keeps the stack of open transaction scopes of one service.
// Scopes nest; only the innermost can be committed or rolled back.
type TransactionManager struct {
	stack  []*Transaction
	txLock *sync.Mutex
}

// NewTransactionManager creates a manager with no open scope.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{txLock: &sync.Mutex{}}
}

// Begin opens a nested transaction scope.
func (tm *TransactionManager) Begin() *Transaction {
	tm.txLock.Lock()
	defer tm.txLock.Unlock()

	tx := &Transaction{ID: uuid.New(), manager: tm}
	tm.stack = append(tm.stack, tx)
	return tx
}

// InTransaction reports whether a scope is open.
func (tm *TransactionManager) InTransaction() bool {
	tm.txLock.Lock()
	defer tm.txLock.Unlock()
	return len(tm.stack) > 0
}

// Depth returns the number of open scopes.
func (tm *TransactionManager) Depth() int {
	tm.txLock.Lock()
	defer tm.txLock.Unlock()
	return len(tm.stack)
}

// Commit closes tx and hands its undo operations to the enclosing scope, if any.
func (tm *TransactionManager) Commit(tx *Transaction) error {
	tm.txLock.Lock()
	defer tm.txLock.Unlock()

	if err := tm.popLocked(tx); err != nil {
		return err
	}

	if len(tm.stack) > 0 {
		parent := tm.stack[len(tm.stack)-1]
		parent.undo = append(parent.undo, tx.undo...)
	}

	return nil
}

// Rollback closes tx and runs its undo operations newest first.
// Every undo runs; their errors are joined.
func (tm *TransactionManager) Rollback(ctx context.Context, tx *Transaction) error {

	tm.txLock.Lock()
	err := tm.popLocked(tx)
	tm.txLock.Unlock()

	if err != nil {
		return err
	}

	return runUndo(ctx, tx)
}

// RollbackAll rolls back every open scope, innermost first.
func (tm *TransactionManager) RollbackAll(ctx context.Context) error {

	tm.txLock.Lock()
	open := tm.stack
	tm.stack = nil
	tm.txLock.Unlock()

	var errs []error
	for i := len(open) - 1; i >= 0; i-- {
		if err := runUndo(ctx, open[i]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (tm *TransactionManager) popLocked(tx *Transaction) error {

	if len(tm.stack) == 0 || tm.stack[len(tm.stack)-1] != tx {
		return fmt.Errorf("%w: %s", ErrTransactionNotActive, tx.ID)
	}

	tm.stack = tm.stack[:len(tm.stack)-1]
	return nil
}

func runUndo(ctx context.Context, tx *Transaction) error {

	var errs []error
	for i := len(tx.undo) - 1; i >= 0; i-- {
		if err := tx.undo[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
