package eos_test

import (
	"context"
	"errors"
	"testing"

	"github.com/houseofcat/enhancedservice/pkg/eos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRollbackRunsUndoNewestFirst(t *testing.T) {

	tm := eos.NewTransactionManager()
	tx := tm.Begin()
	assert.True(t, tm.InTransaction())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		tx.RecordUndo(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, tm.Rollback(context.Background(), tx))
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.False(t, tm.InTransaction())
}

func TestTransactionCommitHandsUndoToParent(t *testing.T) {

	tm := eos.NewTransactionManager()
	outer := tm.Begin()
	inner := tm.Begin()
	assert.Equal(t, 2, tm.Depth())

	undone := 0
	inner.RecordUndo(func(context.Context) error {
		undone++
		return nil
	})

	assert.ErrorIs(t, tm.Commit(outer), eos.ErrTransactionNotActive)

	require.NoError(t, tm.Commit(inner))
	assert.Equal(t, 0, undone)

	require.NoError(t, tm.Rollback(context.Background(), outer))
	assert.Equal(t, 1, undone)
}

func TestTransactionRollbackJoinsErrors(t *testing.T) {

	tm := eos.NewTransactionManager()
	tx := tm.Begin()

	first := errors.New("first")
	second := errors.New("second")
	ran := 0
	tx.RecordUndo(func(context.Context) error { ran++; return first })
	tx.RecordUndo(func(context.Context) error { ran++; return second })

	err := tm.Rollback(context.Background(), tx)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, 2, ran)
}

func TestTransactionRollbackAll(t *testing.T) {

	tm := eos.NewTransactionManager()

	var order []string
	tm.Begin().RecordUndo(func(context.Context) error { order = append(order, "outer"); return nil })
	tm.Begin().RecordUndo(func(context.Context) error { order = append(order, "inner"); return nil })

	require.NoError(t, tm.RollbackAll(context.Background()))
	assert.Equal(t, []string{"inner", "outer"}, order)
	assert.Equal(t, 0, tm.Depth())
}
