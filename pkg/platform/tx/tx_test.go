package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWithoutTransaction(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)
}

func TestWithTxIgnoresNil(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTx(ctx, nil))
}

func TestRunJoinsTransactionAlreadyInContext(t *testing.T) {
	outer := &sql.Tx{}
	ctx := WithTx(context.Background(), outer)

	var seen *sql.Tx
	err := Run(ctx, nil, 0, func(ctx context.Context) error {
		seen, _ = From(ctx)
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, outer, seen)
}

func TestRunRefusesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false

	err := Run(ctx, nil, 0, func(context.Context) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
