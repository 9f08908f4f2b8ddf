package errors

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacksampler/internal/testutil"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     io.Closer
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "successful close", closer: &mockCloser{}},
		{name: "close with error", closer: &mockCloser{closeErr: stderrors.New("close failed")}, wantLogged: true},
		{name: "already closed", closer: &mockCloser{closeErr: fmt.Errorf("close: %w", os.ErrClosed)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			DeferClose(logger, tt.closer, "test close")

			if mc, ok := tt.closer.(*mockCloser); ok {
				assert.True(t, mc.closed, "Close() was not called")
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
			if tt.wantLogged {
				assert.Contains(t, buf.String(), "test close")
			}
		})
	}
}

func TestDeferRollback(t *testing.T) {
	t.Run("nil transaction", func(t *testing.T) {
		var buf bytes.Buffer
		DeferRollback(zerolog.New(&buf), nil)
		assert.Zero(t, buf.Len())
	})

	t.Run("after commit", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		var buf bytes.Buffer
		DeferRollback(zerolog.New(&buf), tx)
		assert.Zero(t, buf.Len(), "rollback after commit should not be logged")
	})

	t.Run("open transaction", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		_, err := db.Exec("CREATE TABLE t (v INTEGER)")
		require.NoError(t, err)

		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		_, err = tx.Exec("INSERT INTO t VALUES (1)")
		require.NoError(t, err)

		var buf bytes.Buffer
		DeferRollback(zerolog.New(&buf), tx)
		assert.Zero(t, buf.Len())

		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
		assert.Zero(t, n)
	})
}
