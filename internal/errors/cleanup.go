// Package errors provides deferred cleanup helpers that log instead of
// dropping errors.
package errors

import (
	"database/sql"
	stderrors "errors"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure at warn level with msg.
// Closing something that is already closed is not reported.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	err := closer.Close()
	if err == nil || stderrors.Is(err, os.ErrClosed) || stderrors.Is(err, net.ErrClosed) {
		return
	}
	logger.Warn().Err(err).Msg(msg)
}

// DeferRollback rolls back tx and logs a failure. sql.ErrTxDone, which
// follows a successful commit, is ignored.
func DeferRollback(logger zerolog.Logger, tx *sql.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("transaction rollback failed")
	}
}
