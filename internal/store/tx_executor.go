package store

import (
	"context"
	"database/sql"
	"math"
	prand "math/rand"
	"time"

	"github.com/btcsuite/btclog/v2"
)

const (
	// DefaultNumTxRetries is the default number of times a transaction is
	// retried after a busy/locked error before giving up.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the default initial delay between
	// retries; a random value between -50%/+50% of this is used to
	// avoid multiple goroutines retrying in lockstep.
	DefaultInitialRetryDelay = 40 * time.Millisecond

	// DefaultMaxRetryDelay caps the exponentially-doubled retry delay.
	DefaultMaxRetryDelay = 3 * time.Second
)

type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	half := t.initialRetryDelay / 2
	jitter := time.Duration(prand.Int63n(int64(t.initialRetryDelay) + 1)) //nolint:gosec
	delay := half + jitter

	if attempt == 0 {
		return delay
	}

	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	delay *= factor

	if delay > t.maxRetryDelay {
		return t.maxRetryDelay
	}
	return delay
}

// TxExecutorOption configures a TransactionExecutor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries overrides the number of retry attempts.
func WithTxRetries(n int) TxExecutorOption {
	return func(o *txExecutorOptions) { o.numRetries = n }
}

// WithTxRetryDelay overrides the initial retry delay.
func WithTxRetryDelay(d time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) { o.initialRetryDelay = d }
}

// TransactionExecutor runs a function against a *sql.Tx, retrying with
// jittered exponential backoff when sqlite reports the database was busy
// or locked by another writer.
type TransactionExecutor struct {
	db   *sql.DB
	opts *txExecutorOptions
	log  btclog.Logger
}

// NewTransactionExecutor constructs a TransactionExecutor over db.
func NewTransactionExecutor(db *sql.DB, log btclog.Logger, opts ...TxExecutorOption) *TransactionExecutor {
	txOpts := defaultTxExecutorOptions()
	for _, fn := range opts {
		fn(txOpts)
	}
	return &TransactionExecutor{db: db, opts: txOpts, log: log}
}

// ExecTx runs txBody inside a transaction, retrying on contention.
func (t *TransactionExecutor) ExecTx(ctx context.Context, readOnly bool, txBody func(*sql.Tx) error) error {
	wait := func(attempt int) {
		delay := t.opts.randRetryDelay(attempt)
		t.log.Debugf("retrying transaction due to contention: attempt=%d delay=%s", attempt, delay)
		time.Sleep(delay)
	}

	for i := 0; i < t.opts.numRetries; i++ {
		tx, err := t.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				wait(i)
				continue
			}
			return dbErr
		}

		if err := txBody(tx); err != nil {
			_ = tx.Rollback()
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				wait(i)
				continue
			}
			return dbErr
		}

		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				wait(i)
				continue
			}
			return dbErr
		}

		return nil
	}

	return ErrRetriesExceeded
}
