package storage

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
	"strings"
	"time"
)

// Retry parameters for SQLite's "database is locked" contention, adapted
// from the teacher's sqlite_retry.go.
const (
	retryMax      = 1000
	retryBaseWait = 10 * time.Millisecond
	retryMaxWait  = 25 * time.Millisecond
)

func isRetryableSqliteError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "database table is locked") ||
		strings.Contains(s, "busy")
}

func retryBackoff(attempt int) time.Duration {
	delay := time.Duration(attempt+1) * retryBaseWait
	if delay > retryMaxWait {
		delay = retryMaxWait
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/2+1))
}

// retryExecContext runs db.ExecContext, retrying on SQLite lock contention
// with exponential backoff and jitter.
func retryExecContext(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for attempt := 0; attempt < retryMax; attempt++ {
		res, err = db.ExecContext(ctx, query, args...)
		if !isRetryableSqliteError(err) {
			return res, err
		}
		if attempt < retryMax-1 {
			wait := retryBackoff(attempt)
			log.Printf("[STORAGE] sqlite retry %d/%d: %v", attempt+1, retryMax, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}
	return res, err
}

// retryQueryRowScanContext runs db.QueryRowContext().Scan, retrying on
// SQLite lock contention.
func retryQueryRowScanContext(ctx context.Context, db *sql.DB, query string, args []any, dest ...any) error {
	var err error
	for attempt := 0; attempt < retryMax; attempt++ {
		err = db.QueryRowContext(ctx, query, args...).Scan(dest...)
		if !isRetryableSqliteError(err) {
			return err
		}
		if attempt < retryMax-1 {
			wait := retryBackoff(attempt)
			log.Printf("[STORAGE] sqlite retry %d/%d: %v", attempt+1, retryMax, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// retryTxContext runs fn inside a transaction, retrying the whole
// begin/fn/commit cycle on SQLite lock contention.
func retryTxContext(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < retryMax; attempt++ {
		var tx *sql.Tx
		tx, err = db.BeginTx(ctx, nil)
		if err != nil {
			if !isRetryableSqliteError(err) {
				return err
			}
			time.Sleep(retryBackoff(attempt))
			continue
		}
		if err = fn(tx); err != nil {
			tx.Rollback()
			if !isRetryableSqliteError(err) {
				return err
			}
			log.Printf("[STORAGE] sqlite transaction retry %d/%d: %v", attempt+1, retryMax, err)
			time.Sleep(retryBackoff(attempt))
			continue
		}
		if err = tx.Commit(); !isRetryableSqliteError(err) {
			return err
		}
		log.Printf("[STORAGE] sqlite commit retry %d/%d: %v", attempt+1, retryMax, err)
		time.Sleep(retryBackoff(attempt))
	}
	return err
}
