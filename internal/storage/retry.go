package storage

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// A flow version write is replayed at most versionWriteReplays times after
// Postgres aborts it, sleeping a doubling jittered backoff between attempts.
const (
	versionWriteReplays = 3
	versionWriteBackoff = 10 * time.Millisecond
)

// abortedTx returns the SQLSTATE of err when Postgres rolled the transaction
// back for a serialization failure or a deadlock. Replaying such a write
// from the start can succeed; any other error is final.
func abortedTx(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return pgErr.Code, true
	}
	return "", false
}

// replayVersionWrite runs write for flowID until it commits, fails with a
// final error, or the replay budget is spent. Each replay is logged with the
// SQLSTATE that forced it. write must rebuild its transaction on every call.
func replayVersionWrite(ctx context.Context, logger *slog.Logger, flowID int64, replays int, backoff time.Duration, write func() error) error {
	for attempt := 0; ; attempt++ {
		err := write()
		code, again := abortedTx(err)
		if !again || attempt == replays {
			return err
		}
		wait := backoff + time.Duration(rand.Int64N(int64(backoff))) //nolint:gosec // jitter only
		logger.Debug("storage: flow version write aborted, replaying",
			"flow_id", flowID, "sqlstate", code, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}
