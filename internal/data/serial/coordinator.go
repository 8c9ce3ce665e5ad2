package serial

import (
	"context"
	"hash/fnv"

	"github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
)

// Coordinator serializes critical sections on a logical key. Backed by
// pg_advisory_xact_lock: the lock is scoped to the wrapping transaction and
// released on commit or rollback, so there is nothing to unlock by hand and a
// crashed holder never leaves the key stuck.
type Coordinator struct {
	runner TxRunner
}

func NewCoordinator(runner TxRunner) *Coordinator {
	return &Coordinator{runner: runner}
}

// WithSerializedKey runs fn inside a transaction that holds the advisory lock
// for (namespace, parts...). Concurrent callers with the same key queue up;
// different keys proceed in parallel.
func (c *Coordinator) WithSerializedKey(ctx context.Context, namespace string, parts []string, fn func(dbc dbctx.Context) error) error {
	const op = "serial.with_key"
	if c == nil || c.runner == nil {
		return domain.NewError(domain.CodeInternal, op, "coordinator has nil runner", nil)
	}
	if namespace == "" {
		return domain.ValidationError(op, "namespace is required")
	}
	return c.runner.InTx(ctx, func(dbc dbctx.Context) error {
		if err := AdvisoryXactLock(dbc, namespace, parts...); err != nil {
			return domain.MapError(op, err)
		}
		return fn(dbc)
	})
}

// AdvisoryXactLock takes the transaction-scoped advisory lock for the key
// inside an already-open transaction.
func AdvisoryXactLock(dbc dbctx.Context, namespace string, parts ...string) error {
	if dbc.Tx == nil || namespace == "" {
		return nil
	}
	key := advisoryKey64(namespace, parts...)
	return dbc.Tx.WithContext(dbc.Ctx).Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}

// advisoryKey64 folds the namespace and key parts into the signed 64-bit key
// Postgres advisory locks take. FNV-1a keeps the mapping stable across
// processes and restarts.
func advisoryKey64(namespace string, parts ...string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	for _, p := range parts {
		_, _ = h.Write([]byte{':'})
		_, _ = h.Write([]byte(p))
	}
	return int64(h.Sum64())
}
