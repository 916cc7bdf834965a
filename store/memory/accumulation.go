package memory

import (
	"context"
	"sync"

	"github.com/warp/payroll-engine/accumulation"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// ACCUMULATION STORE
// =============================================================================

// Accumulations implements accumulation.Store.
type Accumulations struct {
	mu      sync.RWMutex
	records map[string]accumulation.Record
	keys    keyedMutex
}

func NewAccumulations() *Accumulations {
	return &Accumulations{records: make(map[string]accumulation.Record)}
}

func (a *Accumulations) Get(_ context.Context, key accumulation.Key) (accumulation.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[key.String()]
	if !ok {
		return accumulation.Record{}, generic.ErrNotFound
	}
	return rec, nil
}

// WithLock serializes fn per key. Saves are buffered and applied on success.
func (a *Accumulations) WithLock(ctx context.Context, key accumulation.Key, fn func(accumulation.Tx) error) error {
	unlock := a.keys.lock(key.String())
	defer unlock()

	tx := &accumulationTx{parent: a, pending: make(map[string]accumulation.Record)}
	if err := fn(tx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, rec := range tx.pending {
		a.records[k] = rec
	}
	return nil
}

// All returns every record. Used by tests and inspection endpoints.
func (a *Accumulations) All() []accumulation.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]accumulation.Record, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec)
	}
	return out
}

type accumulationTx struct {
	parent  *Accumulations
	pending map[string]accumulation.Record
}

func (tx *accumulationTx) Get(ctx context.Context, key accumulation.Key) (accumulation.Record, error) {
	if rec, ok := tx.pending[key.String()]; ok {
		return rec, nil
	}
	return tx.parent.Get(ctx, key)
}

func (tx *accumulationTx) Save(_ context.Context, rec accumulation.Record) error {
	tx.pending[rec.Key.String()] = rec
	return nil
}
