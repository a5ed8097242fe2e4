package state

import (
	"errors"

	"meridianchain/storage"
)

// ErrTxClosed is returned when a committed or discarded transaction is used.
var ErrTxClosed = errors.New("state: transaction closed")

// overlay buffers writes against a base store. Reads fall through to the base
// for untouched keys, so a transaction observes its own writes plus the
// committed state underneath.
type overlay struct {
	base    kv
	pending map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	if o.closed {
		return nil, ErrTxClosed
	}
	k := string(key)
	if _, gone := o.deleted[k]; gone {
		return nil, storage.ErrKeyNotFound
	}
	if value, ok := o.pending[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

func (o *overlay) Put(key, value []byte) error {
	if o.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(o.deleted, k)
	o.pending[k] = append([]byte(nil), value...)
	return nil
}

func (o *overlay) Delete(key []byte) error {
	if o.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(o.pending, k)
	o.deleted[k] = struct{}{}
	return nil
}

// Transaction is an all-or-nothing view over the state manager. Every protocol
// operation runs against one: on success the buffered writes flush to the
// underlying store, on failure they are discarded and the committed state is
// untouched.
type Transaction struct {
	*Manager
	overlay *overlay
}

// Begin opens a transaction over the manager's store.
func (m *Manager) Begin() *Transaction {
	o := &overlay{
		base:    m.store,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
	return &Transaction{Manager: newOverlayManager(o), overlay: o}
}

// Commit flushes the buffered writes to the underlying store and closes the
// transaction.
func (t *Transaction) Commit() error {
	if t.overlay.closed {
		return ErrTxClosed
	}
	for key := range t.overlay.deleted {
		if err := t.overlay.base.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range t.overlay.pending {
		if err := t.overlay.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	t.overlay.closed = true
	return nil
}

// Discard drops the buffered writes and closes the transaction. Discarding a
// closed transaction is a no-op.
func (t *Transaction) Discard() {
	t.overlay.closed = true
	t.overlay.pending = nil
	t.overlay.deleted = nil
}
