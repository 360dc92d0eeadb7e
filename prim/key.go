package prim

import (
	"sync"

	"github.com/NetPo4ki/isothread/errs"
)

// Key is a thread-local storage slot. Each thread sees its own value, an
// opaque pointer the key never interprets.
type Key struct {
	mu      sync.Mutex
	values  map[Owner]uintptr
	deleted bool
}

func newKey() *Key {
	return &Key{values: make(map[Owner]uintptr)}
}

// Get returns self's value, 0 when unset.
func (k *Key) Get(self Owner) uintptr {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.values[self]
}

// Set stores self's value. Setting 0 clears it.
func (k *Key) Set(self Owner, p uintptr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.deleted || self == 0 {
		return errs.WithOp(errs.ErrInvalid, "key.setspecific")
	}
	if p == 0 {
		delete(k.values, self)
		return nil
	}
	k.values[self] = p
	return nil
}

// Forget drops self's value; called when self exits.
func (k *Key) Forget(self Owner) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, self)
}

// Len returns the number of threads with a value set.
func (k *Key) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.values)
}

func (k *Key) delete() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deleted = true
	k.values = nil
}
