package resource

import (
	"sync"
)

// Table stores values behind handles and notifies observers.
type Table struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new table with a LocalBackend.
func NewTable() *Table {
	return &Table{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value and returns its handle, or 0 once the table is closed.
func (t *Table) Insert(kind Kind, value any) Handle {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(kind, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Kind:   kind,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it was inserted with kind.
func (t *Table) GetTyped(handle Handle, kind Kind) (any, bool) {
	actual, ok := t.backend.Kind(handle)
	if !ok || actual != kind {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Remove drops a value and returns (value, true) if it was removed now.
// Removing a borrowed handle defers the removal to the last ReturnBorrow.
func (t *Table) Remove(handle Handle) (any, bool) {
	kind, _ := t.backend.Kind(handle)
	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}
	t.dropped(handle, kind, value)
	return value, true
}

// Borrow pins a handle against removal until ReturnBorrow.
func (t *Table) Borrow(handle Handle) bool {
	return t.backend.Borrow(handle)
}

// ReturnBorrow releases a pin taken by Borrow, completing a deferred removal.
func (t *Table) ReturnBorrow(handle Handle) bool {
	kind, _ := t.backend.Kind(handle)
	value, dropped, ok := t.backend.ReturnBorrow(handle)
	if dropped {
		t.dropped(handle, kind, value)
	}
	return ok
}

func (t *Table) dropped(handle Handle, kind Kind, value any) {
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Kind:   kind,
		Value:  value,
	})
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Close releases all values and stops accepting inserts.
func (t *Table) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	return t.backend.Close()
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Typed is a Table view restricted to one kind and one Go type.
type Typed[T any] struct {
	table *Table
	kind  Kind
}

// NewTyped returns a typed view of table for values of kind.
func NewTyped[T any](table *Table, kind Kind) *Typed[T] {
	return &Typed[T]{table: table, kind: kind}
}

// Insert adds a value and returns its handle.
func (t *Typed[T]) Insert(value T) Handle {
	return t.table.Insert(t.kind, value)
}

// Get retrieves a value by handle.
func (t *Typed[T]) Get(handle Handle) (T, bool) {
	var zero T
	v, ok := t.table.GetTyped(handle, t.kind)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Remove drops a value by handle.
func (t *Typed[T]) Remove(handle Handle) (T, bool) {
	var zero T
	if _, ok := t.table.GetTyped(handle, t.kind); !ok {
		return zero, false
	}
	v, ok := t.table.Remove(handle)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Borrow pins a handle of this view's kind.
func (t *Typed[T]) Borrow(handle Handle) (T, bool) {
	var zero T
	v, ok := t.table.GetTyped(handle, t.kind)
	if !ok || !t.table.Borrow(handle) {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// ReturnBorrow releases a pin taken by Borrow.
func (t *Typed[T]) ReturnBorrow(handle Handle) bool {
	return t.table.ReturnBorrow(handle)
}

// Len returns the number of live handles in the whole table.
func (t *Typed[T]) Len() int {
	return t.table.Len()
}
