package sync

// Tracked wraps a value read from a change feed together with its delivery
// confirmation. Pending is derived exclusively from the feed's own metadata:
// nothing else in the engine may flip it, so a locally journaled write shows
// as pending until the feed redelivers it confirmed.
type Tracked[T any] struct {
	data    T
	pending bool
}

// Confirmed wraps a value the store has durably committed.
func Confirmed[T any](data T) Tracked[T] {
	return Tracked[T]{data: data}
}

// Unconfirmed wraps a value still backed by a journaled local write.
func Unconfirmed[T any](data T) Tracked[T] {
	return Tracked[T]{data: data, pending: true}
}

func (t Tracked[T]) Data() T { return t.data }

// Pending reports whether the value awaits durable confirmation.
func (t Tracked[T]) Pending() bool { return t.pending }
