package importer

// Outcome is the immutable result of one collaborator call: a value on
// success or user facing messages on failure.
type Outcome[T any] struct {
	value    T
	messages []string
	ok       bool
}

// Succeeded wraps a successful call result.
func Succeeded[T any](value T) Outcome[T] {
	return Outcome[T]{value: value, ok: true}
}

// Failed wraps a rejected call.
func Failed[T any](messages ...string) Outcome[T] {
	return Outcome[T]{messages: append([]string(nil), messages...)}
}

// Success reports whether the call succeeded.
func (o Outcome[T]) Success() bool { return o.ok }

// Value returns the call result. It is the zero value on failure.
func (o Outcome[T]) Value() T { return o.value }

// Messages returns the failure messages.
func (o Outcome[T]) Messages() []string { return append([]string(nil), o.messages...) }
