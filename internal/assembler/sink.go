// Package assembler folds streamed response fragments into complete
// canonical messages. One assembler instance is scoped to exactly one
// exchange and needs no internal locking.
package assembler

// Sink is the structural contract every streaming consumer presents to the
// proxy boundary: raw bytes as they arrive on the wire, parsed events one
// at a time, and an explicit finalize. Assemblers ignore raw bytes and
// react only to parsed events; a result accessor on the concrete type is
// valid only after Finish.
type Sink[E any] interface {
	HandleBytes(p []byte)
	HandleEvent(ev E)
	Finish()
}
