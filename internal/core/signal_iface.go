package core

// Frame is one serialized event as sent to a UI subscriber.
type Frame []byte

// SignalConnection is the outbound side of a UI subscriber. TrySend never
// blocks; the adapter that created the connection closes it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
