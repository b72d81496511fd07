package core

// Frame is one encoded text message on the signaling socket.
type Frame []byte

// SignalConnection abstracts the per-client signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. A full queue is reported as an
	// error and the frame is dropped.
	TrySend(Frame) error
	Close()
}
