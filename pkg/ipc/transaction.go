package ipc

// transaction is one in-flight request. It is created by the calling
// goroutine, owned by the channel's queue while pending, and read back by
// the caller once completed is closed. Exactly one transaction is "at the
// doorbell" at a time: the queue head.
//
// All fields except completed are written under the channel mutex. The
// caller reads them only after receiving from completed, which the
// interrupt path closes under the same mutex, so no further
// synchronization is needed.
type transaction struct {
	request Message
	reply   Message

	// done is true when the reply arrived, false when the transaction was
	// drained by Shutdown.
	done bool

	// txData is the request payload written into the outbound mailbox
	// when this transaction reaches the doorbell.
	txData []byte

	// rxBuf, if non-nil, receives large-config-get data copied out of the
	// inbound mailbox by the interrupt path. rxActual is the byte count.
	rxBuf    []byte
	rxActual int

	completed chan struct{}
}

func newTransaction(request Message, txData, rxBuf []byte) *transaction {
	return &transaction{
		request:   request,
		txData:    txData,
		rxBuf:     rxBuf,
		completed: make(chan struct{}),
	}
}

// settled reports whether the transaction has left the queue (completed
// or canceled). Must be called under the channel mutex to be meaningful.
func (t *transaction) settled() bool {
	select {
	case <-t.completed:
		return true
	default:
		return false
	}
}
