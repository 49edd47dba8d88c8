package core

import (
	"context"
	"fmt"
	"sync"

	"paysettle/core/events"
	"paysettle/core/state"
)

// Call is one unit of work executed inside an envelope transaction. Events
// must be emitted on the supplied emitter; they are released only after the
// transaction commits.
type Call func(txn *state.Txn, emitter events.Emitter) error

// Envelope gives each call all-or-nothing semantics over the ledger: the
// call's writes are committed in one batch when it returns nil and discarded
// otherwise. Calls are serialized, so no two calls touch the same balance at
// the same time.
type Envelope struct {
	mu      sync.Mutex
	ledger  *state.Ledger
	emitter events.Emitter
}

// NewEnvelope wraps ledger. Committed events are forwarded to emitter.
func NewEnvelope(ledger *state.Ledger, emitter events.Emitter) *Envelope {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Envelope{ledger: ledger, emitter: emitter}
}

// Ledger exposes the committed view for read-only queries.
func (e *Envelope) Ledger() *state.Ledger { return e.ledger }

// Execute runs call in a fresh transaction and returns the events released
// on commit. A call is not interruptible once started; ctx is only checked
// before the transaction opens.
func (e *Envelope) Execute(ctx context.Context, call Call) (released []events.Event, err error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	txn := e.ledger.Begin()
	buffer := &events.Buffer{}
	defer func() {
		if r := recover(); r != nil {
			txn.Discard()
			buffer.Reset()
			released = nil
			err = fmt.Errorf("envelope: call panicked: %v", r)
		}
	}()

	if err := call(txn, buffer); err != nil {
		txn.Discard()
		buffer.Reset()
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		buffer.Reset()
		return nil, err
	}
	return buffer.Release(e.emitter), nil
}
