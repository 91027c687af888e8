// Package transaction drives a single HTTP request/response exchange
// over an established channel. The state machine owns request-body
// backpressure, response delivery, cancellation and the request
// deadline; the HTTP layer owns the wire.
//
// All mutation goes through one mutex held only for state
// transitions, never across I/O: operations compute an action under
// the lock and perform executor calls after releasing it.
package transaction

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/tomb.v2"

	"github.com/athq/go-httpcore/internal/errs"
)

// Executor is the per-connection write side the HTTP layer hands the
// transaction once it starts executing.
type Executor interface {
	WriteRequestBodyPart(part []byte, t *Transaction)
	FinishRequestBodyStream(t *Transaction)
	CancelRequest(t *Transaction)
	DemandResponseBodyStream(t *Transaction)
}

// Scheduler can abort a transaction still waiting for a connection.
type Scheduler interface {
	CancelRequest(t *Transaction)
}

type state int

const (
	stateInitialized state = iota
	stateQueued
	stateExecuting // request streaming
	stateAwaitingHead
	stateStreamingBody
	stateFinished
	stateFailed
)

// Transaction is exclusively owned by the task that created the
// request future; the HTTP layer drives it from its channel's event
// loop while the owner awaits the response promise.
type Transaction struct {
	mu        sync.Mutex
	state     state
	scheduler Scheduler
	executor  Executor

	body          RequestBody
	paused        bool
	startedStream bool
	sentBuffered  bool
	cancelledExec bool

	writeGate chan error // at most one suspended body-write continuation

	promise *responsePromise
	stream  *BodyStream

	clk           clock.Clock
	deadlineTimer *clock.Timer
	tmb           tomb.Tomb
}

func New(body RequestBody, clk clock.Clock) *Transaction {
	if clk == nil {
		clk = clock.New()
	}
	t := &Transaction{
		body:    body,
		promise: newResponsePromise(),
		clk:     clk,
	}
	t.stream = newBodyStream(16, t.demandMore)
	return t
}

// Response blocks until the response head arrives or the transaction
// fails.
func (t *Transaction) Response(ctx context.Context) (*Response, error) {
	return t.promise.await(ctx)
}

// RequestWasQueued records the scheduler that owns the transaction
// until a connection is found.
func (t *Transaction) RequestWasQueued(s Scheduler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateFailed {
		return
	}
	if t.state != stateInitialized {
		panic("transaction queued twice")
	}
	t.state = stateQueued
	t.scheduler = s
}

// SetDeadline arms the scheduler-owned deadline timer.
func (t *Transaction) SetDeadline(deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateFinished || t.state == stateFailed {
		return
	}
	remaining := deadline.Sub(t.clk.Now())
	t.deadlineTimer = t.clk.AfterFunc(remaining, t.DeadlineExceeded)
}

// WillExecuteRequest transitions Queued → Executing. A transaction
// cancelled while queued instructs the executor to abort instead and
// resolves the promise with the cancellation error if still pending.
func (t *Transaction) WillExecuteRequest(ex Executor) {
	t.mu.Lock()
	if t.state == stateFailed {
		cancel := !t.cancelledExec
		t.cancelledExec = true
		t.mu.Unlock()
		if cancel {
			ex.CancelRequest(t)
		}
		t.promise.fail(errs.ErrCancelled)
		return
	}
	if t.state != stateQueued && t.state != stateInitialized {
		panic("willExecuteRequest in invalid state")
	}
	t.state = stateExecuting
	t.executor = ex
	t.mu.Unlock()
}

// ResumeRequestBodyStream grants producer-side credit. The first call
// on a streaming body starts the pump, exactly once per transaction;
// a buffered body is written whole and finished; no body is a no-op.
// Later calls resume a continuation suspended on writeAndWait.
func (t *Transaction) ResumeRequestBodyStream() {
	t.mu.Lock()
	if t.state == stateFailed || t.state == stateFinished {
		t.mu.Unlock()
		return
	}
	t.paused = false
	gate := t.writeGate
	t.writeGate = nil

	var startPump bool
	var writeBuffered bool
	ex := t.executor
	switch t.body.kind {
	case bodyStreaming:
		if !t.startedStream {
			t.startedStream = true
			startPump = true
		}
	case bodyBuffered:
		if !t.sentBuffered {
			t.sentBuffered = true
			writeBuffered = true
		}
	}
	t.mu.Unlock()

	if gate != nil {
		gate <- nil
	}
	if startPump {
		t.tmb.Go(t.pump)
	}
	if writeBuffered && ex != nil {
		ex.WriteRequestBodyPart(t.body.buffered, t)
		ex.FinishRequestBodyStream(t)
		t.requestStreamDone()
	}
}

// PauseRequestBodyStream withdraws producer credit; the next write
// suspends until resumed.
func (t *Transaction) PauseRequestBodyStream() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// ReceiveResponseHead resolves the response promise. A second head is
// a protocol error on the HTTP layer's side.
func (t *Transaction) ReceiveResponseHead(head ResponseHead) {
	t.mu.Lock()
	if t.state == stateFailed {
		t.mu.Unlock()
		return
	}
	if t.state != stateExecuting && t.state != stateAwaitingHead {
		t.mu.Unlock()
		panic("receiveResponseHead in invalid state")
	}
	t.state = stateStreamingBody
	stream := t.stream
	t.mu.Unlock()
	t.promise.succeed(&Response{Head: head, Body: stream})
}

// ReceiveResponseBodyParts forwards body bytes into the bounded
// stream. When the buffer crosses its high watermark demand stays
// paused until the consumer drains it, which re-demands through
// [Executor.DemandResponseBodyStream].
func (t *Transaction) ReceiveResponseBodyParts(parts ...[]byte) {
	t.mu.Lock()
	if t.state == stateFailed {
		t.mu.Unlock()
		return
	}
	if t.state != stateStreamingBody {
		t.mu.Unlock()
		panic("receiveResponseBodyParts before response head")
	}
	stream := t.stream
	t.mu.Unlock()
	for _, p := range parts {
		stream.push(p)
	}
}

func (t *Transaction) demandMore() {
	t.mu.Lock()
	ex := t.executor
	live := t.state == stateStreamingBody
	t.mu.Unlock()
	if live && ex != nil {
		ex.DemandResponseBodyStream(t)
	}
}

// SucceedRequest finishes the exchange, optionally yielding trailing
// first. Terminal.
func (t *Transaction) SucceedRequest(trailing []byte) {
	t.mu.Lock()
	if t.state == stateFailed || t.state == stateFinished {
		t.mu.Unlock()
		return
	}
	if t.state != stateStreamingBody {
		t.mu.Unlock()
		panic("succeedRequest before response head")
	}
	t.state = stateFinished
	timer := t.deadlineTimer
	t.deadlineTimer = nil
	t.executor = nil
	t.scheduler = nil
	t.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	t.stream.finish(nil, trailing)
	t.tmb.Kill(nil)
}

// Cancel is the user-facing abort; it converges on the fail path.
func (t *Transaction) Cancel() {
	t.Fail(errs.ErrCancelled)
}

// DeadlineExceeded is raised by the deadline timer.
func (t *Transaction) DeadlineExceeded() {
	t.Fail(errs.ErrDeadlineExceeded)
}

// Fail terminates the transaction. It is idempotent; the first error
// wins. err reaches the owner through exactly one of the response
// promise (head not yet delivered) or the response stream (head
// delivered); a suspended body-write continuation is resumed with err
// as well. Any still-live scheduler and executor are cancelled at most
// once.
func (t *Transaction) Fail(err error) {
	t.mu.Lock()
	if t.state == stateFailed || t.state == stateFinished {
		t.mu.Unlock()
		return
	}
	t.state = stateFailed
	scheduler := t.scheduler
	executor := t.executor
	cancelExec := executor != nil && !t.cancelledExec
	if cancelExec {
		t.cancelledExec = true
	}
	gate := t.writeGate
	t.writeGate = nil
	timer := t.deadlineTimer
	t.deadlineTimer = nil
	t.scheduler = nil
	t.executor = nil
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if scheduler != nil {
		scheduler.CancelRequest(t)
	}
	if cancelExec {
		executor.CancelRequest(t)
	}
	if gate != nil {
		gate <- err
	}
	// at most one of these observably carries err: the promise
	// no-ops once resolved, the stream once finished, and a stream
	// never handed out is invisible to the owner
	t.promise.fail(err)
	t.stream.finish(err, nil)
	t.tmb.Kill(nil)
}

// Wait stops the body pump (if any) and blocks until it has exited.
// Test and teardown helper.
func (t *Transaction) Wait() error {
	t.mu.Lock()
	started := t.startedStream
	t.mu.Unlock()
	if !started {
		return nil
	}
	t.tmb.Kill(nil)
	return t.tmb.Wait()
}

type writeAction int

const (
	writeAndContinue writeAction = iota
	writeAndWait
	writeFailed
)

func (t *Transaction) nextWriteAction() (writeAction, Executor, chan error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateExecuting && t.state != stateAwaitingHead && t.state != stateStreamingBody {
		return writeFailed, nil, nil
	}
	if t.paused {
		t.writeGate = make(chan error, 1)
		return writeAndWait, t.executor, t.writeGate
	}
	return writeAndContinue, t.executor, nil
}

func (t *Transaction) requestStreamDone() {
	t.mu.Lock()
	if t.state == stateExecuting {
		t.state = stateAwaitingHead
	}
	t.mu.Unlock()
}

// pump is the single producer task feeding the executor from the
// caller's body source. It suspends on writeAndWait, exits silently
// on failure (the error travels the primary path) and signals
// end-of-stream to the executor.
func (t *Transaction) pump() error {
	ctx := t.tmb.Context(nil)
	for {
		part, err := t.body.source.Next(ctx)
		if err == io.EOF {
			act, ex, _ := t.nextWriteAction()
			if act == writeFailed || ex == nil {
				return nil
			}
			ex.FinishRequestBodyStream(t)
			t.requestStreamDone()
			return nil
		}
		if err != nil {
			if ctx.Err() == nil {
				t.Fail(err)
			}
			return nil
		}
		act, ex, gate := t.nextWriteAction()
		switch act {
		case writeFailed:
			return nil
		case writeAndContinue:
			ex.WriteRequestBodyPart(part, t)
		case writeAndWait:
			ex.WriteRequestBodyPart(part, t)
			select {
			case werr := <-gate:
				if werr != nil {
					return nil
				}
			case <-t.tmb.Dying():
				return nil
			}
		}
	}
}
