// Package bus implements the request/ack pipes between the transaction side
// and the writer side: route-based dispatch of batched messages with FIFO
// ordering and input-side coalescing, generalized from a lock-grant
// protocol (a single goroutine dispatching requests over a channel and
// replying on a per-request channel) to a route-hop protocol carrying an
// arbitrary payload through an ordered list of handler stages.
package bus

import (
	"sync"

	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

// Request is one atomic write unit: a sequence of rows that must reach the
// log together or not at all.
type Request struct {
	Rows []record.Row

	// Result is written exactly once, by the writer, before the
	// originating caller is resumed: the assigned vclock signature, or a
	// negative sentinel (ErrResult) on failure.
	Result int64
	Err    error
}

// ErrResult is the sentinel Request.Result value marking a failed request.
const ErrResult int64 = -1

// Batch is the unit carried across the bus: an ordered, still-growing list
// of requests. The route it follows is held by the Message carrying it.
type Batch struct {
	Requests []*Request

	mu   sync.Mutex
	open bool // true while still eligible for input-side coalescing
}

// NewBatch returns a batch open for coalescing.
func NewBatch() *Batch {
	return &Batch{open: true}
}

// Append adds req to the batch if it is still open, implementing
// input-side coalescing: callers on the transaction side append to an
// existing open batch instead of allocating a new one. Returns false if the
// batch has already been closed for coalescing (a new batch must be used).
func (b *Batch) Append(req *Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	b.Requests = append(b.Requests, req)
	return true
}

// Close stops further coalescing; called once the batch is handed to the
// bus for dispatch.
func (b *Batch) Close() {
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
}

// Hop is one stage of a message's route: the handler given to RunHop runs
// on the hop's owning side, then the message is pushed onto Next (nil
// terminates the route).
type Hop struct {
	Name string
	Next *Pipe
}

// Message travels a route of Hops across one or more Pipes.
type Message struct {
	Batch *Batch
	Route []Hop
	hop   int

	// VClock carries a snapshot read by the tx side from the writer's
	// authoritative clock, e.g. for checkpoint acknowledgement.
	VClock storage.Vclock
}

// Pipe is one direction of the bus: a FIFO channel of in-flight messages.
type Pipe struct {
	ch chan *Message
}

// NewPipe returns a pipe with the given buffering.
func NewPipe(capacity int) *Pipe {
	return &Pipe{ch: make(chan *Message, capacity)}
}

// Send pushes msg onto the pipe, preserving FIFO order relative to every
// other Send on this pipe.
func (p *Pipe) Send(msg *Message) {
	p.ch <- msg
}

// Recv blocks for the next message, or returns ok=false if the pipe was
// closed.
func (p *Pipe) Recv() (*Message, bool) {
	msg, ok := <-p.ch
	return msg, ok
}

// Close closes the underlying channel. Only the side that owns Send should
// call this.
func (p *Pipe) Close() { close(p.ch) }

// Bus is a pair of pipes, toWriter (tx → writer) and toTx (writer → tx).
// It starts no goroutines; callers run RunHop on each pipe to walk the
// routes of the messages arriving there.
type Bus struct {
	ToWriter *Pipe
	ToTx     *Pipe
}

// New creates a bus with the given per-direction buffering.
func New(capacity int) *Bus {
	return &Bus{
		ToWriter: NewPipe(capacity),
		ToTx:     NewPipe(capacity),
	}
}

// Dispatch submits msg onto p, the pipe whose handler runs msg's first hop
// (Route[0]); Route[0].Next names the pipe it is forwarded to after that.
func Dispatch(p *Pipe, msg *Message) {
	p.Send(msg)
}

// RunHop runs handle for every message arriving on p until p is closed,
// then advances the route and forwards to the next pipe (if any).
//
// handle receives the message; a route with a nil Next after the current
// hop terminates without forwarding.
func RunHop(p *Pipe, handle func(*Message)) {
	for {
		msg, ok := p.Recv()
		if !ok {
			return
		}
		handle(msg)
		advance(msg)
	}
}

func advance(msg *Message) {
	if msg.hop >= len(msg.Route) {
		return
	}
	next := msg.Route[msg.hop].Next
	msg.hop++
	if next != nil {
		next.Send(msg)
	}
}

// Close shuts down both pipes. Callers must ensure no further Send calls
// are in flight.
func (b *Bus) Close() {
	b.ToWriter.Close()
	b.ToTx.Close()
}
