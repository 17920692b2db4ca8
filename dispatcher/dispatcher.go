// Package dispatcher implements the process-wide event dispatcher: a thread-safe enqueue from any producer goroutine, drained only
// when the embedder calls ProcessEvents, which invokes registered callbacks
// synchronously on the calling goroutine. It never invokes a callback from
// a producer goroutine: callbacks only ever run on the caller's own thread,
// matching this codebase's preference for explicit hand-off over hidden
// background dispatch (cf. protocol.Registry's explicit ownership).
package dispatcher

import "sync"

// DocumentKind discriminates a Document event.
type DocumentKind int

const (
	DocumentCreated DocumentKind = iota
	DocumentUpdated
	DocumentDeleted
)

// SyncKind discriminates a Sync event.
type SyncKind int

const (
	SyncStarted SyncKind = iota
	SyncCompleted
)

// ErrorKind discriminates an Error event. SyncError is the only member
// today; the type exists so the family can grow without breaking callers.
type ErrorKind int

const (
	SyncError ErrorKind = iota
)

// ConnectionKind discriminates a Connection event.
type ConnectionKind int

const (
	ConnectionLost ConnectionKind = iota
	ConnectionAttempted
	ConnectionSucceeded
)

// ConflictKind discriminates a Conflict event. ConflictDetected is the only
// member today, for the same reason as ErrorKind.
type ConflictKind int

const (
	ConflictDetected ConflictKind = iota
)

// DocumentEvent reports a local or remote document mutation.
type DocumentEvent struct {
	Kind       DocumentKind
	DocumentID string
	Title      string
	Content    map[string]interface{}
}

// SyncEvent reports uploader/applier progress.
type SyncEvent struct {
	Kind  SyncKind
	Count int
}

// ErrorEvent reports an asynchronous failure.
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

// ConnectionEvent reports a connection lifecycle transition.
type ConnectionEvent struct {
	Kind      ConnectionKind
	Connected bool
	Attempt   int
}

// ConflictEvent reports a server-wins conflict resolution.
type ConflictEvent struct {
	Kind            ConflictKind
	DocumentID      string
	WinningContent  map[string]interface{}
	LosingContent   map[string]interface{}
}

// event is the internal tagged-union queue entry; exactly one field is
// non-nil, matching the discriminated wire-message style used throughout
// the rest of this module (protocol.Envelope).
type event struct {
	document   *DocumentEvent
	sync       *SyncEvent
	err        *ErrorEvent
	connection *ConnectionEvent
	conflict   *ConflictEvent
}

// DocumentCallback, SyncCallback, ErrorCallback, ConnectionCallback, and
// ConflictCallback are the five families of embedder-supplied callbacks.
type DocumentCallback func(DocumentEvent)
type SyncCallback func(SyncEvent)
type ErrorCallback func(ErrorEvent)
type ConnectionCallback func(ConnectionEvent)
type ConflictCallback func(ConflictEvent)

type registration struct {
	document   DocumentCallback
	documentOK func(DocumentKind) bool
	sync       SyncCallback
	syncOK     func(SyncKind) bool
	err        ErrorCallback
	errOK      func(ErrorKind) bool
	connection ConnectionCallback
	connOK     func(ConnectionKind) bool
	conflict   ConflictCallback
	conflictOK func(ConflictKind) bool
}

// Dispatcher is a single process-wide facility per client engine: a
// multi-producer queue of events plus the callbacks registered to receive
// them, drained only by ProcessEvents.
type Dispatcher struct {
	mu       sync.Mutex
	queue    []event
	capacity int
	draining bool
	pending  []registration // registrations deferred until the current drain finishes
	reg      registration
}

// New constructs a Dispatcher with the given queue capacity. A capacity of 0 means unbounded;
// Enqueue drops the oldest event when the queue is full rather than
// blocking the producer, since producers (uploader, applier, supervisor)
// must never suspend on a slow embedder.
func New(capacity int) *Dispatcher {
	return &Dispatcher{capacity: capacity}
}

// RegisterDocument registers fn for Document events whose Kind passes
// filter (nil filter = all kinds). Registration while draining is deferred
// until the next drain.
func (d *Dispatcher) RegisterDocument(fn DocumentCallback, filter func(DocumentKind) bool) {
	d.register(func(r *registration) { r.document = fn; r.documentOK = filter })
}

// RegisterSync registers fn for Sync events.
func (d *Dispatcher) RegisterSync(fn SyncCallback, filter func(SyncKind) bool) {
	d.register(func(r *registration) { r.sync = fn; r.syncOK = filter })
}

// RegisterError registers fn for Error events.
func (d *Dispatcher) RegisterError(fn ErrorCallback, filter func(ErrorKind) bool) {
	d.register(func(r *registration) { r.err = fn; r.errOK = filter })
}

// RegisterConnection registers fn for Connection events.
func (d *Dispatcher) RegisterConnection(fn ConnectionCallback, filter func(ConnectionKind) bool) {
	d.register(func(r *registration) { r.connection = fn; r.connOK = filter })
}

// RegisterConflict registers fn for Conflict events.
func (d *Dispatcher) RegisterConflict(fn ConflictCallback, filter func(ConflictKind) bool) {
	d.register(func(r *registration) { r.conflict = fn; r.conflictOK = filter })
}

func (d *Dispatcher) register(apply func(*registration)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		var r registration
		apply(&r)
		d.pending = append(d.pending, r)
		return
	}
	apply(&d.reg)
}

// EmitDocument enqueues a Document event. Safe to call from any goroutine.
func (d *Dispatcher) EmitDocument(e DocumentEvent) { d.enqueue(event{document: &e}) }

// EmitSync enqueues a Sync event.
func (d *Dispatcher) EmitSync(e SyncEvent) { d.enqueue(event{sync: &e}) }

// EmitError enqueues an Error event.
func (d *Dispatcher) EmitError(e ErrorEvent) { d.enqueue(event{err: &e}) }

// EmitConnection enqueues a Connection event.
func (d *Dispatcher) EmitConnection(e ConnectionEvent) { d.enqueue(event{connection: &e}) }

// EmitConflict enqueues a Conflict event.
func (d *Dispatcher) EmitConflict(e ConflictEvent) { d.enqueue(event{conflict: &e}) }

func (d *Dispatcher) enqueue(e event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capacity > 0 && len(d.queue) >= d.capacity {
		d.queue = d.queue[1:]
	}
	d.queue = append(d.queue, e)
}

// Pending returns the number of events not yet drained.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// ProcessEvents drains the queue, invoking registered callbacks
// synchronously on the calling goroutine, and returns the count processed.
// Registrations made by a callback during this call are deferred until
// the next ProcessEvents call.
func (d *Dispatcher) ProcessEvents() uint32 {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.draining = true
	reg := d.reg
	d.mu.Unlock()

	for _, e := range batch {
		dispatchOne(reg, e)
	}

	d.mu.Lock()
	d.draining = false
	for _, r := range d.pending {
		mergeRegistration(&d.reg, r)
	}
	d.pending = nil
	d.mu.Unlock()

	return uint32(len(batch))
}

func mergeRegistration(dst *registration, src registration) {
	if src.document != nil {
		dst.document, dst.documentOK = src.document, src.documentOK
	}
	if src.sync != nil {
		dst.sync, dst.syncOK = src.sync, src.syncOK
	}
	if src.err != nil {
		dst.err, dst.errOK = src.err, src.errOK
	}
	if src.connection != nil {
		dst.connection, dst.connOK = src.connection, src.connOK
	}
	if src.conflict != nil {
		dst.conflict, dst.conflictOK = src.conflict, src.conflictOK
	}
}

func dispatchOne(reg registration, e event) {
	switch {
	case e.document != nil:
		if reg.document != nil && (reg.documentOK == nil || reg.documentOK(e.document.Kind)) {
			reg.document(*e.document)
		}
	case e.sync != nil:
		if reg.sync != nil && (reg.syncOK == nil || reg.syncOK(e.sync.Kind)) {
			reg.sync(*e.sync)
		}
	case e.err != nil:
		if reg.err != nil && (reg.errOK == nil || reg.errOK(e.err.Kind)) {
			reg.err(*e.err)
		}
	case e.connection != nil:
		if reg.connection != nil && (reg.connOK == nil || reg.connOK(e.connection.Kind)) {
			reg.connection(*e.connection)
		}
	case e.conflict != nil:
		if reg.conflict != nil && (reg.conflictOK == nil || reg.conflictOK(e.conflict.Kind)) {
			reg.conflict(*e.conflict)
		}
	}
}
