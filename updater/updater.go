// Package updater implements RFC 2136 Dynamic Update: composing one or more
// UPDATE messages (zone/prerequisite/add/delete sections), sending them to a
// configured authoritative server, and collecting each response.
package updater

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/corvidae/resonate/internal/errors"
	"github.com/corvidae/resonate/internal/mcast"
	"github.com/corvidae/resonate/internal/protocol"
	"github.com/corvidae/resonate/internal/rr"
	"github.com/corvidae/resonate/internal/wire"
)

// PrerequisiteKind selects one of RFC 2136 §2.4's four prerequisite forms.
type PrerequisiteKind int

const (
	// Exists asserts an RRset of the given name and type exists (§2.4.1).
	Exists PrerequisiteKind = iota
	// NotExists asserts no RRset of the given name and type exists (§2.4.2).
	NotExists
	// InUse asserts some RRset of the given name exists, any type (§2.4.3).
	InUse
	// NotInUse asserts no RRset of the given name exists, any type (§2.4.4).
	NotInUse
)

// Prerequisite is one condition the server must satisfy before the Adds and
// Deletes in the same Update are applied.
type Prerequisite struct {
	Name string
	Type protocol.RecordType
	Kind PrerequisiteKind
}

func (p Prerequisite) toRR() rr.ResourceRecord {
	switch p.Kind {
	case Exists:
		return rr.ResourceRecord{Name: p.Name, Type: p.Type, Class: protocol.ClassANY, TTL: 0}
	case NotExists:
		return rr.ResourceRecord{Name: p.Name, Type: p.Type, Class: protocol.ClassNONE, TTL: 0}
	case InUse:
		return rr.ResourceRecord{Name: p.Name, Type: protocol.RecordTypeANY, Class: protocol.ClassANY, TTL: 0}
	default: // NotInUse
		return rr.ResourceRecord{Name: p.Name, Type: protocol.RecordTypeANY, Class: protocol.ClassNONE, TTL: 0}
	}
}

// Delete names an RRset (or, with Type left zero, the whole node) to remove.
type Delete struct {
	Name string
	Type protocol.RecordType
}

func (d Delete) toRR() rr.ResourceRecord {
	typ := d.Type
	if typ == 0 {
		typ = protocol.RecordTypeANY
	}
	return rr.ResourceRecord{Name: d.Name, Type: typ, Class: protocol.ClassANY, TTL: 0}
}

// Update is one queued RFC 2136 transaction: a zone, its prerequisites, and
// the RRs to add and delete. Begin packs each queued Update into its own
// Message with its own id.
type Update struct {
	Zone          string
	Prerequisites []Prerequisite
	Adds          []rr.ResourceRecord
	Deletes       []Delete
}

// validate checks the zone and every name/type this Update references
// against RFC 1035 §3.1 naming rules before the update is sent, per
// protocol.ValidateName/ValidateRecordType.
func (u Update) validate() error {
	if err := protocol.ValidateName(u.Zone); err != nil {
		return err
	}
	for _, p := range u.Prerequisites {
		if err := protocol.ValidateName(p.Name); err != nil {
			return err
		}
		if p.Kind == Exists || p.Kind == NotExists {
			if err := protocol.ValidateRecordType(uint16(p.Type)); err != nil {
				return err
			}
		}
	}
	for _, d := range u.Deletes {
		if err := protocol.ValidateName(d.Name); err != nil {
			return err
		}
	}
	for _, a := range u.Adds {
		if err := protocol.ValidateName(a.Name); err != nil {
			return err
		}
	}
	return nil
}

func (u Update) toMessage(id uint16) *rr.Message {
	msg := &rr.Message{
		Header: rr.Header{ID: id, Opcode: protocol.OpcodeUpdate},
		Questions: []rr.Question{
			{Name: u.Zone, Type: protocol.RecordTypeSOA, Class: protocol.ClassIN},
		},
	}
	for _, p := range u.Prerequisites {
		msg.Answers = append(msg.Answers, p.toRR())
	}
	for _, d := range u.Deletes {
		msg.Authorities = append(msg.Authorities, d.toRR())
	}
	msg.Authorities = append(msg.Authorities, u.Adds...)
	return msg
}

// Result is one Update's outcome: the response's answer records (pruned of
// any internal offset bookkeeping — wire.ParseMessage never retains any),
// or the error that kept a response from arriving.
type Result struct {
	Records []rr.ResourceRecord
	Err     error
}

// Updater is a fluent builder: configure the server once, queue any number
// of Updates, then Begin to send them all in parallel and collect responses.
type Updater struct {
	family  mcast.Family
	addr    net.Addr
	socket  *mcast.Socket
	timeout time.Duration
	queue   []Update

	mu      sync.Mutex
	nextID  uint16
	pending map[uint16]chan *rr.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// New creates an Updater targeting host:port (port defaults to 53).
func New(host string, port int, opts ...Option) (*Updater, error) {
	u := &Updater{
		family:  mcast.FamilyV4,
		timeout: 6 * time.Second,
		pending: make(map[uint16]chan *rr.Message),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}

	addr, err := mcast.ResolveUnicast(u.family, host, port)
	if err != nil {
		return nil, &errors.ValidationError{Field: "server", Value: host, Message: err.Error()}
	}
	u.addr = addr

	sock, err := mcast.Acquire(mcast.Config{Family: u.family, Multicast: false})
	if err != nil {
		return nil, err
	}
	u.socket = sock

	u.ctx, u.cancel = context.WithCancel(context.Background())
	u.wg.Add(1)
	go u.receiveLoop()

	return u, nil
}

// receiveLoop reads every inbound datagram on the Updater's socket and
// routes it to the pending waiter matching its message id. One loop serves
// every in-flight Begin call, so concurrent queued sends never race each
// other reading the shared socket.
func (u *Updater) receiveLoop() {
	defer u.wg.Done()
	for {
		select {
		case <-u.ctx.Done():
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(u.ctx, time.Second)
		packet, _, err := u.socket.Receive(recvCtx)
		cancel()
		if err != nil {
			if u.ctx.Err() != nil {
				return
			}
			continue
		}

		msg, err := wire.ParseMessage(packet)
		if err != nil {
			continue
		}

		u.mu.Lock()
		ch, ok := u.pending[msg.Header.ID]
		u.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// Queue adds one Update transaction to the builder, returning the Updater
// for chaining (server/zone/prerequisites/add/del/begin fluent style).
func (u *Updater) Queue(update Update) *Updater {
	u.queue = append(u.queue, update)
	return u
}

// Begin sends every queued Update as its own Message, in parallel over UDP
// (TCP sequencing is a Non-goal per the transport stub), and collects each
// response. The returned slice has one Result per queued Update, in queue
// order; Begin returns once every Update has its reply or send error, or
// once ctx is canceled or the Updater's overall timeout elapses.
func (u *Updater) Begin(ctx context.Context) []Result {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	results := make([]Result, len(u.queue))
	var wg sync.WaitGroup

	for i, update := range u.queue {
		wg.Add(1)
		go func(i int, update Update) {
			defer wg.Done()
			results[i] = u.send(ctx, update)
		}(i, update)
	}

	wg.Wait()
	return results
}

func (u *Updater) send(ctx context.Context, update Update) Result {
	if err := update.validate(); err != nil {
		return Result{Err: err}
	}

	id := u.allocID()
	msg := update.toMessage(id)

	packet, err := wire.PackMessage(msg)
	if err != nil {
		return Result{Err: err}
	}

	ch := make(chan *rr.Message, 1)
	u.mu.Lock()
	u.pending[id] = ch
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
	}()

	if err := u.socket.Send(ctx, packet, u.addr); err != nil {
		u.logger.Warn("update send failed", "zone", update.Zone, "id", id, "error", err)
		return Result{Err: err}
	}

	select {
	case reply := <-ch:
		if reply.Header.RCode != uint16(errors.RCodeNoError) {
			u.logger.Warn("update rejected", "zone", update.Zone, "id", id, "rcode", reply.Header.RCode)
			return Result{Err: &errors.PacketError{Operation: "update", Code: errors.RCode(reply.Header.RCode)}}
		}
		return Result{Records: reply.Answers}
	case <-ctx.Done():
		return Result{Err: &errors.TimeoutError{Operation: "update", Err: ctx.Err()}}
	}
}

func (u *Updater) allocID() uint16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	return u.nextID
}

// Close stops the receive loop and releases the Updater's socket handle.
func (u *Updater) Close() error {
	u.cancel()
	u.wg.Wait()
	return u.socket.Release()
}
