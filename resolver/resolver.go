// Package resolver implements one-shot DNS/mDNS name resolution: a unicast
// query to a configured server (RFC 1035), or a multicast query collecting
// every responder's answer within a timeout window (RFC 6762 §5.1 "one-shot
// multicast DNS queries").
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/corvidae/resonate/internal/errors"
	"github.com/corvidae/resonate/internal/mcast"
	"github.com/corvidae/resonate/internal/protocol"
	"github.com/corvidae/resonate/internal/rr"
	"github.com/corvidae/resonate/internal/security"
	"github.com/corvidae/resonate/internal/wire"
)

// Mode selects how Resolver sends and correlates queries.
type Mode int

const (
	// ModeMulticast sends to the mDNS group and collects every response
	// matching the query's name/type until the timeout elapses, per RFC
	// 6762 §5.1. Multiple responders may legitimately answer the same query.
	ModeMulticast Mode = iota

	// ModeUnicast sends to a single configured server and returns as soon as
	// that server's reply (matched by message ID) arrives, per RFC 1035 §7.
	ModeUnicast
)

// Response is the result of a Query: every resource record collected before
// the timeout, parsed into typed RData.
type Response struct {
	Records []rr.ResourceRecord
}

// Resolver issues one-shot DNS/mDNS queries. A single Resolver reuses one
// cached socket (via internal/mcast) for every Query call; Close releases it.
type Resolver struct {
	mode           Mode
	family         mcast.Family
	socket         *mcast.Socket
	serverAddr     net.Addr
	defaultTimeout time.Duration

	rateLimiter        *security.RateLimiter
	rateLimitEnabled   bool
	rateLimitThreshold int
	rateLimitCooldown  time.Duration
	sourceFilter       *security.SourceFilter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[uint16]chan *rr.Message
	nextID  uint16

	mdnsMu   sync.Mutex
	mdnsSubs map[chan *rr.Message]struct{}

	logger *slog.Logger
}

// New creates a Resolver. Default mode is ModeMulticast over IPv4; use
// WithUnicastServer to switch to ModeUnicast, or WithIPv6 to query over the
// ff02::fb group instead of 224.0.0.251.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		mode:               ModeMulticast,
		family:             mcast.FamilyV4,
		defaultTimeout:     protocol.DefaultResolverTimeout,
		rateLimitEnabled:   true,
		rateLimitThreshold: 100,
		rateLimitCooldown:  60 * time.Second,
		pending:            make(map[uint16]chan *rr.Message),
		mdnsSubs:           make(map[chan *rr.Message]struct{}),
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	sock, err := mcast.Acquire(mcast.Config{Family: r.family, Multicast: r.mode == ModeMulticast})
	if err != nil {
		r.logger.Error("acquire socket failed", "error", err, "mode", r.mode)
		return nil, err
	}
	r.socket = sock

	if r.mode == ModeUnicast && r.serverAddr == nil {
		_ = sock.Release()
		return nil, &errors.ValidationError{Field: "serverAddr", Message: "ModeUnicast requires WithUnicastServer"}
	}

	if r.rateLimitEnabled {
		r.rateLimiter = security.NewRateLimiter(r.rateLimitThreshold, r.rateLimitCooldown, 10000)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.receiveLoop()

	return r, nil
}

// Query sends a question for name/qtype and collects responses until ctx is
// canceled, the Resolver's default timeout elapses, or (in ModeUnicast) the
// matching reply arrives.
func (r *Resolver) Query(ctx context.Context, name string, qtype protocol.RecordType) (*Response, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, err
	}
	if err := protocol.ValidateRecordType(uint16(qtype)); err != nil {
		return nil, err
	}

	if r.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.defaultTimeout)
		defer cancel()
	}

	id := r.allocID()
	r.logger.Debug("query", "name", name, "type", qtype, "id", id, "mode", r.mode)
	question := rr.Question{Name: name, Type: qtype, Class: protocol.ClassIN}
	msg := wire.NewQuery(id, protocol.OpcodeQuery, r.mode == ModeUnicast, []rr.Question{question})

	packet, err := wire.PackMessage(msg)
	if err != nil {
		return nil, err
	}

	dest := r.serverAddr
	if r.mode == ModeMulticast {
		dest = mcast.MulticastGroupAddr(r.family)
	}

	if r.mode == ModeUnicast {
		return r.queryUnicast(ctx, id, packet, dest)
	}
	return r.queryMulticast(ctx, name, qtype, packet, dest)
}

func (r *Resolver) queryUnicast(ctx context.Context, id uint16, packet []byte, dest net.Addr) (*Response, error) {
	ch := make(chan *rr.Message, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := r.socket.Send(ctx, packet, dest); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		if msg.Header.RCode != uint16(errors.RCodeNoError) {
			return nil, &errors.PacketError{Operation: "query", Code: errors.RCode(msg.Header.RCode)}
		}
		return &Response{Records: msg.Answers}, nil
	case <-ctx.Done():
		return nil, &errors.TimeoutError{Operation: "query", Err: ctx.Err()}
	}
}

func (r *Resolver) queryMulticast(ctx context.Context, name string, qtype protocol.RecordType, packet []byte, dest net.Addr) (*Response, error) {
	ch := make(chan *rr.Message, 64)
	r.mdnsMu.Lock()
	r.mdnsSubs[ch] = struct{}{}
	r.mdnsMu.Unlock()
	defer func() {
		r.mdnsMu.Lock()
		delete(r.mdnsSubs, ch)
		r.mdnsMu.Unlock()
	}()

	if err := r.socket.Send(ctx, packet, dest); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var resp Response

	for {
		select {
		case msg := <-ch:
			for _, a := range msg.Answers {
				if !matchesQuestion(a, name, qtype) {
					continue
				}
				key := fmt.Sprintf("%s|%d|%s", a.Name, a.Type, a.Data.String())
				if seen[key] {
					continue
				}
				seen[key] = true
				resp.Records = append(resp.Records, a)
			}
		case <-ctx.Done():
			return &resp, nil
		}
	}
}

func matchesQuestion(a rr.ResourceRecord, name string, qtype protocol.RecordType) bool {
	if qtype != protocol.RecordTypeANY && a.Type != qtype {
		return false
	}
	return a.Name == name
}

func (r *Resolver) allocID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// receiveLoop reads every inbound datagram on the Resolver's socket and
// routes it either to the ID-matched unicast waiter or fans it out to every
// outstanding multicast collector.
func (r *Resolver) receiveLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(r.ctx, time.Second)
		packet, addr, err := r.socket.Receive(recvCtx)
		cancel()
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			continue
		}

		if r.rateLimitEnabled {
			host, _, splitErr := net.SplitHostPort(addr.String())
			if splitErr == nil && !r.rateLimiter.Allow(host) {
				continue
			}
		}
		if r.sourceFilter != nil {
			ip, _, splitErr := net.SplitHostPort(addr.String())
			if splitErr == nil && !r.sourceFilter.IsValid(net.ParseIP(ip)) {
				continue
			}
		}

		msg, err := wire.ParseMessage(packet)
		if err != nil {
			r.logger.Debug("dropped unparseable packet", "source", addr, "error", err)
			continue
		}

		if r.mode == ModeUnicast {
			r.mu.Lock()
			ch, ok := r.pending[msg.Header.ID]
			r.mu.Unlock()
			if ok {
				select {
				case ch <- msg:
				default:
				}
			}
			continue
		}

		if err := protocol.ValidateResponse(msg.Header.Flags()); err != nil {
			r.logger.Debug("dropped non-conforming mdns response", "source", addr, "error", err)
			continue
		}

		r.mdnsMu.Lock()
		for ch := range r.mdnsSubs {
			select {
			case ch <- msg:
			default:
			}
		}
		r.mdnsMu.Unlock()
	}
}

// Close stops the receive loop and releases the underlying socket handle.
func (r *Resolver) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.socket.Release()
}
