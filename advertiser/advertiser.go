// Package advertiser implements mDNS service publication per the mDNS
// draft / RFC 6762 style: probe for name conflicts, announce the winning
// claim, respond to queries indefinitely, and send a goodbye on departure.
package advertiser

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/corvidae/resonate/internal/mcast"
	"github.com/corvidae/resonate/internal/protocol"
	"github.com/corvidae/resonate/internal/rr"
	"github.com/corvidae/resonate/internal/security"
	"github.com/corvidae/resonate/internal/wire"
)

// Advertiser runs the beginning→probing→announcing→responding→goodbye state
// machine for one published service. Scheduling is cooperative: exactly one
// internal timer is ever active, and all state transitions happen on a
// single goroutine (run), so there is no shared mutable state that needs a
// mutex once the loop has started — only the public accessors below, called
// from other goroutines, take the lock.
type Advertiser struct {
	cfg    Config
	family mcast.Family
	socket *mcast.Socket

	onProbe    func()
	onAnnounce func()
	onQuery    func(rr.Question)
	onError    func(error)

	rateLimiter      *security.RateLimiter
	rateLimitEnabled bool
	sourceFilter     *security.SourceFilter

	addressesOverride []net.IP
	reannounce        bool

	id uint16

	mu       sync.Mutex
	state    State
	question []rr.Question
	claim    []rr.ResourceRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	packets chan inboundPacket
	endOnce sync.Once
	done    chan struct{}

	logger *slog.Logger
}

type inboundPacket struct {
	msg  *rr.Message
	addr net.Addr
}

// New validates cfg and creates an Advertiser. The returned Advertiser does
// not send anything until Start is called.
func New(cfg Config, opts ...Option) (*Advertiser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = cfg.InstanceName + ".local."
	}

	a := &Advertiser{
		cfg:              cfg,
		family:           mcast.FamilyV4,
		rateLimitEnabled: true,
		state:            StateBeginning,
		packets:          make(chan inboundPacket, 64),
		done:             make(chan struct{}),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start acquires the shared mDNS socket, builds the candidate record set,
// and begins the probe sequence. It returns once the socket is bound; the
// state machine itself runs on a background goroutine until End is called
// or the context passed to Start is canceled.
func (a *Advertiser) Start(ctx context.Context) error {
	sock, err := mcast.Acquire(mcast.Config{Family: a.family, Multicast: true})
	if err != nil {
		return err
	}
	a.socket = sock

	if a.rateLimitEnabled && a.rateLimiter == nil {
		a.rateLimiter = security.NewRateLimiter(100, 60*time.Second, 10000)
	}

	addrs, err := a.localAddrs()
	if err != nil {
		_ = sock.Release()
		return err
	}

	a.mu.Lock()
	a.claim = buildRecordSet(a.cfg, addrs)
	a.question = questionsFor(a.claim)
	a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(2)
	go a.receiveLoop()
	go a.run()

	return nil
}

func (a *Advertiser) localAddrs() ([]net.IP, error) {
	if a.addressesOverride != nil {
		return a.addressesOverride, nil
	}
	return nonLoopbackAddrs(a.family == mcast.FamilyV6)
}

// State returns the Advertiser's current lifecycle state.
func (a *Advertiser) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Advertiser) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.logger.Info("state transition", "service", a.cfg.InstanceName, "state", s)
}

// End triggers the goodbye sequence (or, if still probing/announcing, an
// immediate end with no goodbye — nothing has been claimed on the wire
// yet). Idempotent: subsequent calls are no-ops. Blocks until the run loop
// has fully exited and the shared socket has been released.
func (a *Advertiser) End() {
	a.endOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

func (a *Advertiser) receiveLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.done:
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(a.ctx, time.Second)
		packet, addr, err := a.socket.Receive(recvCtx)
		cancel()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			continue
		}

		if a.rateLimitEnabled {
			host, _, splitErr := net.SplitHostPort(addr.String())
			if splitErr == nil && !a.rateLimiter.Allow(host) {
				continue
			}
		}
		if a.sourceFilter != nil {
			ip, _, splitErr := net.SplitHostPort(addr.String())
			if splitErr == nil && !a.sourceFilter.IsValid(net.ParseIP(ip)) {
				continue
			}
		}

		msg, err := wire.ParseMessage(packet)
		if err != nil {
			continue
		}

		select {
		case a.packets <- inboundPacket{msg: msg, addr: addr}:
		case <-a.ctx.Done():
			return
		default:
			// Backlog full: drop rather than block the receive loop, per
			// the same non-blocking-delivery policy the Resolver uses.
		}
	}
}

// run is the single-threaded state machine loop: beginning is handled
// inline by Start, and every subsequent transition happens here in response
// to either a timer firing or an inbound packet arriving.
func (a *Advertiser) run() {
	defer a.wg.Done()
	defer func() {
		a.setState(StateEnded)
		_ = a.socket.Release()
	}()

	if a.cfg.Goodbye {
		a.runGoodbye()
		return
	}
	if !a.runProbing() {
		return
	}
	if !a.runAnnouncing() {
		return
	}
	a.runResponding()
	a.runGoodbye()
}

// runProbing sends up to protocol.ProbeCount probe queries protocol.ProbeInterval
// apart. Any authoritative response claiming one of our candidate records
// removes it from both the question and claim sets. Returns false if the
// Advertiser ended before probing completed, or if every candidate record
// was claimed by another host (this protocol's "If the set is emptied... ends").
func (a *Advertiser) runProbing() bool {
	a.setState(StateProbing)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for sent := 0; sent < protocol.ProbeCount; {
		select {
		case <-a.done:
			return false
		case <-a.ctx.Done():
			return false
		case pkt := <-a.packets:
			a.handleProbingPacket(pkt.msg)
			if a.isClaimEmpty() {
				return false
			}
		case <-timer.C:
			a.sendProbe()
			sent++
			if a.onProbe != nil {
				a.onProbe()
			}
			timer.Reset(protocol.ProbeInterval)
		}
	}

	return !a.isClaimEmpty()
}

func (a *Advertiser) isClaimEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.claim) == 0
}

// handleProbingPacket ignores queries (probe conflict policy only reacts to
// authoritative responses) and, for a response, drops any claimed record the
// response asserts ownership of from both the question and claim sets.
func (a *Advertiser) handleProbingPacket(msg *rr.Message) {
	if !msg.Header.QR || !msg.Header.AA {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, answer := range msg.Answers {
		a.claim = removeMatching(a.claim, answer.Name, answer.Type)
		a.question = removeQuestion(a.question, answer.Name, answer.Type)
	}
}

func removeMatching(records []rr.ResourceRecord, name string, typ protocol.RecordType) []rr.ResourceRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.Name == name && r.Type == typ {
			continue
		}
		out = append(out, r)
	}
	return out
}

func removeQuestion(questions []rr.Question, name string, typ protocol.RecordType) []rr.Question {
	out := questions[:0:0]
	for _, q := range questions {
		if q.Name == name && q.Type == typ {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (a *Advertiser) sendProbe() {
	a.mu.Lock()
	questions := append([]rr.Question(nil), a.question...)
	claim := append([]rr.ResourceRecord(nil), a.claim...)
	a.mu.Unlock()

	msg := wire.NewQuery(a.nextID(), protocol.OpcodeQuery, false, questions)
	msg.Authorities = claim

	packet, err := wire.PackMessage(msg)
	if err != nil {
		a.reportError(err)
		return
	}
	if err := a.socket.Send(a.ctx, packet, mcast.MulticastGroupAddr(a.family)); err != nil {
		a.reportError(err)
	}
}

// runAnnouncing sets the cache-flush bit on every surviving claimed record
// and sends protocol.AnnounceCount unsolicited responses protocol.AnnounceInterval
// apart.
func (a *Advertiser) runAnnouncing() bool {
	a.setState(StateAnnouncing)

	a.mu.Lock()
	for i := range a.claim {
		a.claim[i].CacheFlush = true
	}
	claim := append([]rr.ResourceRecord(nil), a.claim...)
	a.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for sent := 0; sent < protocol.AnnounceCount; {
		select {
		case <-a.done:
			return false
		case <-a.ctx.Done():
			return false
		case pkt := <-a.packets:
			_ = pkt // queries/responses during announcing don't alter the claim
		case <-timer.C:
			a.sendAnnouncement(claim)
			sent++
			if a.onAnnounce != nil {
				a.onAnnounce()
			}
			timer.Reset(protocol.AnnounceInterval)
		}
	}
	return true
}

func (a *Advertiser) sendAnnouncement(claim []rr.ResourceRecord) {
	msg := wire.NewResponse(a.nextID(), claim)
	packet, err := wire.PackMessage(msg)
	if err != nil {
		a.reportError(err)
		return
	}
	if err := a.socket.Send(a.ctx, packet, mcast.MulticastGroupAddr(a.family)); err != nil {
		a.reportError(err)
	}
}

// runResponding clears the cache-flush bit (set only for the announcement)
// and answers incoming queries until End is called or the context ends.
func (a *Advertiser) runResponding() {
	a.setState(StateResponding)

	a.mu.Lock()
	for i := range a.claim {
		a.claim[i].CacheFlush = false
	}
	a.mu.Unlock()

	var reannounce *time.Timer
	var reannounceC <-chan time.Time
	if a.reannounceEnabled() {
		reannounce = time.NewTimer(time.Duration(protocol.TTLService/2) * time.Second)
		reannounceC = reannounce.C
		defer reannounce.Stop()
	}

	for {
		select {
		case <-a.done:
			return
		case <-a.ctx.Done():
			return
		case pkt := <-a.packets:
			a.handleQuery(pkt.msg)
		case <-reannounceC:
			a.mu.Lock()
			claim := append([]rr.ResourceRecord(nil), a.claim...)
			a.mu.Unlock()
			for i := range claim {
				claim[i].CacheFlush = true
			}
			a.sendAnnouncement(claim)
			reannounce.Reset(time.Duration(protocol.TTLService/2) * time.Second)
		}
	}
}

func (a *Advertiser) reannounceEnabled() bool {
	return a.reannounce
}

var servicesDNSSDMagicSuffix = "_services._dns-sd._udp."

// handleQuery ignores responses (qr=1) and answers queries either with the
// DNS-SD service-enumeration PTR (RFC 6763 §9) or with whatever claimed
// records match the asked question, per this protocol's responding rules.
func (a *Advertiser) handleQuery(msg *rr.Message) {
	if msg.Header.QR {
		return
	}

	a.mu.Lock()
	claim := append([]rr.ResourceRecord(nil), a.claim...)
	a.mu.Unlock()

	var answers []rr.ResourceRecord

	for _, q := range msg.Questions {
		if a.onQuery != nil {
			a.onQuery(q)
		}

		if q.Name == servicesDNSSDMagicSuffix+a.cfg.domain()+"." &&
			(q.Type == protocol.RecordTypePTR || q.Type == protocol.RecordTypeANY) {
			answers = append(answers, rr.ResourceRecord{
				Name: q.Name, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
				TTL: protocol.TTLService, Data: rr.NameData{Kind: protocol.RecordTypePTR, Name: a.cfg.serviceTypeDomain()},
			})
			continue
		}

		for _, r := range claim {
			if r.Name != q.Name {
				continue
			}
			if q.Type != protocol.RecordTypeANY && r.Type != q.Type {
				continue
			}
			answers = append(answers, r)
		}
	}

	answers = suppressKnownAnswers(answers, msg.Answers)
	if len(answers) == 0 {
		return
	}

	response := wire.NewResponse(msg.Header.ID, answers)
	packet, err := wire.PackMessage(response)
	if err != nil {
		a.reportError(err)
		return
	}
	if err := a.socket.Send(a.ctx, packet, mcast.MulticastGroupAddr(a.family)); err != nil {
		a.reportError(err)
	}
}

// suppressKnownAnswers drops any candidate answer already present in the
// querier's known-answer section with at least half its correct TTL
// remaining, per RFC 6762 §7.1.
func suppressKnownAnswers(answers, known []rr.ResourceRecord) []rr.ResourceRecord {
	out := answers[:0:0]
	for _, a := range answers {
		suppressed := false
		for _, k := range known {
			if k.Name == a.Name && k.Type == a.Type && k.Data.String() == a.Data.String() && k.TTL >= a.TTL/2 {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, a)
		}
	}
	return out
}

// runGoodbye sends one ttl=0 response for every claimed record and lingers
// protocol.GoodbyeLinger before the run loop returns and the socket is released.
func (a *Advertiser) runGoodbye() {
	a.setState(StateGoodbye)

	a.mu.Lock()
	claim := append([]rr.ResourceRecord(nil), a.claim...)
	a.mu.Unlock()

	for i := range claim {
		claim[i].TTL = 0
	}

	msg := wire.NewResponse(a.nextID(), claim)
	if packet, err := wire.PackMessage(msg); err == nil {
		_ = a.socket.Send(a.ctx, packet, mcast.MulticastGroupAddr(a.family))
	} else {
		a.reportError(err)
	}

	select {
	case <-time.After(protocol.GoodbyeLinger):
	case <-a.ctx.Done():
	}
}

func (a *Advertiser) nextID() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.id++
	return a.id
}

func (a *Advertiser) reportError(err error) {
	a.logger.Warn("advertiser error", "service", a.cfg.InstanceName, "error", err)
	if a.onError != nil {
		a.onError(err)
	}
}
