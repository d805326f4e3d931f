// Package mcast implements the shared multicast socket layer this protocol
// describes: a process-wide cache of UDP sockets keyed by (ip family,
// multicast?), reference-counted so the Resolver, Updater, and Advertiser
// can all hold a handle to "the" mDNS socket without each opening and
// binding their own port 5353.
package mcast

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/corvidae/resonate/internal/errors"
	"github.com/corvidae/resonate/internal/protocol"
)

// Family selects the IP family a socket entry binds.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// Config selects which cached socket Acquire should return or create.
type Config struct {
	Family Family
	// Multicast selects the shared mDNS socket (bound to port 5353, joined
	// to the mDNS group on every multicast-capable interface) when true, or
	// an ephemeral unicast socket when false (used by the Resolver/Updater
	// in unicast mode).
	Multicast bool
}

type cacheKey struct {
	family    Family
	multicast bool
}

// entry is one cached socket and its reference count. Only the release
// that drops the count to zero actually closes the OS socket.
type entry struct {
	mu       sync.Mutex
	refcount int
	conn     net.PacketConn
	v4       *ipv4.PacketConn
	v6       *ipv6.PacketConn
}

var (
	cacheMu sync.Mutex
	cache   = map[cacheKey]*entry{}
)

// Socket is a handle returned by Acquire. Callers must call Release exactly
// once when done; the underlying OS socket is closed only when the last
// handle for its cache key is released.
type Socket struct {
	key   cacheKey
	entry *entry
}

// Acquire returns the cached socket for cfg, creating and binding it on
// first use. Each call must be matched with exactly one Release.
func Acquire(cfg Config) (*Socket, error) {
	key := cacheKey{family: cfg.Family, multicast: cfg.Multicast}

	cacheMu.Lock()
	e, ok := cache[key]
	if !ok {
		var err error
		e, err = newEntry(cfg)
		if err != nil {
			cacheMu.Unlock()
			return nil, err
		}
		cache[key] = e
	}
	cacheMu.Unlock()

	e.mu.Lock()
	e.refcount++
	e.mu.Unlock()

	return &Socket{key: key, entry: e}, nil
}

// Release decrements the reference count and closes the underlying socket
// once no handle remains. Idempotent calls beyond the first are harmless no-ops.
func (s *Socket) Release() error {
	if s == nil || s.entry == nil {
		return nil
	}
	e := s.entry
	s.entry = nil

	e.mu.Lock()
	e.refcount--
	last := e.refcount <= 0
	e.mu.Unlock()

	if !last {
		return nil
	}

	cacheMu.Lock()
	delete(cache, s.key)
	cacheMu.Unlock()

	if e.conn == nil {
		return nil
	}
	if err := e.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close shared multicast socket"}
	}
	return nil
}

// Send transmits the already-packed packet to dest.
func (s *Socket) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.TransportError{Operation: "send", Err: ctx.Err()}
	default:
	}

	n, err := s.entry.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.TransportError{Operation: "send", Err: err}
	}
	if n != len(packet) {
		return &errors.TransportError{Operation: "send", Err: fmt.Errorf("partial write: %d/%d bytes", n, len(packet))}
	}
	return nil
}

// Receive waits for one datagram, honoring ctx's deadline.
func (s *Socket) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, &errors.TransportError{Operation: "receive", Err: ctx.Err()}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.entry.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, &errors.TransportError{Operation: "set read deadline", Err: err}
		}
	}

	bufPtr := getBuffer()
	defer putBuffer(bufPtr)
	buf := *bufPtr

	n, addr, err := s.entry.conn.ReadFrom(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, &errors.TimeoutError{Operation: "receive", Err: err}
		}
		return nil, nil, &errors.TransportError{Operation: "receive", Err: err}
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	return out, addr, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.entry.conn.LocalAddr()
}

func newEntry(cfg Config) (*entry, error) {
	switch {
	case cfg.Family == FamilyV4 && cfg.Multicast:
		return newMulticastV4()
	case cfg.Family == FamilyV6 && cfg.Multicast:
		return newMulticastV6()
	case cfg.Family == FamilyV4:
		return newUnicastV4()
	default:
		return newUnicastV6()
	}
}

func newUnicastV4() (*entry, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, &errors.NetworkError{Operation: "create unicast socket", Err: err}
	}
	return &entry{conn: conn}, nil
}

func newUnicastV6() (*entry, error) {
	conn, err := net.ListenPacket("udp6", ":0")
	if err != nil {
		return nil, &errors.NetworkError{Operation: "create unicast socket", Err: err}
	}
	return &entry{conn: conn}, nil
}

// newMulticastV4 binds the shared mDNS IPv4 socket: port 5353, joined to
// 224.0.0.251 on every UP+MULTICAST interface, TTL 255, loopback enabled.
// Adapted from the non-shared single-instance socket this toolkit's
// ancestor built per-Querier; here it is built once and refcounted.
func newMulticastV4() (*entry, error) {
	lc := net.ListenConfig{Control: PlatformControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{Operation: "create socket", Err: err, Details: fmt.Sprintf("failed to bind to port %d (is Avahi/Bonjour running without SO_REUSEPORT?)", protocol.Port)}
	}

	p := ipv4.NewPacketConn(conn)
	group := net.IPv4(224, 0, 0, 251)

	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
	}

	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifaceCopy := iface
		if err := p.JoinGroup(&ifaceCopy, &net.UDPAddr{IP: group}); err != nil {
			continue
		}
		joined++
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "join multicast group", Err: fmt.Errorf("no interfaces available")}
	}

	if err := p.SetMulticastTTL(255); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast TTL", Err: err}
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err}
	}
	if udpConn, ok := conn.(*net.UDPConn); ok {
		if err := udpConn.SetReadBuffer(65536); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{Operation: "configure socket", Err: err}
		}
	}

	return &entry{conn: conn, v4: p}, nil
}

// newMulticastV6 mirrors newMulticastV4 for the ff02::fb group, using
// golang.org/x/net/ipv6 — the sibling of the ipv4 package the multicast
// socket layer already depended on, completing the IPv6 arm the ancestor
// left as an explicit stub.
func newMulticastV6() (*entry, error) {
	lc := net.ListenConfig{Control: PlatformControl}
	conn, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf("[::]:%d", protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{Operation: "create socket", Err: err, Details: "failed to bind IPv6 mDNS socket"}
	}

	p := ipv6.NewPacketConn(conn)
	group := net.ParseIP(protocol.MulticastAddrIPv6)

	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
	}

	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifaceCopy := iface
		if err := p.JoinGroup(&ifaceCopy, &net.UDPAddr{IP: group}); err != nil {
			continue
		}
		joined++
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "join multicast group", Err: fmt.Errorf("no interfaces available")}
	}

	if err := p.SetMulticastHopLimit(255); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast hop limit", Err: err}
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err}
	}

	return &entry{conn: conn, v6: p}, nil
}

// MulticastGroupAddr returns the destination address Send should target for
// the multicast group matching cfg's family.
func MulticastGroupAddr(family Family) net.Addr {
	if family == FamilyV6 {
		return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: protocol.Port}
	}
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
}

// ResolveUnicast resolves a host:port pair for the Resolver/Updater's
// unicast mode, defaulting the port to 53 when addr has none.
func ResolveUnicast(family Family, addr string, port int) (net.Addr, error) {
	if port == 0 {
		port = protocol.UnicastDNSPort
	}
	network := "udp4"
	if family == FamilyV6 {
		network = "udp6"
	}
	return net.ResolveUDPAddr(network, net.JoinHostPort(addr, strconv.Itoa(port)))
}
