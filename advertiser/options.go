package advertiser

import (
	"log/slog"
	"net"

	"github.com/corvidae/resonate/internal/mcast"
	"github.com/corvidae/resonate/internal/rr"
	"github.com/corvidae/resonate/internal/security"
)

// Option configures an Advertiser at construction time.
type Option func(*Advertiser)

// WithIPv6 publishes over ff02::fb instead of 224.0.0.251.
func WithIPv6() Option {
	return func(a *Advertiser) {
		a.family = mcast.FamilyV6
	}
}

// WithAddresses supplies the A/AAAA addresses to publish directly, bypassing
// the default scan nonLoopbackAddrs makes of iface.Default()'s interfaces
// (up, multicast-capable, non-loopback, VPN/container bridges excluded). The
// supplied list is published as given.
func WithAddresses(addrs []net.IP) Option {
	return func(a *Advertiser) {
		a.addressesOverride = addrs
	}
}

// WithReannounce enables periodic re-announcement at half the service TTL
// while in the responding state, refreshing neighbor caches before records
// would otherwise expire. Off by default — RFC 6762 doesn't require it, and
// it costs extra multicast traffic on every advertised service.
func WithReannounce(enabled bool) Option {
	return func(a *Advertiser) {
		a.reannounce = enabled
	}
}

// WithRateLimit enables or disables per-source-IP rate limiting on inbound
// queries and responses. Enabled by default.
func WithRateLimit(enabled bool) Option {
	return func(a *Advertiser) {
		a.rateLimitEnabled = enabled
	}
}

// WithSourceFilter restricts accepted packets to link-local/same-subnet
// sources on the given interface, per RFC 6762 §2's link-local scope.
func WithSourceFilter(iface net.Interface) Option {
	return func(a *Advertiser) {
		if filter, err := security.NewSourceFilter(iface); err == nil {
			a.sourceFilter = filter
		}
	}
}

// OnProbe registers a callback invoked after each probe query is sent.
func OnProbe(fn func()) Option {
	return func(a *Advertiser) {
		a.onProbe = fn
	}
}

// OnAnnounce registers a callback invoked after each announcement is sent.
func OnAnnounce(fn func()) Option {
	return func(a *Advertiser) {
		a.onAnnounce = fn
	}
}

// OnQuery registers a callback invoked for every question in an incoming
// query, during the responding state.
func OnQuery(fn func(rr.Question)) Option {
	return func(a *Advertiser) {
		a.onQuery = fn
	}
}

// OnError registers a callback invoked whenever a send or pack operation
// fails during the state machine's run.
func OnError(fn func(error)) Option {
	return func(a *Advertiser) {
		a.onError = fn
	}
}

// WithLogger overrides the Advertiser's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Advertiser) {
		a.logger = logger
	}
}
