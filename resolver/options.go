package resolver

import (
	"log/slog"
	"net"
	"time"

	"github.com/corvidae/resonate/internal/errors"
	"github.com/corvidae/resonate/internal/mcast"
	"github.com/corvidae/resonate/internal/security"
)

// Option configures a Resolver at construction time.
type Option func(*Resolver) error

// WithTimeout overrides the default 6000ms global query timeout. A zero
// duration disables the timeout, leaving cancellation entirely to the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) error {
		r.defaultTimeout = d
		return nil
	}
}

// WithIPv6 queries over ff02::fb instead of 224.0.0.251 in ModeMulticast, or
// resolves WithUnicastServer's host as an IPv6 literal in ModeUnicast.
func WithIPv6() Option {
	return func(r *Resolver) error {
		r.family = mcast.FamilyV6
		return nil
	}
}

// WithUnicastServer switches the Resolver to ModeUnicast, sending queries to
// host:port (port defaults to 53 when 0).
func WithUnicastServer(host string, port int) Option {
	return func(r *Resolver) error {
		addr, err := mcast.ResolveUnicast(r.family, host, port)
		if err != nil {
			return &errors.ValidationError{Field: "serverAddr", Value: host, Message: err.Error()}
		}
		r.mode = ModeUnicast
		r.serverAddr = addr
		return nil
	}
}

// WithUnicastAddr is like WithUnicastServer but accepts an already-resolved
// net.Addr, for callers that manage their own server discovery.
func WithUnicastAddr(addr net.Addr) Option {
	return func(r *Resolver) error {
		r.mode = ModeUnicast
		r.serverAddr = addr
		return nil
	}
}

// WithRateLimit enables or disables per-source-IP rate limiting on inbound
// responses. Enabled by default.
func WithRateLimit(enabled bool) Option {
	return func(r *Resolver) error {
		r.rateLimitEnabled = enabled
		return nil
	}
}

// WithRateLimitThreshold sets the max responses/second accepted from a
// single source address before it is cooled down.
func WithRateLimitThreshold(n int) Option {
	return func(r *Resolver) error {
		if n <= 0 {
			return &errors.ValidationError{Field: "rateLimitThreshold", Value: n, Message: "must be positive"}
		}
		r.rateLimitThreshold = n
		return nil
	}
}

// WithRateLimitCooldown sets how long a source stays cooled down after
// exceeding the rate limit threshold.
func WithRateLimitCooldown(d time.Duration) Option {
	return func(r *Resolver) error {
		if d <= 0 {
			return &errors.ValidationError{Field: "rateLimitCooldown", Value: d, Message: "must be positive"}
		}
		r.rateLimitCooldown = d
		return nil
	}
}

// WithSourceFilter restricts accepted responses to link-local/same-subnet
// sources on the given interface, per RFC 6762 §2's link-local scope.
func WithSourceFilter(iface net.Interface) Option {
	return func(r *Resolver) error {
		filter, err := security.NewSourceFilter(iface)
		if err != nil {
			return err
		}
		r.sourceFilter = filter
		return nil
	}
}

// WithLogger overrides the Resolver's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) error {
		r.logger = logger
		return nil
	}
}
