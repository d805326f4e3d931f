package updater

import (
	"log/slog"
	"time"

	"github.com/corvidae/resonate/internal/mcast"
)

// Option configures an Updater at construction time.
type Option func(*Updater)

// WithIPv6 resolves the server address and binds the Updater's socket over
// IPv6 instead of the default IPv4.
func WithIPv6() Option {
	return func(u *Updater) {
		u.family = mcast.FamilyV6
	}
}

// WithTimeout overrides the default 6-second overall timeout applied across
// every queued Update in a single Begin call.
func WithTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.timeout = d
	}
}

// WithLogger overrides the Updater's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = logger
	}
}
