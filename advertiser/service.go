package advertiser

import (
	"regexp"

	"github.com/corvidae/resonate/internal/errors"
)

// Config describes the service this Advertiser publishes: a DNS-SD service
// instance (RFC 6763 §4) plus the hostname/port/addresses it resolves to.
type Config struct {
	// InstanceName is the human-readable instance label (e.g. "Office Printer").
	InstanceName string
	// ServiceType is "_service._proto" (e.g. "_http._tcp"), without the domain.
	ServiceType string
	// Domain defaults to "local" when empty.
	Domain string
	// Host is the hostname the SRV record resolves to (e.g. "myhost.local.").
	// Defaults to InstanceName-derived host when empty.
	Host string
	// Port is the service port, 1-65535.
	Port uint16
	// TXT holds optional key=value metadata (RFC 6763 §6).
	TXT map[string]string
	// Goodbye, when true, skips straight from beginning to announcing a
	// ttl=0 departure instead of probing/announcing a new claim.
	Goodbye bool
}

// ServiceInstanceName returns the full RFC 6763 §4.1 instance name:
// "InstanceName.ServiceType.Domain.".
func (c Config) ServiceInstanceName() string {
	return c.InstanceName + "." + c.serviceTypeDomain()
}

func (c Config) domain() string {
	if c.Domain == "" {
		return "local"
	}
	return c.Domain
}

func (c Config) serviceTypeDomain() string {
	return c.ServiceType + "." + c.domain() + "."
}

var serviceTypeRegex = regexp.MustCompile(`^_[a-zA-Z0-9-]+\._(tcp|udp)$`)

// Validate checks InstanceName, ServiceType, and Port against RFC 1035/6763
// limits before the Advertiser attempts to publish them.
func (c Config) Validate() error {
	if c.InstanceName == "" {
		return &errors.ValidationError{Field: "InstanceName", Message: "cannot be empty"}
	}
	if len(c.InstanceName) > 63 {
		return &errors.ValidationError{Field: "InstanceName", Value: len(c.InstanceName), Message: "exceeds 63 octets"}
	}
	if !serviceTypeRegex.MatchString(c.ServiceType) {
		return &errors.ValidationError{Field: "ServiceType", Value: c.ServiceType, Message: `must match "_service._proto" (e.g. "_http._tcp")`}
	}
	if c.Port == 0 {
		return &errors.ValidationError{Field: "Port", Value: c.Port, Message: "must be in range 1-65535"}
	}
	if size := txtEncodedSize(c.TXT); size > 1300 {
		return &errors.ValidationError{Field: "TXT", Value: size, Message: "encoded TXT record exceeds 1300 bytes (RFC 6763 §6.2)"}
	}
	return nil
}

func txtEncodedSize(txt map[string]string) int {
	if len(txt) == 0 {
		return 1
	}
	total := 0
	for k, v := range txt {
		total += 1 + len(k) + 1 + len(v)
	}
	return total
}
