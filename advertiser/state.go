package advertiser

// State is one stage of the publication lifecycle this protocol defines:
// beginning → probing → announcing → responding → goodbye.
type State int

const (
	// StateBeginning composes the candidate record set and has not yet sent
	// anything on the wire.
	StateBeginning State = iota
	// StateProbing sends up to three probe queries 250ms apart, watching for
	// a conflicting authoritative response.
	StateProbing
	// StateAnnouncing sends two unsolicited, cache-flush-set responses 1s
	// apart claiming whatever records survived probing.
	StateAnnouncing
	// StateResponding answers incoming queries for the claimed records
	// indefinitely.
	StateResponding
	// StateGoodbye sends one ttl=0 departure response and lingers briefly
	// before the Advertiser terminates.
	StateGoodbye
	// StateEnded is terminal: the Advertiser's socket has been released and
	// its run loop has exited.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateBeginning:
		return "beginning"
	case StateProbing:
		return "probing"
	case StateAnnouncing:
		return "announcing"
	case StateResponding:
		return "responding"
	case StateGoodbye:
		return "goodbye"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
