// Package rr defines the strongly-typed DNS record model: the Header,
// Question, and ResourceRecord containers, and the tagged RData variant
// keyed by record type.
//
// This package holds pure data: construction and validation live here, but
// wire encode/decode lives in internal/wire, which walks an RData value
// against a type switch. Keeping RData "dumb" avoids a cyclic
// RData→ResourceRecord→Message ownership just to reach the label dictionary.
package rr

import (
	"fmt"
	"net"
	"strings"

	"github.com/corvidae/resonate/internal/protocol"
)

// Header is the 12-octet DNS message header per RFC 1035 §4.1.1.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint16
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       bool
	AD      bool
	CD      bool
	RCode   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Flags packs the boolean/opcode/rcode fields into the wire flags word.
func (h Header) Flags() uint16 {
	var f uint16
	if h.QR {
		f |= protocol.FlagQR
	}
	f |= (h.Opcode & 0x0F) << 11
	if h.AA {
		f |= protocol.FlagAA
	}
	if h.TC {
		f |= protocol.FlagTC
	}
	if h.RD {
		f |= protocol.FlagRD
	}
	if h.RA {
		f |= protocol.FlagRA
	}
	if h.Z {
		f |= protocol.FlagZ
	}
	if h.AD {
		f |= protocol.FlagAD
	}
	if h.CD {
		f |= protocol.FlagCD
	}
	f |= h.RCode & 0x0F
	return f
}

// SetFlags unpacks the wire flags word into the header's boolean/opcode/rcode fields.
func (h *Header) SetFlags(f uint16) {
	h.QR = f&protocol.FlagQR != 0
	h.Opcode = (f >> 11) & 0x0F
	h.AA = f&protocol.FlagAA != 0
	h.TC = f&protocol.FlagTC != 0
	h.RD = f&protocol.FlagRD != 0
	h.RA = f&protocol.FlagRA != 0
	h.Z = f&protocol.FlagZ != 0
	h.AD = f&protocol.FlagAD != 0
	h.CD = f&protocol.FlagCD != 0
	h.RCode = f & 0x0F
}

// Question is a single entry in a Message's question section.
type Question struct {
	Name  string
	Type  protocol.RecordType
	Class protocol.DNSClass
	// QU requests a unicast response per RFC 6762 §5.4: the high bit of the
	// wire class field in a question, distinct from the cache-flush bit a
	// response RR uses in the same bit position.
	QU bool
}

// ResourceRecord is a single answer/authority/additional entry: name, type,
// class, ttl, and its type-tagged RData.
type ResourceRecord struct {
	Name       string
	Type       protocol.RecordType
	Class      protocol.DNSClass
	TTL        uint32
	CacheFlush bool
	Data       RData
}

// Message is the ordered quintuple this design names: a Header plus four
// resource-record sections.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additionals []ResourceRecord
}

// RData is the tagged variant of record-specific data, keyed by the
// enclosing ResourceRecord's Type. Each concrete type below corresponds to
// one case in this protocol; OpaqueData covers everything else.
type RData interface {
	// rdataType returns the record type this payload encodes as, so the
	// wire layer can assert a ResourceRecord's Type matches its Data.
	rdataType() protocol.RecordType
	String() string
}

// AData is an A record: an IPv4 address.
type AData struct{ Addr net.IP }

func (AData) rdataType() protocol.RecordType { return protocol.RecordTypeA }
func (d AData) String() string               { return d.Addr.String() }

// AAAAData is an AAAA record: an IPv6 address (RFC 3596).
type AAAAData struct{ Addr net.IP }

func (AAAAData) rdataType() protocol.RecordType { return protocol.RecordTypeAAAA }
func (d AAAAData) String() string               { return d.Addr.String() }

// NameData covers the record types whose entire RDATA is a single domain
// name: NS, CNAME, PTR, MD, MF, MB, MG, MR. The Kind field records which of
// those this instance represents since they share a shape but not a type
// code.
type NameData struct {
	Kind protocol.RecordType
	Name string
}

func (d NameData) rdataType() protocol.RecordType { return d.Kind }
func (d NameData) String() string                 { return d.Name }

// SOAData is a Start of Authority record per RFC 1035 §3.3.13.
type SOAData struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (SOAData) rdataType() protocol.RecordType { return protocol.RecordTypeSOA }
func (d SOAData) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d", d.MName, d.RName, d.Serial, d.Refresh, d.Retry, d.Expire, d.Minimum)
}

// MXData is a Mail Exchange record per RFC 1035 §3.3.9.
type MXData struct {
	Preference uint16
	Exchange   string
}

func (MXData) rdataType() protocol.RecordType { return protocol.RecordTypeMX }
func (d MXData) String() string               { return fmt.Sprintf("%d %s", d.Preference, d.Exchange) }

// TXTData is a TXT record: a sequence of character-strings, never a single
// blob, per this protocol's explicit invariant.
type TXTData struct{ Strings []string }

func (TXTData) rdataType() protocol.RecordType { return protocol.RecordTypeTXT }
func (d TXTData) String() string               { return strings.Join(d.Strings, " ") }

// HINFOData is a Host Info record per RFC 1035 §3.3.2.
type HINFOData struct {
	CPU string
	OS  string
}

func (HINFOData) rdataType() protocol.RecordType { return protocol.RecordTypeHINFO }
func (d HINFOData) String() string               { return d.CPU + " " + d.OS }

// MINFOData is a Mailbox Info record per RFC 1035 §3.3.7.
type MINFOData struct {
	RMailbx string
	EMailbx string
}

func (MINFOData) rdataType() protocol.RecordType { return protocol.RecordTypeMINFO }
func (d MINFOData) String() string               { return d.RMailbx + " " + d.EMailbx }

// SRVData is a Service Location record per RFC 2782. The enclosing
// ResourceRecord's Name follows the `_service._proto.name` shape.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (SRVData) rdataType() protocol.RecordType { return protocol.RecordTypeSRV }
func (d SRVData) String() string {
	return fmt.Sprintf("%d %d %d %s", d.Priority, d.Weight, d.Port, d.Target)
}

// NSECData is a DNSSEC NSEC record per RFC 4034 §4. The type bitmap is kept
// opaque: this toolkit does not validate DNSSEC, only round-trips the
// record (design scope exclude DNSSEC validation, not its wire shape).
type NSECData struct {
	NextDomainName string
	TypeBitMaps    []byte
}

func (NSECData) rdataType() protocol.RecordType { return protocol.RecordTypeNSEC }
func (d NSECData) String() string               { return "NSEC " + d.NextDomainName }

// OPTData is an EDNS0 pseudo-record per RFC 6891 §6.1: a list of
// (code, data) options carried in place of ordinary RDATA.
type OPTData struct {
	Options []EDNS0Option
}

// EDNS0Option is one OPT-record option per RFC 6891 §6.1.2.
type EDNS0Option struct {
	Code uint16
	Data []byte
}

func (OPTData) rdataType() protocol.RecordType { return protocol.RecordTypeOPT }
func (d OPTData) String() string               { return fmt.Sprintf("OPT(%d options)", len(d.Options)) }

// WKSData is a Well Known Service record per RFC 1035 §3.4.2.
type WKSData struct {
	Addr     net.IP
	Protocol uint8
	Bitmap   []byte
}

func (WKSData) rdataType() protocol.RecordType { return protocol.RecordTypeWKS }
func (d WKSData) String() string               { return fmt.Sprintf("WKS %s/%d", d.Addr, d.Protocol) }

// OpaqueData is the fallback case for NULL, AXFR, MAILB, MAILA, ANY, and any
// record type this toolkit does not model structurally: the raw RDATA
// octets, round-tripped unexamined.
type OpaqueData struct {
	Kind protocol.RecordType
	Raw  []byte
}

func (d OpaqueData) rdataType() protocol.RecordType { return d.Kind }
func (d OpaqueData) String() string                 { return fmt.Sprintf("\\# %d %x", len(d.Raw), d.Raw) }

// TypeOf returns the record type an RData value was constructed for. Wire
// encode/decode uses this to validate a ResourceRecord's Type field agrees
// with its Data.
func TypeOf(d RData) protocol.RecordType { return d.rdataType() }
