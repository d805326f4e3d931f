package wire

import (
	"github.com/corvidae/resonate/internal/errors"
	"github.com/corvidae/resonate/internal/protocol"
	"github.com/corvidae/resonate/internal/rr"
)

// unpackRData decodes the rdlength-bounded RDATA region sub for the given
// record type, per the tagged-variant cases this protocol enumerates. Unknown
// or unhandled types fall back to rr.OpaqueData, never an error.
func unpackRData(sub *Unpack, typ protocol.RecordType) (rr.RData, error) {
	switch typ {
	case protocol.RecordTypeA:
		ip, err := sub.A()
		if err != nil {
			return nil, err
		}
		return rr.AData{Addr: ip}, nil

	case protocol.RecordTypeAAAA:
		ip, err := sub.AAAA()
		if err != nil {
			return nil, err
		}
		return rr.AAAAData{Addr: ip}, nil

	case protocol.RecordTypeNS, protocol.RecordTypeCNAME, protocol.RecordTypePTR,
		protocol.RecordTypeMD, protocol.RecordTypeMF, protocol.RecordTypeMB,
		protocol.RecordTypeMG, protocol.RecordTypeMR:
		name, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		return rr.NameData{Kind: typ, Name: name}, nil

	case protocol.RecordTypeSOA:
		mname, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		rname, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		serial, err := sub.U32("SOA serial")
		if err != nil {
			return nil, err
		}
		refresh, err := sub.U32("SOA refresh")
		if err != nil {
			return nil, err
		}
		retry, err := sub.U32("SOA retry")
		if err != nil {
			return nil, err
		}
		expire, err := sub.U32("SOA expire")
		if err != nil {
			return nil, err
		}
		minimum, err := sub.U32("SOA minimum")
		if err != nil {
			return nil, err
		}
		return rr.SOAData{MName: mname, RName: rname, Serial: serial, Refresh: refresh, Retry: retry, Expire: expire, Minimum: minimum}, nil

	case protocol.RecordTypeMX:
		pref, err := sub.U16("MX preference")
		if err != nil {
			return nil, err
		}
		exchange, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		return rr.MXData{Preference: pref, Exchange: exchange}, nil

	case protocol.RecordTypeTXT:
		var strs []string
		for sub.remaining() > 0 {
			s, err := sub.CharString()
			if err != nil {
				return nil, err
			}
			strs = append(strs, s)
		}
		return rr.TXTData{Strings: strs}, nil

	case protocol.RecordTypeHINFO:
		cpu, err := sub.CharString()
		if err != nil {
			return nil, err
		}
		os, err := sub.CharString()
		if err != nil {
			return nil, err
		}
		return rr.HINFOData{CPU: cpu, OS: os}, nil

	case protocol.RecordTypeMINFO:
		rmailbx, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		emailbx, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		return rr.MINFOData{RMailbx: rmailbx, EMailbx: emailbx}, nil

	case protocol.RecordTypeSRV:
		priority, err := sub.U16("SRV priority")
		if err != nil {
			return nil, err
		}
		weight, err := sub.U16("SRV weight")
		if err != nil {
			return nil, err
		}
		port, err := sub.U16("SRV port")
		if err != nil {
			return nil, err
		}
		target, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		return rr.SRVData{Priority: priority, Weight: weight, Port: port, Target: target}, nil

	case protocol.RecordTypeNSEC:
		// RFC 4034 §6.2: names inside NSEC are never compressed, but a
		// compliant decoder still tolerates a pointer on the read side.
		next, err := sub.DomainName()
		if err != nil {
			return nil, err
		}
		bitmap := sub.Remainder()
		return rr.NSECData{NextDomainName: next, TypeBitMaps: bitmap}, nil

	case protocol.RecordTypeOPT:
		var opts []rr.EDNS0Option
		for sub.remaining() > 0 {
			code, err := sub.U16("OPT option code")
			if err != nil {
				return nil, err
			}
			length, err := sub.U16("OPT option length")
			if err != nil {
				return nil, err
			}
			data, err := sub.Data("OPT option data", int(length))
			if err != nil {
				return nil, err
			}
			opts = append(opts, rr.EDNS0Option{Code: code, Data: data})
		}
		return rr.OPTData{Options: opts}, nil

	case protocol.RecordTypeWKS:
		ip, err := sub.A()
		if err != nil {
			return nil, err
		}
		proto, err := sub.U8("WKS protocol")
		if err != nil {
			return nil, err
		}
		bitmap := sub.Remainder()
		return rr.WKSData{Addr: ip, Protocol: proto, Bitmap: bitmap}, nil

	default:
		return rr.OpaqueData{Kind: typ, Raw: sub.Remainder()}, nil
	}
}

// packRData encodes data's RDATA body (not including the rdlength field,
// which the caller reserves and patches around this call).
func packRData(p *Pack, data rr.RData) error {
	switch d := data.(type) {
	case rr.AData:
		return p.A(d.Addr)

	case rr.AAAAData:
		return p.AAAA(d.Addr)

	case rr.NameData:
		return p.DomainName(d.Name, false)

	case rr.SOAData:
		if err := p.DomainName(d.MName, false); err != nil {
			return err
		}
		if err := p.DomainName(d.RName, false); err != nil {
			return err
		}
		p.U32(d.Serial)
		p.U32(d.Refresh)
		p.U32(d.Retry)
		p.U32(d.Expire)
		p.U32(d.Minimum)
		return nil

	case rr.MXData:
		p.U16(d.Preference)
		return p.DomainName(d.Exchange, false)

	case rr.TXTData:
		if len(d.Strings) == 0 {
			// An empty TXT is still one zero-length character-string on
			// the wire (RFC 6763 §6.1), never a zero-length RDATA. This
			// means a genuinely zero-length RDATA TXT record (malformed
			// per §6.1, but some implementations emit it) does not survive
			// unpack-then-pack byte-for-byte: it unpacks to TXTData{nil}
			// and re-packs to a one-octet empty string, matching
			// miekg/dns's own handling of the same malformed input.
			return p.CharString("")
		}
		for _, s := range d.Strings {
			if err := p.CharString(s); err != nil {
				return err
			}
		}
		return nil

	case rr.HINFOData:
		if err := p.CharString(d.CPU); err != nil {
			return err
		}
		return p.CharString(d.OS)

	case rr.MINFOData:
		if err := p.DomainName(d.RMailbx, false); err != nil {
			return err
		}
		return p.DomainName(d.EMailbx, false)

	case rr.SRVData:
		p.U16(d.Priority)
		p.U16(d.Weight)
		p.U16(d.Port)
		return p.DomainName(d.Target, false)

	case rr.NSECData:
		// RFC 4034 §6.2: never compressed.
		if err := p.DomainName(d.NextDomainName, true); err != nil {
			return err
		}
		p.Data(d.TypeBitMaps)
		return nil

	case rr.OPTData:
		for _, opt := range d.Options {
			p.U16(opt.Code)
			p.U16(uint16(len(opt.Data)))
			p.Data(opt.Data)
		}
		return nil

	case rr.WKSData:
		if err := p.A(d.Addr); err != nil {
			return err
		}
		p.U8(d.Protocol)
		p.Data(d.Bitmap)
		return nil

	case rr.OpaqueData:
		p.Data(d.Raw)
		return nil

	default:
		return &errors.ValidationError{Field: "rdata", Value: data, Message: "unrecognized RData implementation"}
	}
}
