package wire

import (
	"fmt"

	"github.com/corvidae/resonate/internal/errors"
	"github.com/corvidae/resonate/internal/protocol"
	"github.com/corvidae/resonate/internal/rr"
)

// ParseMessage unpacks a complete DNS message per RFC 1035 §4: header, then
// qdCount questions, then anCount+nsCount+arCount resource records routed
// into their respective sections. Any component error is returned with the
// component name attached via fmt.Errorf's %w, and parsing stops there.
func ParseMessage(buf []byte) (*rr.Message, error) {
	u := NewUnpack(buf)

	header, err := parseHeader(u)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	msg := &rr.Message{Header: header}

	for i := uint16(0); i < header.QDCount; i++ {
		q, err := parseQuestion(u)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		msg.Questions = append(msg.Questions, q)
	}

	for i := uint16(0); i < header.ANCount; i++ {
		record, err := parseResourceRecord(u)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		msg.Answers = append(msg.Answers, record)
	}

	for i := uint16(0); i < header.NSCount; i++ {
		record, err := parseResourceRecord(u)
		if err != nil {
			return nil, fmt.Errorf("authority %d: %w", i, err)
		}
		msg.Authorities = append(msg.Authorities, record)
	}

	for i := uint16(0); i < header.ARCount; i++ {
		record, err := parseResourceRecord(u)
		if err != nil {
			return nil, fmt.Errorf("additional %d: %w", i, err)
		}
		msg.Additionals = append(msg.Additionals, record)
	}

	return msg, nil
}

func parseHeader(u *Unpack) (rr.Header, error) {
	var h rr.Header
	id, err := u.U16("header id")
	if err != nil {
		return h, err
	}
	flags, err := u.U16("header flags")
	if err != nil {
		return h, err
	}
	qd, err := u.U16("qdcount")
	if err != nil {
		return h, err
	}
	an, err := u.U16("ancount")
	if err != nil {
		return h, err
	}
	ns, err := u.U16("nscount")
	if err != nil {
		return h, err
	}
	ar, err := u.U16("arcount")
	if err != nil {
		return h, err
	}
	h.ID = id
	h.SetFlags(flags)
	h.QDCount, h.ANCount, h.NSCount, h.ARCount = qd, an, ns, ar
	return h, nil
}

func parseQuestion(u *Unpack) (rr.Question, error) {
	var q rr.Question
	name, err := u.DomainName()
	if err != nil {
		return q, err
	}
	qtype, err := u.U16("qtype")
	if err != nil {
		return q, err
	}
	qclassWire, err := u.U16("qclass")
	if err != nil {
		return q, err
	}
	class, qu := protocol.SplitClass(qclassWire)
	q.Name = name
	q.Type = protocol.RecordType(qtype)
	q.Class = class
	q.QU = qu
	return q, nil
}

func parseResourceRecord(u *Unpack) (rr.ResourceRecord, error) {
	var record rr.ResourceRecord
	name, err := u.DomainName()
	if err != nil {
		return record, err
	}
	typ, err := u.U16("rr type")
	if err != nil {
		return record, err
	}
	classWire, err := u.U16("rr class")
	if err != nil {
		return record, err
	}
	ttl, err := u.U32("rr ttl")
	if err != nil {
		return record, err
	}
	rdlength, err := u.U16("rr rdlength")
	if err != nil {
		return record, err
	}

	sub, err := u.Limit(int(rdlength))
	if err != nil {
		return record, err
	}

	class, cacheFlush := protocol.SplitClass(classWire)
	data, err := unpackRData(sub, protocol.RecordType(typ))
	if err != nil {
		return record, err
	}

	record.Name = name
	record.Type = protocol.RecordType(typ)
	record.Class = class
	record.TTL = ttl
	record.CacheFlush = cacheFlush
	record.Data = data
	return record, nil
}

// PackMessage packs a complete Message, resetting the label dictionary
// first. Header section counts are derived from the actual slice lengths,
// never taken from msg.Header's own counts, so a caller never needs to keep
// them in sync by hand.
func PackMessage(msg *rr.Message) ([]byte, error) {
	p := NewPack(512)

	h := msg.Header
	h.QDCount = uint16(len(msg.Questions))
	h.ANCount = uint16(len(msg.Answers))
	h.NSCount = uint16(len(msg.Authorities))
	h.ARCount = uint16(len(msg.Additionals))

	p.U16(h.ID)
	p.U16(h.Flags())
	p.U16(h.QDCount)
	p.U16(h.ANCount)
	p.U16(h.NSCount)
	p.U16(h.ARCount)

	for i, q := range msg.Questions {
		if err := p.DomainName(q.Name, false); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		p.U16(uint16(q.Type))
		p.U16(protocol.MergeClass(q.Class, q.QU))
	}

	sections := [][]rr.ResourceRecord{msg.Answers, msg.Authorities, msg.Additionals}
	names := []string{"answer", "authority", "additional"}
	for s, section := range sections {
		for i, record := range section {
			if err := packResourceRecord(p, record); err != nil {
				return nil, fmt.Errorf("%s %d: %w", names[s], i, err)
			}
		}
	}

	return p.Bytes(), nil
}

func packResourceRecord(p *Pack, record rr.ResourceRecord) error {
	if record.Data != nil && rr.TypeOf(record.Data) != record.Type {
		return &errors.ValidationError{Field: "rdata", Value: record.Type, Message: "RData type does not match ResourceRecord.Type"}
	}

	if err := p.DomainName(record.Name, false); err != nil {
		return err
	}
	p.U16(uint16(record.Type))
	p.U16(protocol.MergeClass(record.Class, record.CacheFlush))
	p.U32(record.TTL)

	lenOff := p.ReserveLength()
	if record.Data != nil {
		if err := packRData(p, record.Data); err != nil {
			return err
		}
	}
	p.PatchLength(lenOff)
	return nil
}
