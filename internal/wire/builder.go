package wire

import "github.com/corvidae/resonate/internal/rr"

// NewQuery builds a Message with the given id and one or more questions,
// qr=0, opcode=0 (or the caller's opcode), rd as given. Used by the
// Resolver for its queries (unicast and multicast) and by the Advertiser
// for probes.
func NewQuery(id uint16, opcode uint16, rd bool, questions []rr.Question) *rr.Message {
	return &rr.Message{
		Header: rr.Header{
			ID:     id,
			Opcode: opcode,
			RD:     rd,
		},
		Questions: questions,
	}
}

// NewResponse builds a Message with qr=1, aa=1, the given id, and the
// supplied answer records. Used by the Advertiser's announce/respond/
// goodbye phases.
func NewResponse(id uint16, answers []rr.ResourceRecord) *rr.Message {
	return &rr.Message{
		Header: rr.Header{
			ID: id,
			QR: true,
			AA: true,
		},
		Answers: answers,
	}
}
