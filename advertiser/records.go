package advertiser

import (
	"net"
	"sort"

	"github.com/corvidae/resonate/internal/iface"
	"github.com/corvidae/resonate/internal/protocol"
	"github.com/corvidae/resonate/internal/rr"
)

// buildRecordSet composes the candidate RR set this protocol's `beginning`
// state claims: PTR (service type → instance), SRV (instance → host:port),
// TXT (always present; it carries no strings when there is no metadata), and
// one A or AAAA per supplied non-loopback address.
func buildRecordSet(cfg Config, addrs []net.IP) []rr.ResourceRecord {
	instance := cfg.ServiceInstanceName()
	serviceType := cfg.serviceTypeDomain()
	host := cfg.Host

	records := []rr.ResourceRecord{
		{
			Name:  serviceType,
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLService,
			Data:  rr.NameData{Kind: protocol.RecordTypePTR, Name: instance},
		},
		{
			Name:  instance,
			Type:  protocol.RecordTypeSRV,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLService,
			Data:  rr.SRVData{Priority: 0, Weight: 0, Port: cfg.Port, Target: host},
		},
		{
			Name:  instance,
			Type:  protocol.RecordTypeTXT,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLService,
			Data:  rr.TXTData{Strings: encodeTXT(cfg.TXT)},
		},
	}

	for _, addr := range addrs {
		if v4 := addr.To4(); v4 != nil {
			records = append(records, rr.ResourceRecord{
				Name: host, Type: protocol.RecordTypeA, Class: protocol.ClassIN,
				TTL: protocol.TTLHostname, Data: rr.AData{Addr: v4},
			})
		} else {
			records = append(records, rr.ResourceRecord{
				Name: host, Type: protocol.RecordTypeAAAA, Class: protocol.ClassIN,
				TTL: protocol.TTLHostname, Data: rr.AAAAData{Addr: addr},
			})
		}
	}

	return records
}

// encodeTXT renders a key/value map as RFC 6763 §6.3 "key=value" strings, in
// sorted key order for deterministic wire output.
func encodeTXT(txt map[string]string) []string {
	if len(txt) == 0 {
		return nil
	}
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	strs := make([]string, 0, len(keys))
	for _, k := range keys {
		strs = append(strs, k+"="+txt[k])
	}
	return strs
}

// questionsFor builds one Question per claimed record (class IN, QU bit
// clear), the form the `probing` state sends.
func questionsFor(records []rr.ResourceRecord) []rr.Question {
	questions := make([]rr.Question, 0, len(records))
	for _, record := range records {
		questions = append(questions, rr.Question{Name: record.Name, Type: record.Type, Class: protocol.ClassIN})
	}
	return questions
}

// nonLoopbackAddrs returns the addresses bound to interfaces suitable for
// mDNS multicast (up, multicast-capable, non-loopback, VPN/container bridges
// excluded). Used as the default when a caller does not supply its own
// address list via WithAddresses. v6 selects the address family returned.
func nonLoopbackAddrs(v6 bool) ([]net.IP, error) {
	ifaces, err := iface.Default()
	if err != nil {
		return nil, err
	}
	v4addrs, v6addrs, err := iface.Addrs(ifaces)
	if err != nil {
		return nil, err
	}
	if v6 {
		return v6addrs, nil
	}
	return v4addrs, nil
}
