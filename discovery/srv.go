package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"tunnel-reaper/loadbalance"
)

// PriorityOrder decides which end of the SRV priority range forms the
// preferred tier.
type PriorityOrder int

const (
	// PreferHighest keeps the records sharing the maximum priority value.
	// This is how the service catalog has historically been read and stays
	// the default.
	PreferHighest PriorityOrder = iota

	// PreferLowest keeps the records sharing the minimum priority value, as
	// RFC 2782 defines it.
	PreferLowest
)

// ParsePriorityOrder maps the config spelling to a PriorityOrder.
func ParsePriorityOrder(s string) (PriorityOrder, error) {
	switch strings.ToLower(s) {
	case "", "highest":
		return PreferHighest, nil
	case "lowest":
		return PreferLowest, nil
	default:
		return 0, fmt.Errorf("unknown priority order %q (want highest or lowest)", s)
	}
}

func (o PriorityOrder) String() string {
	if o == PreferLowest {
		return "lowest"
	}
	return "highest"
}

// better reports whether priority a beats b under o.
func (o PriorityOrder) better(a, b uint16) bool {
	if o == PreferLowest {
		return a < b
	}
	return a > b
}

// ParseResponse turns an SRV response into the candidates of its preferred
// priority tier. Address records are taken from the additional section (and
// the answer section, which some servers use) and matched to SRV targets by
// lower-cased name without the trailing dot.
func ParseResponse(msg *dns.Msg, order PriorityOrder) ([]loadbalance.Candidate, error) {
	if msg == nil {
		return nil, loadbalance.ErrEmptyCandidateSet
	}

	nodes := addressRecords(msg)

	var records []*dns.SRV
	for _, rr := range msg.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, loadbalance.ErrEmptyCandidateSet
	}

	preferred := records[0].Priority
	for _, r := range records[1:] {
		if order.better(r.Priority, preferred) {
			preferred = r.Priority
		}
	}

	candidates := make([]loadbalance.Candidate, 0, len(records))
	for _, r := range records {
		if r.Priority != preferred {
			continue
		}
		target := normalizeName(r.Target)
		addr, ok := nodes[target]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingAddressRecord, target)
		}
		candidates = append(candidates, loadbalance.Candidate{
			Endpoint: loadbalance.Endpoint{
				Address: addr,
				Port:    strconv.Itoa(int(r.Port)),
			},
			Priority: int(r.Priority),
			Weight:   int(r.Weight),
		})
	}

	return candidates, nil
}

// addressRecords maps owner names to addresses. A records win over AAAA for
// the same name; the first record seen wins among equals.
func addressRecords(msg *dns.Msg) map[string]string {
	v4 := make(map[string]string)
	v6 := make(map[string]string)

	sections := [][]dns.RR{msg.Extra, msg.Answer}
	for _, section := range sections {
		for _, rr := range section {
			switch rec := rr.(type) {
			case *dns.A:
				name := normalizeName(rec.Hdr.Name)
				if _, ok := v4[name]; !ok {
					v4[name] = rec.A.String()
				}
			case *dns.AAAA:
				name := normalizeName(rec.Hdr.Name)
				if _, ok := v6[name]; !ok {
					v6[name] = rec.AAAA.String()
				}
			}
		}
	}

	for name, addr := range v6 {
		if _, ok := v4[name]; !ok {
			v4[name] = addr
		}
	}
	return v4
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
